// Package logger builds the *slog.Logger used across the relay: pretty
// charmbracelet output for the terminal, JSON for service logs, or slog's
// text handler otherwise.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	leveler *slog.LevelVar
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// New returns a *slog.Logger configured by opts. Without options it writes
// Info and above as text to os.Stdout.
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(c)
	}

	if c.leveler == nil {
		c.leveler = &slog.LevelVar{}
		c.leveler.Set(c.level)
	}

	var w io.Writer
	switch len(c.writers) {
	case 0:
		w = os.Stdout
	case 1:
		w = c.writers[0]
	default:
		w = io.MultiWriter(c.writers...)
	}

	var h slog.Handler
	switch {
	case c.json:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.leveler, AddSource: c.source})
	case c.pretty:
		cl := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.DebugLevel,
			ReportTimestamp: true,
			ReportCaller:    c.source,
		})
		h = &levelHandler{leveler: c.leveler, inner: cl}
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.leveler, AddSource: c.source})
	}

	return slog.New(h)
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel parses debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// levelHandler gates a handler on a shared, adjustable level.
type levelHandler struct {
	leveler slog.Leveler
	inner   slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.leveler.Level() && h.inner.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{leveler: h.leveler, inner: h.inner.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{leveler: h.leveler, inner: h.inner.WithGroup(name)}
}
