package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultMaxAge is how long a session lives after creation.
	DefaultMaxAge = time.Hour

	// DefaultSweepSchedule runs the sweep hourly.
	DefaultSweepSchedule = "@every 1h"
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// MaxAge is the age past which a session is removed.
	MaxAge time.Duration

	// Schedule is a cron expression or descriptor such as "@every 1h".
	// An empty schedule disables periodic sweeping.
	Schedule string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Sweeper removes expired sessions on a cron schedule.
type Sweeper struct {
	store  Store
	config SweeperConfig
	cron   *cron.Cron
	logger *slog.Logger

	// onSweep, when set, observes the number of sessions removed per run.
	onSweep func(removed int)

	mu      sync.Mutex
	running bool
}

// NewSweeper returns a Sweeper for store.
func NewSweeper(store Store, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Sweeper{
		store:  store,
		config: config,
		cron:   cron.New(),
		logger: logger.With("component", "session.sweeper"),
	}
}

// OnSweep registers fn to observe completed sweeps.
func (s *Sweeper) OnSweep(fn func(removed int)) {
	s.onSweep = fn
}

// Start schedules periodic sweeps. Sweeping stops when ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("sweep schedule not configured, sessions will not expire")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.run(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	attrs := []any{"schedule", s.config.Schedule, "max_age", s.config.MaxAge}
	if next := s.nextRun(); next != nil {
		attrs = append(attrs, "next_run", next.Format(time.RFC3339))
	}
	s.logger.Info("session sweeper started", attrs...)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// SweepOnce removes every session older than MaxAge.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.config.Now().Add(-s.config.MaxAge)
	return s.store.Sweep(ctx, cutoff)
}

func (s *Sweeper) run(ctx context.Context) {
	removed, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return
	}

	if s.onSweep != nil {
		s.onSweep(removed)
	}

	if removed > 0 {
		s.logger.Info("expired sessions removed", "removed", removed)
	} else {
		s.logger.Debug("session sweep completed, nothing expired")
	}
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("session sweeper stopped")
	}
}

// IsRunning reports whether sweeps are scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep, or nil when none is scheduled.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun()
}

// nextRun expects s.mu to be held.
func (s *Sweeper) nextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
