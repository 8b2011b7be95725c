// Package cliui provides reusable terminal UI helpers (spinners, step indicators,
// markdown rendering) for relay CLI commands.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	SuccessMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
	StepStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	PromptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	AssistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	KeyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	ValueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	DimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	suggestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// DisableColor renders every style as plain text, for output that is not a
// terminal.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Step prints an animated spinner while fn runs, then replaces it with
// a ✓ or ✗ checkmark and elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	done := make(chan struct{})
	var mu sync.Mutex

	// Run spinner animation in background
	go func() {
		frame := 0
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for {
			mu.Lock()
			fmt.Fprintf(w, "\r  %s %s",
				spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]),
				msg,
			)
			mu.Unlock()

			select {
			case <-done:
				return
			case <-ticker.C:
				frame++
			}
		}
	}()

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(done)

	// Clear the spinner line and print final result
	mu.Lock()
	fmt.Fprintf(w, "\r  %s %s %s\n",
		Mark(err),
		msg,
		StepStyle.Render(fmt.Sprintf("(%s)", FormatDuration(elapsed))),
	)
	mu.Unlock()

	return err
}

// Mark returns a ✓ for nil errors or ✗ for non-nil errors.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration formats a duration for display (e.g. "12ms" or "3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// Suggestions prints numbered follow-up suggestions.
func Suggestions(w io.Writer, suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintln(w, StepStyle.Render("  Suggestions:"))
	for i, s := range suggestions {
		fmt.Fprintf(w, "  %s %s\n", StepStyle.Render(fmt.Sprintf("%d.", i+1)), suggestStyle.Render(s))
	}
}

// RenderMarkdown renders markdown content for terminal display using glamour.
func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content, err
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content, err
	}

	return rendered, nil
}
