// Package printer renders user-facing CLI output with consistent colors.
package printer

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/meridianhq/autoflow/internal/status"
)

func init() {
	// Force color output even when not connected to a TTY.
	// Users can disable with the NO_COLOR environment variable.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	green.Printf("✓ %s", fmt.Sprintf(format, a...))
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	yellow.Printf("⚠ %s", fmt.Sprintf(format, a...))
}

// Step prints a step message with emphasis for multi-step operations.
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Status prints one engine status line, colored by phase: green for idle,
// cyan for active phases, yellow for paused, red for blocked.
func Status(s status.Status) {
	label := string(s.Phase)
	if s.Detail != "" {
		label = fmt.Sprintf("%s: %s", s.Phase, s.Detail)
	}

	switch s.Phase {
	case status.PhaseIdle:
		green.Printf("● %s\n", label)
	case status.PhaseEvaluating, status.PhaseRunning:
		cyan.Printf("● %s\n", label)
	case status.PhasePaused:
		yellow.Printf("● %s\n", label)
	case status.PhaseBlocked:
		red.Printf("● %s\n", label)
	default:
		fmt.Printf("● %s\n", label)
	}
}

// Error prints a formatted error to stderr with a title, explanation, and
// optional suggestions, then returns a bare error carrying only the title.
// Cobra runs with SilenceErrors, so the rich output appears exactly once.
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, s := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, s)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Println prints a plain message.
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}
