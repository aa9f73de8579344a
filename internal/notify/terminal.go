package notify

import (
	"context"
	"fmt"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to stdout with per-severity
// colors.
type TerminalNotifier struct {
	enabled bool
}

// NewTerminalNotifier creates a new TerminalNotifier.
func NewTerminalNotifier() *TerminalNotifier {
	return &TerminalNotifier{enabled: true}
}

// Name returns the name of the notifier.
func (t *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TerminalNotifier) IsEnabled() bool {
	return t.enabled
}

// SetEnabled enables or disables terminal output.
func (t *TerminalNotifier) SetEnabled(enabled bool) {
	t.enabled = enabled
}

// Send prints the notification to stdout.
func (t *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	var header *color.Color
	switch n.Severity {
	case SeverityError:
		header = color.New(color.FgRed, color.Bold)
	case SeverityDebug:
		header = color.New(color.FgWhite)
	default:
		header = color.New(color.FgCyan, color.Bold)
	}

	timestamp := n.Timestamp.Format("15:04:05")
	header.Printf("[%s] %s\n", timestamp, n.Title)
	if n.Message != "" {
		fmt.Println(n.Message)
	}
	return nil
}
