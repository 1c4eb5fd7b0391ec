package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/browser"

	"github.com/examsight/examsync/internal/analysis"
)

var (
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	upgradeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// terminalNotifier shows analysis signals on the terminal and optionally
// opens the result view in a browser
type terminalNotifier struct {
	w       io.Writer
	webBase string
	open    bool

	// openURL is browser.OpenURL outside of tests
	openURL func(string) error
}

var _ analysis.Notifier = (*terminalNotifier)(nil)

func newTerminalNotifier(w io.Writer, webBase string, open bool) *terminalNotifier {
	return &terminalNotifier{w: w, webBase: webBase, open: open, openURL: browser.OpenURL}
}

// UpgradeRequired implements analysis.Notifier
func (n *terminalNotifier) UpgradeRequired(_ context.Context, examID string) {
	fmt.Fprintln(n.w, upgradeStyle.Render(
		fmt.Sprintf("Not enough credits to analyze exam %s. Upgrade your plan at %s/pricing", examID, n.webBase)))
}

// Alert implements analysis.Notifier
func (n *terminalNotifier) Alert(_ context.Context, message string) {
	fmt.Fprintln(n.w, alertStyle.Render(message))
}

// Info implements analysis.Notifier
func (n *terminalNotifier) Info(_ context.Context, message string) {
	fmt.Fprintln(n.w, infoStyle.Render(message))
}

// Navigate implements analysis.Notifier
func (n *terminalNotifier) Navigate(ctx context.Context, route string) {
	url := n.webBase + route
	if !n.open {
		fmt.Fprintf(n.w, "Results: %s\n", url)
		return
	}
	if err := n.openURL(url); err != nil {
		slog.WarnContext(ctx, "Failed to open browser", "url", url, "error", err)
		fmt.Fprintf(n.w, "Results: %s\n", url)
	}
}
