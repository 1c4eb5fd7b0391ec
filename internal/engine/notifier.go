package engine

import (
	"context"
	"log/slog"

	"github.com/examsight/examsync/internal/analysis"
)

// LogNotifier reports analysis signals through the process logger
type LogNotifier struct{}

var _ analysis.Notifier = LogNotifier{}

// UpgradeRequired implements analysis.Notifier
func (LogNotifier) UpgradeRequired(ctx context.Context, examID string) {
	slog.WarnContext(ctx, "Insufficient credits, upgrade required", "exam_id", examID)
}

// Alert implements analysis.Notifier
func (LogNotifier) Alert(ctx context.Context, message string) {
	slog.ErrorContext(ctx, message)
}

// Info implements analysis.Notifier
func (LogNotifier) Info(ctx context.Context, message string) {
	slog.InfoContext(ctx, message)
}

// Navigate implements analysis.Notifier
func (LogNotifier) Navigate(ctx context.Context, route string) {
	slog.InfoContext(ctx, "Analysis ready", "route", route)
}
