package errutil

import (
	"io"
	"log/slog"
)

// LogMsg logs the error with a custom message if it is not nil.
func LogMsg(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Warn(msg, allArgs...)
	}
}

// ReportError logs an unexpected error.
// It funnels errors through a centralized reporting mechanism (currently slog).
func ReportError(err error, msg string, args ...any) {
	if err != nil {
		allArgs := append([]any{"error", err}, args...)
		slog.Error(msg, allArgs...)
	}
}

// Close closes c and logs a failure instead of returning it. For use in
// defers where the close error is not actionable.
func Close(c io.Closer, msg string, args ...any) {
	LogMsg(c.Close(), msg, args...)
}
