package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. JSON output so audit-relevant
// attributes survive log aggregation intact.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
