package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. Services receive it via options so
// tests can pass a discard handler.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
