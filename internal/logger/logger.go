// Package logger builds the structured logger shared by the dispatch processes.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a text logger writing to stderr. The level is taken from the
// LOG_LEVEL environment variable and defaults to info.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// NewWithWriter returns a text logger writing to w at the given level.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return NewWithWriter(io.Discard, slog.LevelError+1)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
