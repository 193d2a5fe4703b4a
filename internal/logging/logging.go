// Package logging builds the slog loggers shared by the triage packages.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// levelSilent sits above every standard level.
const levelSilent = slog.Level(100)

// NewLogger creates a text logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a JSON logger writing to w at the given level.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger creates a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelSilent}))
}

// LevelFromString converts a string to a slog.Level.
// Supports: debug, info, warn, error, silent (case-insensitive).
// Returns slog.LevelInfo for unrecognized strings.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "quiet", "off":
		return levelSilent
	default:
		return slog.LevelInfo
	}
}

// New picks a handler by format name ("json" or "text") and level name.
func New(w io.Writer, format, level string) *slog.Logger {
	lvl := LevelFromString(level)
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(w, lvl)
	}
	return NewLogger(w, lvl)
}
