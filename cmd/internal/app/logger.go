// Package app wires the lancer client runtime: config, logging, and the
// optional debug HTTP listener.
package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger with an explicit level. Format is
// "json" for machine consumption or "text" for terminals; the binary
// defaults to text so log lines do not interleave badly with chat output.
func NewLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	log := slog.New(h)
	slog.SetDefault(log)
	return log
}
