package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ServiceName is attached to every log record.
const ServiceName = "anomaly-engine"

// ParseLevel maps a configured level name to a slog.Level. An empty name is
// info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger returns a slog.Logger configured for the desired verbosity and format.
func NewLogger(level string, json bool) *slog.Logger {
	return newLogger(os.Stdout, level, json)
}

func newLogger(w io.Writer, level string, json bool) *slog.Logger {
	handlerLevel, err := ParseLevel(level)
	if err != nil {
		handlerLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: handlerLevel}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", ServiceName))
}
