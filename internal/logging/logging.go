package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs a JSON (default) or text slog handler as the process default.
// Every record carries the service name.
func Init(service, format string) *slog.Logger {
	return New(os.Stdout, service, format, os.Getenv("LOG_LEVEL"))
}

// New builds the logger without installing it. Unknown formats fall back to
// json and unknown levels to info, each with a warning.
func New(w io.Writer, service, format, level string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))
	lvl, lvlOK := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	if !lvlOK {
		logger.Warn("unknown log level, defaulting to info", "level", level)
	}
	return logger
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
