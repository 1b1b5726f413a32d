// Package log configures the process-wide structured logger shared by the
// API, worker, and scheduler binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog logger. Level parsing is case-insensitive
// and unknown levels fall back to info. LOG_FORMAT=json switches to JSON
// output for log aggregation.
func Setup(logLevel string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name onto a slog level.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns a child of the default logger tagged with the module
// name, so every process component is distinguishable in shared output.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
