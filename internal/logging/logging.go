// Package logging builds the daemon's structured logger.
//
// Grounded in tphakala-birdnet-go/internal/logging, which layers
// log/slog over gopkg.in/natefinch/lumberjack.v2 for rotation. The
// teacher's own LoggingConfig (internal/config) already names Level,
// File, MaxSize and MaxAge fields; this package is what finally wires
// them to something real instead of a hand-rolled log.Logger wrapper.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"mqtt-discoveryd/internal/config"
)

// LevelTrace extends slog's level set with a level below Debug, matching
// the trace level spec.md §7 calls for on MalformedTopic.
const LevelTrace = slog.Level(-8)

// New builds a slog.Logger from daemon logging configuration. When File is
// empty, output goes to stderr; otherwise it rotates through lumberjack.
func New(cfg config.LoggingConfig) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  defaultInt(cfg.MaxSize, 50),
			MaxAge:   defaultInt(cfg.MaxAge, 28),
			Compress: true,
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler)
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "", "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// ForBroker returns a child logger tagged with the broker it serves,
// mirroring the per-subsystem prefixes the teacher's log.Printf calls used.
func ForBroker(base *slog.Logger, broker string) *slog.Logger {
	return base.With("broker", broker)
}

// ForComponent returns a child logger tagged with a pipeline component name
// (registry, reconciler, subscriptions, render, broker).
func ForComponent(base *slog.Logger, component string) *slog.Logger {
	return base.With("component", component)
}
