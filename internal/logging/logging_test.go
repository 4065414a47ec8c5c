package logging

import (
	"log/slog"
	"testing"

	"mqtt-discoveryd/internal/config"
)

func TestNewDefaultsToInfo(t *testing.T) {
	log := New(config.LoggingConfig{})
	if !log.Enabled(nil, slog.LevelInfo) {
		t.Errorf("expected info level enabled by default")
	}
	if log.Enabled(nil, slog.LevelDebug) {
		t.Errorf("expected debug level disabled by default")
	}
}

func TestNewTraceLevel(t *testing.T) {
	log := New(config.LoggingConfig{Level: "trace"})
	if !log.Enabled(nil, LevelTrace) {
		t.Errorf("expected trace level enabled when configured")
	}
}

func TestForBrokerAndComponent(t *testing.T) {
	base := New(config.LoggingConfig{})
	child := ForComponent(ForBroker(base, "home"), "registry")
	if child == nil {
		t.Fatalf("expected non-nil logger")
	}
}
