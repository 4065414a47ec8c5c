package config

import (
	"os"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "discoveryd-*.toml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
[[broker]]
broker = "localhost"
port = 1883
transport = "tcp"
discovery_prefix = "homeassistant"

[logging]
level = "debug"

[metrics]
enabled = true
listen = ":9090"
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Brokers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(cfg.Brokers))
	}
	b := cfg.Brokers[0]
	if b.Broker != "localhost" || b.Port != 1883 {
		t.Errorf("unexpected broker: %+v", b)
	}
	if b.EffectiveDiscoveryPrefix() != "homeassistant" {
		t.Errorf("expected default discovery prefix, got %q", b.EffectiveDiscoveryPrefix())
	}
	if !b.DiscoveryEnabled() {
		t.Errorf("expected discovery enabled by default")
	}
	if b.EffectiveTransport() != TransportTCP {
		t.Errorf("expected tcp transport, got %q", b.EffectiveTransport())
	}
}

func TestLoadMissingBrokerIsInvalid(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "discoveryd-*.toml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString("[logging]\nlevel = \"info\"\n"); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	if _, err := Load(tmpFile.Name()); err == nil {
		t.Fatalf("expected error for config with no brokers")
	}
}

func TestUnknownKeysAreIgnored(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "discoveryd-*.toml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
[[broker]]
broker = "localhost"
port = 1883
some_future_field = "ignored"
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	if _, err := Load(tmpFile.Name()); err != nil {
		t.Fatalf("unexpected error for config with unknown keys: %v", err)
	}

	undecoded := Undecoded(tmpFile.Name())
	found := false
	for _, k := range undecoded {
		if k == "broker.some_future_field" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected some_future_field to be reported as undecoded, got %v", undecoded)
	}
}

func TestInvalidPortRejected(t *testing.T) {
	cfg := &Config{Brokers: []BrokerConfig{{Broker: "localhost", Port: 99999}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for out-of-range port")
	}
}

func TestInvalidTransportRejected(t *testing.T) {
	cfg := &Config{Brokers: []BrokerConfig{{Broker: "localhost", Port: 1883, Transport: "quic"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unsupported transport")
	}
}

func TestEffectiveCapacityDefault(t *testing.T) {
	var b BrokerConfig
	if got := b.EffectiveCapacity(); got != 256 {
		t.Errorf("expected default capacity 256, got %d", got)
	}
	b.Capacity = 42
	if got := b.EffectiveCapacity(); got != 42 {
		t.Errorf("expected configured capacity 42, got %d", got)
	}
}
