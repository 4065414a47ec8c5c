// Package config loads the daemon's TOML configuration.
//
// Configuration loading, credential handling and transport setup are
// boundary concerns (see spec.md §6); this package only decodes the file
// into typed settings and validates it. It never talks to a broker.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport is the wire transport a broker connection uses.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportWS  Transport = "ws"
)

// BrokerConfig is one configured MQTT broker connection.
//
// Field set matches spec.md §6 exactly: unknown TOML keys are ignored
// by the loader rather than rejected.
type BrokerConfig struct {
	Broker          string    `toml:"broker"`
	Port            int       `toml:"port"`
	ClientKey       string    `toml:"client_key"`
	ClientCert      string    `toml:"client_cert"`
	Transport       Transport `toml:"transport"`
	Capacity        int       `toml:"capacity"`
	AutoDiscovery   *bool     `toml:"auto_discovery"`
	DiscoveryPrefix string    `toml:"discovery_prefix"`
}

// EffectiveDiscoveryPrefix returns the configured discovery prefix, or the
// daemon default ("homeassistant") when unset.
func (b BrokerConfig) EffectiveDiscoveryPrefix() string {
	if b.DiscoveryPrefix == "" {
		return "homeassistant"
	}
	return b.DiscoveryPrefix
}

// DiscoveryEnabled reports whether discovery subscriptions should be
// installed for this broker. Defaults to true.
func (b BrokerConfig) DiscoveryEnabled() bool {
	return b.AutoDiscovery == nil || *b.AutoDiscovery
}

// LoggingConfig controls the daemon's structured logger.
//
// Mirrors the field set the teacher repo's LoggingConfig already carried
// (Level, File, MaxSize, MaxAge) — this spec wires those fields to a real
// rotating writer instead of leaving them unused.
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	MaxSize int    `toml:"max_size"` // megabytes
	MaxAge  int    `toml:"max_age"`  // days
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Config is the daemon's full configuration: one or more brokers plus
// process-wide settings.
type Config struct {
	Brokers []BrokerConfig `toml:"broker"`
	Logging LoggingConfig  `toml:"logging"`
	Metrics MetricsConfig  `toml:"metrics"`
}

// Load reads and validates the configuration file at path.
//
// A parse or validation failure here is the only case in this daemon
// where an error is fatal (spec.md §6: "Exit codes — non-zero on fatal
// config parse error at startup").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Undecoded re-decodes path purely to surface the unknown-key list for
// startup logging, without affecting Load's success/failure outcome.
// Unknown keys are informational only (spec.md §6: "unknown fields are
// ignored").
func Undecoded(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil
	}
	keys := meta.Undecoded()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// Validate checks structural invariants of the loaded configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one [[broker]] must be configured")
	}
	for i, b := range c.Brokers {
		if b.Broker == "" {
			return fmt.Errorf("broker[%d]: broker host is required", i)
		}
		if b.Port <= 0 || b.Port > 65535 {
			return fmt.Errorf("broker[%d]: port %d out of range", i, b.Port)
		}
		switch b.Transport {
		case "", TransportTCP, TransportWS:
		default:
			return fmt.Errorf("broker[%d]: unsupported transport %q", i, b.Transport)
		}
		if b.Capacity < 0 {
			return fmt.Errorf("broker[%d]: capacity must not be negative", i)
		}
	}
	return nil
}

// EffectiveTransport returns the configured transport, defaulting to tcp.
func (b BrokerConfig) EffectiveTransport() Transport {
	if b.Transport == "" {
		return TransportTCP
	}
	return b.Transport
}

// EffectiveCapacity returns the configured inbound message buffer capacity,
// defaulting to a sane size for bursty discovery traffic.
func (b BrokerConfig) EffectiveCapacity() int {
	if b.Capacity <= 0 {
		return 256
	}
	return b.Capacity
}

// DialTimeout is the fixed timeout used for each broker connect attempt
// and for each subscribe acknowledgement.
// Not configurable per spec.md — only retry/backoff schedules are (§5/§7).
const DialTimeout = 30 * time.Second
