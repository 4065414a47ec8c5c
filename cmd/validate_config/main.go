// Command validate_config loads and validates a discoveryd TOML config
// file without connecting to any broker, for use in CI and pre-deploy
// checks (spec.md §6).
package main

import (
	"fmt"
	"os"

	"mqtt-discoveryd/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Brokers: %d\n", len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		fmt.Printf("   - %s:%d (transport=%s, discovery_prefix=%s, auto_discovery=%v)\n",
			b.Broker, b.Port, b.EffectiveTransport(), b.EffectiveDiscoveryPrefix(), b.DiscoveryEnabled())
		if b.ClientCert != "" || b.ClientKey != "" {
			fmt.Printf("     TLS client cert: %s\n", b.ClientCert)
		}
	}

	fmt.Printf("   Logging: level=%s file=%s\n", cfg.Logging.Level, cfg.Logging.File)
	fmt.Printf("   Metrics: enabled=%v listen=%s\n", cfg.Metrics.Enabled, cfg.Metrics.Listen)

	if unknown := config.Undecoded(configPath); len(unknown) > 0 {
		fmt.Printf("\n⚠️  Unknown keys (ignored at runtime):\n")
		for _, k := range unknown {
			fmt.Printf("   - %s\n", k)
		}
	}

	fmt.Println("\n✅ Configuration is valid!")
}
