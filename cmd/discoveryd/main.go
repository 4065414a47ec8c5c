// Command discoveryd runs the MQTT discovery-and-state daemon: one
// supervised pipeline per configured broker, translating Home
// Assistant-style MQTT discovery traffic into a live device/entity model
// (spec.md §1-§2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mqtt-discoveryd/internal/broker"
	"mqtt-discoveryd/internal/config"
	"mqtt-discoveryd/internal/discovery"
	"mqtt-discoveryd/internal/logging"
	"mqtt-discoveryd/internal/metrics"
	"mqtt-discoveryd/internal/model"
	"mqtt-discoveryd/internal/pipeline"
	"mqtt-discoveryd/internal/reconcile"
	"mqtt-discoveryd/internal/render"
	"mqtt-discoveryd/internal/subscription"
)

func main() {
	configPath := "discoveryd.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)
	if unknown := config.Undecoded(configPath); len(unknown) > 0 {
		log.Debug("unknown config keys ignored", "keys", unknown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, registry)
		g.Go(func() error {
			log.Info("📡 metrics server listening", "addr", cfg.Metrics.Listen)
			return srv.Run(gctx)
		})
	}

	for i, bc := range cfg.Brokers {
		bc := bc
		clientID := fmt.Sprintf("discoveryd-%d", i)
		brokerLog := logging.ForBroker(log, bc.Broker)
		g.Go(func() error {
			return runBroker(gctx, bc, clientID, brokerLog, collectors)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("fatal pipeline error", "err", err)
		os.Exit(1)
	}
	log.Info("✅ discoveryd stopped")
}

// runBroker owns one broker's entire pipeline: store, registry, renderer,
// subscription manager, reconciler, and the broker adapter connection —
// one Registry per broker, owned by this supervisor, per spec.md §9.
func runBroker(ctx context.Context, bc config.BrokerConfig, clientID string, log *slog.Logger, collectors *metrics.Collectors) error {
	store := model.NewStore()
	reg := discovery.NewRegistry()
	renderer := render.New()

	adapter, err := broker.New(bc, clientID, log)
	if err != nil {
		return fmt.Errorf("broker %s: %w", bc.Broker, err)
	}

	subsLog := logging.ForComponent(log, "subscriptions")
	subs := subscription.New(adapter, store, renderer, subsLog)

	reconcileLog := logging.ForComponent(log, "reconciler")
	reconciler := reconcile.New(store, reg, subs, renderer, reconcileLog)
	subs.OnStateAccepted = reconciler.ResetExpireTimer
	subs.OnTemplateError = func(purpose subscription.Purpose) {
		collectors.TemplateRenderErrors.WithLabelValues(bc.Broker, purpose.String()).Inc()
	}

	adapter.OnDegraded = func(topic string) {
		log.Warn("subscription degraded", "topic", topic)
	}

	pipe := pipeline.New(bc.EffectiveDiscoveryPrefix(), reg, reconciler, logging.ForComponent(log, "pipeline"))

	var once sync.Once
	installDiscoverySubs := func() {
		prefix := bc.EffectiveDiscoveryPrefix()
		for _, topic := range discoveryTopics(prefix) {
			if err := adapter.Subscribe(topic, 0, func(t string, payload []byte) {
				var label string
				collectors.ObserveReconcile(bc.Broker, func() {
					label = pipe.HandleMessage(t, payload)
				})
				collectors.DiscoveryMessagesTotal.WithLabelValues(bc.Broker, label).Inc()
			}); err != nil {
				log.Warn("discovery subscribe failed", "topic", topic, "err", err)
			}
		}
	}

	reconnectCh := make(chan struct{}, 1)
	adapter.OnDisconnected = func(error) {
		select {
		case reconnectCh <- struct{}{}:
		default:
		}
	}

	if !bc.DiscoveryEnabled() {
		log.Info("auto_discovery disabled for broker", "broker", bc.Broker)
	}

	for {
		if err := adapter.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				adapter.Disconnect()
				return ctx.Err()
			}
			return fmt.Errorf("broker %s: %w", bc.Broker, err)
		}

		if bc.DiscoveryEnabled() {
			once.Do(installDiscoverySubs)
		}
		collectors.RegistrySize.WithLabelValues(bc.Broker).Set(float64(len(store.Entities())))
		collectors.LiveSubscriptions.WithLabelValues(bc.Broker).Set(float64(subs.LiveTopicCount()))

		select {
		case <-ctx.Done():
			adapter.Disconnect()
			return ctx.Err()
		case <-reconnectCh:
			log.Info("reconnecting", "broker", bc.Broker)
			continue
		}
	}
}

// discoveryTopics returns the two wildcard discovery subscriptions every
// broker installs on connect (spec.md §6).
func discoveryTopics(prefix string) []string {
	return []string{
		prefix + "/+/+/config",
		prefix + "/+/+/+/config",
	}
}
