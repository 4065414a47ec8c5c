// Package metrics exposes the daemon's Prometheus collectors (SPEC_FULL
// §5), replacing the teacher's hand-rolled text-formatting
// src/pkg/metrics/prometheus.go with a real client_golang registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every metric the pipeline updates.
type Collectors struct {
	DiscoveryMessagesTotal *prometheus.CounterVec
	RegistrySize           *prometheus.GaugeVec
	LiveSubscriptions      *prometheus.GaugeVec
	ReconcileDuration      *prometheus.HistogramVec
	TemplateRenderErrors   *prometheus.CounterVec
}

// New registers and returns the daemon's collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		DiscoveryMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_discoveryd_discovery_messages_total",
			Help: "Discovery config messages processed, by broker and classification kind.",
		}, []string{"broker", "kind"}),
		RegistrySize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqtt_discoveryd_registry_entities",
			Help: "Live entities known to the discovery registry, by broker.",
		}, []string{"broker"}),
		LiveSubscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mqtt_discoveryd_live_subscriptions",
			Help: "Distinct topics currently subscribed, by broker.",
		}, []string{"broker"}),
		ReconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqtt_discoveryd_reconcile_duration_seconds",
			Help:    "Time spent reconciling one discovery payload.",
			Buckets: prometheus.DefBuckets,
		}, []string{"broker"}),
		TemplateRenderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_discoveryd_template_render_errors_total",
			Help: "Template render failures, by broker and purpose.",
		}, []string{"broker", "purpose"}),
	}
}

// ObserveReconcile times fn and records it against the reconcile duration
// histogram for broker.
func (c *Collectors) ObserveReconcile(broker string, fn func()) {
	start := time.Now()
	fn()
	c.ReconcileDuration.WithLabelValues(broker).Observe(time.Since(start).Seconds())
}

// Server serves /metrics on listen until ctx is cancelled.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to listen using the given
// registry's gatherer.
func NewServer(listen string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: listen, Handler: mux}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
