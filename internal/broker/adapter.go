// Package broker is the Broker Adapter boundary (spec.md §2, §6): it owns
// one paho MQTT client per configured broker, connects/reconnects with
// exponential backoff, and exposes the subscribe/unsubscribe primitives the
// Subscription Manager (C6) drives through its Transport interface.
package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-discoveryd/internal/bridgeerr"
	"mqtt-discoveryd/internal/config"
)

// subscriptionPermanentThreshold is the number of retries after a first
// failed subscribe attempt (spec.md §7 SubscriptionTransient); once they
// are exhausted the topic is marked SubscriptionPermanent: degraded, but
// the daemon keeps operating. subscribeNow makes no further attempt for
// that topic; it stays tracked, so the next (re)connect's resubscribeAll
// tries it again. Not fixed by the source (spec.md §9 Open Questions);
// chosen to match the backoff schedule's own cap (1s,2s,4s,8s,16s ~ 5
// steps to 30s).
const subscriptionPermanentThreshold = 5

type subEntry struct {
	qos     byte
	handler func(topic string, payload []byte)
}

// Adapter connects one configured broker and tracks every live
// subscription so a reconnect can restore them all (spec.md §5: "Reconnect
// to the broker re-subscribes to every currently-live topic; the registry
// is NOT cleared").
type Adapter struct {
	name   string
	cfg    config.BrokerConfig
	client mqtt.Client
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]subEntry

	// OnDegraded fires with the topic when its subscribe retries
	// (subscriptionPermanentThreshold) are exhausted (spec.md §7
	// SubscriptionPermanent). The adapter does not change any entity's
	// availability when this happens.
	OnDegraded func(topic string)
	// OnDisconnected fires on connection loss, after paho's handler runs.
	OnDisconnected func(err error)
}

// New builds an Adapter for one broker connection. clientID should be
// unique per broker per process.
func New(cfg config.BrokerConfig, clientID string, log *slog.Logger) (*Adapter, error) {
	a := &Adapter{name: clientID, cfg: cfg, log: log, subs: make(map[string]subEntry)}

	scheme := "tcp"
	if cfg.EffectiveTransport() == config.TransportWS {
		scheme = "ws"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false) // reconnect is driven explicitly, per spec.md §5
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("broker connected", "broker", cfg.Broker)
		a.resubscribeAll()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("broker disconnected", "broker", cfg.Broker, "err", err)
		if a.OnDisconnected != nil {
			a.OnDisconnected(err)
		}
	})

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		tlsCfg, err := loadTLSConfig(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("broker %s: %w", cfg.Broker, err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	a.client = mqtt.NewClient(opts)
	return a, nil
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("client_cert and client_key must both be set")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}
	pool := x509.NewCertPool()
	if pem, err := os.ReadFile(certPath); err == nil {
		pool.AppendCertsFromPEM(pem)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Connect dials the broker, retrying with exponential backoff (spec.md §5,
// §7: "1s, 2s, 4s ... cap 30s") until ctx is cancelled.
func (a *Adapter) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		token := a.client.Connect()
		if !token.WaitTimeout(config.DialTimeout) {
			return bridgeerr.New(bridgeerr.BrokerDisconnected, a.cfg.Broker, fmt.Errorf("connect timed out"))
		}
		if err := token.Error(); err != nil {
			return bridgeerr.New(bridgeerr.BrokerDisconnected, a.cfg.Broker, err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// Disconnect closes the broker connection.
func (a *Adapter) Disconnect() {
	if a.client.IsConnected() {
		a.client.Disconnect(250)
	}
}

// Subscribe installs a subscription for topic and remembers it so a
// reconnect can restore it (implements subscription.Transport).
func (a *Adapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	a.mu.Lock()
	a.subs[topic] = subEntry{qos: qos, handler: handler}
	a.mu.Unlock()
	return a.subscribeNow(topic, qos, handler)
}

// Unsubscribe removes topic's subscription (implements subscription.Transport).
func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	delete(a.subs, topic)
	a.mu.Unlock()

	if !a.client.IsConnected() {
		return nil
	}
	token := a.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (a *Adapter) subscribeNow(topic string, qos byte, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, m mqtt.Message) { handler(m.Topic(), m.Payload()) }

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		token := a.client.Subscribe(topic, qos, cb)
		if !token.WaitTimeout(config.DialTimeout) {
			attempts++
			return bridgeerr.New(bridgeerr.SubscriptionTransient, topic, fmt.Errorf("subscribe timed out"))
		}
		if err := token.Error(); err != nil {
			attempts++
			return bridgeerr.New(bridgeerr.SubscriptionTransient, topic, err)
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(bo, subscriptionPermanentThreshold))
	if err != nil {
		a.log.Warn("subscription permanently degraded", "topic", topic, "attempts", attempts, "err", err)
		if a.OnDegraded != nil {
			a.OnDegraded(topic)
		}
		return bridgeerr.New(bridgeerr.SubscriptionPermanent, topic, err)
	}
	return nil
}

// resubscribeAll reinstalls every tracked subscription after a (re)connect,
// without clearing the Registry (spec.md §5).
func (a *Adapter) resubscribeAll() {
	a.mu.Lock()
	snapshot := make(map[string]subEntry, len(a.subs))
	for t, e := range a.subs {
		snapshot[t] = e
	}
	a.mu.Unlock()

	for topic, entry := range snapshot {
		if err := a.subscribeNow(topic, entry.qos, entry.handler); err != nil {
			a.log.Warn("resubscribe failed", "topic", topic, "err", err)
		}
	}
}

// IsConnected reports the live connection state.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}
