// Package pipeline wires the wire-format side of discovery (C2/C3,
// normalize + topic parsing) to the registry's classification (C4) and the
// reconciler's model mutation (C5) for one broker. It is the single entry
// point the Broker Adapter's discovery-topic callback calls into.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"mqtt-discoveryd/internal/discovery"
	"mqtt-discoveryd/internal/logging"
	"mqtt-discoveryd/internal/reconcile"
)

// Pipeline is the per-broker discovery message handler.
type Pipeline struct {
	DiscoveryPrefix string
	Registry        *discovery.Registry
	Reconciler      *reconcile.Reconciler
	Log             *slog.Logger
	Now             func() time.Time
}

// New builds a Pipeline for one broker.
func New(discoveryPrefix string, registry *discovery.Registry, reconciler *reconcile.Reconciler, log *slog.Logger) *Pipeline {
	return &Pipeline{
		DiscoveryPrefix: discoveryPrefix,
		Registry:        registry,
		Reconciler:      reconciler,
		Log:             log,
		Now:             time.Now,
	}
}

// Classification labels returned by HandleMessage, for the caller's
// DiscoveryMessagesTotal metric (by broker and classification kind).
const (
	LabelMalformedTopic   = "malformed_topic"
	LabelMalformedPayload = "malformed_payload"
	LabelNew              = "new"
	LabelUpdate           = "update"
	LabelCoalesced        = "coalesced"
	LabelDelete           = "delete"
)

// HandleMessage is the broker callback for both discovery wildcard
// subscriptions (spec.md §6): `<prefix>/+/+/config` and
// `<prefix>/+/+/+/config`. It parses the topic (C3), normalizes the
// payload (C2), classifies the fingerprint (C4), and — unless the payload
// coalesced behind an in-flight reconcile — dispatches to the Reconciler
// (C5). The returned label classifies what happened to the message, for
// the caller's metrics.
func (p *Pipeline) HandleMessage(topic string, payload []byte) string {
	ct, ok := discovery.ParseConfigTopic(p.DiscoveryPrefix, topic)
	if !ok {
		p.Log.Log(context.Background(), logging.LevelTrace, "malformed discovery topic", "topic", topic)
		return LabelMalformedTopic
	}

	raw, origin, originErr, err := discovery.Normalize(payload)
	if err != nil {
		p.Log.Debug("malformed discovery payload", "topic", topic, "err", err)
		return LabelMalformedPayload
	}
	if originErr != nil {
		p.Log.Warn("origin stanza parse failure", "topic", topic, "err", originErr)
	}

	dp := discovery.Payload{
		Hash:     ct.Hash(),
		Platform: ct.Component,
		Topic:    topic,
		Raw:      raw,
		Origin:   origin,
		Empty:    raw == nil,
	}

	kind := p.Registry.Classify(dp, p.Now())
	if kind == discovery.KindCoalesced {
		return LabelCoalesced
	}
	p.Reconciler.Handle(dp)
	return kindLabel(kind)
}

func kindLabel(k discovery.Kind) string {
	switch k {
	case discovery.KindNew:
		return LabelNew
	case discovery.KindUpdate:
		return LabelUpdate
	case discovery.KindDelete:
		return LabelDelete
	default:
		return LabelCoalesced
	}
}
