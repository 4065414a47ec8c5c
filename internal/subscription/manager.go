// Package subscription implements the Subscription Manager (C6,
// spec.md §4.6): the owner of every entity-bound broker subscription (the
// discovery wildcard subscriptions are installed on the Broker Adapter
// directly), reference-counted across every entity that references a topic, and the
// dispatcher that renders inbound messages into entity state/availability.
package subscription

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"mqtt-discoveryd/internal/model"
	"mqtt-discoveryd/internal/render"
)

// Purpose labels why an entity is bound to a topic (spec.md §4.6).
type Purpose int

const (
	PurposeState Purpose = iota
	PurposeAvailability
	PurposeAttributes
)

func (p Purpose) String() string {
	switch p {
	case PurposeState:
		return "state"
	case PurposeAvailability:
		return "availability"
	case PurposeAttributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// Transport is the broker-facing half of a subscription: install/remove a
// raw topic subscription. The Broker Adapter implements this; Manager never
// talks to paho directly (spec.md §9 "message-passing vs direct calls").
type Transport interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

type ref struct {
	Hash    model.DiscoveryHash
	Purpose Purpose
}

type topicState struct {
	refs   map[ref]byte // qos requested by each reference
	liveQoS byte
}

func (t *topicState) maxQoS() byte {
	var max byte
	for _, q := range t.refs {
		if q > max {
			max = q
		}
	}
	return max
}

// Manager owns the topic -> references multimap and dispatches inbound
// messages to the entities bound to each topic.
type Manager struct {
	mu        sync.Mutex
	transport Transport
	store     *model.Store
	renderer  *render.Renderer
	log       *slog.Logger
	now       func() time.Time

	topics map[string]*topicState

	// OnStateAccepted is invoked after a State message updates an entity's
	// state, so the Reconciler can reset the entity's expire_after timer
	// (SPEC_FULL §3). Optional.
	OnStateAccepted func(hash model.DiscoveryHash)

	// OnTemplateError is invoked whenever rendering a State, Availability or
	// Attributes message fails, so the caller can count it per purpose
	// (spec.md §7 TemplateError). Optional.
	OnTemplateError func(purpose Purpose)
}

// New builds a Manager bound to transport, store and renderer.
func New(transport Transport, store *model.Store, renderer *render.Renderer, log *slog.Logger) *Manager {
	return &Manager{
		transport: transport,
		store:     store,
		renderer:  renderer,
		log:       log,
		now:       time.Now,
		topics:    make(map[string]*topicState),
	}
}

// Subscribe adds a reference from (hash, purpose) to topic at the given
// QoS. The broker subscription is installed only when topic has no live
// reference yet, or the aggregate requested QoS increases (spec.md §4.6:
// "QoS is the MAX of the QoS values requested by all referencing
// entities").
func (m *Manager) Subscribe(hash model.DiscoveryHash, purpose Purpose, topic string, qos byte) error {
	if topic == "" {
		return nil
	}
	m.mu.Lock()
	ts, existed := m.topics[topic]
	if !existed {
		ts = &topicState{refs: make(map[ref]byte)}
		m.topics[topic] = ts
	}
	ts.refs[ref{Hash: hash, Purpose: purpose}] = qos
	newQoS := ts.maxQoS()
	needsSubscribe := !existed || newQoS != ts.liveQoS
	ts.liveQoS = newQoS
	m.mu.Unlock()

	if !needsSubscribe {
		return nil
	}
	return m.transport.Subscribe(topic, newQoS, m.dispatch)
}

// Unsubscribe removes the (hash, purpose) reference from topic. The broker
// subscription is torn down only once the last reference drops (spec.md
// §4.6, §3 invariant 3).
func (m *Manager) Unsubscribe(hash model.DiscoveryHash, purpose Purpose, topic string) error {
	if topic == "" {
		return nil
	}
	m.mu.Lock()
	ts, ok := m.topics[topic]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(ts.refs, ref{Hash: hash, Purpose: purpose})
	if len(ts.refs) == 0 {
		delete(m.topics, topic)
		m.mu.Unlock()
		return m.transport.Unsubscribe(topic)
	}
	newQoS := ts.maxQoS()
	changed := newQoS != ts.liveQoS
	ts.liveQoS = newQoS
	m.mu.Unlock()

	if !changed {
		return nil
	}
	return m.transport.Subscribe(topic, newQoS, m.dispatch)
}

// LiveTopicCount reports how many distinct topics currently hold a live
// broker subscription, for diagnostics and metrics.
func (m *Manager) LiveTopicCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

func (m *Manager) refsFor(topic string) []ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.topics[topic]
	if !ok {
		return nil
	}
	out := make([]ref, 0, len(ts.refs))
	for r := range ts.refs {
		out = append(out, r)
	}
	return out
}

// dispatch is the single callback registered with the transport for every
// topic; it fans a message out to every entity bound to it (spec.md §4.6).
func (m *Manager) dispatch(topic string, payload []byte) {
	for _, r := range m.refsFor(topic) {
		entity, ok := m.store.Entity(r.Hash)
		if !ok {
			continue
		}
		switch r.Purpose {
		case PurposeState:
			m.handleState(entity, topic, payload)
		case PurposeAvailability:
			m.handleAvailability(entity, topic, payload)
		case PurposeAttributes:
			m.handleAttributes(entity, topic, payload)
		}
	}
}

// handleState renders a State message and advances the entity's
// last_updated/last_reported/last_changed timestamps per spec.md §3
// invariant 4 and §4.6. A render error leaves prior state untouched.
func (m *Manager) handleState(e *model.Entity, topic string, payload []byte) {
	rendered, err := m.renderer.Render(e.StateSub.ValueTemplate, e.Hash.String(), string(payload))
	if err != nil {
		m.log.Warn("state template render failed", "hash", e.Hash.String(), "topic", topic, "err", err)
		if m.OnTemplateError != nil {
			m.OnTemplateError(PurposeState)
		}
		return
	}
	if rendered == "" {
		return
	}

	e.ApplyState(rendered, m.now())

	if m.OnStateAccepted != nil {
		m.OnStateAccepted(e.Hash)
	}
}

// handleAvailability renders an Availability message against the topic's
// configured payload_available/payload_not_available strings and
// recomputes the entity's aggregate availability (spec.md §3, §4.6). An
// unrelated payload (matching neither string) leaves status unchanged, as
// does a render error.
func (m *Manager) handleAvailability(e *model.Entity, topic string, payload []byte) {
	if e.Availability == nil {
		return
	}
	ta, ok := e.Availability.Topics[topic]
	if !ok {
		return
	}

	rendered, err := m.renderer.Render(ta.Config.ValueTemplate, e.Hash.String(), string(payload))
	if err != nil {
		m.log.Warn("availability template render failed", "hash", e.Hash.String(), "topic", topic, "err", err)
		if m.OnTemplateError != nil {
			m.OnTemplateError(PurposeAvailability)
		}
		return
	}

	switch rendered {
	case ta.Config.PayloadAvailable:
		e.Availability.ApplyStatus(topic, true)
	case ta.Config.PayloadNotAvailable:
		e.Availability.ApplyStatus(topic, false)
	}
}

// handleAttributes renders a json_attributes_topic message and merges the
// resulting JSON object into the entity's ExtraStateAttributes (SPEC_FULL
// §3). A render or JSON-decode failure leaves prior attributes unchanged,
// the same containment the teacher applies to TemplateError.
func (m *Manager) handleAttributes(e *model.Entity, topic string, payload []byte) {
	rendered, err := m.renderer.Render(e.JSONAttributesTemplate, e.Hash.String(), string(payload))
	if err != nil {
		m.log.Warn("attributes template render failed", "hash", e.Hash.String(), "topic", topic, "err", err)
		if m.OnTemplateError != nil {
			m.OnTemplateError(PurposeAttributes)
		}
		return
	}

	var attrs map[string]any
	if err := json.Unmarshal([]byte(rendered), &attrs); err != nil {
		m.log.Warn("attributes payload not a JSON object", "hash", e.Hash.String(), "topic", topic, "err", err)
		return
	}
	if e.ExtraStateAttributes == nil {
		e.ExtraStateAttributes = make(map[string]any)
	}
	for k, v := range attrs {
		e.ExtraStateAttributes[k] = v
	}
}
