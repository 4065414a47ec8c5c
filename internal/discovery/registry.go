package discovery

import (
	"time"

	"mqtt-discoveryd/internal/model"
)

// Payload is a classified discovery message awaiting reconciliation
// (spec.md §4.4). An Empty payload signals deletion of the entity at Hash.
type Payload struct {
	Hash     model.DiscoveryHash
	Platform string // component segment of the topic (spec.md §4.3)
	Topic    string
	Raw      map[string]any
	Origin   *OriginInfo
	Empty    bool
}

// Kind labels how the registry classified a payload.
type Kind int

const (
	KindNew Kind = iota
	KindUpdate
	KindCoalesced
	KindDelete
)

// Registry is the per-broker discovery classifier of spec.md §4.4: the
// `already_discovered` set plus the per-hash pending queues that coalesce
// bursts behind an in-flight reconcile.
type Registry struct {
	alreadyDiscovered map[model.DiscoveryHash]bool
	pending           map[model.DiscoveryHash][]Payload
	lastDiscoveryAt   time.Time
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		alreadyDiscovered: make(map[model.DiscoveryHash]bool),
		pending:           make(map[model.DiscoveryHash][]Payload),
	}
}

// Classify implements spec.md §4.4's classification protocol. now is
// injected so tests can control last_discovery_at deterministically.
//
// When Kind is KindCoalesced, the caller must NOT dispatch — the payload
// was appended to an in-flight reconcile's queue, to be drained by Drain.
func (r *Registry) Classify(p Payload, now time.Time) Kind {
	r.lastDiscoveryAt = now

	if p.Empty {
		return r.classifyDelete(p)
	}

	if q, ok := r.pending[p.Hash]; ok {
		r.pending[p.Hash] = append(q, p)
		return KindCoalesced
	}

	// Mark this hash as "reconcile in flight" by seeding its pending queue,
	// even though this very payload dispatches immediately; Drain below
	// pops off that queue once the in-flight reconcile finishes.
	r.pending[p.Hash] = nil

	if r.alreadyDiscovered[p.Hash] {
		return KindUpdate
	}
	r.alreadyDiscovered[p.Hash] = true
	return KindNew
}

func (r *Registry) classifyDelete(p Payload) Kind {
	delete(r.alreadyDiscovered, p.Hash)
	delete(r.pending, p.Hash)
	return KindDelete
}

// Drain pops the next coalesced payload for hash (FIFO), if any, and
// reports whether one was available. The reconciler calls this after
// finishing a reconcile, per spec.md §4.5 step 6; when it returns false the
// hash's pending queue marker is cleared, ending the in-flight window.
func (r *Registry) Drain(hash model.DiscoveryHash) (Payload, bool) {
	q, ok := r.pending[hash]
	if !ok || len(q) == 0 {
		delete(r.pending, hash)
		return Payload{}, false
	}
	next := q[0]
	r.pending[hash] = q[1:]
	return next, true
}

// LastDiscoveryAt returns the timestamp of the most recently classified
// payload, for diagnostics.
func (r *Registry) LastDiscoveryAt() time.Time {
	return r.lastDiscoveryAt
}

// Known reports whether hash is currently in already_discovered.
func (r *Registry) Known(hash model.DiscoveryHash) bool {
	return r.alreadyDiscovered[hash]
}
