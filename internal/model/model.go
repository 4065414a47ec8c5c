// Package model holds the in-memory device/entity graph spec.md §3
// describes.
//
// Design notes §9 calls for arena storage with stable integer indices
// instead of owning pointers, to sidestep the device↔entity↔broker
// cyclic reference problem; this package is that arena. It is touched by
// exactly one goroutine per broker (the reconciler's event loop, spec.md
// §5), so nothing here takes a lock.
package model

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DiscoveryHash is the primary fingerprint of an entity (spec.md §3).
type DiscoveryHash struct {
	Component   string
	DiscoveryID string
}

func (h DiscoveryHash) String() string {
	return h.Component + "/" + h.DiscoveryID
}

// Identifier is one (domain, id) tuple in a device's identifiers set.
type Identifier struct {
	Domain string
	ID     string
}

// Connection is one (type, value) tuple in a device's connections set.
type Connection struct {
	Type  string
	Value string
}

// EntryType classifies a device per spec.md §3.
type EntryType string

const EntryTypeService EntryType = "service"

// AvailabilityMode is the aggregation rule over multiple availability
// topics (spec.md §3 GLOSSARY).
type AvailabilityMode string

const (
	AvailabilityAll    AvailabilityMode = "all"
	AvailabilityAny    AvailabilityMode = "any"
	AvailabilityLatest AvailabilityMode = "latest"
)

// EntityCategory classifies a non-primary entity (spec.md §3).
type EntityCategory string

const (
	EntityCategoryConfig     EntityCategory = "config"
	EntityCategoryDiagnostic EntityCategory = "diagnostic"
)

// Device is uniquely identified by its identifiers and/or connections
// sets (spec.md §3). NoDevice is the sentinel index for an orphan entity.
const NoDevice = -1

type Device struct {
	Index       int
	Identifiers mapset.Set[Identifier]
	Connections mapset.Set[Connection]

	Manufacturer     string
	Model            string
	ModelID          string
	SWVersion        string
	HWVersion        string
	Name             string
	SerialNumber     string
	ConfigurationURL string
	SuggestedArea    string
	ViaDeviceID      string
	Labels           []string
	EntryType        EntryType
	TranslationKey   string

	// TranslationPlaceholders is the device's `translation_placeholders`
	// stanza, carried through verbatim (spec.md §3 device attributes).
	TranslationPlaceholders map[string]any

	// Children holds the DiscoveryHash of every entity currently attached
	// to this device.
	Children mapset.Set[DiscoveryHash]
}

func newDevice(index int) *Device {
	return &Device{
		Index:       index,
		Identifiers: mapset.NewThreadUnsafeSet[Identifier](),
		Connections: mapset.NewThreadUnsafeSet[Connection](),
		Children:    mapset.NewThreadUnsafeSet[DiscoveryHash](),
	}
}

// Matches reports whether this device's identity matches the given
// candidate identifiers/connections per spec.md §3: equal (and non-empty)
// identifiers sets, OR equal (and non-empty) connections sets.
func (d *Device) Matches(identifiers mapset.Set[Identifier], connections mapset.Set[Connection]) bool {
	if identifiers != nil && identifiers.Cardinality() > 0 && d.Identifiers.Equal(identifiers) {
		return true
	}
	if connections != nil && connections.Cardinality() > 0 && d.Connections.Equal(connections) {
		return true
	}
	return false
}

// AvailConfig is the per-topic availability configuration (spec.md §3).
type AvailConfig struct {
	PayloadAvailable    string
	PayloadNotAvailable string
	ValueTemplate       string
}

// DefaultAvailConfig returns the HA discovery defaults for payload values.
func DefaultAvailConfig() AvailConfig {
	return AvailConfig{PayloadAvailable: "online", PayloadNotAvailable: "offline"}
}

// TopicAvailability is the runtime status tracked for one availability
// topic.
type TopicAvailability struct {
	Config    AvailConfig
	Available bool
	Known     bool // true once at least one message has been rendered
}

// Availability is an entity's aggregate availability state (spec.md §3).
type Availability struct {
	Mode            AvailabilityMode
	Topics          map[string]*TopicAvailability
	AvailableLatest bool
}

// NewAvailability builds an empty Availability in the given mode,
// defaulting to "latest" per spec.md §3.
func NewAvailability(mode AvailabilityMode) *Availability {
	if mode == "" {
		mode = AvailabilityLatest
	}
	return &Availability{Mode: mode, Topics: make(map[string]*TopicAvailability)}
}

// DesiredTopicSet returns the set of topics this Availability names.
func (a *Availability) DesiredTopicSet() mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for t := range a.Topics {
		s.Add(t)
	}
	return s
}

// ApplyStatus records a topic's resolved available/unavailable status and
// recomputes the aggregate per the configured mode (spec.md §3, §4.6).
func (a *Availability) ApplyStatus(topic string, available bool) {
	ta, ok := a.Topics[topic]
	if !ok {
		return
	}
	ta.Available = available
	ta.Known = true

	switch a.Mode {
	case AvailabilityLatest:
		a.AvailableLatest = available
	case AvailabilityAll:
		all := true
		for _, t := range a.Topics {
			if !t.Known || !t.Available {
				all = false
				break
			}
		}
		a.AvailableLatest = all
	case AvailabilityAny:
		any := false
		for _, t := range a.Topics {
			if t.Known && t.Available {
				any = true
				break
			}
		}
		a.AvailableLatest = any
	}
}

// StateSub is a state subscription (spec.md §3).
type StateSub struct {
	StateTopic    string
	ValueTemplate string
	QoS           byte
}

// Equal reports whether two StateSubs describe the same live subscription
// (spec.md §4.5 step 4: topic, qos or value_template differing forces a
// resubscribe).
func (s StateSub) Equal(o StateSub) bool {
	return s.StateTopic == o.StateTopic && s.ValueTemplate == o.ValueTemplate && s.QoS == o.QoS
}

// Empty reports whether no state subscription is configured — a
// configuration-only entity per spec.md §4.5.
func (s StateSub) Empty() bool {
	return s.StateTopic == ""
}

// Entity is a child of a Device (or orphan) (spec.md §3).
type Entity struct {
	Hash        DiscoveryHash
	DeviceIndex int // NoDevice if orphan

	UniqueID                      string
	Name                          string
	Icon                          string
	EntityCategory                EntityCategory
	EntityRegistryEnabledDefault  bool

	State        *string
	LastChanged  time.Time
	LastUpdated  time.Time
	LastReported time.Time

	StateSub     StateSub
	Availability *Availability

	DeviceClass               string
	UnitOfMeasurement         string
	SupportedFeatures         int
	SuggestedDisplayPrecision *int
	ExtraStateAttributes      map[string]any

	ExpireAfter            time.Duration
	ForceUpdate            bool
	JSONAttributesTopic    string
	JSONAttributesTemplate string
}

// NewEntity creates an orphan entity for hash, ready for the Reconciler to
// populate (spec.md §4.5 step 3).
func NewEntity(hash DiscoveryHash) *Entity {
	return &Entity{
		Hash:                          hash,
		DeviceIndex:                   NoDevice,
		EntityRegistryEnabledDefault:  true,
		ExtraStateAttributes:          make(map[string]any),
	}
}

// ApplyState updates state timestamps per spec.md §3 invariant 4: last_changed
// advances only when the rendered value differs from the prior one (or
// ForceUpdate is set); last_updated and last_reported always advance.
func (e *Entity) ApplyState(rendered string, now time.Time) (changed bool) {
	changed = e.State == nil || *e.State != rendered || e.ForceUpdate
	e.State = &rendered
	e.LastUpdated = now
	e.LastReported = now
	if changed {
		e.LastChanged = now
	}
	return changed
}

// ClearState marks the entity's state unavailable without touching
// availability, per the expire_after behavior in SPEC_FULL.md §3.
func (e *Entity) ClearState(now time.Time) {
	e.State = nil
	e.LastUpdated = now
	e.LastReported = now
}
