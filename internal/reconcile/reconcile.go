// Package reconcile implements the Reconciler (C5, spec.md §4.5): it turns
// a classified discovery payload into device/entity model mutations and
// the subscription intents the Subscription Manager (C6) needs to install.
package reconcile

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"

	"mqtt-discoveryd/internal/discovery"
	"mqtt-discoveryd/internal/model"
	"mqtt-discoveryd/internal/subscription"
)

// Installer is the C5→C6 boundary: subscription intents, not raw broker
// calls (spec.md §9 "pass subscription intents ... and let C6 diff against
// its live state").
type Installer interface {
	Subscribe(hash model.DiscoveryHash, purpose subscription.Purpose, topic string, qos byte) error
	Unsubscribe(hash model.DiscoveryHash, purpose subscription.Purpose, topic string) error
}

// TemplateCache is the subset of render.Renderer the Reconciler uses to
// purge compiled templates once no live entity references them (spec.md
// §5 "Shared resources").
type TemplateCache interface {
	Release(src string)
}

// Reconciler owns one broker's device/entity model and drives it from
// classified discovery payloads (spec.md §4.5).
type Reconciler struct {
	Store    *model.Store
	Registry *discovery.Registry
	Subs     Installer
	Cache    TemplateCache
	Log      *slog.Logger

	// OnEntityReconciled fires after an entity (new or existing) has been
	// reconciled: its fields and subscriptions updated and its expire_after
	// timer (SPEC_FULL §3) already re-armed by the Reconciler. Optional.
	OnEntityReconciled func(e *model.Entity)
	// OnEntityDeleted fires after an entity is removed from the store.
	// Optional.
	OnEntityDeleted func(hash model.DiscoveryHash)

	mu     sync.Mutex
	timers map[model.DiscoveryHash]*time.Timer
	now    func() time.Time
}

// New builds a Reconciler for one broker's store/registry/installer.
func New(store *model.Store, registry *discovery.Registry, subs Installer, cache TemplateCache, log *slog.Logger) *Reconciler {
	return &Reconciler{
		Store:    store,
		Registry: registry,
		Subs:     subs,
		Cache:    cache,
		Log:      log,
		timers:   make(map[model.DiscoveryHash]*time.Timer),
		now:      time.Now,
	}
}

// ArmExpireTimer (re)arms the expire_after staleness timer for hash,
// SPEC_FULL §3: if no message refreshes last_updated within the window,
// the entity's state is cleared to unavailable without touching
// availability. A non-positive duration disarms any existing timer.
func (r *Reconciler) ArmExpireTimer(hash model.DiscoveryHash, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[hash]; ok {
		t.Stop()
		delete(r.timers, hash)
	}
	if d <= 0 {
		return
	}
	r.timers[hash] = time.AfterFunc(d, func() { r.expire(hash) })
}

// ResetExpireTimer re-arms hash's expire_after timer using its current
// configuration, called by the Subscription Manager's OnStateAccepted hook
// on every accepted state update (SPEC_FULL §3).
func (r *Reconciler) ResetExpireTimer(hash model.DiscoveryHash) {
	entity, ok := r.Store.Entity(hash)
	if !ok {
		return
	}
	r.ArmExpireTimer(hash, entity.ExpireAfter)
}

func (r *Reconciler) disarmTimer(hash model.DiscoveryHash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[hash]; ok {
		t.Stop()
		delete(r.timers, hash)
	}
}

func (r *Reconciler) expire(hash model.DiscoveryHash) {
	entity, ok := r.Store.Entity(hash)
	if !ok {
		return
	}
	entity.ClearState(r.now())
	r.Log.Debug("entity state expired", "hash", hash.String())
}

// Handle drains and reconciles p and every payload the registry coalesced
// behind it for the same fingerprint, per spec.md §4.5 step 6: only the
// LAST payload's configuration survives.
func (r *Reconciler) Handle(p discovery.Payload) {
	for {
		if p.Empty {
			r.delete(p.Hash)
		} else if err := r.reconcileOne(p); err != nil {
			r.Log.Warn("discovery payload dropped", "topic", p.Topic, "hash", p.Hash.String(), "err", err)
		}

		next, ok := r.Registry.Drain(p.Hash)
		if !ok {
			return
		}
		p = next
	}
}

func (r *Reconciler) reconcileOne(p discovery.Payload) error {
	spec, err := discovery.ParseSpec(p.Platform, p.Raw)
	if err != nil {
		return fmt.Errorf("schema mismatch: %w", err)
	}

	entity, existed := r.Store.Entity(p.Hash)
	if !existed {
		entity = model.NewEntity(p.Hash)
	}
	oldStateSub := entity.StateSub
	oldAvailTopics := map[string]bool{}
	if entity.Availability != nil {
		for t := range entity.Availability.Topics {
			oldAvailTopics[t] = true
		}
	}
	oldAttrsTopic := entity.JSONAttributesTopic
	oldAttrsTemplate := entity.JSONAttributesTemplate

	r.resolveDevice(entity, spec.Device)
	r.applyEntityFields(entity, spec)

	r.installStateSub(entity, oldStateSub)
	r.installAvailability(entity, oldAvailTopics, spec.AvailabilityMode, spec.AvailabilityTopics)
	r.installAttributes(entity, oldAttrsTopic, oldAttrsTemplate)

	r.Store.PutEntity(entity)
	r.ArmExpireTimer(entity.Hash, entity.ExpireAfter)

	if r.OnEntityReconciled != nil {
		r.OnEntityReconciled(entity)
	}
	return nil
}

// resolveDevice implements spec.md §4.5 step 2 and the identifiers-wins
// tie-break: identifiers and connections are searched independently and
// identifiers takes precedence on disagreement.
func (r *Reconciler) resolveDevice(entity *model.Entity, spec *discovery.DeviceSpec) {
	if spec == nil {
		return
	}

	var match *model.Device
	if spec.Identifiers.Cardinality() > 0 {
		if d, ok := r.Store.FindByIdentifiers(spec.Identifiers); ok {
			match = d
		}
	}
	if match == nil && spec.Connections.Cardinality() > 0 {
		if d, ok := r.Store.FindByConnections(spec.Connections); ok {
			match = d
		}
	}
	if match == nil {
		match = r.Store.CreateDevice(spec.Identifiers, spec.Connections)
	}

	match.Identifiers = spec.Identifiers
	match.Connections = spec.Connections
	match.Manufacturer = spec.Manufacturer
	match.Model = spec.Model
	match.ModelID = spec.ModelID
	match.SWVersion = spec.SWVersion
	match.HWVersion = spec.HWVersion
	match.Name = spec.Name
	match.SerialNumber = spec.SerialNumber
	match.ConfigurationURL = spec.ConfigurationURL
	match.SuggestedArea = spec.SuggestedArea
	match.ViaDeviceID = spec.ViaDeviceID
	match.Labels = spec.Labels
	match.EntryType = spec.EntryType
	match.TranslationKey = spec.TranslationKey
	match.TranslationPlaceholders = spec.TranslationPlaceholders

	// spec.md §4.5 tie-break: "the Entity is MOVED" only when its resolved
	// device differs from the one it's currently attached to.
	if entity.DeviceIndex != match.Index {
		r.Store.MoveEntity(entity, match)
	}
}

func (r *Reconciler) applyEntityFields(entity *model.Entity, spec *discovery.Spec) {
	entity.UniqueID = spec.UniqueID
	entity.Name = spec.Name
	entity.Icon = spec.Icon
	entity.EntityCategory = spec.EntityCategory
	entity.EntityRegistryEnabledDefault = spec.EnabledByDefault == nil || *spec.EnabledByDefault
	entity.DeviceClass = spec.DeviceClass
	entity.UnitOfMeasurement = spec.UnitOfMeasurement
	entity.SupportedFeatures = spec.SupportedFeatures
	entity.SuggestedDisplayPrecision = spec.SuggestedDisplayPrecision
	entity.ExtraStateAttributes = spec.Extra
	entity.ExpireAfter = spec.ExpireAfter
	entity.ForceUpdate = spec.ForceUpdate
	entity.JSONAttributesTopic = spec.JSONAttributesTopic
	entity.JSONAttributesTemplate = spec.JSONAttributesTemplate
	entity.StateSub = model.StateSub{
		StateTopic:    spec.StateTopic,
		ValueTemplate: spec.ValueTemplate,
		QoS:           spec.QoS,
	}
}

// installStateSub implements spec.md §4.5 step 4: compare the new
// StateSub (already written onto entity by applyEntityFields) against the
// one that was live before this payload, and — only on a difference —
// unsubscribe the old topic before subscribing the new one.
func (r *Reconciler) installStateSub(entity *model.Entity, old model.StateSub) {
	next := entity.StateSub
	if next.Equal(old) {
		return
	}

	if !old.Empty() {
		if err := r.Subs.Unsubscribe(entity.Hash, subscription.PurposeState, old.StateTopic); err != nil {
			r.Log.Warn("state unsubscribe failed", "hash", entity.Hash.String(), "topic", old.StateTopic, "err", err)
		}
		r.releaseIfUnused(old.ValueTemplate)
	}
	if !next.Empty() {
		if err := r.Subs.Subscribe(entity.Hash, subscription.PurposeState, next.StateTopic, next.QoS); err != nil {
			r.Log.Warn("state subscribe failed", "hash", entity.Hash.String(), "topic", next.StateTopic, "err", err)
		}
	}
}

// installAvailability implements spec.md §4.5 step 5: subscribe to
// desired \ current, unsubscribe current \ desired, and leave common
// topics' broker subscriptions alone even when their configuration (e.g.
// payload strings) changed in place.
func (r *Reconciler) installAvailability(entity *model.Entity, oldTopics map[string]bool, mode model.AvailabilityMode, desiredTopics map[string]model.AvailConfig) {
	prevAvail := entity.Availability
	next := model.NewAvailability(mode)

	// entity.StateSub was just set by applyEntityFields; its QoS also
	// governs availability/attribute subscriptions, since spec.md's schema
	// carries a single qos field per discovery payload, not one per topic.
	qos := entity.StateSub.QoS

	desired := mapset.NewThreadUnsafeSet[string]()
	for t := range desiredTopics {
		desired.Add(t)
	}

	current := mapset.NewThreadUnsafeSet[string]()
	for t := range oldTopics {
		current.Add(t)
	}

	toAdd, toRemove := lo.Difference(desired.ToSlice(), current.ToSlice())

	for t, cfg := range desiredTopics {
		ta := &model.TopicAvailability{Config: cfg}
		if prevAvail != nil {
			if old, ok := prevAvail.Topics[t]; ok {
				ta.Available = old.Available
				ta.Known = old.Known
			}
		}
		next.Topics[t] = ta
	}
	entity.Availability = next

	for _, t := range toRemove {
		if err := r.Subs.Unsubscribe(entity.Hash, subscription.PurposeAvailability, t); err != nil {
			r.Log.Warn("availability unsubscribe failed", "hash", entity.Hash.String(), "topic", t, "err", err)
		}
	}
	for _, t := range toAdd {
		if err := r.Subs.Subscribe(entity.Hash, subscription.PurposeAvailability, t, qos); err != nil {
			r.Log.Warn("availability subscribe failed", "hash", entity.Hash.String(), "topic", t, "err", err)
		}
	}
}

// installAttributes implements the json_attributes_topic subscription
// from SPEC_FULL §3, diffed on the topic alone: only a changed topic
// unsubscribes the old one (releasing its template if unused) before
// subscribing the new one.
func (r *Reconciler) installAttributes(entity *model.Entity, oldTopic, oldTemplate string) {
	next := entity.JSONAttributesTopic
	if next == oldTopic {
		return
	}
	if oldTopic != "" {
		if err := r.Subs.Unsubscribe(entity.Hash, subscription.PurposeAttributes, oldTopic); err != nil {
			r.Log.Warn("attributes unsubscribe failed", "hash", entity.Hash.String(), "topic", oldTopic, "err", err)
		}
		r.releaseIfUnused(oldTemplate)
	}
	if next != "" {
		if err := r.Subs.Subscribe(entity.Hash, subscription.PurposeAttributes, next, entity.StateSub.QoS); err != nil {
			r.Log.Warn("attributes subscribe failed", "hash", entity.Hash.String(), "topic", next, "err", err)
		}
	}
}

// delete implements spec.md §3 Lifecycle's empty-payload deletion: remove
// every live subscription for the entity, then the entity itself.
func (r *Reconciler) delete(hash model.DiscoveryHash) {
	entity, ok := r.Store.Entity(hash)
	if !ok {
		return
	}

	if !entity.StateSub.Empty() {
		_ = r.Subs.Unsubscribe(hash, subscription.PurposeState, entity.StateSub.StateTopic)
	}
	if entity.Availability != nil {
		for t := range entity.Availability.Topics {
			_ = r.Subs.Unsubscribe(hash, subscription.PurposeAvailability, t)
		}
	}
	if entity.JSONAttributesTopic != "" {
		_ = r.Subs.Unsubscribe(hash, subscription.PurposeAttributes, entity.JSONAttributesTopic)
	}

	r.disarmTimer(hash)
	r.Store.DeleteEntity(hash)

	// Released only once the entity has left the store, so releaseIfUnused
	// no longer counts it as a reference.
	r.releaseIfUnused(entity.StateSub.ValueTemplate)
	r.releaseIfUnused(entity.JSONAttributesTemplate)
	if entity.Availability != nil {
		for _, ta := range entity.Availability.Topics {
			r.releaseIfUnused(ta.Config.ValueTemplate)
		}
	}

	if r.OnEntityDeleted != nil {
		r.OnEntityDeleted(hash)
	}
}

// releaseIfUnused purges template from the compiled-template cache only
// when no other live entity still references the same source text
// (spec.md §5 "cache entries are purged when the last referencing entity
// drops them").
func (r *Reconciler) releaseIfUnused(template string) {
	if template == "" || r.Cache == nil {
		return
	}
	for _, e := range r.Store.Entities() {
		if e.StateSub.ValueTemplate == template || e.JSONAttributesTemplate == template {
			return
		}
		if e.Availability != nil {
			for _, ta := range e.Availability.Topics {
				if ta.Config.ValueTemplate == template {
					return
				}
			}
		}
	}
	r.Cache.Release(template)
}
