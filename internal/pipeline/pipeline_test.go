package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"mqtt-discoveryd/internal/discovery"
	"mqtt-discoveryd/internal/model"
	"mqtt-discoveryd/internal/reconcile"
	"mqtt-discoveryd/internal/subscription"
)

type nopInstaller struct{}

func (nopInstaller) Subscribe(model.DiscoveryHash, subscription.Purpose, string, byte) error { return nil }
func (nopInstaller) Unsubscribe(model.DiscoveryHash, subscription.Purpose, string) error      { return nil }

type nopCache struct{}

func (nopCache) Release(string) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleMessageReconcilesNewEntity(t *testing.T) {
	store := model.NewStore()
	reg := discovery.NewRegistry()
	rec := reconcile.New(store, reg, nopInstaller{}, nopCache{}, discardLogger())
	p := New("homeassistant", reg, rec, discardLogger())

	payload := []byte(`{"state_topic":"sensors/a/state","device":{"identifiers":"dev-a"}}`)
	label := p.HandleMessage("homeassistant/sensor/a/config", payload)
	if label != LabelNew {
		t.Fatalf("label = %q, want %q", label, LabelNew)
	}

	h := model.DiscoveryHash{Component: "sensor", DiscoveryID: "a"}
	e, ok := store.Entity(h)
	if !ok {
		t.Fatalf("expected entity reconciled into store")
	}
	if e.StateSub.StateTopic != "sensors/a/state" {
		t.Fatalf("unexpected state topic: %+v", e.StateSub)
	}
}

func TestHandleMessageIgnoresMalformedTopic(t *testing.T) {
	store := model.NewStore()
	reg := discovery.NewRegistry()
	rec := reconcile.New(store, reg, nopInstaller{}, nopCache{}, discardLogger())
	p := New("homeassistant", reg, rec, discardLogger())

	label := p.HandleMessage("not/a/discovery/topic", []byte(`{}`))
	if label != LabelMalformedTopic {
		t.Fatalf("label = %q, want %q", label, LabelMalformedTopic)
	}

	if len(store.Entities()) != 0 {
		t.Fatalf("expected no entities created from a malformed topic")
	}
}

func TestHandleMessageIgnoresMalformedPayload(t *testing.T) {
	store := model.NewStore()
	reg := discovery.NewRegistry()
	rec := reconcile.New(store, reg, nopInstaller{}, nopCache{}, discardLogger())
	p := New("homeassistant", reg, rec, discardLogger())

	label := p.HandleMessage("homeassistant/sensor/a/config", []byte(`not json`))
	if label != LabelMalformedPayload {
		t.Fatalf("label = %q, want %q", label, LabelMalformedPayload)
	}

	if len(store.Entities()) != 0 {
		t.Fatalf("expected no entities created from a malformed payload")
	}
}

func TestHandleMessageEmptyPayloadDeletes(t *testing.T) {
	store := model.NewStore()
	reg := discovery.NewRegistry()
	rec := reconcile.New(store, reg, nopInstaller{}, nopCache{}, discardLogger())
	p := New("homeassistant", reg, rec, discardLogger())

	p.HandleMessage("homeassistant/sensor/a/config", []byte(`{"state_topic":"sensors/a/state","device":{"identifiers":"dev-a"}}`))
	h := model.DiscoveryHash{Component: "sensor", DiscoveryID: "a"}
	if _, ok := store.Entity(h); !ok {
		t.Fatalf("expected entity created first")
	}

	label := p.HandleMessage("homeassistant/sensor/a/config", []byte(``))
	if label != LabelDelete {
		t.Fatalf("label = %q, want %q", label, LabelDelete)
	}
	if _, ok := store.Entity(h); ok {
		t.Fatalf("expected entity deleted on empty payload")
	}
}
