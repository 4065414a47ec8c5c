package discovery

import (
	"testing"
	"time"

	"mqtt-discoveryd/internal/model"
)

func hash(id string) model.DiscoveryHash {
	return model.DiscoveryHash{Component: "sensor", DiscoveryID: id}
}

func TestClassifyNewThenUpdate(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	k := r.Classify(Payload{Hash: hash("x")}, now)
	if k != KindNew {
		t.Fatalf("expected KindNew, got %v", k)
	}
	// Drain the in-flight marker as the reconciler would once done.
	if _, ok := r.Drain(hash("x")); ok {
		t.Fatalf("expected no coalesced payload yet")
	}

	k = r.Classify(Payload{Hash: hash("x")}, now)
	if k != KindUpdate {
		t.Fatalf("expected KindUpdate on second sighting, got %v", k)
	}
}

func TestClassifyCoalescesWhileInFlight(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	h := hash("x")

	if k := r.Classify(Payload{Hash: h}, now); k != KindNew {
		t.Fatalf("expected KindNew, got %v", k)
	}

	// Two more payloads arrive while the first reconcile is still "in flight".
	if k := r.Classify(Payload{Hash: h, Topic: "second"}, now); k != KindCoalesced {
		t.Fatalf("expected KindCoalesced, got %v", k)
	}
	if k := r.Classify(Payload{Hash: h, Topic: "third"}, now); k != KindCoalesced {
		t.Fatalf("expected KindCoalesced, got %v", k)
	}

	p, ok := r.Drain(h)
	if !ok || p.Topic != "second" {
		t.Fatalf("expected FIFO drain of second payload, got %+v ok=%v", p, ok)
	}
	p, ok = r.Drain(h)
	if !ok || p.Topic != "third" {
		t.Fatalf("expected FIFO drain of third payload, got %+v ok=%v", p, ok)
	}
	if _, ok := r.Drain(h); ok {
		t.Fatalf("expected queue to be empty after draining both coalesced payloads")
	}
}

func TestClassifyDeleteClearsState(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	h := hash("x")

	r.Classify(Payload{Hash: h}, now)
	r.Drain(h)

	k := r.Classify(Payload{Hash: h, Empty: true}, now)
	if k != KindDelete {
		t.Fatalf("expected KindDelete, got %v", k)
	}
	if r.Known(h) {
		t.Fatalf("expected hash removed from already_discovered after delete")
	}

	// A subsequent sighting is treated as brand new.
	if k := r.Classify(Payload{Hash: h}, now); k != KindNew {
		t.Fatalf("expected KindNew after deletion, got %v", k)
	}
}

func TestClassifyDeleteDrainsPendingAsDiscards(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	h := hash("x")

	r.Classify(Payload{Hash: h}, now)
	r.Classify(Payload{Hash: h, Topic: "coalesced"}, now)

	r.Classify(Payload{Hash: h, Empty: true}, now)

	if _, ok := r.Drain(h); ok {
		t.Fatalf("expected pending queue discarded on deletion")
	}
}
