package discovery

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalizeTopicBaseSubstitution(t *testing.T) {
	raw := []byte(`{"~":"homeassistant/switch/irrigation","name":"garden","cmd_t":"~/set","stat_t":"~/state"}`)

	got, _, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"name":          "garden",
		"command_topic": "homeassistant/switch/irrigation/set",
		"state_topic":   "homeassistant/switch/irrigation/state",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %q = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["~"]; ok {
		t.Errorf("expected ~ removed from normalized payload")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := []byte(`{"~":"base","stat_t":"~/state","dev":{"ids":"x","mf":"acme"}}`)

	first, _, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	second, _, _, err := Normalize(encoded)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}

	b1, _ := json.Marshal(first)
	b2, _ := json.Marshal(second)
	if string(b1) != string(b2) {
		t.Fatalf("expected normalize(normalize(p)) == normalize(p); got %s vs %s", b1, b2)
	}
}

func TestNormalizeNoTildeLeftover(t *testing.T) {
	raw := []byte(`{"~":"b","state_topic":"~/s","command_topic":"c/~"}`)
	got, _, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range got {
		if !strings.HasSuffix(k, "topic") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(s, "~") || strings.HasSuffix(s, "~") {
			t.Errorf("field %q retains a dangling ~: %q", k, s)
		}
	}
}

func TestNormalizeDeviceAbbreviations(t *testing.T) {
	raw := []byte(`{"dev":{"ids":"watermeter","mf":"acme","mdl":"flo-1"}}`)
	got, _, _, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dev, ok := got["device"].(map[string]any)
	if !ok {
		t.Fatalf("expected device key expanded, got %v", got)
	}
	if dev["identifiers"] != "watermeter" || dev["manufacturer"] != "acme" || dev["model"] != "flo-1" {
		t.Fatalf("expected device abbreviations expanded, got %v", dev)
	}
}

func TestNormalizeOriginNonFatalOnParseFailure(t *testing.T) {
	raw := []byte(`{"name":"x","origin":{"sw":"1.0"}}`)
	_, origin, originErr, err := Normalize(raw)
	if err != nil {
		t.Fatalf("origin parse failure must not reject the payload: %v", err)
	}
	if origin != nil {
		t.Fatalf("expected nil origin when name is missing, got %+v", origin)
	}
	if originErr == nil {
		t.Fatalf("expected a non-nil originErr distinguishing malformed origin from absent origin")
	}
}

func TestNormalizeOriginAbsentHasNoOriginErr(t *testing.T) {
	raw := []byte(`{"name":"x"}`)
	_, origin, originErr, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if origin != nil {
		t.Fatalf("expected nil origin when absent, got %+v", origin)
	}
	if originErr != nil {
		t.Fatalf("expected nil originErr when origin is simply absent, got %v", originErr)
	}
}

func TestNormalizeEmptyPayloadIsDeletionSignal(t *testing.T) {
	got, origin, originErr, err := Normalize([]byte(""))
	if err != nil {
		t.Fatalf("empty payload must not be an error: %v", err)
	}
	if got != nil || origin != nil || originErr != nil {
		t.Fatalf("expected nil result for empty payload")
	}
}

func TestNormalizeRejectsNonObjectRoot(t *testing.T) {
	_, _, _, err := Normalize([]byte(`[1,2,3]`))
	if err == nil {
		t.Fatalf("expected error for non-object JSON root")
	}
}
