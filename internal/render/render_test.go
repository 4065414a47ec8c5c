package render

import (
	"errors"
	"testing"

	"mqtt-discoveryd/internal/bridgeerr"
)

func TestRenderIdentityOnEmptyTemplate(t *testing.T) {
	r := New()
	out, err := r.Render("", "sensor/x", "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42" {
		t.Fatalf("expected identity passthrough, got %q", out)
	}
}

func TestRenderValueJSON(t *testing.T) {
	r := New()
	out, err := r.Render("{{ value_json.state }}", "sensor/x", `{"state":"ON"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ON" {
		t.Fatalf("expected ON, got %q", out)
	}
}

func TestRenderTernaryAndMembership(t *testing.T) {
	r := New()
	out, err := r.Render(`{{ 'on' if value in ['1', 'ON'] else 'off' }}`, "sensor/x", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "on" {
		t.Fatalf("expected on, got %q", out)
	}
}

func TestRenderCompileErrorIsTemplateFailure(t *testing.T) {
	r := New()
	_, err := r.Render("{{ value |", "sensor/x", "1")
	if err == nil {
		t.Fatalf("expected compile error")
	}
	var tf *bridgeerr.TemplateFailure
	if !errors.As(err, &tf) {
		t.Fatalf("expected *bridgeerr.TemplateFailure, got %T", err)
	}
}

func TestRenderCachesCompiledTemplate(t *testing.T) {
	r := New()
	src := "{{ value }}"
	if _, err := r.Render(src, "sensor/x", "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.cache[src]; !ok {
		t.Fatalf("expected template to be cached")
	}
	r.Release(src)
	if _, ok := r.cache[src]; ok {
		t.Fatalf("expected Release to drop cached template")
	}
}
