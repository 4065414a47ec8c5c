// Package render evaluates the Jinja-style value_template expressions
// spec.md §3 and §4.6 bind to a message's value (raw UTF-8 payload) and
// value_json (payload parsed as JSON, when possible).
//
// Shaped after the teacher's src/pkg/modbus/expression_evaluator.go: a
// small evaluator type holding a compiled-template cache, with Evaluate
// wrapping the underlying engine's error in a package error. The teacher
// hand-rolled its arithmetic grammar; this package instead drives a real
// Jinja2-compatible engine, since spec.md §3's `in`/ternary/dotted-attribute
// grammar cannot be expressed as a regexp-substitution pass.
package render

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"

	"mqtt-discoveryd/internal/bridgeerr"
)

// Renderer compiles and caches value_template expressions, keyed by their
// source text. Templates are shared across every entity that happens to
// use the identical template string; an entry is purged through Release
// once the Reconciler's scan finds no live entity still referencing it.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*exec.Template
}

// New builds an empty Renderer.
func New() *Renderer {
	return &Renderer{cache: make(map[string]*exec.Template)}
}

// compile returns a cached compiled template for src, compiling and
// caching it on first use.
func (r *Renderer) compile(src string) (*exec.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[src]; ok {
		return t, nil
	}
	t, err := gonja.FromString(src)
	if err != nil {
		return nil, err
	}
	r.cache[src] = t
	return t, nil
}

// Release drops src from the compiled-template cache. Called by the
// Reconciler once no live entity references src any more (spec.md §5
// "Shared resources").
func (r *Renderer) Release(src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, src)
}

// Render evaluates template against an MQTT message payload, binding
// `value` to the raw payload string and `value_json` to the payload
// parsed as JSON (nil if the payload is not valid JSON — spec.md §3
// allows value_json access to fail silently in that case, matching
// Home Assistant's own template binding).
//
// An empty template is the identity template: Render returns payload
// unchanged without compiling anything, since most entities have no
// value_template at all (spec.md §4.6 step 2).
func (r *Renderer) Render(template, hash, payload string) (string, error) {
	if template == "" {
		return payload, nil
	}

	tpl, err := r.compile(template)
	if err != nil {
		return "", bridgeerr.NewTemplateFailure(template, hash, fmt.Errorf("compile: %w", err))
	}

	var valueJSON any
	_ = json.Unmarshal([]byte(payload), &valueJSON)

	ctx := exec.NewContext(map[string]any{
		"value":      payload,
		"value_json": valueJSON,
	})

	out, err := tpl.ExecuteToString(ctx)
	if err != nil {
		return "", bridgeerr.NewTemplateFailure(template, hash, fmt.Errorf("execute: %w", err))
	}
	return out, nil
}
