// Package discovery implements the wire-format side of the discovery
// pipeline: abbreviation expansion and topic-base substitution (C2,
// spec.md §4.2), topic grammar parsing (C3, spec.md §4.3), and the
// per-broker registry that classifies inbound payloads (C4, spec.md §4.4).
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OriginInfo is the parsed `origin` stanza (spec.md §6).
type OriginInfo struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}

// Normalize expands every abbreviation table over payload, substitutes any
// `~` topic base, and parses `origin` into typed form (non-fatally; see
// spec.md §4.2). The return value is the canonical JSON object, the origin
// info (if any), and a non-fatal originErr describing why origin is nil
// when it was present but malformed — distinct from nil origin meaning
// "absent" — so the caller can log it per spec.md §4.2's "a parse failure
// is logged" without rejecting the payload. The final error is returned
// only when the root is not a JSON object, or is not valid JSON at all —
// both MalformedPayload cases per spec.md §7.
func Normalize(payload []byte) (root map[string]any, origin *OriginInfo, originErr error, err error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		// Empty payload is a deletion signal (spec.md §4.4); not a parse error.
		return nil, nil, nil, nil
	}

	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, nil, nil, fmt.Errorf("payload root is not a JSON object: %w", err)
	}

	root = expand(root, rootAbbreviations)

	if devRaw, ok := root["device"]; ok {
		if devObj, ok := devRaw.(map[string]any); ok {
			root["device"] = expand(devObj, deviceAbbreviations)
		}
	}

	if orgRaw, ok := root["origin"]; ok {
		if orgObj, ok := orgRaw.(map[string]any); ok {
			orgObj = expand(orgObj, originAbbreviations)
			root["origin"] = orgObj
			o, perr := parseOrigin(orgObj)
			if perr != nil {
				// spec.md §4.2: a parse failure is logged by the caller but
				// does NOT reject the payload.
				originErr = fmt.Errorf("origin: %w", perr)
			} else {
				origin = o
			}
		}
	}

	if availRaw, ok := root["availability"]; ok {
		if availSlice, ok := availRaw.([]any); ok {
			expanded := make([]any, 0, len(availSlice))
			for _, item := range availSlice {
				if m, ok := item.(map[string]any); ok {
					expanded = append(expanded, expand(m, availabilityAbbreviations))
				} else {
					expanded = append(expanded, item)
				}
			}
			root["availability"] = expanded
		}
	}

	if baseRaw, ok := root["~"]; ok {
		base, _ := baseRaw.(string)
		delete(root, "~")
		substituteTopicBase(root, base)
	}

	return root, origin, originErr, nil
}

func parseOrigin(obj map[string]any) (*OriginInfo, error) {
	name, _ := obj["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("origin.name is required")
	}
	o := &OriginInfo{Name: name}
	if v, ok := obj["sw_version"].(string); ok {
		o.SWVersion = v
	}
	if v, ok := obj["support_url"].(string); ok {
		o.SupportURL = v
	}
	return o, nil
}

// substituteTopicBase replaces a leading or trailing `~` with base in every
// top-level string field whose key ends in "topic", and in each
// availability[*].topic entry (spec.md §4.2).
func substituteTopicBase(root map[string]any, base string) {
	for k, v := range root {
		if !strings.HasSuffix(k, "topic") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		root[k] = splice(s, base)
	}

	if availRaw, ok := root["availability"]; ok {
		if availSlice, ok := availRaw.([]any); ok {
			for _, item := range availSlice {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if t, ok := m["topic"].(string); ok {
					m["topic"] = splice(t, base)
				}
			}
		}
	}
}

// splice substitutes a single leading or trailing `~` in s with base. A `~`
// in the middle of the string, or a string without one, is left untouched.
func splice(s, base string) string {
	switch {
	case strings.HasPrefix(s, "~/"):
		return base + s[1:]
	case s == "~":
		return base
	case strings.HasSuffix(s, "/~"):
		return s[:len(s)-1] + base
	default:
		return s
	}
}
