package discovery

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"mqtt-discoveryd/internal/model"
)

// deviceDomain is the fixed domain lifted into every (domain, id) identifier
// tuple, per spec.md §4.5 step 2: "using the component's domain, i.e. mqtt".
const deviceDomain = "mqtt"

// DeviceSpec is the parsed `device` stanza of a discovery payload
// (spec.md §6).
type DeviceSpec struct {
	Identifiers mapset.Set[model.Identifier]
	Connections mapset.Set[model.Connection]

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
	EntryType        model.EntryType
	TranslationKey   string

	// TranslationPlaceholders is the `translation_placeholders` device
	// stanza (abbreviation `tpl`): no dedicated Device field models it, so
	// it is carried through verbatim instead of being silently discarded.
	TranslationPlaceholders map[string]any
}

// Spec is the typed view of a canonicalized discovery payload that the
// Reconciler (C5, spec.md §4.5 step 1) parses before mutating the model.
// Parsing is lenient: unknown root keys are preserved in Extra rather than
// rejected.
type Spec struct {
	Platform string // the component segment of the topic, e.g. "sensor"

	ObjectIDOverride string // payload's object_id, metadata only (SPEC_FULL §3)

	StateTopic    string
	ValueTemplate string
	QoS           byte

	AvailabilityMode   model.AvailabilityMode
	AvailabilityTopics map[string]model.AvailConfig

	UniqueID                  string
	Name                      string
	Icon                      string
	EntityCategory            model.EntityCategory
	EnabledByDefault          *bool
	DeviceClass               string
	UnitOfMeasurement         string
	ForceUpdate               bool
	ExpireAfter               time.Duration
	JSONAttributesTopic       string
	JSONAttributesTemplate    string
	SuggestedDisplayPrecision *int
	SupportedFeatures         int

	Device *DeviceSpec

	// Extra holds every root key this parser does not recognize, forwarded
	// into the entity's ExtraStateAttributes (spec.md §3, §9 "no dynamic
	// attribute objects — unknown fields retained verbatim under extra").
	Extra map[string]any
}

// knownRootKeys lists every root key ParseSpec interprets; everything else
// falls through to Extra.
var knownRootKeys = map[string]bool{
	"state_topic": true, "value_template": true, "qos": true,
	"availability_topic": true, "availability": true, "availability_mode": true,
	"payload_available": true, "payload_not_available": true,
	"device": true, "origin": true,
	"unique_id": true, "name": true, "icon": true, "entity_category": true,
	"enabled_by_default": true, "object_id": true,
	"unit_of_measurement": true, "device_class": true, "force_update": true,
	"expire_after": true, "suggested_display_precision": true,
	"json_attributes_topic": true, "json_attributes_template": true,
	"supported_features": true,
}

// ParseSpec parses a canonicalized discovery payload into a typed view
// (spec.md §4.5 step 1). platform is the component segment parsed from the
// topic (spec.md §4.3), carried through as Spec.Platform; device identifiers
// are always tagged with the fixed deviceDomain, not with platform.
func ParseSpec(platform string, raw map[string]any) (*Spec, error) {
	s := &Spec{
		Platform:           platform,
		AvailabilityMode:   model.AvailabilityLatest,
		AvailabilityTopics: make(map[string]model.AvailConfig),
		Extra:              make(map[string]any),
	}

	s.StateTopic, _ = raw["state_topic"].(string)
	s.ValueTemplate, _ = raw["value_template"].(string)
	s.QoS = byte(getFloat(raw, "qos"))

	s.UniqueID, _ = raw["unique_id"].(string)
	s.Name, _ = raw["name"].(string)
	s.Icon, _ = raw["icon"].(string)
	if v, ok := raw["entity_category"].(string); ok {
		s.EntityCategory = model.EntityCategory(v)
	}
	if v, ok := raw["enabled_by_default"].(bool); ok {
		s.EnabledByDefault = &v
	}
	s.ObjectIDOverride, _ = raw["object_id"].(string)
	s.UnitOfMeasurement, _ = raw["unit_of_measurement"].(string)
	s.DeviceClass, _ = raw["device_class"].(string)
	s.ForceUpdate, _ = raw["force_update"].(bool)
	if v, ok := raw["expire_after"]; ok {
		s.ExpireAfter = time.Duration(getFloat(map[string]any{"v": v}, "v")) * time.Second
	}
	if v, ok := raw["suggested_display_precision"]; ok {
		prec := int(getFloat(map[string]any{"v": v}, "v"))
		s.SuggestedDisplayPrecision = &prec
	}
	if v, ok := raw["supported_features"]; ok {
		s.SupportedFeatures = int(getFloat(map[string]any{"v": v}, "v"))
	}
	s.JSONAttributesTopic, _ = raw["json_attributes_topic"].(string)
	s.JSONAttributesTemplate, _ = raw["json_attributes_template"].(string)

	if err := parseAvailability(raw, s); err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}

	if devRaw, ok := raw["device"].(map[string]any); ok {
		dev, err := parseDevice(devRaw)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}
		s.Device = dev
	}

	for k, v := range raw {
		if !knownRootKeys[k] {
			s.Extra[k] = v
		}
	}

	return s, nil
}

func parseAvailability(raw map[string]any, s *Spec) error {
	if v, ok := raw["availability_mode"].(string); ok && v != "" {
		s.AvailabilityMode = model.AvailabilityMode(v)
	}

	defaultAvail := model.DefaultAvailConfig()
	if v, ok := raw["payload_available"].(string); ok {
		defaultAvail.PayloadAvailable = v
	}
	if v, ok := raw["payload_not_available"].(string); ok {
		defaultAvail.PayloadNotAvailable = v
	}

	if topic, ok := raw["availability_topic"].(string); ok && topic != "" {
		s.AvailabilityTopics[topic] = defaultAvail
	}

	if list, ok := raw["availability"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			topic, _ := m["topic"].(string)
			if topic == "" {
				continue
			}
			cfg := defaultAvail
			if v, ok := m["payload_available"].(string); ok {
				cfg.PayloadAvailable = v
			}
			if v, ok := m["payload_not_available"].(string); ok {
				cfg.PayloadNotAvailable = v
			}
			if v, ok := m["value_template"].(string); ok {
				cfg.ValueTemplate = v
			}
			s.AvailabilityTopics[topic] = cfg
		}
	}
	return nil
}

func parseDevice(raw map[string]any) (*DeviceSpec, error) {
	d := &DeviceSpec{
		Identifiers: mapset.NewThreadUnsafeSet[model.Identifier](),
		Connections: mapset.NewThreadUnsafeSet[model.Connection](),
	}

	switch v := raw["identifiers"].(type) {
	case string:
		d.Identifiers.Add(model.Identifier{Domain: deviceDomain, ID: v})
	case []any:
		for _, item := range v {
			if id, ok := item.(string); ok {
				d.Identifiers.Add(model.Identifier{Domain: deviceDomain, ID: id})
			}
		}
	}

	if conns, ok := raw["connections"].([]any); ok {
		for _, item := range conns {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			typ, _ := pair[0].(string)
			val, _ := pair[1].(string)
			if typ == "" || val == "" {
				continue
			}
			d.Connections.Add(model.Connection{Type: typ, Value: val})
		}
	}

	d.Manufacturer, _ = raw["manufacturer"].(string)
	d.Model, _ = raw["model"].(string)
	d.ModelID, _ = raw["model_id"].(string)
	d.SWVersion, _ = raw["sw_version"].(string)
	d.HWVersion, _ = raw["hw_version"].(string)
	d.Name, _ = raw["name"].(string)
	d.SerialNumber, _ = raw["serial_number"].(string)
	d.ConfigurationURL, _ = raw["configuration_url"].(string)
	d.SuggestedArea, _ = raw["suggested_area"].(string)
	d.ViaDeviceID, _ = raw["via_device_id"].(string)
	if v, ok := raw["entry_type"].(string); ok {
		d.EntryType = model.EntryType(v)
	}
	d.TranslationKey, _ = raw["translation_key"].(string)
	if tpl, ok := raw["translation_placeholders"].(map[string]any); ok {
		d.TranslationPlaceholders = tpl
	}
	if labels, ok := raw["labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok {
				d.Labels = append(d.Labels, s)
			}
		}
	}

	if d.Identifiers.Cardinality() == 0 && d.Connections.Cardinality() == 0 {
		return nil, fmt.Errorf("device stanza carries neither identifiers nor connections")
	}
	return d, nil
}

// getFloat extracts a numeric field as float64; JSON numbers decode into
// float64 via encoding/json, so this covers qos/expire_after/precision
// without per-type switches.
func getFloat(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
