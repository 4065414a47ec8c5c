package discovery

// Abbreviation tables per spec.md §4.2/§6. These mirror the published Home
// Assistant MQTT discovery convention; they are static data, not derived
// from any per-integration logic, so they live as package-level maps
// rather than a generated table.

var rootAbbreviations = map[string]string{
	"avty":        "availability",
	"avty_mode":   "availability_mode",
	"avty_t":      "availability_topic",
	"avty_tpl":    "availability_template",
	"cmd_t":       "command_topic",
	"dev":         "device",
	"dev_cla":     "device_class",
	"ic":          "icon",
	"json_attr_t":   "json_attributes_topic",
	"json_attr_tpl": "json_attributes_template",
	"name":        "name",
	"ent_cat":     "entity_category",
	"exp_aft":     "expire_after",
	"frc_upd":     "force_update",
	"obj_id":      "object_id",
	"o":           "origin",
	"pl_avail":    "payload_available",
	"pl_not_avail": "payload_not_available",
	"qos":         "qos",
	"stat_t":      "state_topic",
	"stat_cla":    "state_class",
	"sug_dsp_prc": "suggested_display_precision",
	"uniq_id":     "unique_id",
	"unit_of_meas": "unit_of_measurement",
	"val_tpl":     "value_template",
	"en":          "enabled_by_default",
}

var deviceAbbreviations = map[string]string{
	"cns":   "connections",
	"ids":   "identifiers",
	"mf":    "manufacturer",
	"mdl":   "model",
	"mdl_id": "model_id",
	"name":  "name",
	"sa":    "suggested_area",
	"sn":    "serial_number",
	"sw":    "sw_version",
	"hw":    "hw_version",
	"cu":    "configuration_url",
	"vid":   "via_device_id",
	"entry_type": "entry_type",
	"tk":    "translation_key",
	"tpl":   "translation_placeholders",
}

var originAbbreviations = map[string]string{
	"name": "name",
	"sw":   "sw_version",
	"url":  "support_url",
}

// availabilityAbbreviations reuses the root table: each member of
// availability[] is itself a root-scoped object (spec.md §4.2).
var availabilityAbbreviations = rootAbbreviations

func expand(obj map[string]any, table map[string]string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if full, ok := table[k]; ok {
			k = full
		}
		out[k] = v
	}
	return out
}
