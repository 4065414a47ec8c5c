package discovery

import "testing"

func TestParseConfigTopicFourSegment(t *testing.T) {
	ct, ok := ParseConfigTopic("homeassistant", "homeassistant/sensor/watermeter-flow/config")
	if !ok {
		t.Fatalf("expected topic to parse")
	}
	if ct.Component != "sensor" || ct.NodeID != "" || ct.ObjectID != "watermeter-flow" {
		t.Fatalf("unexpected parse: %+v", ct)
	}
	if ct.DiscoveryID() != "watermeter-flow" {
		t.Fatalf("expected discovery_id to equal object_id alone, got %q", ct.DiscoveryID())
	}
}

func TestParseConfigTopicFiveSegment(t *testing.T) {
	ct, ok := ParseConfigTopic("homeassistant", "homeassistant/sensor/watermeter/flow/config")
	if !ok {
		t.Fatalf("expected topic to parse")
	}
	if ct.Component != "sensor" || ct.NodeID != "watermeter" || ct.ObjectID != "flow" {
		t.Fatalf("unexpected parse: %+v", ct)
	}
	if ct.DiscoveryID() != "watermeter flow" {
		t.Fatalf("expected discovery_id = node_id++\" \"++object_id, got %q", ct.DiscoveryID())
	}
}

func TestParseConfigTopicRejectsNonConforming(t *testing.T) {
	cases := []string{
		"homeassistant/sensor/config",
		"homeassistant/sensor/a/b/c/config",
		"homeassistant/sen!sor/x/config",
		"wrongprefix/sensor/x/config",
		"homeassistant/sensor/x/state",
	}
	for _, topic := range cases {
		if _, ok := ParseConfigTopic("homeassistant", topic); ok {
			t.Errorf("expected topic %q to be rejected", topic)
		}
	}
}
