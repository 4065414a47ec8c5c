package discovery

import (
	"regexp"

	"mqtt-discoveryd/internal/model"
)

// ConfigTopic is the three-part parse of a discovery config topic
// (spec.md §4.3). NodeID is empty when the topic has no node segment.
type ConfigTopic struct {
	Component string
	NodeID    string
	ObjectID  string
}

// DiscoveryID follows spec.md GLOSSARY: node_id++" "++object_id, or
// object_id alone when there is no node_id.
func (c ConfigTopic) DiscoveryID() string {
	if c.NodeID == "" {
		return c.ObjectID
	}
	return c.NodeID + " " + c.ObjectID
}

// Hash builds the DiscoveryHash fingerprint for this topic.
func (c ConfigTopic) Hash() model.DiscoveryHash {
	return model.DiscoveryHash{Component: c.Component, DiscoveryID: c.DiscoveryID()}
}

var (
	component4 = regexp.MustCompile(`^([A-Za-z0-9_]+)/([A-Za-z0-9_-]+)/config$`)
	component5 = regexp.MustCompile(`^([A-Za-z0-9_]+)/([A-Za-z0-9_-]+)/([A-Za-z0-9_-]+)/config$`)
)

// ParseConfigTopic parses a topic against the grammar
// `<component>/(<node_id>/)?<object_id>/config` (spec.md §4.3). A topic not
// conforming to either the 4- or 5-segment form is rejected.
func ParseConfigTopic(prefix, topic string) (ConfigTopic, bool) {
	rest, ok := stripPrefix(topic, prefix)
	if !ok {
		return ConfigTopic{}, false
	}

	if m := component5.FindStringSubmatch(rest); m != nil {
		return ConfigTopic{Component: m[1], NodeID: m[2], ObjectID: m[3]}, true
	}
	if m := component4.FindStringSubmatch(rest); m != nil {
		return ConfigTopic{Component: m[1], ObjectID: m[2]}, true
	}
	return ConfigTopic{}, false
}

func stripPrefix(topic, prefix string) (string, bool) {
	if prefix == "" {
		return topic, true
	}
	want := prefix + "/"
	if len(topic) <= len(want) || topic[:len(want)] != want {
		return "", false
	}
	return topic[len(want):], true
}
