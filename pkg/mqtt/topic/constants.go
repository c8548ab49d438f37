package topic

import "strings"

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// Example: "smart_home/+" matches "smart_home/command".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It must be the last segment of a filter.
	// Example: "smart_home/#" matches "smart_home/command".
	MultiWildcard = "#"
)

// Match reports whether topic matches filter. Filters without wildcards
// match by equality; "+" matches one level and a trailing "#" matches the
// rest. A "$share/<group>/" prefix is ignored.
func Match(filter, topic string) bool {
	filter = StripShare(filter)
	if filter == topic {
		return true
	}

	if !strings.Contains(filter, Wildcard) && !strings.Contains(filter, MultiWildcard) {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range filterParts {
		if part == MultiWildcard {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != Wildcard && part != topicParts[i] {
			return false
		}
	}

	return len(filterParts) == len(topicParts)
}

// StripShare removes a shared-subscription prefix from filter.
func StripShare(filter string) string {
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) == 3 {
			return parts[2]
		}
	}
	return filter
}
