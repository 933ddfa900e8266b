package topic

import (
	"fmt"
)

// Topic segments shared by the relay and the cloud side.
// Changing these values breaks every deployed relay.
const (
	// SuffixOutbound announces a new outbound message (Cloud -> Relay).
	// Structure: {root}/outbound/{relayID}
	SuffixOutbound = "outbound"

	// SuffixInbound carries a notice for every message synced from the device (Relay -> Cloud).
	// Structure: {root}/inbound/{relayID}
	SuffixInbound = "inbound"

	// SuffixStatus is the retained presence topic of a relay.
	// Structure: {root}/status/{relayID}
	SuffixStatus = "status"
)

// TopicBuilder constructs MQTT topic strings under a common root.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "msgrelay/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// Outbound returns the topic on which new outbound work for relayID is announced.
func (b *TopicBuilder) Outbound(relayID string) string {
	return b.build(SuffixOutbound, relayID)
}

// Inbound returns the topic a relay publishes synced-message notices on.
func (b *TopicBuilder) Inbound(relayID string) string {
	return b.build(SuffixInbound, relayID)
}

// InboundWildcard matches the inbound notices of every relay.
// Result: {root}/inbound/+
func (b *TopicBuilder) InboundWildcard() string {
	return b.build(SuffixInbound, Wildcard)
}

// Status returns the presence topic of relayID.
func (b *TopicBuilder) Status(relayID string) string {
	return b.build(SuffixStatus, relayID)
}

// Shared wraps a filter into a shared subscription for group.
func Shared(group, filter string) string {
	return fmt.Sprintf("$share/%s/%s", group, filter)
}

// build constructs {root}/{suffix}/{identifier}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}

// Wildcard is the single-level MQTT wildcard.
const Wildcard = "+"
