package model

import "time"

// RelayStatus is the diagnostic snapshot served at /status.
type RelayStatus struct {
	RelayID string `json:"relay_id,omitempty"`

	// Mode is the delivery channel mode: Disconnected, Subscribing, PushActive or PollFallback.
	Mode  string `json:"mode"`
	Ready bool   `json:"ready"`

	PushChannel       string        `json:"push_channel"`
	LastPollTimestamp time.Time     `json:"last_poll_timestamp"`
	PollInterval      time.Duration `json:"poll_interval"`

	// QueueDepth counts commands waiting behind the one in flight.
	QueueDepth int `json:"queue_depth"`

	// ActiveMessages counts outbound messages claimed and not yet finished.
	ActiveMessages int `json:"active_messages"`

	// DeferredMessages counts pending messages waiting for a claim retry.
	DeferredMessages int `json:"deferred_messages"`

	StartedAt time.Time `json:"started_at"`
}
