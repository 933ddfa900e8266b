// Package notifier announces synced inbound messages and relay presence over MQTT.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/msgrelay/internal/relay/core"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	pkgmqtt "github.com/autopeer-io/msgrelay/pkg/mqtt"
	"github.com/autopeer-io/msgrelay/pkg/mqtt/topic"
)

// InboundNotice is published for every inbound message written to the cloud
// datastore. It never carries the message body or the sender handle.
type InboundNotice struct {
	RelayID     string        `json:"relay_id"`
	GUID        string        `json:"guid"`
	RowID       int64         `json:"row_id"`
	Service     model.Service `json:"service,omitempty"`
	Attachments int           `json:"attachments"`
	ReceivedAt  time.Time     `json:"received_at"`
}

// Presence is the retained payload of a relay's status topic.
type Presence struct {
	RelayID   string    `json:"relay_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// PresencePayload encodes a presence document. It is used for the will
// message as well, so it cannot fail.
func PresencePayload(relayID string, online bool, at time.Time) []byte {
	b, _ := json.Marshal(Presence{RelayID: relayID, Online: online, Timestamp: at.UTC()})
	return b
}

// MQTTNotifier implements core.InboundNotifier.
type MQTTNotifier struct {
	client  pkgmqtt.Client
	topics  *topic.TopicBuilder
	relayID string
	now     func() time.Time
}

var _ core.InboundNotifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier publishes through an already started client.
func NewMQTTNotifier(client pkgmqtt.Client, topics *topic.TopicBuilder, relayID string) *MQTTNotifier {
	return &MQTTNotifier{client: client, topics: topics, relayID: relayID, now: time.Now}
}

func (n *MQTTNotifier) NotifyInbound(ctx context.Context, msg *model.InboundMessage) error {
	payload, err := json.Marshal(InboundNotice{
		RelayID:     n.relayID,
		GUID:        msg.GUID,
		RowID:       msg.RowID,
		Service:     msg.Service,
		Attachments: len(msg.Attachments),
		ReceivedAt:  msg.ReceivedAt.UTC(),
	})
	if err != nil {
		return err
	}

	if err := n.client.Publish(ctx, n.topics.Inbound(n.relayID), 1, false, payload); err != nil {
		return fmt.Errorf("publish inbound notice %s: %w", msg.GUID, err)
	}
	return nil
}

// PublishPresence sets the retained status of this relay.
func (n *MQTTNotifier) PublishPresence(ctx context.Context, online bool) error {
	payload := PresencePayload(n.relayID, online, n.now())
	if err := n.client.Publish(ctx, n.topics.Status(n.relayID), 1, true, payload); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}
