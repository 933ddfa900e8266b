// Package mqtt is a push channel that receives outbound message notices on an
// MQTT topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/delivery"
	"github.com/autopeer-io/msgrelay/pkg/log"
	pkgmqtt "github.com/autopeer-io/msgrelay/pkg/mqtt"
)

var errNotConnected = errors.New("mqtt broker not connected")

// MessageGetter resolves notices that carry only a message id.
type MessageGetter interface {
	Get(ctx context.Context, id string) (*model.OutboundMessage, error)
}

// Subscriber implements delivery.Subscriber on one topic.
type Subscriber struct {
	client   pkgmqtt.Client
	topic    string
	messages MessageGetter
	timeout  time.Duration
	log      log.Logger
}

var _ delivery.Subscriber = (*Subscriber)(nil)

// NewSubscriber follows topic on client. timeout bounds the SUBSCRIBE round trip.
func NewSubscriber(client pkgmqtt.Client, topic string, messages MessageGetter, timeout time.Duration) *Subscriber {
	return &Subscriber{
		client:   client,
		topic:    topic,
		messages: messages,
		timeout:  timeout,
		log:      log.WithName("mqtt-subscriber").WithValues("topic", topic),
	}
}

// Subscribe maps connection changes of the client to status signals. A
// SUBSCRIBE that times out is not fatal: the client re-subscribes when the
// broker comes back and reports confirmed then.
func (s *Subscriber) Subscribe(ctx context.Context, onItem func(*model.OutboundMessage), onStatus func(delivery.Status, error)) (delivery.Subscription, error) {
	remove := s.client.AddConnectionListener(func(up bool, err error) {
		if up {
			onStatus(delivery.StatusConfirmed, nil)
			return
		}
		if err == nil {
			err = errNotConnected
		}
		onStatus(delivery.StatusError, err)
	})

	handler := func(hctx context.Context, topic string, payload []byte) {
		msg, err := s.resolve(hctx, payload)
		if err != nil {
			s.log.Warn("Ignoring outbound notice", "err", err.Error())
			return
		}
		if msg != nil && msg.Status == model.MessageStatusPending {
			onItem(msg)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Subscribe(sctx, s.topic, 1, handler)
	switch {
	case err == nil && s.client.IsConnected():
	case err == nil || errors.Is(err, context.DeadlineExceeded):
		onStatus(delivery.StatusError, errNotConnected)
	default:
		remove()
		return nil, err
	}

	return &subscription{client: s.client, topic: s.topic, remove: remove}, nil
}

// resolve turns a notice into a message. A notice with only an id is looked up.
func (s *Subscriber) resolve(ctx context.Context, payload []byte) (*model.OutboundMessage, error) {
	msg, err := decodeNotice(payload)
	if err != nil {
		return nil, err
	}
	if msg.Recipient != "" || s.messages == nil {
		return msg, nil
	}
	return s.messages.Get(ctx, msg.ID)
}

type subscription struct {
	client pkgmqtt.Client
	topic  string
	remove func()
}

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.remove()
	return s.client.Unsubscribe(ctx, s.topic)
}

// decodeNotice parses a JSON notice. Unknown fields are ignored; "id" is required.
func decodeNotice(payload []byte) (*model.OutboundMessage, error) {
	var st structpb.Struct
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode notice: %w", err)
	}
	fields := st.GetFields()

	msg := &model.OutboundMessage{
		ID:        fields["id"].GetStringValue(),
		Recipient: fields["recipient"].GetStringValue(),
		Service:   model.Service(fields["service"].GetStringValue()),
		Text:      fields["text"].GetStringValue(),
		Status:    model.MessageStatusPending,
	}
	if msg.ID == "" {
		return nil, errors.New("notice has no id")
	}
	if s := fields["status"].GetStringValue(); s != "" {
		msg.Status = model.MessageStatus(s)
	}
	if ts := fields["created_at"].GetStringValue(); ts != "" {
		created, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("notice %s: created_at: %w", msg.ID, err)
		}
		msg.CreatedAt = created
	}

	for _, v := range fields["attachments"].GetListValue().GetValues() {
		a := v.GetStructValue().GetFields()
		att := model.Attachment{
			ObjectKey:   a["object_key"].GetStringValue(),
			FileName:    a["file_name"].GetStringValue(),
			ContentType: a["content_type"].GetStringValue(),
			Size:        int64(a["size"].GetNumberValue()),
		}
		if att.ObjectKey == "" {
			return nil, fmt.Errorf("notice %s: attachment without object_key", msg.ID)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}
