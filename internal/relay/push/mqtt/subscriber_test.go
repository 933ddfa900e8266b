package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/delivery"
	pkgmqtt "github.com/autopeer-io/msgrelay/pkg/mqtt"
)

type fakeClient struct {
	pkgmqtt.Client

	mu           sync.Mutex
	connected    bool
	subscribeErr error
	handler      pkgmqtt.MessageHandler
	listener     pkgmqtt.ConnectionListener
	unsubscribed []string
}

func (c *fakeClient) Subscribe(_ context.Context, _ string, _ int, h pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	return c.subscribeErr
}

func (c *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) AddConnectionListener(l pkgmqtt.ConnectionListener) func() {
	c.mu.Lock()
	c.listener = l
	connected := c.connected
	c.mu.Unlock()
	if connected {
		l(true, nil)
	}
	return func() {
		c.mu.Lock()
		c.listener = nil
		c.mu.Unlock()
	}
}

type statuses struct {
	mu  sync.Mutex
	got []delivery.Status
}

func (s *statuses) record(st delivery.Status, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
}

func (s *statuses) all() []delivery.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.Status(nil), s.got...)
}

type getter map[string]*model.OutboundMessage

func (g getter) Get(_ context.Context, id string) (*model.OutboundMessage, error) {
	return g[id], nil
}

func TestSubscribeConnected(t *testing.T) {
	client := &fakeClient{connected: true}
	sub := NewSubscriber(client, "msgrelay/v1/outbound/mac", getter{
		"m2": {ID: "m2", Recipient: "+15551234567", Status: model.MessageStatusPending},
		"m3": {ID: "m3", Recipient: "+15551234567", Status: model.MessageStatusSent},
	}, time.Second)
	st := &statuses{}
	var items []*model.OutboundMessage

	s, err := sub.Subscribe(context.Background(), func(m *model.OutboundMessage) { items = append(items, m) }, st.record)
	require.NoError(t, err)
	assert.Equal(t, []delivery.Status{delivery.StatusConfirmed}, st.all())

	client.handler(context.Background(), "msgrelay/v1/outbound/mac", []byte(`{"id":"m1","recipient":"a@b.co","text":"hi"}`))
	client.handler(context.Background(), "msgrelay/v1/outbound/mac", []byte(`{"id":"m2"}`))
	client.handler(context.Background(), "msgrelay/v1/outbound/mac", []byte(`{"id":"m3"}`))
	client.handler(context.Background(), "msgrelay/v1/outbound/mac", []byte(`not json`))

	require.Len(t, items, 2)
	assert.Equal(t, "m1", items[0].ID)
	assert.Equal(t, "m2", items[1].ID)

	client.listener(false, errors.New("keepalive timeout"))
	client.listener(true, nil)
	assert.Equal(t, []delivery.Status{delivery.StatusConfirmed, delivery.StatusError, delivery.StatusConfirmed}, st.all())

	require.NoError(t, s.Unsubscribe(context.Background()))
	assert.Equal(t, []string{"msgrelay/v1/outbound/mac"}, client.unsubscribed)
	assert.Nil(t, client.listener)
}

func TestSubscribeWhileBrokerDown(t *testing.T) {
	client := &fakeClient{subscribeErr: context.DeadlineExceeded}
	st := &statuses{}

	_, err := NewSubscriber(client, "t", nil, time.Millisecond).Subscribe(context.Background(), func(*model.OutboundMessage) {}, st.record)
	require.NoError(t, err)
	assert.Equal(t, []delivery.Status{delivery.StatusError}, st.all())

	client.listener(true, nil)
	assert.Equal(t, []delivery.Status{delivery.StatusError, delivery.StatusConfirmed}, st.all())
}

func TestSubscribeSetupFailure(t *testing.T) {
	client := &fakeClient{subscribeErr: errors.New("client not started")}

	_, err := NewSubscriber(client, "t", nil, time.Second).Subscribe(context.Background(), func(*model.OutboundMessage) {}, func(delivery.Status, error) {})
	require.Error(t, err)
	assert.Nil(t, client.listener)
}

func TestDecodeNotice(t *testing.T) {
	msg, err := decodeNotice([]byte(`{
		"id": "m1",
		"recipient": "+15551234567",
		"service": "SMS",
		"text": "see attached",
		"created_at": "2026-03-01T12:00:00.5Z",
		"attachments": [{"object_key": "outbound/m1/photo.jpg", "file_name": "photo.jpg", "content_type": "image/jpeg", "size": 2048}],
		"extra": true
	}`))
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, model.ServiceSMS, msg.Service)
	assert.Equal(t, model.MessageStatusPending, msg.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC), msg.CreatedAt)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, int64(2048), msg.Attachments[0].Size)

	for _, bad := range []string{`{}`, `[]`, `{"id":"x","created_at":"yesterday"}`, `{"id":"x","attachments":[{}]}`} {
		_, err := decodeNotice([]byte(bad))
		assert.Error(t, err, bad)
	}
}
