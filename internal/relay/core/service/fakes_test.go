package service

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/autopeer-io/msgrelay/internal/relay/core"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

type outboundRecord struct {
	status   model.MessageStatus
	attempts int
	reason   string
}

type fakeOutbound struct {
	mu      sync.Mutex
	records map[string]*outboundRecord
	claims  int
	// claimed lists every Claim call in order.
	claimed []string
	// claimErr fails every Claim while set.
	claimErr error
}

func newFakeOutbound(ids ...string) *fakeOutbound {
	f := &fakeOutbound{records: make(map[string]*outboundRecord)}
	for _, id := range ids {
		f.records[id] = &outboundRecord{status: model.MessageStatusPending}
	}
	return f
}

func (f *fakeOutbound) QueryPending(context.Context, model.Cursor, int) ([]*model.OutboundMessage, error) {
	return nil, nil
}

func (f *fakeOutbound) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	f.claimed = append(f.claimed, id)
	if f.claimErr != nil {
		return false, f.claimErr
	}
	r, ok := f.records[id]
	if !ok || r.status != model.MessageStatusPending {
		return false, nil
	}
	r.status = model.MessageStatusProcessing
	return true, nil
}

func (f *fakeOutbound) Release(_ context.Context, id string) error {
	return f.set(id, model.MessageStatusPending, 0, "")
}

func (f *fakeOutbound) MarkSent(_ context.Context, id string, attempts int) error {
	return f.set(id, model.MessageStatusSent, attempts, "")
}

func (f *fakeOutbound) MarkFailed(_ context.Context, id string, attempts int, reason string) error {
	return f.set(id, model.MessageStatusFailed, attempts, reason)
}

func (f *fakeOutbound) set(id string, status model.MessageStatus, attempts int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return errors.New("no such message")
	}
	if r.status != model.MessageStatusProcessing {
		return errors.New("message not claimed")
	}
	r.status, r.attempts, r.reason = status, attempts, reason
	return nil
}

func (f *fakeOutbound) claimOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.claimed...)
}

func (f *fakeOutbound) failClaims(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimErr = err
}

func (f *fakeOutbound) get(id string) outboundRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

type fakeInbound struct {
	mu        sync.Mutex
	rows      map[string]*model.InboundMessage
	lastRowID int64
	failNext  error
}

func newFakeInbound() *fakeInbound {
	return &fakeInbound{rows: make(map[string]*model.InboundMessage)}
}

func (f *fakeInbound) Insert(_ context.Context, msg *model.InboundMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return false, err
	}
	if _, ok := f.rows[msg.GUID]; ok {
		return false, nil
	}
	cp := *msg
	f.rows[msg.GUID] = &cp
	if msg.RowID > f.lastRowID {
		f.lastRowID = msg.RowID
	}
	return true, nil
}

func (f *fakeInbound) LastRowID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRowID, nil
}

func (f *fakeInbound) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeInbound) row(guid string) *model.InboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[guid]
}

type fakeRepo struct {
	out *fakeOutbound
	in  *fakeInbound
}

func (r *fakeRepo) Outbound() core.OutboundRepository { return r.out }
func (r *fakeRepo) Inbound() core.InboundRepository   { return r.in }

type uploaded struct {
	body        []byte
	contentType string
}

type fakeMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]uploaded
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: make(map[string][]byte), uploads: make(map[string]uploaded)}
}

func (m *fakeMedia) Upload(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[key] = uploaded{body: body, contentType: contentType}
	return nil
}

func (m *fakeMedia) Download(_ context.Context, key, path string) error {
	m.mu.Lock()
	body, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return errors.New("no such key")
	}
	return os.WriteFile(path, body, 0o600)
}

type fakeLocal struct {
	mu   sync.Mutex
	msgs []*model.InboundMessage
}

func (l *fakeLocal) add(msgs ...*model.InboundMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msgs...)
}

func (l *fakeLocal) ReceivedAfter(_ context.Context, rowID int64, limit int) ([]*model.InboundMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.InboundMessage
	for _, m := range l.msgs {
		if m.RowID > rowID && len(out) < limit {
			cp := *m
			cp.Attachments = append([]model.Attachment(nil), m.Attachments...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	guids []string
}

func (n *fakeNotifier) NotifyInbound(_ context.Context, msg *model.InboundMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.guids = append(n.guids, msg.GUID)
	return nil
}

func (n *fakeNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.guids...)
}
