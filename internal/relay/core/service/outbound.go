package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/executor"
	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

var (
	errNothingToSend = errors.New("message has neither text nor attachments")
	errNoRecipient   = errors.New("message has no recipient")
	errNoMediaStore  = errors.New("attachments are disabled: no object store configured")
)

// HandleOutbound is the delivery consumer. It is safe to call more than once
// for the same message: a second call while the message is in progress is
// ignored, and one after it left the pending state loses the claim.
//
// The returned error reports only problems before the message was queued.
// The outcome of sending is written to the datastore asynchronously.
func (s *Service) HandleOutbound(ctx context.Context, msg *model.OutboundMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("outbound message without id")
	}
	if !s.track(msg.ID) {
		s.log.Debug("Outbound message already in progress", "id", msg.ID)
		return nil
	}

	claimed, err := s.outbound.Claim(ctx, msg.ID)
	if err != nil {
		s.untrack(msg.ID)
		s.deferRetry(msg)
		return fmt.Errorf("claim %s: %w", msg.ID, err)
	}
	if !claimed {
		s.untrack(msg.ID)
		s.log.Debug("Outbound message no longer pending", "id", msg.ID)
		return nil
	}

	s.log.Info("Sending outbound message", "id", msg.ID, "recipient", log.Redacted(msg.Recipient),
		"attachments", len(msg.Attachments))

	payloads, err := s.prepare(ctx, msg)
	if err != nil {
		s.fail(msg, 0, err)
		return err
	}

	s.wg.Add(1)
	go s.send(msg, payloads)
	return nil
}

// prepare validates msg, stages its attachments and builds one payload per part.
func (s *Service) prepare(ctx context.Context, msg *model.OutboundMessage) ([]queue.Payload, error) {
	if msg.Recipient == "" {
		return nil, errNoRecipient
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return nil, errNothingToSend
	}
	if len(msg.Attachments) > 0 && s.media == nil {
		return nil, errNoMediaStore
	}

	service := string(msg.Service)
	if service == "" {
		service = string(model.ServiceIMessage)
	}

	var payloads []queue.Payload
	if msg.Text != "" {
		payloads = append(payloads, queue.Payload{
			Template: executor.ScriptSendMessage,
			Params:   map[string]string{"recipient": msg.Recipient, "service": service, "text": msg.Text},
		})
	}

	if len(msg.Attachments) == 0 {
		return payloads, nil
	}

	dir := s.spoolPath(msg.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		name := a.FileName
		if name == "" {
			name = filepath.Base(a.ObjectKey)
		}
		a.LocalPath = filepath.Join(dir, strconv.Itoa(i)+"-"+filepath.Base("/"+name))

		if err := s.media.Download(ctx, a.ObjectKey, a.LocalPath); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("stage attachment %d: %w", i, err)
		}
		payloads = append(payloads, queue.Payload{
			Template: executor.ScriptSendAttachment,
			Params:   map[string]string{"recipient": msg.Recipient, "service": service, "path": a.LocalPath},
		})
	}
	return payloads, nil
}

// send submits the parts of msg one after another and records the outcome.
// A part is queued only after the previous one succeeded.
func (s *Service) send(msg *model.OutboundMessage, payloads []queue.Payload) {
	defer s.wg.Done()
	defer func() {
		if len(msg.Attachments) > 0 {
			_ = os.RemoveAll(s.spoolPath(msg.ID))
		}
	}()

	attempts := 0
	for i, p := range payloads {
		label := msg.ID
		if len(payloads) > 1 {
			label = msg.ID + "/" + strconv.Itoa(i)
		}

		h := s.queue.Enqueue(p, queue.WithLabel(label))
		res, err := h.Wait(context.Background())
		if err == nil {
			attempts += res.Attempts
			continue
		}

		var failed *queue.ExecutionFailedError
		switch {
		case queue.IsCancelled(err) && i == 0:
			s.release(msg)
		case queue.IsCancelled(err):
			// Earlier parts went out; sending the message again would repeat them.
			s.fail(msg, attempts, fmt.Errorf("cancelled after %d of %d parts: %w", i, len(payloads), err))
		case errors.As(err, &failed):
			s.fail(msg, attempts+failed.Attempts, err)
		default:
			s.fail(msg, attempts, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	defer s.untrack(msg.ID)

	if err := s.outbound.MarkSent(ctx, msg.ID, attempts); err != nil {
		s.log.Error(err, "Failed to mark message sent", "id", msg.ID)
		return
	}
	s.log.Info("Outbound message sent", "id", msg.ID, "attempts", attempts)
}

func (s *Service) fail(msg *model.OutboundMessage, attempts int, cause error) {
	defer s.untrack(msg.ID)

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	s.log.Error(cause, "Outbound message failed", "id", msg.ID, "attempts", attempts)
	if err := s.outbound.MarkFailed(ctx, msg.ID, attempts, cause.Error()); err != nil {
		s.log.Error(err, "Failed to mark message failed", "id", msg.ID)
	}
}

// release hands a message that never reached the application back to pending.
func (s *Service) release(msg *model.OutboundMessage) {
	defer s.untrack(msg.ID)

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	if err := s.outbound.Release(ctx, msg.ID); err != nil {
		s.log.Error(err, "Failed to release claim", "id", msg.ID)
		return
	}
	s.deferRetry(msg)
	s.log.Info("Outbound message released", "id", msg.ID)
}

// RetryDeferred hands every deferred message to HandleOutbound again, oldest
// first, and returns how many were tried. A message whose claim fails again
// stays deferred.
func (s *Service) RetryDeferred(ctx context.Context) int {
	s.mu.Lock()
	msgs := make([]*model.OutboundMessage, 0, len(s.deferred))
	for id, msg := range s.deferred {
		msgs = append(msgs, msg)
		delete(s.deferred, id)
	}
	s.mu.Unlock()

	sort.Slice(msgs, func(i, j int) bool {
		return model.CursorOf(msgs[i]).Before(msgs[j])
	})
	for _, msg := range msgs {
		if ctx.Err() != nil {
			s.deferRetry(msg)
			continue
		}
		if err := s.HandleOutbound(ctx, msg); err != nil {
			s.log.Warn("Deferred outbound message not sent", "id", msg.ID, "err", err.Error())
		}
	}
	return len(msgs)
}

// RunRetry calls RetryDeferred every interval until ctx ends.
func (s *Service) RunRetry(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := s.RetryDeferred(ctx); n > 0 {
				s.log.Info("Retried deferred outbound messages", "count", n)
			}
		}
	}
}

func (s *Service) spoolPath(id string) string {
	return filepath.Join(s.spoolDir, filepath.Base("/"+id))
}
