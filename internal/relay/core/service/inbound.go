package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/autopeer-io/msgrelay/internal/pkg/metrics"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
)

// ErrInboundDisabled is returned by SyncInbound without a local store.
var ErrInboundDisabled = errors.New("inbound sync is disabled")

// SyncInbound copies messages received since the last pass into the cloud
// datastore and returns how many were new. Passes are serialized. The
// watermark only moves past a message once it is stored, so a failed pass is
// repeated from the same row next time.
func (s *Service) SyncInbound(ctx context.Context) (int, error) {
	if s.local == nil {
		return 0, ErrInboundDisabled
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if !s.loaded {
		wm, err := s.inbound.LastRowID(ctx)
		if err != nil {
			return 0, fmt.Errorf("load inbound watermark: %w", err)
		}
		s.watermark, s.loaded = wm, true
		s.log.Info("Inbound watermark restored", "rowid", wm)
	}

	synced := 0
	for {
		msgs, err := s.local.ReceivedAfter(ctx, s.watermark, s.batch)
		if err != nil {
			return synced, fmt.Errorf("read local messages: %w", err)
		}

		for _, m := range msgs {
			inserted, err := s.storeInbound(ctx, m)
			if err != nil {
				return synced, err
			}
			s.watermark = m.RowID
			if !inserted {
				continue
			}

			synced++
			metrics.InboundSynced.Inc()
			if s.notifier != nil {
				if err := s.notifier.NotifyInbound(ctx, m); err != nil {
					s.log.Warn("Inbound notice not published", "guid", m.GUID, "err", err.Error())
				}
			}
		}

		if len(msgs) < s.batch {
			break
		}
	}

	if synced > 0 {
		s.log.Info("Inbound messages synced", "count", synced, "rowid", s.watermark)
	}
	return synced, nil
}

func (s *Service) storeInbound(ctx context.Context, m *model.InboundMessage) (bool, error) {
	m.Text = norm.NFC.String(m.Text)

	if len(m.Attachments) > 0 {
		kept := m.Attachments[:0]
		for i, a := range m.Attachments {
			ok, err := s.uploadAttachment(ctx, m.GUID, i, &a)
			if err != nil {
				return false, fmt.Errorf("upload attachment %d of %s: %w", i, m.GUID, err)
			}
			if ok {
				kept = append(kept, a)
			}
		}
		m.Attachments = kept
	}

	inserted, err := s.inbound.Insert(ctx, m)
	if err != nil {
		return false, fmt.Errorf("store inbound message %s: %w", m.GUID, err)
	}
	return inserted, nil
}

// uploadAttachment copies a local attachment file to object storage. It
// returns false for attachments that are skipped: missing files, files over
// the size limit, or any attachment when no object store is configured.
func (s *Service) uploadAttachment(ctx context.Context, guid string, index int, a *model.Attachment) (bool, error) {
	if s.media == nil || a.LocalPath == "" {
		return false, nil
	}

	f, err := os.Open(a.LocalPath)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Attachment file missing", "guid", guid, "index", index)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		s.log.Warn("Attachment too large, skipped", "guid", guid, "index", index, "size", info.Size())
		return false, nil
	}

	if a.ContentType == "" {
		head := make([]byte, 512)
		n, err := io.ReadFull(f, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return false, err
		}
		a.ContentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return false, err
		}
	}

	a.Size = info.Size()
	a.ObjectKey = inboundKey(guid, index, a.FileName)
	if err := s.media.Upload(ctx, a.ObjectKey, f, a.Size, a.ContentType); err != nil {
		return false, err
	}
	return true, nil
}

// inboundKey is the object key of the index-th attachment of an inbound message.
func inboundKey(guid string, index int, fileName string) string {
	name := path.Base("/" + fileName)
	if name == "/" {
		name = "attachment"
	}
	return path.Join("inbound", guid, strconv.Itoa(index)+"-"+name)
}

// RunInbound syncs every interval and whenever nudge fires, until ctx ends.
// nudge may be nil.
func (s *Service) RunInbound(ctx context.Context, interval time.Duration, nudge <-chan struct{}) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	pass := func(trigger string) {
		if _, err := s.SyncInbound(ctx); err != nil && ctx.Err() == nil {
			s.log.Error(err, "Inbound sync failed", "trigger", trigger)
		}
	}

	pass("start")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			pass("tick")
		case <-nudge:
			pass("watch")
		}
	}
}
