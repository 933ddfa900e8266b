// Package service moves messages between the local messaging application and
// the cloud datastore. It is the only place where the command queue and the
// delivery channel meet.
package service

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/msgrelay/internal/relay/core"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/queue"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

// statusTimeout bounds datastore writes made after a command completed.
const statusTimeout = 10 * time.Second

// CommandQueue is the subset of *queue.Queue the service submits to.
type CommandQueue interface {
	Enqueue(p queue.Payload, opts ...queue.EnqueueOption) *queue.Handle
}

// Config tunes a Service.
type Config struct {
	// SpoolDir receives outbound attachments before they are sent.
	SpoolDir string

	// BatchSize caps the rows read from the local store per query.
	BatchSize int

	// MaxAttachmentSize skips larger inbound attachments. Zero disables the limit.
	MaxAttachmentSize int64

	Clock  clock.WithTicker
	Logger log.Logger
}

// Option wires an optional collaborator into a Service.
type Option func(*Service)

// WithMediaStore enables attachments in both directions.
func WithMediaStore(m core.MediaStore) Option {
	return func(s *Service) { s.media = m }
}

// WithLocalStore enables SyncInbound.
func WithLocalStore(l core.LocalStore) Option {
	return func(s *Service) { s.local = l }
}

// WithInboundNotifier announces every inbound message that was stored.
func WithInboundNotifier(n core.InboundNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service relays outbound messages to the command queue and inbound messages
// to the cloud datastore.
type Service struct {
	outbound core.OutboundRepository
	inbound  core.InboundRepository
	media    core.MediaStore
	local    core.LocalStore
	notifier core.InboundNotifier
	queue    CommandQueue

	spoolDir string
	batch    int
	maxSize  int64
	clock    clock.WithTicker
	log      log.Logger

	mu sync.Mutex
	// active holds the IDs of outbound messages between claim and final status.
	active map[string]struct{}
	// deferred holds pending messages that need another HandleOutbound call:
	// their claim failed, or they were released. The pull query will not
	// return them again once the watermark has passed their creation time.
	deferred map[string]*model.OutboundMessage
	wg       sync.WaitGroup

	syncMu    sync.Mutex
	watermark int64
	loaded    bool
}

// New creates a Service.
func New(repo core.Repository, q CommandQueue, cfg Config, opts ...Option) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("relay-service")
	}

	s := &Service{
		outbound: repo.Outbound(),
		inbound:  repo.Inbound(),
		queue:    q,
		spoolDir: cfg.SpoolDir,
		batch:    cfg.BatchSize,
		maxSize:  cfg.MaxAttachmentSize,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		active:   make(map[string]struct{}),
		deferred: make(map[string]*model.OutboundMessage),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the number of outbound messages claimed and not yet finished.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Deferred returns the number of outbound messages waiting for RetryDeferred.
func (s *Service) Deferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Drain waits until every claimed outbound message has a final status in the
// datastore. Close the queue first so that waiting commands are released.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) track(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id]; ok {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *Service) deferRetry(msg *model.OutboundMessage) {
	s.mu.Lock()
	s.deferred[msg.ID] = msg
	s.mu.Unlock()
}
