// Package delivery discovers new outbound work. It prefers a push subscription
// and falls back to a timer-driven pull query while push is unhealthy.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/msgrelay/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/msgrelay/internal/pkg/util/fsm"
	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPageSize     = 500
)

const (
	sourcePush      = "push"
	sourcePoll      = "poll"
	sourceReconcile = "reconcile"
)

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	PollInterval time.Duration

	// PageSize caps one pull query. A cycle keeps querying until a page
	// comes back short.
	PageSize int

	Clock  clock.Clock
	Logger log.Logger
}

// Manager feeds one Consumer from a push Subscriber and a pull Source.
type Manager struct {
	subscriber Subscriber
	source     Source
	clock      clock.Clock
	interval   time.Duration
	pageSize   int
	log        log.Logger

	// ctx lives until Shutdown. Queries and the subscription run under it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards everything below and is held while events are fired, so the
	// FSM callbacks run with it held.
	mu           sync.Mutex
	machine      *fsm.FSM
	consumer     Consumer
	subscription Subscription
	lastPoll     time.Time
	stopPoll     chan struct{}
	shutdown     bool

	// pollMu serializes poll cycles.
	pollMu sync.Mutex
	wg     sync.WaitGroup
}

// NewManager returns a Manager in ModeDisconnected.
func NewManager(sub Subscriber, src Source, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("delivery")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		subscriber: sub,
		source:     src,
		clock:      cfg.Clock,
		interval:   cfg.PollInterval,
		pageSize:   cfg.PageSize,
		log:        cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	m.machine = fsm.NewFSM(string(ModeDisconnected), fsmEvents(), fsm.Callbacks{
		// Once shut down, only the shutdown event itself may pass.
		"before_event": fsmutil.Guard(func(_ context.Context, e *fsm.Event) error {
			if m.shutdown && e.Event != string(EventShutdown) {
				return ErrShutdown
			}
			return nil
		}),
		"enter_state": func(_ context.Context, e *fsm.Event) {
			m.log.Info("Delivery mode changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			metrics.SetDeliveryMode(e.Dst, modeNames()...)
		},
		"enter_" + string(ModePollFallback): func(context.Context, *fsm.Event) {
			m.startPollTimer()
		},
		"leave_" + string(ModePollFallback): func(context.Context, *fsm.Event) {
			m.stopPollTimer()
		},
	})
	metrics.SetDeliveryMode(string(ModeDisconnected), modeNames()...)

	return m
}

// Initialize registers consumer, subscribes the push channel and runs one
// reconciliation pull without a lower bound. A failed subscription puts the
// manager into ModePollFallback and is not returned.
func (m *Manager) Initialize(ctx context.Context, consumer Consumer) error {
	if consumer == nil {
		return ErrInvalidConsumer
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.consumer != nil {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.consumer = consumer
	m.fire(ctx, EventInitialize)
	m.mu.Unlock()

	sub, err := m.subscriber.Subscribe(m.ctx, m.onPush, m.onStatus)

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		if sub != nil {
			_ = sub.Unsubscribe(ctx)
		}
		return ErrShutdown
	}
	if err != nil {
		m.log.Error(&SubscriptionSetupError{Cause: err}, "Falling back to polling")
		m.fire(ctx, EventError)
	} else {
		m.subscription = sub
	}
	m.wg.Add(1)
	m.mu.Unlock()

	// Recovers anything created before the subscription was live.
	go func() {
		defer m.wg.Done()
		m.poll(sourceReconcile)
	}()

	return nil
}

// Shutdown unsubscribes and stops the poll timer. It is idempotent and
// terminal. A consumer call in progress is allowed to finish; Shutdown waits
// for it until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.fire(ctx, EventShutdown)
	m.stopPollTimer()
	sub := m.subscription
	m.subscription = nil
	m.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe(ctx)
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("Delivery shutdown did not wait for the running poll cycle", "err", ctx.Err().Error())
	}

	return err
}

// HealthStatus returns a snapshot. It is never consulted by the transition logic.
func (m *Manager) HealthStatus() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{
		Mode:              Mode(m.machine.Current()),
		LastPollTimestamp: m.lastPoll,
		PollInterval:      m.interval,
	}
}

func (m *Manager) onPush(msg *model.OutboundMessage) {
	m.mu.Lock()
	consumer := m.consumer
	stopped := m.shutdown
	m.mu.Unlock()

	if stopped || consumer == nil || msg == nil {
		return
	}

	metrics.DeliveredItems.WithLabelValues(sourcePush).Inc()
	if err := consumer(context.WithoutCancel(m.ctx), msg); err != nil {
		m.log.Error(err, "Consumer failed for pushed message", "id", msg.ID)
	}
}

func (m *Manager) onStatus(status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch status {
	case StatusConfirmed:
		m.fire(m.ctx, EventConfirmed)
	default:
		if err != nil {
			m.log.Warn("Push channel reported an error", "err", err.Error())
		}
		m.fire(m.ctx, EventError)
	}
}

// fire must be called with mu held.
func (m *Manager) fire(ctx context.Context, ev Event) {
	err := m.machine.Event(ctx, string(ev))
	if err == nil {
		return
	}
	if fsmutil.IsRejected(err) {
		m.log.Debug("Ignoring delivery event", "event", ev, "mode", m.machine.Current())
		return
	}
	m.log.Error(err, "Delivery state machine failed", "event", ev)
}

// startPollTimer runs from an FSM callback, so mu is held.
func (m *Manager) startPollTimer() {
	if m.stopPoll != nil {
		return
	}
	stop := make(chan struct{})
	m.stopPoll = stop

	m.wg.Add(1)
	go m.pollLoop(stop)
}

// stopPollTimer requires mu.
func (m *Manager) stopPollTimer() {
	if m.stopPoll != nil {
		close(m.stopPoll)
		m.stopPoll = nil
	}
}

func (m *Manager) pollLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		timer := m.clock.NewTimer(m.interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
		}

		select {
		case <-stop:
			return
		default:
		}
		m.poll(sourcePoll)
	}
}

// poll runs one cycle: page through everything after the watermark, hand
// every item to the consumer in order, then advance the watermark to the
// cycle start time. A failed query leaves the watermark where it was.
func (m *Manager) poll(source string) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	since := m.lastPoll
	consumer := m.consumer
	m.mu.Unlock()

	start := m.clock.Now()
	cctx := context.WithoutCancel(m.ctx)
	after := model.Cursor{CreatedAt: since}
	delivered := 0
	for {
		items, err := m.source.QueryNewItems(m.ctx, after, m.pageSize)
		if err != nil {
			metrics.PollErrors.Inc()
			m.log.Error(&PollQueryError{Since: since, Cause: err}, "Poll cycle stopped", "source", source, "delivered", delivered)
			return
		}

		for i, item := range items {
			if m.isShutdown() {
				m.log.Info("Poll batch interrupted by shutdown", "remaining", len(items)-i)
				return
			}
			metrics.DeliveredItems.WithLabelValues(source).Inc()
			if err := consumer(cctx, item); err != nil {
				m.log.Error(err, "Consumer failed for polled message", "id", item.ID, "source", source)
			}
		}
		delivered += len(items)

		if len(items) < m.pageSize {
			break
		}
		after = model.CursorOf(items[len(items)-1])
	}

	m.mu.Lock()
	if start.After(m.lastPoll) {
		m.lastPoll = start
	}
	m.mu.Unlock()

	if delivered > 0 {
		m.log.Info("Poll cycle delivered messages", "count", delivered, "source", source)
	}
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

func modeNames() []string {
	names := make([]string, 0, len(Modes))
	for _, mode := range Modes {
		names = append(names, string(mode))
	}
	return names
}
