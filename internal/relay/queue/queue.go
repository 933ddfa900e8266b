// Package queue serializes automation commands: at most one command is inside
// the Executor at any time, failed commands are retried at the head of the
// queue with exponential backoff, and pending work can be cancelled.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/msgrelay/internal/pkg/metrics"
	"github.com/autopeer-io/msgrelay/pkg/log"
)

const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = time.Second

	// NoBackoff as Config.BaseDelay retries immediately.
	NoBackoff time.Duration = -1
)

// Executor runs one command to completion. Any error is treated as retryable.
type Executor interface {
	Execute(ctx context.Context, req *Request) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// Config tunes a Queue. Zero values select DefaultMaxAttempts and
// DefaultBaseDelay. A negative BaseDelay retries without waiting.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Clock       clock.Clock
	Logger      log.Logger
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	switch {
	case c.BaseDelay == 0:
		c.BaseDelay = DefaultBaseDelay
	case c.BaseDelay < 0:
		c.BaseDelay = 0
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = log.WithName("queue")
	}
}

// Queue is a single-flight command queue.
type Queue struct {
	exec        Executor
	clock       clock.Clock
	log         log.Logger
	maxAttempts int
	baseDelay   time.Duration

	mu      sync.Mutex
	pending []*command
	// running is true while the worker goroutine exists. It is set and
	// cleared under mu so that an idle->busy edge starts exactly one worker.
	running bool
	closed  bool
	reason  string
	// backoffAbort is non-nil while the worker sleeps before a retry.
	backoffAbort chan struct{}
	idle         *sync.Cond
}

// New returns a Queue feeding exec.
func New(exec Executor, cfg Config) *Queue {
	cfg.setDefaults()
	q := &Queue{
		exec:        exec,
		clock:       cfg.Clock,
		log:         cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a template command at the tail.
func (q *Queue) Enqueue(p Payload, opts ...EnqueueOption) *Handle {
	return q.enqueue(p, opts)
}

// EnqueueImmediate appends a command carrying an inline script body.
func (q *Queue) EnqueueImmediate(script string, opts ...EnqueueOption) *Handle {
	return q.enqueue(Payload{Script: script}, opts)
}

func (q *Queue) enqueue(p Payload, opts []EnqueueOption) *Handle {
	cmd := &command{
		id:          uuid.NewString(),
		payload:     p,
		maxAttempts: q.maxAttempts,
		phase:       PhasePending,
		enqueuedAt:  q.clock.Now(),
	}
	for _, opt := range opts {
		opt(cmd)
	}
	if cmd.label == "" {
		cmd.label = cmd.id
	}
	cmd.handle = newHandle(cmd.id)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		cmd.phase = PhaseCancelled
		cmd.handle.complete(Result{}, &CancelledError{Reason: q.reason})
		return cmd.handle
	}

	q.pending = append(q.pending, cmd)
	metrics.QueueDepth.Set(float64(len(q.pending)))

	if !q.running {
		q.running = true
		go q.run()
	}
	return cmd.handle
}

// CancelAll rejects every pending command with CancelledError{reason} and
// returns how many were drained. The command inside the Executor keeps
// running; a retry backoff in progress is cut short.
func (q *Queue) CancelAll(reason string) int {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	if q.backoffAbort != nil {
		close(q.backoffAbort)
		q.backoffAbort = nil
	}
	metrics.QueueDepth.Set(0)
	q.mu.Unlock()

	for _, cmd := range drained {
		// A command waiting for its retry is still pending in the queue.
		cmd.phase = PhaseCancelled
		cmd.handle.complete(Result{}, &CancelledError{Reason: reason})
	}

	if len(drained) > 0 {
		q.log.Info("Cancelled pending commands", "count", len(drained), "reason", reason)
	}
	return len(drained)
}

// Close cancels pending work and refuses every later Enqueue.
func (q *Queue) Close(reason string) {
	q.mu.Lock()
	q.closed = true
	q.reason = reason
	q.mu.Unlock()

	q.CancelAll(reason)
}

// Depth returns the number of commands not yet inside the Executor.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitIdle blocks until the worker has stopped or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.running {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the only goroutine that takes commands off pending.
func (q *Queue) run() {
	ctx := context.Background()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		cmd := q.pending[0]
		q.pending = q.pending[1:]
		metrics.QueueDepth.Set(float64(len(q.pending)))
		q.mu.Unlock()

		q.process(ctx, cmd)
	}
}

func (q *Queue) process(ctx context.Context, cmd *command) {
	if err := cmd.moveTo(PhaseRunning); err != nil {
		q.log.Error(err, "Skipping command")
		return
	}
	cmd.attempts++

	kind := "template"
	if cmd.payload.Immediate() {
		kind = "inline"
	}

	start := q.clock.Now()
	res, err := q.exec.Execute(ctx, cmd.request())
	metrics.CommandLatency.WithLabelValues(kind).Observe(q.clock.Since(start).Seconds())

	if err == nil {
		_ = cmd.moveTo(PhaseSucceeded)
		metrics.CommandAttempts.WithLabelValues("success").Inc()
		q.log.Debug("Command succeeded", "id", cmd.label, "attempts", cmd.attempts)
		res.Attempts = cmd.attempts
		cmd.handle.complete(res, nil)
		return
	}

	if cmd.attempts >= cmd.maxAttempts {
		_ = cmd.moveTo(PhaseFailed)
		metrics.CommandAttempts.WithLabelValues("failed").Inc()
		q.log.Error(err, "Command failed", "id", cmd.label, "attempts", cmd.attempts)
		cmd.handle.complete(Result{}, &ExecutionFailedError{Attempts: cmd.attempts, Cause: err})
		return
	}

	metrics.CommandAttempts.WithLabelValues("retry").Inc()
	delay := q.backoff(cmd.attempts)
	q.log.Warn("Command failed, retrying", "id", cmd.label, "attempt", cmd.attempts, "delay", delay, "err", err.Error())

	_ = cmd.moveTo(PhaseRetrying)
	_ = cmd.moveTo(PhasePending)

	q.mu.Lock()
	q.pending = append([]*command{cmd}, q.pending...)
	metrics.QueueDepth.Set(float64(len(q.pending)))
	if delay <= 0 {
		q.mu.Unlock()
		return
	}
	abort := make(chan struct{})
	q.backoffAbort = abort
	q.mu.Unlock()

	// The backoff belongs to the exclusive window: nothing else starts until it ends.
	timer := q.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-abort:
		q.log.Debug("Retry backoff aborted", "id", cmd.label)
	}

	q.mu.Lock()
	if q.backoffAbort == abort {
		q.backoffAbort = nil
	}
	q.mu.Unlock()
}

// backoff returns base * 2^(attempts-1).
func (q *Queue) backoff(attempts int) time.Duration {
	if q.baseDelay <= 0 || attempts < 1 {
		return 0
	}
	shift := attempts - 1
	if shift > 16 {
		shift = 16
	}
	return q.baseDelay << shift
}

// IsCancelled reports whether err rejected a command that never finished executing.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
