package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var errBusy = errors.New("application busy")

// recorder is an Executor that records the label of every call and tracks
// how many calls overlap.
type recorder struct {
	mu    sync.Mutex
	calls []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	fn func(req *Request) error
}

func (r *recorder) Execute(ctx context.Context, req *Request) (Result, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxInFlight.Load()
		if n <= m || r.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, req.Label)
	r.mu.Unlock()

	var err error
	if r.fn != nil {
		err = r.fn(req)
	}
	return Result{Output: req.Label}, err
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func wait(t *testing.T, h *Handle) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "command %s did not complete", h.ID())
	return res, err
}

func TestAtMostOneInFlight(t *testing.T) {
	rec := &recorder{fn: func(req *Request) error {
		time.Sleep(time.Millisecond)
		if req.Attempt == 1 && req.Label[len(req.Label)-1] == '3' {
			return errBusy
		}
		return nil
	}}
	q := New(rec, Config{BaseDelay: NoBackoff})

	var wg sync.WaitGroup
	handles := make(chan *Handle, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles <- q.Enqueue(Payload{Template: "send_message"}, WithLabel(fmt.Sprintf("cmd-%d", i)))
		}(i)
	}
	wg.Wait()
	close(handles)

	for h := range handles {
		_, err := wait(t, h)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, rec.maxInFlight.Load())
	assert.Len(t, rec.Calls(), 44) // four labels end in 3 and fail once
	assert.Equal(t, 0, q.Depth())
}

func TestBoundedRetry(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantCalls   int
		wantErr     bool
	}{
		{name: "always fails", failures: 100, maxAttempts: 4, wantCalls: 4, wantErr: true},
		{name: "fails once", failures: 1, maxAttempts: 4, wantCalls: 2},
		{name: "succeeds first", failures: 0, maxAttempts: 4, wantCalls: 1},
		{name: "single attempt", failures: 1, maxAttempts: 1, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{fn: func(req *Request) error {
				if req.Attempt <= tt.failures {
					return errBusy
				}
				return nil
			}}
			q := New(rec, Config{MaxAttempts: tt.maxAttempts, BaseDelay: NoBackoff})

			res, err := wait(t, q.Enqueue(Payload{Template: "send_message"}, WithLabel("a")))

			assert.Len(t, rec.Calls(), tt.wantCalls)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "a", res.Output)
				assert.Equal(t, tt.wantCalls, res.Attempts)
				return
			}

			var failed *ExecutionFailedError
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tt.wantCalls, failed.Attempts)
			assert.ErrorIs(t, err, errBusy)
			assert.False(t, IsCancelled(err))
		})
	}
}

func TestWithMaxAttemptsOverridesQueueDefault(t *testing.T) {
	rec := &recorder{fn: func(*Request) error { return errBusy }}
	q := New(rec, Config{MaxAttempts: 4, BaseDelay: NoBackoff})

	_, err := wait(t, q.Enqueue(Payload{}, WithLabel("a"), WithMaxAttempts(2)))

	var failed *ExecutionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 2, failed.Attempts)
	assert.Equal(t, []string{"a", "a"}, rec.Calls())
}

func TestRetryRunsBeforeLaterCommands(t *testing.T) {
	release := make(chan error)
	rec := &recorder{fn: func(req *Request) error {
		if req.Label == "A" && req.Attempt == 1 {
			return <-release
		}
		return nil
	}}
	q := New(rec, Config{BaseDelay: NoBackoff})

	a := q.Enqueue(Payload{}, WithLabel("A"))
	require.Eventually(t, func() bool { return len(rec.Calls()) == 1 }, time.Second, time.Millisecond)

	b := q.Enqueue(Payload{}, WithLabel("B"))
	c := q.Enqueue(Payload{}, WithLabel("C"))
	assert.Equal(t, 2, q.Depth())

	release <- errBusy

	for _, h := range []*Handle{a, b, c} {
		_, err := wait(t, h)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"A", "A", "B", "C"}, rec.Calls())
}

func TestBackoffHoldsExclusiveWindow(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	rec := &recorder{fn: func(req *Request) error {
		if req.Label == "A" && req.Attempt < 3 {
			return errBusy
		}
		return nil
	}}
	q := New(rec, Config{BaseDelay: time.Second, Clock: fakeClock})

	a := q.Enqueue(Payload{}, WithLabel("A"))
	b := q.Enqueue(Payload{}, WithLabel("B"))

	// First retry waits base * 2^0.
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, []string{"A"}, rec.Calls())

	fakeClock.Step(999 * time.Millisecond)
	assert.Equal(t, []string{"A"}, rec.Calls())

	fakeClock.Step(time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.Calls()) == 2 }, time.Second, time.Millisecond)

	// Second retry waits base * 2^1.
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(time.Second)
	assert.Equal(t, []string{"A", "A"}, rec.Calls())
	fakeClock.Step(time.Second)

	_, err := wait(t, a)
	require.NoError(t, err)
	_, err = wait(t, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "A", "B"}, rec.Calls())
}

func TestCancelAllLeavesInFlightCommand(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{fn: func(req *Request) error {
		if req.Label == "A" {
			<-release
		}
		return nil
	}}
	q := New(rec, Config{})

	a := q.Enqueue(Payload{}, WithLabel("A"))
	require.Eventually(t, func() bool { return len(rec.Calls()) == 1 }, time.Second, time.Millisecond)
	b := q.Enqueue(Payload{}, WithLabel("B"))
	c := q.Enqueue(Payload{}, WithLabel("C"))

	assert.Equal(t, 2, q.CancelAll("shutdown"))
	close(release)

	_, err := wait(t, a)
	require.NoError(t, err)

	for _, h := range []*Handle{b, c} {
		_, err := wait(t, h)
		var cancelled *CancelledError
		require.ErrorAs(t, err, &cancelled)
		assert.Equal(t, "shutdown", cancelled.Reason)
		assert.ErrorIs(t, err, ErrCancelled)
	}

	require.NoError(t, q.WaitIdle(context.Background()))
	assert.Equal(t, []string{"A"}, rec.Calls())
}

func TestCancelAllDuringBackoff(t *testing.T) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	rec := &recorder{fn: func(*Request) error { return errBusy }}
	q := New(rec, Config{BaseDelay: time.Minute, Clock: fakeClock})

	a := q.Enqueue(Payload{}, WithLabel("A"))
	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, 1, q.Depth())

	assert.Equal(t, 1, q.CancelAll("relay stopping"))

	_, err := wait(t, a)
	assert.True(t, IsCancelled(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
	assert.Len(t, rec.Calls(), 1)

	// The queue stays usable after a drain.
	rec.fn = nil
	_, err = wait(t, q.Enqueue(Payload{}, WithLabel("B")))
	require.NoError(t, err)
}

func TestCloseRefusesNewWork(t *testing.T) {
	rec := &recorder{}
	q := New(rec, Config{})
	q.Close("shutdown")

	h := q.Enqueue(Payload{Template: "send_message"})
	select {
	case <-h.Done():
	default:
		t.Fatal("handle of a closed queue must be completed")
	}

	var cancelled *CancelledError
	require.ErrorAs(t, h.Err(), &cancelled)
	assert.Equal(t, "shutdown", cancelled.Reason)
	assert.Empty(t, rec.Calls())
}

func TestEnqueueImmediateCarriesInlineScript(t *testing.T) {
	var got Payload
	q := New(ExecutorFunc(func(ctx context.Context, req *Request) (Result, error) {
		got = req.Payload
		return Result{Output: "true"}, nil
	}), Config{})

	res, err := wait(t, q.EnqueueImmediate(`tell application "Messages" to get name`))
	require.NoError(t, err)
	assert.Equal(t, "true", res.Output)
	assert.True(t, got.Immediate())
	assert.Empty(t, got.Template)
}

func TestBackoff(t *testing.T) {
	q := New(&recorder{}, Config{BaseDelay: time.Second})

	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 4*DefaultBaseDelay, New(&recorder{}, Config{}).backoff(3), "zero selects the default")
	assert.Equal(t, time.Duration(0), New(&recorder{}, Config{BaseDelay: NoBackoff}).backoff(3))
}

func TestPhaseTransitions(t *testing.T) {
	cmd := &command{id: "x", phase: PhasePending}

	require.NoError(t, cmd.moveTo(PhaseRunning))
	require.NoError(t, cmd.moveTo(PhaseRetrying))
	require.NoError(t, cmd.moveTo(PhasePending))
	require.NoError(t, cmd.moveTo(PhaseRunning))
	require.NoError(t, cmd.moveTo(PhaseSucceeded))

	assert.True(t, cmd.phase.Terminal())
	assert.Error(t, cmd.moveTo(PhaseRunning))
}
