package queue

import (
	"context"
	"sync"
)

// Handle lets the submitter observe the outcome of one command.
type Handle struct {
	id   string
	done chan struct{}
	once sync.Once

	result Result
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the identifier assigned to the command.
func (h *Handle) ID() string { return h.id }

// Done is closed once the command reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the command completes or ctx ends. A ctx error does not
// cancel the command.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Err returns the terminal error, or nil while the command is not done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) complete(res Result, err error) {
	h.once.Do(func() {
		h.result = res
		h.err = err
		close(h.done)
	})
}
