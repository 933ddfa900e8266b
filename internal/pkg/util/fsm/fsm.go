package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a fallible callback. A returned error is reported by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Guard adapts a precondition for a before_ callback. A returned error cancels the transition.
func Guard(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}

// IsRejected reports whether err only says that the event did not apply in
// the current state: the event is unknown there, the state would not change,
// or a guard cancelled it.
func IsRejected(err error) bool {
	var invalid fsm.InvalidEventError
	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError
	return errors.As(err, &invalid) || errors.As(err, &noTransition) || errors.As(err, &canceled)
}
