package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConsumer is returned by Initialize for a nil consumer.
	ErrInvalidConsumer = errors.New("delivery: consumer must not be nil")

	// ErrShutdown is returned by Initialize once Shutdown was called.
	ErrShutdown = errors.New("delivery: manager is shut down")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("delivery: manager already initialized")
)

// SubscriptionSetupError means the push channel could not be established.
// The manager handles it like an error status signal.
type SubscriptionSetupError struct {
	Cause error
}

func (e *SubscriptionSetupError) Error() string {
	return fmt.Sprintf("push subscription setup failed: %v", e.Cause)
}

func (e *SubscriptionSetupError) Unwrap() error { return e.Cause }

// PollQueryError means a single pull query failed. The next tick retries it.
type PollQueryError struct {
	Since time.Time
	Cause error
}

func (e *PollQueryError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("reconciliation query failed: %v", e.Cause)
	}
	return fmt.Sprintf("poll query since %s failed: %v", e.Since.Format(time.RFC3339Nano), e.Cause)
}

func (e *PollQueryError) Unwrap() error { return e.Cause }
