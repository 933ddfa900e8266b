package queue

import (
	"errors"
	"fmt"
)

// ErrCancelled is matched by every CancelledError.
var ErrCancelled = errors.New("command cancelled")

// CancelledError rejects a command that was still pending when the queue was
// drained or closed.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("command cancelled: %s", e.Reason)
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// ExecutionFailedError rejects a command after its last attempt failed.
type ExecutionFailedError struct {
	Attempts int
	Cause    error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("command failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ExecutionFailedError) Unwrap() error {
	return e.Cause
}
