package queue

import (
	"fmt"
	"time"
)

// Payload is handed to the Executor unchanged.
type Payload struct {
	// Template names a script in the executor catalog.
	Template string
	Params   map[string]string

	// Script is an inline script body. It is set only for immediate commands,
	// which skip the catalog.
	Script string
}

// Immediate reports whether the payload carries an inline script.
func (p Payload) Immediate() bool { return p.Script != "" }

// Request is one execution attempt of a command.
type Request struct {
	ID      string
	Label   string
	Attempt int
	Payload Payload
}

// Result is what a successful execution produced.
type Result struct {
	Output string

	// Attempts is filled in by the queue.
	Attempts int
}

// Phase is the lifecycle state of a command.
type Phase int

const (
	PhasePending Phase = iota
	PhaseRunning
	PhaseRetrying
	PhaseSucceeded
	PhaseFailed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseRetrying:
		return "retrying"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

// phaseTransitions lists the legal moves. A retry goes running -> retrying ->
// pending, and the pending command is reinserted at the head of the queue.
var phaseTransitions = map[Phase][]Phase{
	PhasePending:  {PhaseRunning, PhaseCancelled},
	PhaseRunning:  {PhaseSucceeded, PhaseRetrying, PhaseFailed},
	PhaseRetrying: {PhasePending},
}

// command is owned by the processing loop once enqueued.
type command struct {
	id          string
	label       string
	payload     Payload
	attempts    int
	maxAttempts int
	phase       Phase
	enqueuedAt  time.Time
	handle      *Handle
}

func (c *command) moveTo(next Phase) error {
	for _, allowed := range phaseTransitions[c.phase] {
		if allowed == next {
			c.phase = next
			return nil
		}
	}
	return fmt.Errorf("command %s: illegal transition %s -> %s", c.id, c.phase, next)
}

func (c *command) request() *Request {
	return &Request{
		ID:      c.id,
		Label:   c.label,
		Attempt: c.attempts,
		Payload: c.payload,
	}
}

// EnqueueOption customizes a single command.
type EnqueueOption func(*command)

// WithMaxAttempts overrides the queue-wide attempt ceiling for one command.
func WithMaxAttempts(n int) EnqueueOption {
	return func(c *command) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLabel sets a correlation label used in logs. It is not required to be unique.
func WithLabel(label string) EnqueueOption {
	return func(c *command) {
		c.label = label
	}
}
