package delivery

import (
	"slices"

	"github.com/looplab/fsm"
)

// Mode is the state of the delivery channel.
type Mode string

const (
	ModeDisconnected Mode = "Disconnected"
	ModeSubscribing  Mode = "Subscribing"
	ModePushActive   Mode = "PushActive"
	ModePollFallback Mode = "PollFallback"
)

// Modes lists every mode, in declaration order.
var Modes = []Mode{ModeDisconnected, ModeSubscribing, ModePushActive, ModePollFallback}

// Event drives mode changes.
type Event string

const (
	EventInitialize Event = "initialize"
	EventConfirmed  Event = "confirmed"
	EventError      Event = "error"
	EventShutdown   Event = "shutdown"
)

type transition struct {
	event Event
	from  []Mode
	to    Mode
}

// transitions is the whole state machine. Both the runtime FSM and Next are
// derived from it.
var transitions = []transition{
	{event: EventInitialize, from: []Mode{ModeDisconnected}, to: ModeSubscribing},
	{event: EventConfirmed, from: []Mode{ModeSubscribing, ModePollFallback}, to: ModePushActive},
	{event: EventError, from: []Mode{ModeSubscribing, ModePushActive}, to: ModePollFallback},
	{event: EventShutdown, from: []Mode{ModeSubscribing, ModePushActive, ModePollFallback}, to: ModeDisconnected},
}

// Next returns the mode reached by applying ev in from. ok is false when ev
// does not apply, in which case the mode is unchanged.
func Next(from Mode, ev Event) (to Mode, ok bool) {
	for _, t := range transitions {
		if t.event == ev && slices.Contains(t.from, from) {
			return t.to, true
		}
	}
	return from, false
}

// PollTimerActive reports whether the pull timer runs in mode.
func PollTimerActive(mode Mode) bool {
	return mode == ModePollFallback
}

func fsmEvents() fsm.Events {
	events := make(fsm.Events, 0, len(transitions))
	for _, t := range transitions {
		src := make([]string, 0, len(t.from))
		for _, m := range t.from {
			src = append(src, string(m))
		}
		events = append(events, fsm.EventDesc{Name: string(t.event), Src: src, Dst: string(t.to)})
	}
	return events
}
