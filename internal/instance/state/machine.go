// Package state defines the status state machine of an execution instance.
//
// An instance has a coarse Status that operators see (idle, running,
// stopped, error) and a finer Phase that records where the latest start or
// stop attempt is in its request/confirm cycle. Status changes only through
// Next; the table in transitions is the single source of truth.
package state

import "slices"

// Status is the coarse, operator-visible state of an instance.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Phase records the progress of the latest start or stop attempt.
type Phase string

const (
	PhaseNone           Phase = ""
	PhaseStartRequested Phase = "start-requested"
	PhaseStartConfirmed Phase = "start-confirmed"
	PhaseStartFailed    Phase = "start-failed"
	PhaseStopRequested  Phase = "stop-requested"
	PhaseStopConfirmed  Phase = "stop-confirmed"
	PhaseStopFailed     Phase = "stop-failed"
	PhaseCompleted      Phase = "completed"
	PhaseStreamFailed   Phase = "stream-failed"
)

// Trigger is an input to the state machine.
type Trigger string

const (
	// StartRequested is applied optimistically when the operator starts.
	StartRequested Trigger = "start-requested"
	// StartConfirmed is applied when the backend returns a run id.
	StartConfirmed Trigger = "start-confirmed"
	// StartFailed is applied when the backend rejects the start.
	StartFailed Trigger = "start-failed"
	// RunCompleted is applied when the stream delivers an exit signal.
	RunCompleted Trigger = "run-completed"
	// StreamFailed is applied when the stream drops without an exit signal.
	StreamFailed Trigger = "stream-failed"
	// StopRequested is applied optimistically when the operator stops.
	StopRequested Trigger = "stop-requested"
	// StopConfirmed is applied when the backend acknowledges a stop.
	StopConfirmed Trigger = "stop-confirmed"
	// StopFailed is applied when the backend stop request fails.
	StopFailed Trigger = "stop-failed"
)

// State is the pair tracked per instance.
type State struct {
	Status Status
	Phase  Phase
}

// Initial is the state of a freshly opened instance.
func Initial() State {
	return State{Status: StatusIdle}
}

type rule struct {
	from      []Status
	fromPhase []Phase // empty means any phase
	to        Status
	phase     Phase
}

var anyStatus = []Status{StatusIdle, StatusRunning, StatusStopped, StatusError}

// transitions is the complete transition table.
var transitions = map[Trigger]rule{
	StartRequested: {from: anyStatus, to: StatusRunning, phase: PhaseStartRequested},
	StartConfirmed: {
		from:      []Status{StatusRunning},
		fromPhase: []Phase{PhaseStartRequested},
		to:        StatusRunning,
		phase:     PhaseStartConfirmed,
	},
	StartFailed:   {from: []Status{StatusRunning}, to: StatusError, phase: PhaseStartFailed},
	RunCompleted:  {from: []Status{StatusRunning}, to: StatusStopped, phase: PhaseCompleted},
	StreamFailed:  {from: []Status{StatusRunning}, to: StatusError, phase: PhaseStreamFailed},
	StopRequested: {from: []Status{StatusRunning}, to: StatusStopped, phase: PhaseStopRequested},
	StopConfirmed: {
		from:      []Status{StatusStopped},
		fromPhase: []Phase{PhaseStopRequested},
		to:        StatusStopped,
		phase:     PhaseStopConfirmed,
	},
	StopFailed: {
		from:      []Status{StatusStopped},
		fromPhase: []Phase{PhaseStopRequested},
		to:        StatusStopped,
		phase:     PhaseStopFailed,
	},
}

// Next returns the state after applying t to s. When t is not legal from s
// it returns s unchanged and false.
func Next(s State, t Trigger) (State, bool) {
	r, ok := transitions[t]
	if !ok || !slices.Contains(r.from, s.Status) {
		return s, false
	}
	if len(r.fromPhase) > 0 && !slices.Contains(r.fromPhase, s.Phase) {
		return s, false
	}
	return State{Status: r.to, Phase: r.phase}, true
}

// CanApply reports whether t is legal from s.
func CanApply(s State, t Trigger) bool {
	_, ok := Next(s, t)
	return ok
}

// IsActive reports whether the instance has, or is acquiring, a backend run.
func (s State) IsActive() bool {
	return s.Status == StatusRunning
}

// IsTerminal reports whether the status only moves again on a new start.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusError
}

// Pending reports whether the latest attempt is still waiting on the backend.
func (p Phase) Pending() bool {
	return p == PhaseStartRequested || p == PhaseStopRequested
}
