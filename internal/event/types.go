package event

import (
	"encoding/json"
	"time"
)

// Event is the interface that all events implement.
type Event interface {
	// EventType returns the "category.action" identifier.
	EventType() string
	// Timestamp returns when the event was created.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeInstanceOpened  = "instance.opened"
	TypeInstanceClosed  = "instance.closed"
	TypeInstanceFocused = "instance.focused"
	TypeInstanceUpdated = "instance.updated"
	TypeStatusChanged   = "status.changed"
	TypeRunStarted      = "run.started"
	TypeRunEnded        = "run.ended"
	TypeLogAppended     = "log.appended"
	TypeLogsCleared     = "logs.cleared"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Instance Events
// -----------------------------------------------------------------------------

// InstanceOpenedEvent is emitted when an operator opens a new instance.
type InstanceOpenedEvent struct {
	baseEvent
	InstanceID string
	ScriptRef  string
	Label      string
}

// NewInstanceOpenedEvent creates an InstanceOpenedEvent.
func NewInstanceOpenedEvent(instanceID, scriptRef, label string) InstanceOpenedEvent {
	return InstanceOpenedEvent{
		baseEvent:  newBaseEvent(TypeInstanceOpened),
		InstanceID: instanceID,
		ScriptRef:  scriptRef,
		Label:      label,
	}
}

// InstanceClosedEvent is emitted after an instance has been discarded.
// FocusedID is the instance that received focus as a result, or empty.
type InstanceClosedEvent struct {
	baseEvent
	InstanceID string
	FocusedID  string
}

// NewInstanceClosedEvent creates an InstanceClosedEvent.
func NewInstanceClosedEvent(instanceID, focusedID string) InstanceClosedEvent {
	return InstanceClosedEvent{
		baseEvent:  newBaseEvent(TypeInstanceClosed),
		InstanceID: instanceID,
		FocusedID:  focusedID,
	}
}

// InstanceFocusedEvent is emitted when focus moves to another instance.
type InstanceFocusedEvent struct {
	baseEvent
	InstanceID string
}

// NewInstanceFocusedEvent creates an InstanceFocusedEvent.
func NewInstanceFocusedEvent(instanceID string) InstanceFocusedEvent {
	return InstanceFocusedEvent{
		baseEvent:  newBaseEvent(TypeInstanceFocused),
		InstanceID: instanceID,
	}
}

// InstanceUpdatedEvent is emitted for pure edits: label, sub-view, params.
type InstanceUpdatedEvent struct {
	baseEvent
	InstanceID string
	Field      string
}

// NewInstanceUpdatedEvent creates an InstanceUpdatedEvent.
func NewInstanceUpdatedEvent(instanceID, field string) InstanceUpdatedEvent {
	return InstanceUpdatedEvent{
		baseEvent:  newBaseEvent(TypeInstanceUpdated),
		InstanceID: instanceID,
		Field:      field,
	}
}

// -----------------------------------------------------------------------------
// Status and Run Events
// -----------------------------------------------------------------------------

// StatusChangedEvent is emitted when an instance's status or phase moves.
type StatusChangedEvent struct {
	baseEvent
	InstanceID string
	RunID      string
	From       string
	To         string
	Phase      string
	Reason     string
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(instanceID, runID, from, to, phase, reason string) StatusChangedEvent {
	return StatusChangedEvent{
		baseEvent:  newBaseEvent(TypeStatusChanged),
		InstanceID: instanceID,
		RunID:      runID,
		From:       from,
		To:         to,
		Phase:      phase,
		Reason:     reason,
	}
}

// RunStartedEvent is emitted once the backend has confirmed a run.
type RunStartedEvent struct {
	baseEvent
	InstanceID string
	RunID      string
	ScriptRef  string
	Label      string
	Params     map[string]any
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(instanceID, runID, scriptRef, label string, params map[string]any) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:  newBaseEvent(TypeRunStarted),
		InstanceID: instanceID,
		RunID:      runID,
		ScriptRef:  scriptRef,
		Label:      label,
		Params:     params,
	}
}

// RunEndedEvent is emitted when a confirmed run leaves the running state.
// Status is the status the instance ended in.
type RunEndedEvent struct {
	baseEvent
	InstanceID string
	RunID      string
	Status     string
	Reason     string
}

// NewRunEndedEvent creates a RunEndedEvent.
func NewRunEndedEvent(instanceID, runID, status, reason string) RunEndedEvent {
	return RunEndedEvent{
		baseEvent:  newBaseEvent(TypeRunEnded),
		InstanceID: instanceID,
		RunID:      runID,
		Status:     status,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Log Events
// -----------------------------------------------------------------------------

// LogAppendedEvent is emitted for every log event appended to an instance.
type LogAppendedEvent struct {
	baseEvent
	InstanceID string
	RunID      string
	Seq        uint64
	Kind       string
	Message    string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// NewLogAppendedEvent creates a LogAppendedEvent.
func NewLogAppendedEvent(instanceID, runID string, seq uint64, kind, message string, data json.RawMessage, receivedAt time.Time) LogAppendedEvent {
	return LogAppendedEvent{
		baseEvent:  newBaseEvent(TypeLogAppended),
		InstanceID: instanceID,
		RunID:      runID,
		Seq:        seq,
		Kind:       kind,
		Message:    message,
		Data:       data,
		ReceivedAt: receivedAt,
	}
}

// LogsClearedEvent is emitted when an operator clears an instance's logs.
type LogsClearedEvent struct {
	baseEvent
	InstanceID string
}

// NewLogsClearedEvent creates a LogsClearedEvent.
func NewLogsClearedEvent(instanceID string) LogsClearedEvent {
	return LogsClearedEvent{
		baseEvent:  newBaseEvent(TypeLogsCleared),
		InstanceID: instanceID,
	}
}
