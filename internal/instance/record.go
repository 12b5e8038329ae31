package instance

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
)

// Kind classifies a log event.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindStderr Kind = "stderr"
	KindStatus Kind = "status"
	KindError  Kind = "error"
	KindResult Kind = "result"
)

// ParseKind maps a wire kind onto a Kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindStdout, KindStderr, KindStatus, KindError, KindResult:
		return k, true
	default:
		return "", false
	}
}

// LogEvent is one entry in an instance's log.
type LogEvent struct {
	Kind       Kind
	Message    string
	Data       json.RawMessage
	ReceivedAt time.Time
	// Seq is the per-instance append index. It keeps counting across clears.
	Seq uint64
}

// SubView selects which panel the console shows for an instance.
type SubView string

const (
	SubViewParameters SubView = "parameters"
	SubViewConsole    SubView = "console"
)

// Valid reports whether v is a known sub-view.
func (v SubView) Valid() bool {
	return v == SubViewParameters || v == SubViewConsole
}

// Record is an immutable copy of an instance taken by the registry. Callers
// may keep and read it freely; it never changes after it is returned.
type Record struct {
	ID        string
	ScriptRef string
	Label     string
	Status    state.Status
	Phase     state.Phase
	RunID     string
	Params    map[string]any
	SubView   SubView
	CreatedAt time.Time

	// Logs is populated by Registry.Get and left nil by Registry.List.
	Logs []LogEvent
	// LogCount is the number of retained log events.
	LogCount int
	// Dropped counts events evicted by the retention cap.
	Dropped uint64
	// LastEventAt is when the most recent log event arrived.
	LastEventAt time.Time
}

// State returns the status and phase as a state.State.
func (r Record) State() state.State {
	return state.State{Status: r.Status, Phase: r.Phase}
}

// Param returns a string param or "".
func (r Record) Param(key string) string {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// entry is the registry-owned mutable instance. Only the registry actor
// touches it.
type entry struct {
	id        string
	scriptRef string
	label     string
	st        state.State
	runID     string
	params    map[string]any
	subView   SubView
	createdAt time.Time

	logs        *LogBuffer
	lastEventAt time.Time

	// attempt increments on every start request so stale confirmations
	// from an earlier attempt can be recognized.
	attempt uint64
	// gen is the last stream generation handed out; bound is the live one
	// (zero when no stream is attached).
	gen   uint64
	bound uint64

	// closing is set once Close has begun; the entry no longer accepts
	// edits, starts or streams.
	closing bool
}

func (e *entry) snapshot(withLogs bool) Record {
	r := Record{
		ID:          e.id,
		ScriptRef:   e.scriptRef,
		Label:       e.label,
		Status:      e.st.Status,
		Phase:       e.st.Phase,
		RunID:       e.runID,
		Params:      maps.Clone(e.params),
		SubView:     e.subView,
		CreatedAt:   e.createdAt,
		LogCount:    e.logs.Len(),
		Dropped:     e.logs.Dropped(),
		LastEventAt: e.lastEventAt,
	}
	if r.Params == nil {
		r.Params = map[string]any{}
	}
	if withLogs {
		r.Logs = e.logs.Events()
	}
	return r
}
