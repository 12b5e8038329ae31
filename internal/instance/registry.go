package instance

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/event"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
)

// Detacher severs an instance's live stream. Detach must not return until
// no further delivery for the instance can be applied.
type Detacher interface {
	Detach(id string)
}

// Options configures a Registry.
type Options struct {
	// MaxLogEntries caps each instance's log. Zero keeps everything.
	MaxLogEntries int
	Bus           *event.Bus
	Logger        *logging.Logger
}

// Registry owns every instance record. All mutations run on a single actor
// goroutine in the order they are submitted, and every public method blocks
// until its mutation has been applied.
//
// Bus handlers are invoked from the actor goroutine. They must not call back
// into the Registry.
type Registry struct {
	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}

	maxLogs  int
	bus      *event.Bus
	logger   *logging.Logger
	detacher Detacher
}

type command struct {
	fn   func(*table)
	done chan struct{}
}

// table is the actor-owned state.
type table struct {
	entries map[string]*entry
	order   []string
	focused string
	issued  map[string]struct{}
	pending []event.Event
}

func (t *table) emit(e event.Event) {
	t.pending = append(t.pending, e)
}

// NewRegistry starts a Registry. Call Shutdown to stop its actor.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	r := &Registry{
		cmds:    make(chan command),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		maxLogs: opts.MaxLogEntries,
		bus:     opts.Bus,
		logger:  opts.Logger,
	}
	go r.loop(&table{
		entries: make(map[string]*entry),
		issued:  make(map[string]struct{}),
	})
	return r
}

// SetDetacher installs the stream detacher used by Close. It must be called
// before the first Close.
func (r *Registry) SetDetacher(d Detacher) {
	r.detacher = d
}

// Bus returns the bus the registry publishes to.
func (r *Registry) Bus() *event.Bus {
	return r.bus
}

func (r *Registry) loop(t *table) {
	defer close(r.stopped)
	for {
		select {
		case cmd := <-r.cmds:
			cmd.fn(t)
			events := t.pending
			t.pending = nil
			for _, e := range events {
				r.bus.Publish(e)
			}
			close(cmd.done)
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the actor and waits until it has been applied and its
// events published.
func (r *Registry) do(fn func(*table)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case r.cmds <- cmd:
	case <-r.stopped:
		return errors.ErrRegistryClosed
	}
	<-cmd.done
	return nil
}

// Shutdown stops the actor. Later calls fail with ErrRegistryClosed.
func (r *Registry) Shutdown() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	<-r.stopped
}

func notFound(id string) error {
	return errors.NewNotFoundError("instance", id).WithCause(errors.ErrInstanceNotFound)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Open creates an idle instance for scriptRef and focuses it. An empty label
// defaults to scriptRef.
func (r *Registry) Open(scriptRef, label string) (string, error) {
	if label == "" {
		label = scriptRef
	}
	var id string
	err := r.do(func(t *table) {
		for {
			id = uuid.NewString()
			if _, dup := t.issued[id]; !dup {
				break
			}
		}
		t.issued[id] = struct{}{}
		t.entries[id] = &entry{
			id:        id,
			scriptRef: scriptRef,
			label:     label,
			st:        state.Initial(),
			params:    map[string]any{},
			subView:   SubViewParameters,
			createdAt: time.Now(),
			logs:      NewLogBuffer(r.maxLogs),
		}
		t.order = append(t.order, id)
		t.focused = id
		t.emit(event.NewInstanceOpenedEvent(id, scriptRef, label))
		t.emit(event.NewInstanceFocusedEvent(id))
	})
	if err != nil {
		return "", err
	}
	r.logger.WithInstance(id).Info("instance opened", "script", scriptRef)
	return id, nil
}

// Close discards the instance. It first marks the entry as closing, so that
// no start can be confirmed and no stream can be bound, then detaches any
// live stream, then removes the record. If it was focused, focus moves to the
// most recently opened remaining instance.
//
// Close does not stop backend runs. It returns the run the instance was still
// running, if any, which the caller now owns and should stop.
func (r *Registry) Close(id string) (string, error) {
	var orphan string
	var found bool
	err := r.do(func(t *table) {
		e, ok := t.entries[id]
		if !ok || e.closing {
			return
		}
		found = true
		e.closing = true
		if e.st.Status == state.StatusRunning {
			orphan = e.runID
		}
		e.runID = ""
		e.bound = 0
		e.attempt++
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", notFound(id)
	}

	if r.detacher != nil {
		r.detacher.Detach(id)
	}

	var focused string
	err = r.do(func(t *table) {
		delete(t.entries, id)
		t.order = slices.DeleteFunc(t.order, func(x string) bool { return x == id })
		if t.focused == id {
			t.focused = ""
			if n := len(t.order); n > 0 {
				t.focused = t.order[n-1]
			}
		}
		focused = t.focused
		t.emit(event.NewInstanceClosedEvent(id, focused))
		if focused != "" {
			t.emit(event.NewInstanceFocusedEvent(focused))
		}
	})
	if err != nil {
		return orphan, err
	}
	r.logger.WithInstance(id).Info("instance closed", "focused", focused)
	return orphan, nil
}

// -----------------------------------------------------------------------------
// Pure edits
// -----------------------------------------------------------------------------

// update applies fn to an existing entry.
func (r *Registry) update(id string, fn func(t *table, e *entry) error) error {
	var opErr error
	err := r.do(func(t *table) {
		e, ok := t.entries[id]
		if !ok || e.closing {
			opErr = notFound(id)
			return
		}
		opErr = fn(t, e)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetFocus focuses an instance.
func (r *Registry) SetFocus(id string) error {
	return r.update(id, func(t *table, e *entry) error {
		if t.focused != id {
			t.focused = id
			t.emit(event.NewInstanceFocusedEvent(id))
		}
		return nil
	})
}

// Rename changes an instance's label.
func (r *Registry) Rename(id, label string) error {
	if label == "" {
		return errors.NewValidationError("label must not be empty").WithField("label")
	}
	return r.update(id, func(t *table, e *entry) error {
		e.label = label
		t.emit(event.NewInstanceUpdatedEvent(id, "label"))
		return nil
	})
}

// SetSubView switches the panel shown for an instance.
func (r *Registry) SetSubView(id string, view SubView) error {
	if !view.Valid() {
		return errors.NewValidationError("unknown sub-view").WithField("sub_view").WithValue(view)
	}
	return r.update(id, func(t *table, e *entry) error {
		if e.subView != view {
			e.subView = view
			t.emit(event.NewInstanceUpdatedEvent(id, "sub_view"))
		}
		return nil
	})
}

// SetParams shallow-merges partial into the instance's params. A nil value
// deletes the key.
func (r *Registry) SetParams(id string, partial map[string]any) error {
	return r.update(id, func(t *table, e *entry) error {
		for k, v := range partial {
			if v == nil {
				delete(e.params, k)
				continue
			}
			e.params[k] = v
		}
		t.emit(event.NewInstanceUpdatedEvent(id, "params"))
		return nil
	})
}

// -----------------------------------------------------------------------------
// Readers
// -----------------------------------------------------------------------------

// Exists reports whether id names a live instance. An instance being closed
// is not live.
func (r *Registry) Exists(id string) bool {
	var ok bool
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		ok = exists && !e.closing
	})
	return ok
}

// Get returns a copy of the instance including its logs.
func (r *Registry) Get(id string) (Record, bool) {
	var rec Record
	var ok bool
	_ = r.do(func(t *table) {
		var e *entry
		if e, ok = t.entries[id]; ok {
			rec = e.snapshot(true)
		}
	})
	return rec, ok
}

// List returns copies of every instance in creation order, without logs.
func (r *Registry) List() []Record {
	var out []Record
	_ = r.do(func(t *table) {
		out = make([]Record, 0, len(t.order))
		for _, id := range t.order {
			out = append(out, t.entries[id].snapshot(false))
		}
	})
	return out
}

// Focused returns the focused instance, if any.
func (r *Registry) Focused() (Record, bool) {
	var rec Record
	var ok bool
	_ = r.do(func(t *table) {
		if e, exists := t.entries[t.focused]; exists {
			rec, ok = e.snapshot(true), true
		}
	})
	return rec, ok
}

// -----------------------------------------------------------------------------
// Log aggregation
// -----------------------------------------------------------------------------

// AppendLog appends ev to the instance's log, stamping ReceivedAt when it is
// zero. It reports false, without error, when the instance no longer exists.
func (r *Registry) AppendLog(id string, ev LogEvent) bool {
	var ok bool
	_ = r.do(func(t *table) {
		var e *entry
		if e, ok = t.entries[id]; ok {
			appendLog(t, e, ev)
		}
	})
	return ok
}

func appendLog(t *table, e *entry, ev LogEvent) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	stored := e.logs.Append(ev)
	e.lastEventAt = stored.ReceivedAt
	t.emit(event.NewLogAppendedEvent(e.id, e.runID, stored.Seq, string(stored.Kind),
		stored.Message, stored.Data, stored.ReceivedAt))
}

// ClearLogs empties the instance's log. Status and run id are untouched.
func (r *Registry) ClearLogs(id string) error {
	return r.update(id, func(t *table, e *entry) error {
		e.logs.Reset()
		t.emit(event.NewLogsClearedEvent(id))
		return nil
	})
}

// -----------------------------------------------------------------------------
// Status transitions
// -----------------------------------------------------------------------------

// StartTicket describes an accepted start request.
type StartTicket struct {
	// Attempt identifies this start; later confirmations must present it.
	Attempt   uint64
	ScriptRef string
	Params    map[string]any
	// Superseded is the run the instance was still bound to, if any.
	Superseded string
}

// transition applies tr and records the resulting status change. It reports
// whether the trigger was legal.
func transition(t *table, e *entry, tr state.Trigger, reason string) bool {
	next, ok := state.Next(e.st, tr)
	if !ok {
		return false
	}
	from := e.st.Status
	e.st = next
	t.emit(event.NewStatusChangedEvent(e.id, e.runID, string(from), string(next.Status), string(next.Phase), reason))
	return true
}

// RequestStart optimistically moves the instance to running and returns a
// ticket for the attempt. Any run id the instance still held is returned as
// Superseded and forgotten, and its stream generation stops being accepted.
func (r *Registry) RequestStart(id string) (StartTicket, error) {
	var ticket StartTicket
	err := r.update(id, func(t *table, e *entry) error {
		ticket.Superseded = e.runID
		e.runID = ""
		e.bound = 0
		e.attempt++
		transition(t, e, state.StartRequested, "")
		ticket.Attempt = e.attempt
		ticket.ScriptRef = e.scriptRef
		ticket.Params = maps.Clone(e.params)
		return nil
	})
	return ticket, err
}

// ConfirmStart binds runID to the instance if attempt is still current and
// the instance is still waiting on it. A false result means the run is an
// orphan the caller should stop.
func (r *Registry) ConfirmStart(id string, attempt uint64, runID string) bool {
	var ok bool
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || e.closing || e.attempt != attempt {
			return
		}
		if !state.CanApply(e.st, state.StartConfirmed) {
			return
		}
		e.runID = runID
		transition(t, e, state.StartConfirmed, "")
		t.emit(event.NewRunStartedEvent(id, runID, e.scriptRef, e.label, maps.Clone(e.params)))
		ok = true
	})
	return ok
}

// FailStart moves a pending attempt to error and appends one error event
// "Failed to start: <reason>".
func (r *Registry) FailStart(id string, attempt uint64, reason string) bool {
	return r.failAttempt(id, attempt, state.StartFailed, "Failed to start: "+reason)
}

// FailAttach moves an attempt whose stream could not be opened to error and
// appends one error event.
func (r *Registry) FailAttach(id string, attempt uint64, reason string) bool {
	return r.failAttempt(id, attempt, state.StreamFailed, "Failed to open log stream: "+reason)
}

func (r *Registry) failAttempt(id string, attempt uint64, tr state.Trigger, message string) bool {
	var ok bool
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || e.attempt != attempt {
			return
		}
		runID := e.runID
		if !transition(t, e, tr, message) {
			return
		}
		appendLog(t, e, LogEvent{Kind: KindError, Message: message})
		if runID != "" {
			t.emit(event.NewRunEndedEvent(id, runID, string(e.st.Status), message))
		}
		if e.bound == 0 {
			e.runID = ""
		}
		ok = true
	})
	return ok
}

// StopTicket describes an accepted stop request.
type StopTicket struct {
	Attempt uint64
	RunID   string
}

// RequestStop optimistically moves a running instance to stopped. It reports
// false when the instance was not running, in which case nothing changed.
func (r *Registry) RequestStop(id string) (StopTicket, bool, error) {
	var ticket StopTicket
	var changed bool
	err := r.update(id, func(t *table, e *entry) error {
		if !transition(t, e, state.StopRequested, "") {
			return nil
		}
		changed = true
		ticket = StopTicket{Attempt: e.attempt, RunID: e.runID}
		if e.runID != "" {
			t.emit(event.NewRunEndedEvent(id, e.runID, string(e.st.Status), "stopped by operator"))
		}
		if e.bound == 0 {
			e.runID = ""
		}
		return nil
	})
	return ticket, changed, err
}

// ResolveStop records the backend's answer to a stop request. It only marks
// the phase; the status stays stopped either way.
func (r *Registry) ResolveStop(id string, ticket StopTicket, stopErr error) {
	tr, reason := state.StopConfirmed, ""
	if stopErr != nil {
		tr, reason = state.StopFailed, errors.Reason(stopErr)
	}
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || e.attempt != ticket.Attempt {
			return
		}
		transition(t, e, tr, reason)
	})
}

// -----------------------------------------------------------------------------
// Stream sink
// -----------------------------------------------------------------------------

// StreamEnd describes why a stream stopped delivering.
type StreamEnd struct {
	// Completed is true when the run signalled its own exit.
	Completed bool
	// Err is the connection failure when Completed is false.
	Err error
}

// BindStream issues a fresh stream generation for the instance's current
// run. It fails when the instance is gone or no longer bound to runID.
func (r *Registry) BindStream(id, runID string) (uint64, bool) {
	var gen uint64
	var ok bool
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || e.closing || e.runID != runID || e.st.Status != state.StatusRunning {
			return
		}
		e.gen++
		e.bound = e.gen
		gen, ok = e.gen, true
	})
	return gen, ok
}

// Deliver appends ev if gen is the instance's live stream generation.
func (r *Registry) Deliver(id string, gen uint64, ev LogEvent) bool {
	var ok bool
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || gen == 0 || e.bound != gen {
			return
		}
		appendLog(t, e, ev)
		ok = true
	})
	return ok
}

// StreamEnded applies the end of a live stream: completion moves a running
// instance to stopped, failure moves it to error. Other states are kept.
func (r *Registry) StreamEnded(id string, gen uint64, end StreamEnd) {
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || gen == 0 || e.bound != gen {
			return
		}
		e.bound = 0
		runID := e.runID

		if end.Completed {
			if transition(t, e, state.RunCompleted, "") {
				t.emit(event.NewRunEndedEvent(id, runID, string(e.st.Status), "completed"))
			}
		} else {
			msg := "Log stream lost"
			if end.Err != nil {
				msg += ": " + errors.Reason(end.Err)
			}
			if transition(t, e, state.StreamFailed, msg) {
				appendLog(t, e, LogEvent{Kind: KindError, Message: msg})
				t.emit(event.NewRunEndedEvent(id, runID, string(e.st.Status), msg))
			}
		}

		if e.st.Status != state.StatusRunning {
			e.runID = ""
		}
	})
}

// UnbindStream retires gen after its reader has exited. When the instance
// is no longer running its run id is released.
func (r *Registry) UnbindStream(id string, gen uint64) {
	_ = r.do(func(t *table) {
		e, exists := t.entries[id]
		if !exists || e.bound != gen {
			return
		}
		e.bound = 0
		if e.st.Status != state.StatusRunning {
			e.runID = ""
		}
	})
}
