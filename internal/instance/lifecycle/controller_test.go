package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/stream"
	"github.com/tibame201020/opencv-custom-sub001/internal/testutil"
)

const waitTimeout = 2 * time.Second

type fixture struct {
	reg    *instance.Registry
	source *testutil.FakeSource
	runs   *testutil.FakeRunService
	client *stream.Client
	ctl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := instance.NewRegistry(instance.Options{})
	source := testutil.NewFakeSource()
	runs := testutil.NewFakeRunService()
	client := stream.NewClient(source, reg, nil)
	reg.SetDetacher(client)
	t.Cleanup(func() {
		client.DetachAll()
		reg.Shutdown()
	})
	return &fixture{
		reg:    reg,
		source: source,
		runs:   runs,
		client: client,
		ctl:    NewController(reg, runs, client, Options{CleanupTimeout: time.Second}),
	}
}

func (f *fixture) open(t *testing.T) string {
	t.Helper()
	id, err := f.reg.Open("android_login", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return id
}

func (f *fixture) get(t *testing.T, id string) instance.Record {
	t.Helper()
	rec, ok := f.reg.Get(id)
	if !ok {
		t.Fatalf("instance %s missing", id)
	}
	return rec
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestController_StartAttachesStream(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	if err := f.reg.SetParams(id, map[string]any{"deviceId": "emulator-5554"}); err != nil {
		t.Fatalf("SetParams() error = %v", err)
	}

	if err := f.ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := f.get(t, id)
	if rec.Status != state.StatusRunning || rec.Phase != state.PhaseStartConfirmed {
		t.Errorf("state = %s/%s, want running/start-confirmed", rec.Status, rec.Phase)
	}
	if rec.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", rec.RunID)
	}
	if rec.SubView != instance.SubViewConsole {
		t.Errorf("SubView = %q, want console", rec.SubView)
	}
	starts := f.runs.Starts()
	if len(starts) != 1 || starts[0].ScriptRef != "android_login" || starts[0].Params["deviceId"] != "emulator-5554" {
		t.Errorf("Starts() = %+v", starts)
	}

	conn := f.source.Latest("run-1")
	if conn == nil {
		t.Fatal("no stream opened for run-1")
	}
	conn.Send(`{"type":"stdout","message":"hello"}`)
	conn.Send(`{"type":"status","message":"Process exited"}`)

	testutil.WaitFor(t, waitTimeout, "run to complete", func() bool {
		return f.get(t, id).Status == state.StatusStopped
	})
	rec = f.get(t, id)
	if len(rec.Logs) != 2 || rec.Logs[0].Message != "hello" || rec.Logs[1].Message != "Process exited" {
		t.Errorf("Logs = %+v", rec.Logs)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q after completion", rec.RunID)
	}
}

func TestController_StartIsOptimistic(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	release := f.runs.HoldStarts()

	done := make(chan error, 1)
	go func() { done <- f.ctl.Start(context.Background(), id) }()

	testutil.WaitFor(t, waitTimeout, "start request in flight", func() bool {
		return len(f.runs.Starts()) == 1
	})
	rec := f.get(t, id)
	if rec.Status != state.StatusRunning || rec.Phase != state.PhaseStartRequested {
		t.Errorf("in-flight state = %s/%s, want running/start-requested", rec.Status, rec.Phase)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q before confirmation", rec.RunID)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec := f.get(t, id); rec.Phase != state.PhaseStartConfirmed {
		t.Errorf("Phase = %s, want start-confirmed", rec.Phase)
	}
}

func TestController_StartNetworkError(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	f.runs.FailStarts(errors.New("connection refused"))

	err := f.ctl.Start(context.Background(), id)
	if err == nil {
		t.Fatal("Start() error = nil")
	}

	rec := f.get(t, id)
	if rec.Status != state.StatusError || rec.Phase != state.PhaseStartFailed {
		t.Errorf("state = %s/%s, want error/start-failed", rec.Status, rec.Phase)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q, want empty", rec.RunID)
	}
	if len(rec.Logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(rec.Logs))
	}
	if rec.Logs[0].Kind != instance.KindError || rec.Logs[0].Message != "Failed to start: connection refused" {
		t.Errorf("Logs[0] = %+v", rec.Logs[0])
	}
	if n := len(f.source.Conns()); n != 0 {
		t.Errorf("opened %d streams, want 0", n)
	}
}

func TestController_StopSeversHungStream(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	if err := f.ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := f.source.Latest("run-1")

	done := make(chan error, 1)
	go func() { done <- f.ctl.Stop(context.Background(), id) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Stop() blocked on a silent stream")
	}

	rec := f.get(t, id)
	if rec.Status != state.StatusStopped || rec.Phase != state.PhaseStopConfirmed {
		t.Errorf("state = %s/%s, want stopped/stop-confirmed", rec.Status, rec.Phase)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q, want cleared", rec.RunID)
	}
	if !conn.Closed() {
		t.Error("stream still open after Stop()")
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1"}) {
		t.Errorf("Stops() = %v, want [run-1]", got)
	}
}

func TestController_StopFailureKeepsStopped(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	if err := f.ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.runs.FailStops(errors.New("backend down"))

	if err := f.ctl.Stop(context.Background(), id); err == nil {
		t.Error("Stop() error = nil, want backend failure")
	}
	rec := f.get(t, id)
	if rec.Status != state.StatusStopped || rec.Phase != state.PhaseStopFailed {
		t.Errorf("state = %s/%s, want stopped/stop-failed", rec.Status, rec.Phase)
	}
}

func TestController_StopWhenIdleIsNoop(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)

	if err := f.ctl.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	rec := f.get(t, id)
	if rec.Status != state.StatusIdle || rec.Phase != state.PhaseNone {
		t.Errorf("state = %s/%s, want idle/none", rec.Status, rec.Phase)
	}
	if n := len(f.runs.Stops()); n != 0 {
		t.Errorf("StopRun called %d times", n)
	}
}

func TestController_StopDuringStartStopsOrphan(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	release := f.runs.HoldStarts()

	done := make(chan error, 1)
	go func() { done <- f.ctl.Start(context.Background(), id) }()
	testutil.WaitFor(t, waitTimeout, "start request in flight", func() bool {
		return len(f.runs.Starts()) == 1
	})

	if err := f.ctl.Stop(context.Background(), id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rec := f.get(t, id); rec.Status != state.StatusStopped {
		t.Errorf("Status = %s, want stopped", rec.Status)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := f.get(t, id)
	if rec.Status != state.StatusStopped || rec.RunID != "" {
		t.Errorf("state = %s run=%q, want stopped with no run", rec.Status, rec.RunID)
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1"}) {
		t.Errorf("Stops() = %v, want orphan run-1 stopped", got)
	}
	if n := len(f.source.Conns()); n != 0 {
		t.Errorf("opened %d streams for an orphan", n)
	}
}

func TestController_RestartReplacesRun(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	if err := f.ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := f.source.Latest("run-1")

	if err := f.ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if !first.Closed() {
		t.Error("first stream still open after restart")
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1"}) {
		t.Errorf("Stops() = %v, want superseded run-1", got)
	}
	rec := f.get(t, id)
	if rec.RunID != "run-2" || rec.Status != state.StatusRunning {
		t.Errorf("state = %s run=%q, want running run-2", rec.Status, rec.RunID)
	}

	second := f.source.Latest("run-2")
	second.Send(`{"type":"stdout","message":"second run"}`)
	testutil.WaitFor(t, waitTimeout, "second run log", func() bool {
		return len(f.get(t, id).Logs) == 1
	})
}

func TestController_AttachFailure(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	f.source.FailOpens(errors.New("handshake refused"))

	if err := f.ctl.Start(context.Background(), id); err == nil {
		t.Fatal("Start() error = nil")
	}

	rec := f.get(t, id)
	if rec.Status != state.StatusError || rec.Phase != state.PhaseStreamFailed {
		t.Errorf("state = %s/%s, want error/stream-failed", rec.Status, rec.Phase)
	}
	if len(rec.Logs) != 1 || !strings.HasPrefix(rec.Logs[0].Message, "Failed to open log stream") {
		t.Errorf("Logs = %+v", rec.Logs)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q, want cleared", rec.RunID)
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1"}) {
		t.Errorf("Stops() = %v, want unobserved run stopped", got)
	}
}

func TestController_UnknownInstance(t *testing.T) {
	f := newFixture(t)

	if err := f.ctl.Start(context.Background(), "nope"); !errors.Is(err, errors.ErrInstanceNotFound) {
		t.Errorf("Start() error = %v, want ErrInstanceNotFound", err)
	}
	if err := f.ctl.Stop(context.Background(), "nope"); !errors.Is(err, errors.ErrInstanceNotFound) {
		t.Errorf("Stop() error = %v, want ErrInstanceNotFound", err)
	}
}

func TestController_InstancesAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.open(t)
	b := f.open(t)
	if err := f.ctl.Start(context.Background(), a); err != nil {
		t.Fatalf("Start(a) error = %v", err)
	}
	if err := f.ctl.Start(context.Background(), b); err != nil {
		t.Fatalf("Start(b) error = %v", err)
	}

	f.source.Latest("run-1").Fail(errors.New("reset"))
	testutil.WaitFor(t, waitTimeout, "a to fail", func() bool {
		return f.get(t, a).Status == state.StatusError
	})

	if rec := f.get(t, b); rec.Status != state.StatusRunning || len(rec.Logs) != 0 {
		t.Errorf("b = %s with %d logs, want running and untouched", rec.Status, len(rec.Logs))
	}
}

// releasingDetacher releases a held start right after the stream client has
// detached, so the start completes while the instance is being closed.
type releasingDetacher struct {
	client  *stream.Client
	release func()
}

func (d releasingDetacher) Detach(id string) {
	d.client.Detach(id)
	d.release()
}

func TestController_CloseDuringInFlightStart(t *testing.T) {
	f := newFixture(t)
	id := f.open(t)
	release := f.runs.HoldStarts()
	f.reg.SetDetacher(releasingDetacher{client: f.client, release: release})

	done := make(chan error, 1)
	go func() { done <- f.ctl.Start(context.Background(), id) }()
	testutil.WaitFor(t, waitTimeout, "start request in flight", func() bool {
		return len(f.runs.Starts()) == 1
	})

	orphan, err := f.reg.Close(id)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if orphan != "" {
		t.Errorf("Close() orphan = %q, want none before confirmation", orphan)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if f.reg.Exists(id) {
		t.Error("instance exists after Close")
	}
	if f.client.Attached(id) {
		t.Error("closed instance still has a stream")
	}
	if n := len(f.source.Conns()); n != 0 {
		t.Errorf("opened %d streams for a closed instance", n)
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1"}) {
		t.Errorf("Stops() = %v, want run-1 stopped", got)
	}
}

// gatedSource holds Open until released.
type gatedSource struct {
	inner   stream.Source
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) Open(ctx context.Context, runID string) (stream.Conn, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.inner.Open(ctx, runID)
}

func TestController_CloseWhileStreamOpening(t *testing.T) {
	f := newFixture(t)
	gate := &gatedSource{
		inner:   f.source,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	client := stream.NewClient(gate, f.reg, nil)
	t.Cleanup(client.DetachAll)
	f.reg.SetDetacher(client)
	ctl := NewController(f.reg, f.runs, client, Options{CleanupTimeout: time.Second})

	id := f.open(t)
	done := make(chan error, 1)
	go func() { done <- ctl.Start(context.Background(), id) }()
	<-gate.entered

	type closeResult struct {
		orphan string
		err    error
	}
	closed := make(chan closeResult, 1)
	go func() {
		orphan, err := f.reg.Close(id)
		closed <- closeResult{orphan, err}
	}()
	testutil.WaitFor(t, waitTimeout, "close to begin", func() bool {
		return !f.reg.Exists(id)
	})
	close(gate.release)

	res := <-closed
	if res.err != nil {
		t.Fatalf("Close() error = %v", res.err)
	}
	if res.orphan != "run-1" {
		t.Errorf("Close() orphan = %q, want run-1", res.orphan)
	}
	<-done

	if client.Attached(id) {
		t.Error("closed instance still has a stream")
	}
	conn := f.source.Latest("run-1")
	if conn == nil || !conn.Closed() {
		t.Error("stream opened during close was left open")
	}
}

// hookedStreams runs a callback once, after the next Detach.
type hookedStreams struct {
	Streams
	mu   sync.Mutex
	hook func()
}

func (s *hookedStreams) arm(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *hookedStreams) Detach(id string) {
	s.Streams.Detach(id)
	s.mu.Lock()
	fn := s.hook
	s.hook = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestController_CloseStopsRunStartedDuringClose(t *testing.T) {
	f := newFixture(t)
	streams := &hookedStreams{Streams: f.client}
	ctl := NewController(f.reg, f.runs, streams, Options{CleanupTimeout: time.Second})

	id := f.open(t)
	if err := ctl.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// A start lands between the stop and the removal of the instance.
	streams.arm(func() {
		if err := ctl.Start(context.Background(), id); err != nil {
			t.Errorf("racing Start() error = %v", err)
		}
	})
	if err := ctl.Close(context.Background(), id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if f.reg.Exists(id) {
		t.Error("instance exists after Close")
	}
	if f.client.Attached(id) {
		t.Error("closed instance still has a stream")
	}
	for _, run := range []string{"run-1", "run-2"} {
		if conn := f.source.Latest(run); conn == nil || !conn.Closed() {
			t.Errorf("stream for %s left open", run)
		}
	}
	if got := f.runs.Stops(); !equalStrings(got, []string{"run-1", "run-2"}) {
		t.Errorf("Stops() = %v, want both runs stopped", got)
	}
}
