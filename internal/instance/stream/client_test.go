package stream_test

import (
	"context"
	"fmt"
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

type harness struct {
	reg    *instance.Registry
	source *testutil.FakeSource
	client *stream.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := instance.NewRegistry(instance.Options{})
	source := testutil.NewFakeSource()
	client := stream.NewClient(source, reg, nil)
	reg.SetDetacher(client)
	t.Cleanup(func() {
		client.DetachAll()
		reg.Shutdown()
	})
	return &harness{reg: reg, source: source, client: client}
}

// running opens an instance and confirms it against runID without attaching.
func (h *harness) running(t *testing.T, runID string) string {
	t.Helper()
	id, err := h.reg.Open("android_login", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h.confirm(t, id, runID)
	return id
}

func (h *harness) confirm(t *testing.T, id, runID string) {
	t.Helper()
	ticket, err := h.reg.RequestStart(id)
	if err != nil {
		t.Fatalf("RequestStart() error = %v", err)
	}
	if !h.reg.ConfirmStart(id, ticket.Attempt, runID) {
		t.Fatal("ConfirmStart() = false")
	}
}

func (h *harness) attach(t *testing.T, id, runID string) *testutil.FakeConn {
	t.Helper()
	if err := h.client.Attach(context.Background(), id, runID); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	conn := h.source.Latest(runID)
	if conn == nil {
		t.Fatalf("no connection opened for %s", runID)
	}
	return conn
}

func (h *harness) record(t *testing.T, id string) instance.Record {
	t.Helper()
	rec, ok := h.reg.Get(id)
	if !ok {
		t.Fatalf("instance %s missing", id)
	}
	return rec
}

func (h *harness) waitStatus(t *testing.T, id string, want state.Status) instance.Record {
	t.Helper()
	var rec instance.Record
	testutil.WaitFor(t, waitTimeout, "status "+string(want), func() bool {
		rec = h.record(t, id)
		return rec.Status == want
	})
	return rec
}

func TestClient_DeliversUntilExit(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	conn := h.attach(t, id, "run-1")

	conn.Send(`{"type":"stdout","message":"hello"}`)
	conn.Send(`{"type":"status","message":"Process exited"}`)

	rec := h.waitStatus(t, id, state.StatusStopped)
	if rec.Phase != state.PhaseCompleted {
		t.Errorf("Phase = %q, want completed", rec.Phase)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q, want cleared", rec.RunID)
	}
	if len(rec.Logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2", len(rec.Logs))
	}
	if rec.Logs[0].Kind != instance.KindStdout || rec.Logs[0].Message != "hello" {
		t.Errorf("Logs[0] = %+v", rec.Logs[0])
	}
	if rec.Logs[1].Kind != instance.KindStatus || rec.Logs[1].Message != "Process exited" {
		t.Errorf("Logs[1] = %+v", rec.Logs[1])
	}

	testutil.WaitFor(t, waitTimeout, "connection closed", conn.Closed)
	testutil.WaitFor(t, waitTimeout, "handle released", func() bool { return !h.client.Attached(id) })
}

func TestClient_FallbackFramesAreLogged(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	conn := h.attach(t, id, "run-1")

	conn.Send(`not json at all`)
	conn.Send(`{"type":"execution_step","node":"n1"}`)

	var rec instance.Record
	testutil.WaitFor(t, waitTimeout, "two logs", func() bool {
		rec = h.record(t, id)
		return len(rec.Logs) == 2
	})
	for i, ev := range rec.Logs {
		if ev.Kind != instance.KindStdout {
			t.Errorf("Logs[%d].Kind = %q, want stdout", i, ev.Kind)
		}
	}
	if rec.Logs[0].Message != "not json at all" {
		t.Errorf("Logs[0].Message = %q", rec.Logs[0].Message)
	}
	if rec.Status != state.StatusRunning {
		t.Errorf("Status = %q, want running", rec.Status)
	}
}

func TestClient_FailureMovesToError(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	conn := h.attach(t, id, "run-1")

	conn.Send(`{"type":"stdout","message":"working"}`)
	conn.Fail(errors.New("connection reset by peer"))

	rec := h.waitStatus(t, id, state.StatusError)
	if rec.Phase != state.PhaseStreamFailed {
		t.Errorf("Phase = %q, want stream-failed", rec.Phase)
	}
	if len(rec.Logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2", len(rec.Logs))
	}
	last := rec.Logs[1]
	if last.Kind != instance.KindError {
		t.Errorf("last Kind = %q, want error", last.Kind)
	}
	if !strings.HasPrefix(last.Message, "Log stream lost") || !strings.Contains(last.Message, "connection reset by peer") {
		t.Errorf("last Message = %q", last.Message)
	}
	if rec.RunID != "" {
		t.Errorf("RunID = %q, want cleared", rec.RunID)
	}
}

func TestClient_DetachUnblocksHungStream(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	conn := h.attach(t, id, "run-1")

	done := make(chan struct{})
	go func() {
		h.client.Detach(id)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Detach() did not return for a stream with no traffic")
	}

	if !conn.Closed() {
		t.Error("connection still open after Detach()")
	}
	if h.client.Attached(id) {
		t.Error("Attached() = true after Detach()")
	}
	if conn.Send(`{"type":"stdout","message":"late"}`) {
		t.Error("late frame was accepted by a detached connection")
	}

	rec := h.record(t, id)
	if len(rec.Logs) != 0 {
		t.Errorf("len(Logs) = %d, want 0", len(rec.Logs))
	}
	if rec.Status != state.StatusRunning {
		t.Errorf("Status = %q, want running (Detach does not change status)", rec.Status)
	}

	// Idempotent.
	h.client.Detach(id)
}

func TestClient_RestartReplacesConnection(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	first := h.attach(t, id, "run-1")

	h.confirm(t, id, "run-2")
	second := h.attach(t, id, "run-2")

	if !first.Closed() {
		t.Error("old connection not closed by the new Attach()")
	}
	if first.Send(`{"type":"stdout","message":"stale"}`) {
		t.Error("old connection accepted a frame after restart")
	}

	second.Send(`{"type":"stdout","message":"fresh"}`)
	var rec instance.Record
	testutil.WaitFor(t, waitTimeout, "fresh log", func() bool {
		rec = h.record(t, id)
		return len(rec.Logs) == 1
	})
	if rec.Logs[0].Message != "fresh" {
		t.Errorf("Logs[0].Message = %q, want fresh", rec.Logs[0].Message)
	}
	if rec.RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", rec.RunID)
	}
}

func TestClient_ConcurrentInstancesStayIsolated(t *testing.T) {
	h := newHarness(t)
	a := h.running(t, "run-a")
	b := h.running(t, "run-b")
	connA := h.attach(t, a, "run-a")
	connB := h.attach(t, b, "run-b")

	go func() {
		for range 20 {
			connA.Send(`{"type":"stdout","message":"a"}`)
		}
	}()
	for range 20 {
		connB.Send(`{"type":"stderr","message":"b"}`)
	}

	testutil.WaitFor(t, waitTimeout, "all logs", func() bool {
		return len(h.record(t, a).Logs) == 20 && len(h.record(t, b).Logs) == 20
	})
	for _, ev := range h.record(t, a).Logs {
		if ev.Message != "a" {
			t.Fatalf("instance a received %q", ev.Message)
		}
	}
	for _, ev := range h.record(t, b).Logs {
		if ev.Message != "b" {
			t.Fatalf("instance b received %q", ev.Message)
		}
	}
}

func TestClient_OpenFailureUnbinds(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	h.source.FailOpens(errors.New("dial tcp: connection refused"))

	err := h.client.Attach(context.Background(), id, "run-1")
	if err == nil {
		t.Fatal("Attach() error = nil, want error")
	}
	if !errors.Is(err, errors.ErrStreamFailed) {
		t.Errorf("Attach() error = %v, want ErrStreamFailed", err)
	}
	if h.client.Attached(id) {
		t.Error("Attached() = true after failed open")
	}

	rec := h.record(t, id)
	if rec.Status != state.StatusRunning || rec.RunID != "run-1" {
		t.Errorf("state = %s/%q, want running/run-1", rec.Status, rec.RunID)
	}
}

func TestClient_AttachRequiresCurrentRun(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")

	err := h.client.Attach(context.Background(), id, "run-other")
	if !errors.Is(err, errors.ErrStreamClosed) {
		t.Errorf("Attach() error = %v, want ErrStreamClosed", err)
	}
	if len(h.source.Conns()) != 0 {
		t.Errorf("opened %d connections, want 0", len(h.source.Conns()))
	}
}

func TestClient_CloseInstanceDetaches(t *testing.T) {
	h := newHarness(t)
	id := h.running(t, "run-1")
	conn := h.attach(t, id, "run-1")

	if _, err := h.reg.Close(id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.Closed() {
		t.Error("connection open after instance close")
	}
	if h.reg.AppendLog(id, instance.LogEvent{Kind: instance.KindStdout, Message: "x"}) {
		t.Error("AppendLog() on closed instance = true")
	}
}

func TestClient_DetachAll(t *testing.T) {
	h := newHarness(t)
	var conns []*testutil.FakeConn
	var ids []string
	for _, run := range []string{"run-1", "run-2", "run-3"} {
		id := h.running(t, run)
		ids = append(ids, id)
		conns = append(conns, h.attach(t, id, run))
	}

	h.client.DetachAll()

	for i, c := range conns {
		if !c.Closed() {
			t.Errorf("conn %d still open", i)
		}
		if h.client.Attached(ids[i]) {
			t.Errorf("instance %d still attached", i)
		}
	}
}

func TestClient_LocksAreReleased(t *testing.T) {
	h := newHarness(t)

	var ids []string
	for i := range 20 {
		run := fmt.Sprintf("run-%d", i)
		id := h.running(t, run)
		h.attach(t, id, run)
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.client.Detach(id)
		}()
		go func() {
			defer wg.Done()
			h.client.Detach(id)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		if h.client.Attached(id) {
			t.Errorf("instance %s still attached", id)
		}
	}
	if n := h.client.LockCount(); n != 0 {
		t.Errorf("LockCount() = %d after detaching everything, want 0", n)
	}
}
