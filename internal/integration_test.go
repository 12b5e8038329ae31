// Package internal contains end-to-end tests that drive the orchestrator
// against an in-process script backend over real HTTP and WebSocket
// connections, with the run journal recording alongside.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tibame201020/opencv-custom-sub001/internal/config"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/journal"
	"github.com/tibame201020/opencv-custom-sub001/internal/orchestrator"
	"github.com/tibame201020/opencv-custom-sub001/internal/testutil"
)

const waitTimeout = 3 * time.Second

// dropFrame makes the fake backend close a stream without an exit signal.
const dropFrame = "\x00drop"

// fakeBackend serves the script backend's HTTP API and log streams.
type fakeBackend struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	next    int
	params  map[string]string
	streams map[string]chan string
	stops   []string
	refuse  string
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	b := &fakeBackend{
		t:       t,
		params:  make(map[string]string),
		streams: make(map[string]chan string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scripts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]string{
			{"id": "desktop_farm", "name": "Desktop Farm", "platform": "desktop"},
			{"id": "android_login", "name": "Android Login", "platform": "android"},
		})
	})
	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{"emulator-5554"})
	})
	mux.HandleFunc("POST /api/run", b.handleRun)
	mux.HandleFunc("POST /api/stop", b.handleStop)
	mux.HandleFunc("/ws/logs/", b.handleStream)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptID string `json:"scriptId"`
		Params   string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refuse != "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": b.refuse})
		return
	}
	b.next++
	runID := fmt.Sprintf("run-%d", b.next)
	b.params[runID] = req.Params
	b.streams[runID] = make(chan string, 16)
	writeJSON(w, http.StatusOK, map[string]string{"runId": runID})
}

func (b *fakeBackend) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"runId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.stops = append(b.stops, req.RunID)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (b *fakeBackend) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/ws/logs/")
	b.mu.Lock()
	frames, ok := b.streams[runID]
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Drain client frames so close messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case f := <-frames:
			if f == dropFrame {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (b *fakeBackend) push(runID string, frames ...string) {
	b.mu.Lock()
	ch := b.streams[runID]
	b.mu.Unlock()
	if ch == nil {
		b.t.Fatalf("no stream for %s", runID)
	}
	for _, f := range frames {
		ch <- f
	}
}

func (b *fakeBackend) runParams(runID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params[runID]
}

func (b *fakeBackend) stopped() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stops...)
}

type stack struct {
	backend  *fakeBackend
	orch     *orchestrator.Orchestrator
	store    *journal.Store
	recorder *journal.Recorder
}

func newStack(t *testing.T) *stack {
	t.Helper()
	backend, srv := newFakeBackend(t)

	cfg := config.Default()
	cfg.Backend.BaseURL = srv.URL + "/api"
	cfg.Stream.HandshakeTimeoutMs = 2000

	orch := orchestrator.NewFromConfig(cfg, nil)
	store, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	recorder := journal.NewRecorder(store, orch.Bus(), nil)
	t.Cleanup(func() {
		_ = orch.Shutdown(context.Background(), false)
		recorder.Close()
		_ = store.Close()
	})

	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return &stack{backend: backend, orch: orch, store: store, recorder: recorder}
}

func (s *stack) waitStatus(t *testing.T, id string, want state.Status) instance.Record {
	t.Helper()
	var rec instance.Record
	testutil.WaitFor(t, waitTimeout, "status "+string(want), func() bool {
		rec, _ = s.orch.Get(id)
		return rec.Status == want
	})
	return rec
}

func TestEndToEnd_RunToCompletion(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if got := len(s.orch.Scripts()); got != 2 {
		t.Fatalf("Scripts() = %d, want 2", got)
	}
	if devices := s.orch.Devices(); len(devices) != 1 || devices[0] != "emulator-5554" {
		t.Fatalf("Devices() = %v", devices)
	}

	id, err := s.orch.Open("desktop_farm")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.orch.SetParams(id, map[string]any{"loops": 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.orch.Start(ctx, id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.backend.runParams("run-1"); got != `{"loops":3}` {
		t.Errorf("backend params = %q", got)
	}

	s.backend.push("run-1",
		`{"type":"stdout","message":"loop 1"}`,
		`"{\"type\":\"stderr\",\"message\":\"slow frame\"}"`,
		`plain text line`,
		`{"type":"status","message":"Process exited","data":{"exitCode":0}}`,
	)
	rec := s.waitStatus(t, id, state.StatusStopped)

	if rec.LogCount != 4 {
		t.Fatalf("LogCount = %d, want 4", rec.LogCount)
	}
	kinds := []instance.Kind{instance.KindStdout, instance.KindStderr, instance.KindStdout, instance.KindStatus}
	for i, ev := range rec.Logs {
		if ev.Kind != kinds[i] {
			t.Errorf("log %d kind = %s, want %s", i, ev.Kind, kinds[i])
		}
	}

	s.recorder.Flush()
	run, err := s.store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !run.Ended() || run.Status != string(state.StatusStopped) || run.Label != "Desktop Farm" {
		t.Errorf("journal run = %+v", run)
	}
	rows, err := s.store.RunLogs(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || rows[1].Message != "slow frame" {
		t.Errorf("journal logs = %+v", rows)
	}
}

func TestEndToEnd_StopAndRestart(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	id, _ := s.orch.Open("android_login")
	if err := s.orch.Start(ctx, id); err == nil {
		t.Fatal("android script without a device should not start")
	}
	_ = s.orch.SetParams(id, map[string]any{"deviceId": "emulator-5554"})
	if err := s.orch.Start(ctx, id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.backend.push("run-1", `{"type":"stdout","message":"first run"}`)
	testutil.WaitFor(t, waitTimeout, "first log", func() bool {
		rec, _ := s.orch.Get(id)
		return rec.LogCount == 1
	})

	if err := s.orch.Stop(ctx, id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := s.backend.stopped(); len(got) != 1 || got[0] != "run-1" {
		t.Errorf("backend stops = %v", got)
	}

	if err := s.orch.Start(ctx, id); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	rec, _ := s.orch.Get(id)
	if rec.RunID != "run-2" || rec.Status != state.StatusRunning {
		t.Fatalf("after restart = %s/%s", rec.RunID, rec.Status)
	}

	s.backend.push("run-2", `{"type":"stdout","message":"second run"}`)
	testutil.WaitFor(t, waitTimeout, "second log", func() bool {
		rec, _ := s.orch.Get(id)
		return rec.LogCount == 2
	})
	rec, _ = s.orch.Get(id)
	if last := rec.Logs[len(rec.Logs)-1]; last.Message != "second run" {
		t.Errorf("last log = %q", last.Message)
	}

	s.recorder.Flush()
	first, err := s.store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Ended() || first.Status != string(state.StatusStopped) {
		t.Errorf("run-1 in journal = %+v", first)
	}
}

func TestEndToEnd_StreamDropIsAnError(t *testing.T) {
	s := newStack(t)
	id, _ := s.orch.Open("desktop_farm")
	if err := s.orch.Start(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	s.backend.push("run-1", `{"type":"stdout","message":"about to vanish"}`, dropFrame)
	rec := s.waitStatus(t, id, state.StatusError)
	if rec.Logs[0].Message != "about to vanish" {
		t.Errorf("logs = %+v", rec.Logs)
	}
}

func TestEndToEnd_BackendRefusesStart(t *testing.T) {
	s := newStack(t)
	s.backend.mu.Lock()
	s.backend.refuse = "device busy"
	s.backend.mu.Unlock()

	id, _ := s.orch.Open("desktop_farm")
	err := s.orch.Start(context.Background(), id)
	if err == nil {
		t.Fatal("Start() should fail")
	}
	if !errors.Is(err, errors.ErrRunStartFailed) {
		t.Errorf("err = %v, want ErrRunStartFailed in chain", err)
	}
	rec, _ := s.orch.Get(id)
	if rec.Status != state.StatusError {
		t.Errorf("status = %s, want error", rec.Status)
	}
	if n := len(rec.Logs); n != 1 || !strings.Contains(rec.Logs[0].Message, "device busy") {
		t.Errorf("logs = %+v", rec.Logs)
	}
}
