package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/catalog"
	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/state"
	"github.com/tibame201020/opencv-custom-sub001/internal/testutil"
)

const waitTimeout = 2 * time.Second

type fakeDevices struct {
	list []string
	err  error
}

func (f fakeDevices) ListDevices(context.Context) ([]string, error) {
	return f.list, f.err
}

var scripts = catalog.Static{
	{Ref: "android_login", Label: "Android Login", Platform: "android"},
	{Ref: "desktop_farm", Label: "Desktop Farm", Platform: "desktop"},
}

type fixture struct {
	orch   *Orchestrator
	source *testutil.FakeSource
	runs   *testutil.FakeRunService
}

func newFixture(t *testing.T, devices DeviceLister) *fixture {
	t.Helper()
	source := testutil.NewFakeSource()
	runs := testutil.NewFakeRunService()
	orch := New(Deps{
		Runs:    runs,
		Source:  source,
		Catalog: scripts,
		Devices: devices,
	})
	t.Cleanup(func() { _ = orch.Shutdown(context.Background(), false) })
	if err := orch.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return &fixture{orch: orch, source: source, runs: runs}
}

func (f *fixture) get(t *testing.T, id string) instance.Record {
	t.Helper()
	rec, ok := f.orch.Get(id)
	if !ok {
		t.Fatalf("instance %s missing", id)
	}
	return rec
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, fakeDevices{list: []string{"emulator-5554"}})

	if got := f.orch.Scripts(); len(got) != 2 || got[0].Ref != "android_login" {
		t.Errorf("Scripts() = %+v", got)
	}
	if got := f.orch.Devices(); len(got) != 1 || got[0] != "emulator-5554" {
		t.Errorf("Devices() = %v", got)
	}
}

func TestRefresh_DeviceFailureKeepsCatalog(t *testing.T) {
	f := newFixture(t, fakeDevices{err: errors.New("adb not found")})

	if got := f.orch.Scripts(); len(got) != 2 {
		t.Errorf("Scripts() = %+v", got)
	}
	if got := f.orch.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %v, want none", got)
	}
}

func TestRefresh_CatalogFailure(t *testing.T) {
	orch := New(Deps{
		Runs:   testutil.NewFakeRunService(),
		Source: testutil.NewFakeSource(),
		Catalog: catalog.Func(func(context.Context) ([]catalog.Script, error) {
			return nil, errors.ErrBackendUnavailable
		}),
	})
	defer orch.Shutdown(context.Background(), false)

	if err := orch.Refresh(context.Background()); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("Refresh() error = %v", err)
	}
}

func TestOpen_UsesCatalogLabel(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.orch.Open("desktop_farm")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if rec := f.get(t, id); rec.Label != "Desktop Farm" {
		t.Errorf("Label = %q, want catalog name", rec.Label)
	}

	other, _ := f.orch.Open("unlisted")
	if rec := f.get(t, other); rec.Label != "unlisted" {
		t.Errorf("Label = %q, want ref", rec.Label)
	}
	if rec, _ := f.orch.Focused(); rec.ID != other {
		t.Errorf("Focused() = %s, want newest", rec.ID)
	}
}

func TestStart_RequiresDevice(t *testing.T) {
	f := newFixture(t, nil)
	id, _ := f.orch.Open("android_login")

	err := f.orch.Start(context.Background(), id)
	if !errors.Is(err, errors.ErrParamsRequired) {
		t.Fatalf("Start() error = %v, want ErrParamsRequired", err)
	}
	rec := f.get(t, id)
	if rec.Status != state.StatusIdle || len(rec.Logs) != 0 {
		t.Errorf("instance changed: %s with %d logs", rec.Status, len(rec.Logs))
	}
	if len(f.runs.Starts()) != 0 {
		t.Error("backend was called without a device")
	}

	if err := f.orch.SetParams(id, map[string]any{catalog.DeviceParam: "emulator-5554"}); err != nil {
		t.Fatalf("SetParams() error = %v", err)
	}
	if err := f.orch.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec := f.get(t, id); rec.Status != state.StatusRunning || rec.SubView != instance.SubViewConsole {
		t.Errorf("state = %s view=%s", rec.Status, rec.SubView)
	}
}

func TestClose_StopsRunningInstance(t *testing.T) {
	f := newFixture(t, nil)
	id, _ := f.orch.Open("desktop_farm")
	if err := f.orch.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := f.source.Latest("run-1")

	if err := f.orch.Close(context.Background(), id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := f.orch.Get(id); ok {
		t.Error("instance still present")
	}
	if !conn.Closed() {
		t.Error("stream still open")
	}
	if got := f.runs.Stops(); len(got) != 1 || got[0] != "run-1" {
		t.Errorf("Stops() = %v, want [run-1]", got)
	}
	if err := f.orch.Close(context.Background(), id); !errors.Is(err, errors.ErrInstanceNotFound) {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_IdleInstanceDoesNotCallBackend(t *testing.T) {
	f := newFixture(t, nil)
	id, _ := f.orch.Open("desktop_farm")

	if err := f.orch.Close(context.Background(), id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(f.runs.Stops()); n != 0 {
		t.Errorf("StopRun called %d times", n)
	}
}

func TestClearKeepsStatus(t *testing.T) {
	f := newFixture(t, nil)
	id, _ := f.orch.Open("desktop_farm")
	if err := f.orch.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := f.source.Latest("run-1")
	conn.Send(`{"type":"stdout","message":"one"}`)
	testutil.WaitFor(t, waitTimeout, "first log", func() bool { return len(f.get(t, id).Logs) == 1 })

	if err := f.orch.Clear(id); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	rec := f.get(t, id)
	if len(rec.Logs) != 0 || rec.Status != state.StatusRunning || rec.RunID != "run-1" {
		t.Errorf("after clear: %d logs, %s, run=%q", len(rec.Logs), rec.Status, rec.RunID)
	}

	conn.Send(`{"type":"stdout","message":"two"}`)
	testutil.WaitFor(t, waitTimeout, "log after clear", func() bool { return len(f.get(t, id).Logs) == 1 })
	if got := f.get(t, id).Logs[0]; got.Message != "two" || got.Seq != 2 {
		t.Errorf("Logs[0] = %+v, want message two with seq 2", got)
	}
}

func TestExportLogs(t *testing.T) {
	f := newFixture(t, nil)
	id, _ := f.orch.Open("desktop_farm")
	if err := f.orch.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := f.source.Latest("run-1")
	conn.Send(`{"type":"stdout","message":"hello"}`)
	conn.Send(`{"type":"result","data":{"matched":true}}`)
	testutil.WaitFor(t, waitTimeout, "two logs", func() bool { return len(f.get(t, id).Logs) == 2 })

	var text bytes.Buffer
	if err := f.orch.ExportLogs(id, &text, ExportText); err != nil {
		t.Fatalf("ExportLogs(text) error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("text lines = %d, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[0], "[stdout] hello") || !strings.HasSuffix(lines[1], `[result] {"matched":true}`) {
		t.Errorf("text = %q", lines)
	}

	var jsonl bytes.Buffer
	if err := f.orch.ExportLogs(id, &jsonl, ExportJSONLines); err != nil {
		t.Fatalf("ExportLogs(jsonl) error = %v", err)
	}
	dec := json.NewDecoder(&jsonl)
	var got []exportedEvent
	for dec.More() {
		var ev exportedEvent
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Kind != "stdout" || got[1].Seq != 2 || string(got[1].Data) != `{"matched":true}` {
		t.Errorf("jsonl = %+v", got)
	}

	if err := f.orch.ExportLogs("missing", &text, ExportText); !errors.Is(err, errors.ErrInstanceNotFound) {
		t.Errorf("ExportLogs(missing) error = %v", err)
	}
}

func TestParseExportFormat(t *testing.T) {
	tests := map[string]ExportFormat{"": ExportText, "TEXT": ExportText, "json": ExportJSONLines, "jsonl": ExportJSONLines}
	for in, want := range tests {
		got, err := ParseExportFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseExportFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseExportFormat("xml"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("ParseExportFormat(xml) error = %v", err)
	}
}

func TestShutdown_StopsRuns(t *testing.T) {
	source := testutil.NewFakeSource()
	runs := testutil.NewFakeRunService()
	orch := New(Deps{Runs: runs, Source: source, Catalog: scripts})

	a, _ := orch.Open("desktop_farm")
	b, _ := orch.Open("desktop_farm")
	for _, id := range []string{a, b} {
		if err := orch.Start(context.Background(), id); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	if err := orch.Shutdown(context.Background(), true); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := len(runs.Stops()); n != 2 {
		t.Errorf("StopRun called %d times, want 2", n)
	}
	for _, c := range source.Conns() {
		if !c.Closed() {
			t.Errorf("stream %s still open", c.RunID)
		}
	}
	if _, err := orch.Open("x"); !errors.Is(err, errors.ErrRegistryClosed) {
		t.Errorf("Open() after Shutdown error = %v", err)
	}
}
