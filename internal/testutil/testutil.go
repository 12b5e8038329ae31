// Package testutil provides fakes for the backend collaborators of the
// instance orchestrator: a scriptable event stream source and an in-memory
// run execution service.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance/stream"
)

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// -----------------------------------------------------------------------------
// Stream fakes
// -----------------------------------------------------------------------------

// ErrConnClosed is returned by FakeConn.Next after Close.
var ErrConnClosed = errors.New("fake connection closed")

// FakeConn is a stream connection driven by the test.
type FakeConn struct {
	RunID string

	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

// NewFakeConn creates an open FakeConn.
func NewFakeConn(runID string) *FakeConn {
	return &FakeConn{
		RunID:  runID,
		frames: make(chan []byte),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

// Send hands one frame to the reader and waits until it is taken. It
// reports false if the connection was closed first.
func (c *FakeConn) Send(frame string) bool {
	select {
	case c.frames <- []byte(frame):
		return true
	case <-c.closed:
		return false
	}
}

// Fail makes the pending Next return err.
func (c *FakeConn) Fail(err error) bool {
	select {
	case c.errs <- err:
		return true
	case <-c.closed:
		return false
	}
}

// Next implements stream.Conn.
func (c *FakeConn) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrConnClosed
	default:
	}
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements stream.Conn.
func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FakeSource hands out FakeConns and records every open.
type FakeSource struct {
	mu      sync.Mutex
	conns   []*FakeConn
	openErr error
}

// NewFakeSource creates a FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{}
}

// FailOpens makes subsequent opens fail with err (nil restores success).
func (s *FakeSource) FailOpens(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// Open implements stream.Source.
func (s *FakeSource) Open(_ context.Context, runID string) (stream.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	c := NewFakeConn(runID)
	s.conns = append(s.conns, c)
	return c, nil
}

// Conns returns every connection opened so far, oldest first.
func (s *FakeSource) Conns() []*FakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*FakeConn(nil), s.conns...)
}

// Latest returns the most recent connection for runID, or nil.
func (s *FakeSource) Latest(runID string) *FakeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.conns) - 1; i >= 0; i-- {
		if s.conns[i].RunID == runID {
			return s.conns[i]
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Run service fake
// -----------------------------------------------------------------------------

// StartCall records one StartRun invocation.
type StartCall struct {
	ScriptRef string
	Params    map[string]any
}

// FakeRunService is an in-memory run execution service. Run ids are
// "run-1", "run-2", ... in call order.
type FakeRunService struct {
	mu       sync.Mutex
	next     int
	starts   []StartCall
	stops    []string
	startErr error
	stopErr  error
	gate     chan struct{}
}

// NewFakeRunService creates a FakeRunService.
func NewFakeRunService() *FakeRunService {
	return &FakeRunService{}
}

// FailStarts makes StartRun return err (nil restores success).
func (f *FakeRunService) FailStarts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// FailStops makes StopRun return err (nil restores success).
func (f *FakeRunService) FailStops(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

// HoldStarts makes StartRun block until the returned release func is called.
func (f *FakeRunService) HoldStarts() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// StartRun records the call and returns the next run id.
func (f *FakeRunService) StartRun(ctx context.Context, scriptRef string, params map[string]any) (string, error) {
	f.mu.Lock()
	f.starts = append(f.starts, StartCall{ScriptRef: scriptRef, Params: maps.Clone(params)})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	return fmt.Sprintf("run-%d", f.next), nil
}

// StopRun records the call.
func (f *FakeRunService) StopRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, runID)
	return f.stopErr
}

// Starts returns recorded StartRun calls.
func (f *FakeRunService) Starts() []StartCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StartCall(nil), f.starts...)
}

// Stops returns run ids passed to StopRun, in order.
func (f *FakeRunService) Stops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}
