// Package stream attaches execution instances to their live event streams.
//
// A Client keeps at most one connection per instance. Each connection gets a
// generation token from the Sink when it is attached, and every delivery
// carries that token so the Sink can drop anything from a connection that has
// since been replaced.
package stream

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
)

// Source opens event streams for runs.
type Source interface {
	Open(ctx context.Context, runID string) (Conn, error)
}

// Conn is a single stream connection. Next blocks until a frame arrives, the
// connection fails, or Close is called. Close must unblock a pending Next.
type Conn interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Sink receives decoded events. *instance.Registry implements it.
type Sink interface {
	BindStream(id, runID string) (uint64, bool)
	Deliver(id string, gen uint64, ev instance.LogEvent) bool
	StreamEnded(id string, gen uint64, end instance.StreamEnd)
	UnbindStream(id string, gen uint64)
}

type handle struct {
	runID  string
	gen    uint64
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// Client manages stream connections keyed by instance id.
type Client struct {
	source Source
	sink   Sink
	logger *logging.Logger

	mu    sync.Mutex
	conns map[string]*handle
	locks map[string]*instanceLock
}

// instanceLock serializes Attach and Detach for one instance. refs counts
// the callers holding or waiting on it; the lock is dropped at zero.
type instanceLock struct {
	sync.Mutex
	refs int
}

// NewClient creates a Client.
func NewClient(source Source, sink Sink, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		source: source,
		sink:   sink,
		logger: logger,
		conns:  make(map[string]*handle),
		locks:  make(map[string]*instanceLock),
	}
}

// lock acquires the instance's lock.
func (c *Client) lock(id string) *instanceLock {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &instanceLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return l
}

// unlock releases l and forgets it once nobody else holds or awaits it.
func (c *Client) unlock(id string, l *instanceLock) {
	l.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 && c.locks[id] == l {
		delete(c.locks, id)
	}
}

// Attach connects instance id to the stream of runID, replacing any
// existing connection. The old connection is fully closed before the new one
// is opened.
func (c *Client) Attach(ctx context.Context, id, runID string) error {
	l := c.lock(id)
	defer c.unlock(id, l)

	c.detachLocked(id)

	log := c.logger.WithInstance(id).WithRun(runID)

	gen, ok := c.sink.BindStream(id, runID)
	if !ok {
		return errors.NewStreamError("instance is not waiting on this run", errors.ErrStreamClosed).
			WithInstanceID(id).WithRunID(runID)
	}

	conn, err := c.source.Open(ctx, runID)
	if err != nil {
		c.sink.UnbindStream(id, gen)
		log.Failure("stream open failed", err)
		var se *errors.StreamError
		if errors.As(err, &se) {
			return err
		}
		return errors.NewStreamError("open failed", err).WithInstanceID(id).WithRunID(runID)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	h := &handle{
		runID:  runID,
		gen:    gen,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.conns[id] = h
	c.mu.Unlock()

	log.Info("stream attached", "generation", gen)
	go c.read(readCtx, id, h)
	return nil
}

func (c *Client) read(ctx context.Context, id string, h *handle) {
	defer close(h.done)
	log := c.logger.WithInstance(id).WithRun(h.runID)

	for {
		raw, err := h.conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			se := errors.NewStreamError("connection closed", err).WithInstanceID(id).WithRunID(h.runID)
			log.Failure("stream ended without exit signal", se)
			c.sink.StreamEnded(id, h.gen, instance.StreamEnd{Err: se})
			c.finish(id, h)
			return
		}

		msg := Decode(raw)
		c.sink.Deliver(id, h.gen, msg.Event)
		if msg.Exit {
			log.Info("run exited", "message", msg.Event.Message)
			c.sink.StreamEnded(id, h.gen, instance.StreamEnd{Completed: true})
			c.finish(id, h)
			return
		}
	}
}

// finish closes a connection that ended on its own.
func (c *Client) finish(id string, h *handle) {
	_ = h.conn.Close()
	h.cancel()
	c.mu.Lock()
	if c.conns[id] == h {
		delete(c.conns, id)
	}
	c.mu.Unlock()
}

// Detach closes instance id's connection, if any, and returns once its
// reader has exited. It is idempotent.
func (c *Client) Detach(id string) {
	l := c.lock(id)
	defer c.unlock(id, l)
	c.detachLocked(id)
}

func (c *Client) detachLocked(id string) {
	c.mu.Lock()
	h := c.conns[id]
	delete(c.conns, id)
	c.mu.Unlock()

	if h == nil {
		return
	}

	h.cancel()
	_ = h.conn.Close()
	<-h.done
	c.sink.UnbindStream(id, h.gen)
	c.logger.WithInstance(id).WithRun(h.runID).Debug("stream detached", "generation", h.gen)
}

// Attached reports whether instance id has a live connection.
func (c *Client) Attached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[id]
	return ok
}

// DetachAll closes every connection concurrently and waits for all readers.
func (c *Client) DetachAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var wg conc.WaitGroup
	for _, id := range ids {
		wg.Go(func() { c.Detach(id) })
	}
	wg.Wait()
}
