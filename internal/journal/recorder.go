package journal

import (
	"context"
	"sync"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/event"
	"github.com/tibame201020/opencv-custom-sub001/internal/logging"
)

// writeTimeout bounds a single journal write.
const writeTimeout = 5 * time.Second

// Recorder copies run lifecycle and log events from a bus into a Store.
//
// Bus handlers only enqueue; a single writer goroutine drains the queue in
// publish order, so a slow disk never stalls the publisher.
type Recorder struct {
	store  *Store
	bus    *event.Bus
	logger *logging.Logger
	subs   []string

	mu      sync.Mutex
	idle    *sync.Cond // signalled when pending drops to zero
	queue   []event.Event
	pending int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewRecorder subscribes to bus and starts writing into store.
func NewRecorder(store *Store, bus *event.Bus, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Recorder{
		store:  store,
		bus:    bus,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.idle = sync.NewCond(&r.mu)
	for _, t := range []string{event.TypeRunStarted, event.TypeLogAppended, event.TypeRunEnded} {
		r.subs = append(r.subs, bus.Subscribe(t, r.enqueue))
	}
	go r.run()
	return r
}

func (r *Recorder) enqueue(e event.Event) {
	if le, ok := e.(event.LogAppendedEvent); ok && le.RunID == "" {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, e)
	r.pending++
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()

		for _, e := range batch {
			r.write(e)
		}
		r.mu.Lock()
		r.pending -= len(batch)
		if r.pending == 0 {
			r.idle.Broadcast()
		}
		r.mu.Unlock()
		if closed {
			return
		}
		if len(batch) == 0 {
			<-r.wake
		}
	}
}

func (r *Recorder) write(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch ev := e.(type) {
	case event.RunStartedEvent:
		err = r.store.StartRun(ctx, Run{
			RunID:      ev.RunID,
			InstanceID: ev.InstanceID,
			ScriptRef:  ev.ScriptRef,
			Label:      ev.Label,
			Params:     ev.Params,
			StartedAt:  ev.Timestamp(),
		})
	case event.LogAppendedEvent:
		err = r.store.AppendLog(ctx, LogRow{
			RunID:      ev.RunID,
			Seq:        ev.Seq,
			Kind:       ev.Kind,
			Message:    ev.Message,
			Data:       ev.Data,
			ReceivedAt: ev.ReceivedAt,
		})
	case event.RunEndedEvent:
		err = r.store.EndRun(ctx, ev.RunID, ev.Status, ev.Reason, ev.Timestamp())
	}
	if err != nil {
		r.logger.Warn("journal write failed", "event", e.EventType(), "error", err)
	}
}

// Flush blocks until every queued event has been written.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.pending > 0 {
		r.idle.Wait()
	}
}

// Close unsubscribes, writes what is queued and stops the writer. It does
// not close the Store.
func (r *Recorder) Close() {
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	<-r.done
}
