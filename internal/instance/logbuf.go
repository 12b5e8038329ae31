package instance

// LogBuffer holds an instance's log events in arrival order.
//
// With a positive capacity it is a ring: once full, each append evicts the
// oldest event so the buffer always holds the most recent cap events.
//
//	cap=3:  append a,b,c  -> [a b c]
//	        append d      -> [b c d]  dropped=1
//
// With capacity zero it grows without bound.
//
// LogBuffer is not safe for concurrent use; the registry serializes access.
type LogBuffer struct {
	events  []LogEvent
	cap     int
	start   int
	full    bool
	dropped uint64
	next    uint64
}

// NewLogBuffer creates a buffer retaining at most capacity events, or all
// events when capacity is zero or negative.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &LogBuffer{cap: capacity}
	if capacity > 0 {
		b.events = make([]LogEvent, 0, capacity)
	}
	return b
}

// Append stores ev, assigning its Seq, and returns the stored event.
func (b *LogBuffer) Append(ev LogEvent) LogEvent {
	b.next++
	ev.Seq = b.next

	switch {
	case b.cap == 0 || len(b.events) < b.cap:
		b.events = append(b.events, ev)
		if b.cap > 0 && len(b.events) == b.cap {
			b.full = true
		}
	default:
		b.events[b.start] = ev
		b.start = (b.start + 1) % b.cap
		b.dropped++
	}
	return ev
}

// Events returns a copy of the retained events, oldest first.
func (b *LogBuffer) Events() []LogEvent {
	out := make([]LogEvent, 0, len(b.events))
	if b.full {
		out = append(out, b.events[b.start:]...)
		out = append(out, b.events[:b.start]...)
		return out
	}
	return append(out, b.events...)
}

// Len returns the number of retained events.
func (b *LogBuffer) Len() int {
	return len(b.events)
}

// Dropped returns how many events have been evicted.
func (b *LogBuffer) Dropped() uint64 {
	return b.dropped
}

// Total returns how many events were ever appended, including cleared and
// evicted ones.
func (b *LogBuffer) Total() uint64 {
	return b.next
}

// Reset discards every retained event. Sequence numbering continues.
func (b *LogBuffer) Reset() {
	if b.cap > 0 {
		b.events = b.events[:0]
	} else {
		b.events = nil
	}
	b.start = 0
	b.full = false
	b.dropped = 0
}
