package trace

import (
	"errors"
	"io"
	"sync"
)

// RingTracer keeps the most recent events in memory.
type RingTracer struct {
	gate

	mu     sync.Mutex
	events []Event
	start  int
	n      int
}

// NewRingTracer keeps up to capacity events; a non-positive capacity uses
// DefaultRingSize.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingTracer{gate: gate{level}, events: make([]Event, capacity)}
}

// Emit stores a copy of ev, evicting the oldest event when full.
func (t *RingTracer) Emit(ev *Event) {
	if !recorded(t.level, ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n < len(t.events) {
		t.events[(t.start+t.n)%len(t.events)] = *ev
		t.n++
		return
	}
	t.events[t.start] = *ev
	t.start = (t.start + 1) % len(t.events)
}

// Len returns how many events are stored.
func (t *RingTracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Snapshot returns the stored events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, t.n)
	for i := range out {
		out[i] = t.events[(t.start+i)%len(t.events)]
	}
	return out
}

// Dump writes the stored events to w.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	var buf []byte
	for _, ev := range t.Snapshot() {
		buf = AppendEvent(buf, &ev, format.resolve(""))
	}
	_, err := w.Write(buf)
	return err
}

func (t *RingTracer) Flush() error { return nil }
func (t *RingTracer) Close() error { return nil }

// dumpOnClose is ring mode as built by New: the retained events are written
// to the output once, when the tracer is closed.
type dumpOnClose struct {
	*RingTracer
	w      io.Writer
	closer io.Closer
	format Format
	once   sync.Once
}

func (d *dumpOnClose) Close() error {
	var err error
	d.once.Do(func() {
		err = d.Dump(d.w, d.format)
		if d.closer != nil {
			err = errors.Join(err, d.closer.Close())
		}
	})
	return err
}
