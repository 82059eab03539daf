package trace

import (
	"bufio"
	"io"
	"sync"
)

// StreamTracer encodes events to a writer as they are emitted. Output to a
// file it opened itself is buffered until Flush or Close.
type StreamTracer struct {
	gate
	format Format

	mu      sync.Mutex
	w       io.Writer
	buf     *bufio.Writer
	closer  io.Closer
	scratch []byte
}

// NewStreamTracer writes unbuffered to w. Close never closes w.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	return newStream(w, nil, level, format)
}

func newStream(w io.Writer, closer io.Closer, level Level, format Format) *StreamTracer {
	t := &StreamTracer{gate: gate{level}, format: format.resolve(""), w: w, closer: closer}
	if closer != nil {
		t.buf = bufio.NewWriter(w)
		t.w = t.buf
	}
	return t
}

// Emit encodes ev. Write errors are dropped so that a broken sink never
// fails specialization.
func (t *StreamTracer) Emit(ev *Event) {
	if !recorded(t.level, ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scratch = AppendEvent(t.scratch[:0], ev, t.format)
	_, _ = t.w.Write(t.scratch)
}

func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf != nil {
		return t.buf.Flush()
	}
	return nil
}

// Close flushes and closes the file the tracer opened, if any.
func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}
