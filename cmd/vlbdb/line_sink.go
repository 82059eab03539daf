package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"vlbdb/internal/batch"
)

// lineSink prints one line per finished job when no TUI is shown.
type lineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w}
}

func (s *lineSink) OnEvent(ev batch.Event) {
	if ev.Stage != batch.StageFinish {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	verb := "done in"
	if ev.Err != nil {
		verb = "failed after"
	}
	fmt.Fprintf(s.w, "%s: %s %s\n", ev.Job, verb, ev.Elapsed.Round(time.Microsecond))
}
