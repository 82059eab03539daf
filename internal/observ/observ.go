// Package observ measures the wall-clock cost of the stages a job goes
// through.
package observ

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Lap is one measured stage.
type Lap struct {
	Name    string
	Start   time.Time
	Elapsed time.Duration
	Note    string
}

// Timer records laps in start order. Not safe for concurrent use. A nil
// Timer records nothing.
type Timer struct {
	laps []Lap
}

// Start opens a lap. The returned func closes it with an optional note and
// reports its duration; calls after the first are no-ops.
func (t *Timer) Start(name string) func(note string) time.Duration {
	if t == nil {
		return func(string) time.Duration { return 0 }
	}
	i := len(t.laps)
	t.laps = append(t.laps, Lap{Name: name, Start: time.Now()})
	closed := false
	return func(note string) time.Duration {
		lap := &t.laps[i]
		if !closed {
			closed = true
			lap.Elapsed, lap.Note = time.Since(lap.Start), note
		}
		return lap.Elapsed
	}
}

// Laps returns a copy of the recorded laps.
func (t *Timer) Laps() []Lap {
	if t == nil {
		return nil
	}
	return append([]Lap(nil), t.laps...)
}

// Of sums the laps called name.
func (t *Timer) Of(name string) time.Duration {
	var d time.Duration
	for _, l := range t.Laps() {
		if l.Name == name {
			d += l.Elapsed
		}
	}
	return d
}

// Total sums every lap.
func (t *Timer) Total() time.Duration {
	var d time.Duration
	for _, l := range t.Laps() {
		d += l.Elapsed
	}
	return d
}

// WriteTo writes one row per lap with its share of the total.
func (t *Timer) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', tabwriter.AlignRight)
	total := t.Total()
	for _, l := range t.Laps() {
		fmt.Fprintf(tw, "%s\t%s\t%4.1f%%\t%s\n", l.Name, l.Elapsed.Round(time.Microsecond), share(l.Elapsed, total), l.Note)
	}
	fmt.Fprintf(tw, "total\t%s\t\t\n", total.Round(time.Microsecond))
	_ = tw.Flush()
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func share(d, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(d) / float64(total)
}
