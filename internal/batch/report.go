package batch

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// WriteReport prints one line per job followed by a summary.
func WriteReport(w io.Writer, results []Result) error {
	for _, r := range results {
		if _, err := io.WriteString(w, ReportLine(r)+"\n"); err != nil {
			return err
		}
		if r.Residual != "" {
			if _, err := io.WriteString(w, indent(r.Residual)); err != nil {
				return err
			}
		}
		if r.Output != "" {
			if _, err := io.WriteString(w, indent(r.Output)); err != nil {
				return err
			}
		}
	}
	failed := Failed(results)
	summary := fmt.Sprintf("%d jobs, %d ok", len(results), len(results)-failed)
	if failed > 0 {
		summary += ", " + failColor.Sprintf("%d failed", failed)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

// ReportLine renders the one-line summary of a job.
func ReportLine(r Result) string {
	var sb strings.Builder
	if r.Err != nil {
		sb.WriteString(failColor.Sprint("FAIL"))
	} else {
		sb.WriteString(okColor.Sprint("ok  "))
	}
	fmt.Fprintf(&sb, " %s", r.Job)
	if r.Err != nil {
		fmt.Fprintf(&sb, ": %v", r.Err)
		return sb.String()
	}
	if r.Called {
		fmt.Fprintf(&sb, " = %d", int64(r.Value)) //nolint:gosec // G115: two's complement reinterpretation
	}
	fmt.Fprintf(&sb, " %s", dimColor.Sprintf("[%s, %d clones, %d folds, %s interned in %d blobs, unit %s]",
		r.Elapsed.Round(time.Microsecond),
		r.Stats.Clones,
		r.Stats.Folds,
		units.HumanSize(float64(r.Stats.InternedBytes)),
		r.Stats.InternedBlobs,
		shortID(r),
	))
	return sb.String()
}

func shortID(r Result) string {
	s := r.UnitID.String()
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

func indent(s string) string {
	lines := strings.SplitAfter(strings.TrimRight(s, "\n"), "\n")
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString("    ")
		sb.WriteString(strings.TrimRight(l, "\n"))
		sb.WriteByte('\n')
	}
	return sb.String()
}
