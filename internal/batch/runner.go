package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vlbdb/internal/bindf"
	"vlbdb/internal/loader"
	"vlbdb/internal/mem"
	"vlbdb/internal/observ"
	"vlbdb/internal/trace"
	"vlbdb/internal/vlbdb"
)

// Options configures Run.
type Options struct {
	// Workers caps parallelism; zero uses the file's setting, then
	// GOMAXPROCS.
	Workers int
	// Progress receives per-stage events; may be nil.
	Progress ProgressSink
	// Unit is applied to every job's unit.
	Unit []vlbdb.Option
	// DefaultBudget applies to jobs that set no budget.
	DefaultBudget int
}

// Result is the outcome of one job.
type Result struct {
	Job    string
	UnitID uuid.UUID
	// Addr is the code address of the specialization.
	Addr mem.Addr
	// Value is the residual call's result; Called reports whether one ran.
	Value  uint64
	Called bool
	// Output collects what the job's code wrote through host functions.
	Output string
	// Residual holds the specialization's IR when the job asked for a dump.
	Residual string
	Stats    vlbdb.Stats
	Timings  *observ.Timer
	Elapsed  time.Duration
	Err      error
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Run executes the jobs of f in parallel, one unit per job. A failing job
// does not stop the others; its error is kept in its Result. Run itself
// fails only when ctx is cancelled.
func Run(ctx context.Context, f *File, opts Options) ([]Result, error) {
	results := make([]Result, len(f.Jobs))
	if len(f.Jobs) == 0 {
		return results, nil
	}
	jobs := opts.Workers
	if jobs <= 0 {
		jobs = f.Workers
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	for _, j := range f.Jobs {
		emit(opts.Progress, j.Name, StageLoad, StatusQueued, nil, 0)
	}

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "batch", 0)
	defer span.End(fmt.Sprintf("%d jobs", len(f.Jobs)))

	// indices are unique per goroutine, no mutex needed
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(f.Jobs)))
	for i := range f.Jobs {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			job := trace.Begin(tracer, trace.ScopeDriver, "batch.job", span.ID())
			results[i] = RunJob(f.Jobs[i], opts)
			job.WithExtra("unit", results[i].UnitID.String())
			job.End(f.Jobs[i].Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RunJob runs a single job on a fresh unit. Options.Workers is ignored.
func RunJob(job Job, opts Options) (res Result) {
	res.Job = job.Name
	res.Timings = new(observ.Timer)
	start := time.Now()
	sink := opts.Progress

	stage := func(st Stage, fn func() error) error {
		emit(sink, job.Name, st, StatusWorking, nil, 0)
		stop := res.Timings.Start(string(st))
		err := fn()
		note := ""
		if err != nil {
			note = "failed"
		}
		elapsed := stop(note)
		status := StatusDone
		if err != nil {
			status = StatusError
			err = fmt.Errorf("%s: %w", st, err)
		}
		emit(sink, job.Name, st, status, err, elapsed)
		return err
	}

	var u *vlbdb.Unit
	var out bytes.Buffer
	defer func() {
		if u != nil {
			res.Stats = u.Stats()
			u.Release()
		}
		res.Elapsed = time.Since(start)
		status := StatusDone
		if res.Err != nil {
			status = StatusError
		}
		emit(sink, job.Name, StageFinish, status, res.Err, res.Elapsed)
	}()

	res.Err = stage(StageLoad, func() error {
		mod, err := loader.Load(job.Module)
		if err != nil {
			return err
		}
		u, err = vlbdb.New(mod, opts.Unit...)
		if err != nil {
			return err
		}
		res.UnitID = u.ID()
		u.Engine().BindStandardHosts(&out)
		return nil
	})
	if res.Err != nil {
		return res
	}

	var fnAddr mem.Addr
	res.Err = stage(StageRegister, func() error {
		if _, err := u.RegisterAll(); err != nil {
			return err
		}
		budget := opts.DefaultBudget
		if job.Budget != nil {
			budget = *job.Budget
		}
		id, err := u.RegisterName(job.Func, budget)
		if err != nil {
			return err
		}
		fnAddr, err = u.Address(id)
		return err
	})
	if res.Err != nil {
		return res
	}

	res.Err = stage(StageSpecialize, func() error {
		raw, err := ResolveArgs(u, job.Args)
		if err != nil {
			return err
		}
		args, err := bindf.ParseArgs(job.Bind, raw)
		if err != nil {
			return err
		}
		res.Addr, err = bindf.Specializef(u, fnAddr, job.Bind, args...)
		if err != nil {
			return err
		}
		if job.Dump {
			res.Residual, err = u.Dump(res.Addr)
		}
		return err
	})
	if res.Err != nil || job.Call == nil {
		return res
	}

	res.Err = stage(StageCall, func() error {
		args, err := ParseCallArgs(job.Call)
		if err != nil {
			return err
		}
		res.Value, err = u.Call(res.Addr, args...)
		res.Output = out.String()
		if err != nil {
			return err
		}
		res.Called = true
		if job.Expect != nil && int64(res.Value) != *job.Expect { //nolint:gosec // G115: two's complement reinterpretation
			return &ExpectError{Want: *job.Expect, Got: int64(res.Value)} //nolint:gosec // G115: same as above
		}
		return nil
	})
	return res
}

// ExpectError reports a residual call whose result differs from the job's
// expect value.
type ExpectError struct {
	Want, Got int64
}

func (e *ExpectError) Error() string {
	return fmt.Sprintf("got %d, expected %d", e.Got, e.Want)
}

// IsExpectError reports whether err is an expectation mismatch.
func IsExpectError(err error) bool {
	var e *ExpectError
	return errors.As(err, &e)
}

func emit(sink ProgressSink, job string, stage Stage, status Status, err error, elapsed time.Duration) {
	if sink == nil {
		return
	}
	sink.OnEvent(Event{Job: job, Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}
