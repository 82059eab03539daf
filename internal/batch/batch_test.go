package batch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"vlbdb/internal/batch"
	"vlbdb/internal/irtext"
	"vlbdb/internal/vlbdb"
)

const moduleSrc = `
declare void @print_i64(i64)

define i64 @add(i64 %x, i64 %y) {
entry:
  %r = add i64 %x, %y
  ret i64 %r
}

define i64 @double(i64 %x) {
entry:
  %r = add i64 %x, %x
  ret i64 %r
}

define i64 @apply(ptr %fp, i64 %x) {
entry:
  %a = call i64 %fp(i64 %x)
  %r = add i64 %a, %x
  ret i64 %r
}

define i64 @first(ptr %p) {
entry:
  %b = load i8, ptr %p
  %r = zext i8 %b to i64
  ret i64 %r
}

define i64 @shout(i64 %x) {
entry:
  call void @print_i64(i64 %x)
  ret i64 %x
}
`

const jobsSrc = `
workers = 2

[[job]]
name = "add42"
module = "arith.vir"
func = "add"
bind = "%d"
args = ["42"]
call = ["5"]
expect = 47

[[job]]
name = "apply-double"
module = "arith.vir"
func = "apply"
bind = "%p %d"
args = ["@double", "10"]
call = []
expect = 30

[[job]]
name = "first-byte"
module = "arith.vir"
func = "first"
bind = "%5p"
args = ["str:hello"]
call = []
expect = 104
dump = true

[[job]]
name = "shout"
module = "arith.vir"
func = "shout"
call = ["-7"]

[[job]]
name = "wrong"
module = "arith.vir"
func = "add"
bind = "%d"
args = ["1"]
call = ["1"]
expect = 3

[[job]]
name = "missing"
module = "arith.vir"
func = "nope"
`

func writeJobs(t *testing.T, jobs string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "arith.vir"), []byte(moduleSrc), 0o600); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "jobs.toml")
	if err := os.WriteFile(path, []byte(jobs), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestModuleParses(t *testing.T) {
	if _, err := irtext.Parse("arith", []byte(moduleSrc)); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeJobs(t, jobsSrc)
	f, err := batch.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Workers != 2 || len(f.Jobs) != 6 {
		t.Fatalf("workers=%d jobs=%d", f.Workers, len(f.Jobs))
	}
	want := filepath.Join(filepath.Dir(path), "arith.vir")
	if f.Jobs[0].Module != want {
		t.Fatalf("module = %q, want %q", f.Jobs[0].Module, want)
	}
	if f.Jobs[3].Call == nil || f.Jobs[5].Call != nil {
		t.Fatalf("call presence not preserved: %v %v", f.Jobs[3].Call, f.Jobs[5].Call)
	}
	if got := strings.Join(f.Names(), ","); got != "add42,apply-double,first-byte,shout,wrong,missing" {
		t.Fatalf("Names = %s", got)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", "", "no [[job]] entries"},
		{"unknown key", "[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\nbudgte = 1\n", "unknown keys: job.budgte"},
		{"missing fields", "[[job]]\nbind = \"%d\"\nargs = [\"1\"]\n", "missing name"},
		{"duplicate", "[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\n[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\n", "duplicate name"},
		{"bad args", "[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\nbind = \"%d\"\nargs = [\"x\"]\n", `job "a"`},
		{"expect without call", "[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\nexpect = 1\n", "expect without call"},
		{"negative workers", "workers = -1\n[[job]]\nname = \"a\"\nmodule = \"m\"\nfunc = \"f\"\n", "workers must not be negative"},
		{"syntax", "[[job]\n", "failed to parse TOML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := batch.LoadFile(writeJobs(t, tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

type recordSink struct {
	mu     sync.Mutex
	events []batch.Event
}

func (s *recordSink) OnEvent(evt batch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func TestRun(t *testing.T) {
	f, err := batch.LoadFile(writeJobs(t, jobsSrc))
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordSink{}
	results, err := batch.Run(context.Background(), f, batch.Options{
		Progress: sink,
		Unit:     []vlbdb.Option{vlbdb.WithInlinePolicy(vlbdb.InlineConservative)},
	})
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]batch.Result, len(results))
	for i, r := range results {
		if r.Job != f.Jobs[i].Name {
			t.Fatalf("result %d is %q, want %q", i, r.Job, f.Jobs[i].Name)
		}
		byName[r.Job] = r
	}

	for name, want := range map[string]int64{"add42": 47, "apply-double": 30, "first-byte": 104, "shout": -7} {
		r := byName[name]
		if r.Err != nil {
			t.Fatalf("%s: %v", name, r.Err)
		}
		if !r.Called || int64(r.Value) != want { //nolint:gosec // test values are small
			t.Fatalf("%s = %d (called=%v), want %d", name, int64(r.Value), r.Called, want) //nolint:gosec // same
		}
	}
	if out := byName["shout"].Output; out != "-7\n" {
		t.Fatalf("shout output = %q", out)
	}
	first := byName["first-byte"]
	if first.Residual == "" || first.Stats.InternedBytes != 5 || first.Stats.InternedBlobs != 1 {
		t.Fatalf("first-byte: residual=%q stats=%+v", first.Residual, first.Stats)
	}
	if laps := byName["add42"].Timings.Laps(); len(laps) != 4 || laps[3].Name != string(batch.StageCall) {
		t.Fatalf("add42 laps = %+v", laps)
	}
	if byName["add42"].UnitID == byName["apply-double"].UnitID {
		t.Fatalf("jobs shared a unit")
	}

	if err := byName["wrong"].Err; !batch.IsExpectError(err) {
		t.Fatalf("wrong: err = %v, want expectation mismatch", err)
	}
	if err := byName["missing"].Err; !errors.Is(err, vlbdb.ErrUnknownFunction) {
		t.Fatalf("missing: err = %v, want ErrUnknownFunction", err)
	}
	if n := batch.Failed(results); n != 2 {
		t.Fatalf("Failed = %d, want 2", n)
	}

	var done, failed int
	for _, evt := range sink.events {
		switch {
		case evt.Stage == batch.StageCall && evt.Status == batch.StatusDone:
			done++
		case evt.Stage == batch.StageFinish && evt.Status == batch.StatusError:
			failed++
		}
	}
	if done != 4 || failed != 2 {
		t.Fatalf("call done events = %d, failed jobs = %d", done, failed)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f, err := batch.LoadFile(writeJobs(t, jobsSrc))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := batch.Run(ctx, f, batch.Options{Workers: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWriteReport(t *testing.T) {
	results := []batch.Result{
		{Job: "ok-job", Called: true, Value: 47, Output: "hi\n"},
		{Job: "bad-job", Err: errors.New("boom")},
	}
	var sb strings.Builder
	if err := batch.WriteReport(&sb, results); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{"ok-job = 47", "0B interned", "    hi\n", "bad-job: boom", "2 jobs, 1 ok", "1 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestParseCallArgs(t *testing.T) {
	got, err := batch.ParseCallArgs([]string{"-1", "0x10", "18446744073709551615", "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{^uint64(0), 16, ^uint64(0), 0x3ff8000000000000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if _, err := batch.ParseCallArgs([]string{"x"}); err == nil {
		t.Fatal("expected error")
	}
}
