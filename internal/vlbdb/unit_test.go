package vlbdb_test

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
	"vlbdb/internal/symtab"
	"vlbdb/internal/vlbdb"
)

var (
	binI64  = ir.Signature{Params: []ir.Type{ir.I64, ir.I64}, Result: ir.I64}
	unaryFn = ir.Signature{Params: []ir.Type{ir.I64}, Result: ir.I64}
)

func define(t *testing.T, m *ir.Module, name string, sig ir.Signature, labels ...string) (*ir.Func, *ir.Builder) {
	t.Helper()
	f, err := m.Define(name, sig, labels...)
	if err != nil {
		t.Fatal(err)
	}
	return f, ir.NewBuilder(f.Entry())
}

// arith builds add(x, y) = x + y, sub(x, y) = x - y and
// apply(fp, x) = fp(x) + x.
func arith(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("arith")
	add, bd := define(t, m, "add", binI64, "x", "y")
	bd.Ret(bd.Add(add.Params[0], add.Params[1]))

	sub, bd := define(t, m, "sub", binI64, "x", "y")
	bd.Ret(bd.Sub(sub.Params[0], sub.Params[1]))

	apply, bd := define(t, m, "apply", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "fp", "x")
	bd.Ret(bd.Add(bd.Call(apply.Params[0], unaryFn, apply.Params[1]), apply.Params[1]))
	return m
}

func newUnit(t *testing.T, m *ir.Module, opts ...vlbdb.Option) *vlbdb.Unit {
	t.Helper()
	u, err := vlbdb.New(m, opts...)
	if err != nil {
		t.Fatalf("vlbdb.New: %v", err)
	}
	t.Cleanup(u.Release)
	return u
}

func register(t *testing.T, u *vlbdb.Unit, name string, budget int) mem.Addr {
	t.Helper()
	id, err := u.RegisterName(name, budget)
	if err != nil {
		t.Fatalf("RegisterName(%s): %v", name, err)
	}
	addr, err := u.Address(id)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func specializeInts(t *testing.T, u *vlbdb.Unit, fn mem.Addr, args ...int64) mem.Addr {
	t.Helper()
	b, err := u.NewBinder(fn)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range args {
		if err := b.BindInt(a); err != nil {
			t.Fatal(err)
		}
	}
	addr, err := b.Specialize()
	if err != nil {
		t.Fatalf("Specialize: %v", err)
	}
	return addr
}

func call(t *testing.T, u *vlbdb.Unit, addr mem.Addr, args ...uint64) int64 {
	t.Helper()
	got, err := u.Call(addr, args...)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return int64(got) //nolint:gosec // G115: test values are small
}

func calls(t *testing.T, u *vlbdb.Unit, addr mem.Addr) []*ir.Instr {
	t.Helper()
	f, ok := u.FunctionAt(addr)
	if !ok {
		t.Fatalf("no function at %#x", addr)
	}
	var out []*ir.Instr
	for _, in := range f.Instrs() {
		if in.Op == ir.OpCall {
			out = append(out, in)
		}
	}
	return out
}

func TestSpecialize_Add(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)

	p := specializeInts(t, u, add, 42)
	if got := call(t, u, p, 5); got != 47 {
		t.Fatalf("add42(5) = %d, want 47", got)
	}
	before := u.Stats()

	q := specializeInts(t, u, add, 42)
	if q != p {
		t.Fatalf("second specialization returned %#x, want %#x", q, p)
	}
	after := u.Stats()
	if after.Clones != before.Clones || after.Hits != before.Hits+1 {
		t.Fatalf("repeat did work: before %+v after %+v", before, after)
	}
	if after.Compiled != before.Compiled {
		t.Fatalf("repeat recompiled: %d -> %d", before.Compiled, after.Compiled)
	}
}

func TestSpecialize_ApplyInlinesConstantCallee(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)
	apply := register(t, u, "apply", 0)
	add42 := specializeInts(t, u, add, 42)

	b, err := u.NewBinder(apply)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.BindPointer(add42); err != nil {
		t.Fatal(err)
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, p, 5); got != 52 {
		t.Fatalf("apply(add42)(5) = %d, want 52", got)
	}
	if cs := calls(t, u, p); len(cs) != 0 {
		dump, _ := u.Dump(p)
		t.Fatalf("residual still calls:\n%s", dump)
	}
	if u.Stats().Inlines == 0 {
		t.Fatalf("no inline recorded")
	}
}

func TestSpecialize_KeySensitivity(t *testing.T) {
	u := newUnit(t, arith(t))
	sub := register(t, u, "sub", 0)

	tests := []struct {
		args []int64
		want int64
	}{
		{[]int64{1, 2}, -1},
		{[]int64{2, 1}, 1},
		{[]int64{42}, 42 - 7},
		{[]int64{43}, 43 - 7},
	}
	seen := make(map[mem.Addr]bool)
	for _, tt := range tests {
		p := specializeInts(t, u, sub, tt.args...)
		if seen[p] {
			t.Fatalf("%v reused an unrelated specialization", tt.args)
		}
		seen[p] = true
		var rest []uint64
		if len(tt.args) == 1 {
			rest = []uint64{7}
		}
		if got := call(t, u, p, rest...); got != tt.want {
			t.Fatalf("sub%v = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestSpecialize_EdgeCases(t *testing.T) {
	m := arith(t)
	// isnull(p, n) = (p == null) + n
	isnull, bd := define(t, m, "isnull", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "p", "n")
	eq := bd.ICmp(ir.PredEQ, isnull.Params[0], ir.NewNull())
	bd.Ret(bd.Add(bd.Cast(ir.OpZExt, eq, ir.I64), isnull.Params[1]))

	u := newUnit(t, m)
	add := register(t, u, "add", 0)
	isnullAddr := register(t, u, "isnull", 0)

	t.Run("full arity", func(t *testing.T) {
		p := specializeInts(t, u, add, 40, 2)
		if got := call(t, u, p); got != 42 {
			t.Fatalf("add(40,2)() = %d", got)
		}
	})
	t.Run("zero args", func(t *testing.T) {
		p := specializeInts(t, u, add)
		if p != add {
			t.Fatalf("empty prefix should return the base function")
		}
		if got := call(t, u, p, 3, 4); got != 7 {
			t.Fatalf("add(3,4) = %d", got)
		}
	})
	t.Run("null pointer", func(t *testing.T) {
		b, _ := u.NewBinder(isnullAddr)
		if err := b.BindPointer(0); err != nil {
			t.Fatal(err)
		}
		p, err := b.Specialize()
		if err != nil {
			t.Fatal(err)
		}
		if got := call(t, u, p, 10); got != 11 {
			t.Fatalf("isnull(null)(10) = %d", got)
		}
	})
	t.Run("zero-length range", func(t *testing.T) {
		for _, intern := range []bool{true, false} {
			b, _ := u.NewBinder(isnullAddr)
			if err := b.BindRange(0, 0, intern); err != nil {
				t.Fatalf("intern=%v: %v", intern, err)
			}
			p, err := b.Specialize()
			if err != nil {
				t.Fatal(err)
			}
			want := int64(0)
			if !intern {
				want = 1 // frozen range at address 0 binds null
			}
			if got := call(t, u, p, 0); got != want {
				t.Fatalf("intern=%v: isnull = %d, want %d", intern, got, want)
			}
		}
	})
}

func TestBinder_Errors(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)
	apply := register(t, u, "apply", 0)

	t.Run("too many", func(t *testing.T) {
		b, _ := u.NewBinder(add)
		_ = b.BindInt(1)
		_ = b.BindInt(2)
		if err := b.BindInt(3); !errors.Is(err, vlbdb.ErrTooManyArgs) {
			t.Fatalf("third bind: %v", err)
		}
	})
	t.Run("kind mismatch poisons", func(t *testing.T) {
		b, _ := u.NewBinder(apply)
		err := b.BindInt(1)
		if !errors.Is(err, vlbdb.ErrKindMismatch) {
			t.Fatalf("BindInt on ptr: %v", err)
		}
		if err2 := b.BindPointer(add); !errors.Is(err2, vlbdb.ErrKindMismatch) {
			t.Fatalf("poisoned binder accepted a bind: %v", err2)
		}
		if _, err := b.Specialize(); !errors.Is(err, vlbdb.ErrKindMismatch) {
			t.Fatalf("Specialize on poisoned binder: %v", err)
		}
		if _, err := b.Specialize(); !errors.Is(err, vlbdb.ErrBinderConsumed) {
			t.Fatalf("reuse after Specialize: %v", err)
		}
	})
	t.Run("float on int", func(t *testing.T) {
		b, _ := u.NewBinder(add)
		if err := b.BindFloat(1.5); !errors.Is(err, vlbdb.ErrKindMismatch) {
			t.Fatalf("BindFloat on i64: %v", err)
		}
	})
	t.Run("unregistered", func(t *testing.T) {
		if _, err := u.NewBinder(0x1234); !errors.Is(err, vlbdb.ErrUnknownFunction) {
			t.Fatalf("NewBinder: %v", err)
		}
	})
	t.Run("register", func(t *testing.T) {
		if _, err := u.Register(0, "", 0); !errors.Is(err, vlbdb.ErrNoTarget) {
			t.Fatalf("Register(): %v", err)
		}
		_, err := u.RegisterName("_Z7missingPKc", 0)
		var re *vlbdb.ResolutionError
		if !errors.As(err, &re) || !errors.Is(err, vlbdb.ErrUnknownFunction) {
			t.Fatalf("missing name: %v", err)
		}
		if re.Demangled != "missing(char const*)" {
			t.Fatalf("Demangled = %q", re.Demangled)
		}
		if _, err := u.Register(0xdead0, "", 0); !errors.As(err, &re) {
			t.Fatalf("unknown address: %v", err)
		}
	})
}

func TestBinder_CopyAndRetain(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)

	b, _ := u.NewBinder(add)
	if err := b.BindInt(10); err != nil {
		t.Fatal(err)
	}
	c, err := b.Copy()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.BindInt(1); err != nil {
		t.Fatal(err)
	}
	full, err := c.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, full); got != 11 {
		t.Fatalf("copy = %d", got)
	}

	p1, err := b.SpecializeRetain()
	if err != nil {
		t.Fatal(err)
	}
	p2, err := b.SpecializeRetain()
	if err != nil || p1 != p2 {
		t.Fatalf("SpecializeRetain = %#x, %#x, %v", p1, p2, err)
	}
	if b.Bound() != 1 || b.Remaining() != 1 {
		t.Fatalf("original binder changed: %d bound", b.Bound())
	}
	if err := b.Retain(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Specialize(); err != nil {
		t.Fatal(err)
	}
	if err := b.Err(); err != nil {
		t.Fatalf("retained binder destroyed: %v", err)
	}
	b.Release()
	if err := b.Err(); !errors.Is(err, vlbdb.ErrBinderConsumed) {
		t.Fatalf("after last release: %v", err)
	}
}

func TestSpecialize_Respecialize(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)
	p := specializeInts(t, u, add, 1)
	q := specializeInts(t, u, p, 2)
	if got := call(t, u, q); got != 3 {
		t.Fatalf("add(1)(2) = %d", got)
	}
	direct := specializeInts(t, u, add, 1, 2)
	if direct != q {
		t.Fatalf("flattened keys should share a specialization")
	}
}

func TestIntern_Dedup(t *testing.T) {
	u := newUnit(t, arith(t))
	sp := u.Space()
	a, _ := sp.AllocBytes([]byte("pattern"), "a")
	b, _ := sp.AllocBytes([]byte("pattern"), "b")
	c, _ := sp.AllocBytes([]byte("patterm"), "c")

	ba, created, err := u.InternBlob(a, 7)
	if err != nil || !created {
		t.Fatalf("first intern: %v, %v", created, err)
	}
	bb, created, err := u.InternBlob(b, 7)
	if err != nil || created || bb != ba {
		t.Fatalf("equal contents not shared: %v, %v", created, err)
	}
	bc, created, err := u.InternBlob(c, 7)
	if err != nil || !created || bc == ba {
		t.Fatalf("differing contents shared: %v, %v", created, err)
	}
	if string(ba.Bytes()) != "pattern" || ba.Size() != 7 {
		t.Fatalf("blob = %q", ba.Bytes())
	}
	if _, err := u.Intern(0xdead0, 4); err == nil {
		t.Fatalf("intern of unmapped memory succeeded")
	}
}

// loader builds load64(p, k) = *(i64*)p + k and first(p) = zext(*(i8*)p).
func loader(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("loads")
	load64, bd := define(t, m, "load64", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "p", "k")
	bd.Ret(bd.Add(bd.Load(ir.I64, load64.Params[0]), load64.Params[1]))

	first, bd := define(t, m, "first", ir.Signature{Params: []ir.Type{ir.Ptr}, Result: ir.I64}, "p")
	bd.Ret(bd.Cast(ir.OpZExt, bd.Load(ir.I8, first.Params[0]), ir.I64))
	return m
}

func hasLoad(t *testing.T, u *vlbdb.Unit, addr mem.Addr) bool {
	t.Helper()
	f, _ := u.FunctionAt(addr)
	for _, in := range f.Instrs() {
		if in.Op == ir.OpLoad {
			return true
		}
	}
	return false
}

func TestFreeze_BoundsSafety(t *testing.T) {
	u := newUnit(t, loader(t))
	load64 := register(t, u, "load64", 0)

	word := make([]byte, 16)
	binary.LittleEndian.PutUint64(word, 1000)
	short, _ := u.Space().AllocBytes(word, "short")
	whole, _ := u.Space().AllocBytes(word, "whole")

	tests := []struct {
		name   string
		addr   mem.Addr
		size   uint64
		folded bool
	}{
		{"range shorter than load", short, 4, false},
		{"range covers load", whole, 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := u.NewBinder(load64)
			if err := b.BindRange(tt.addr, tt.size, false); err != nil {
				t.Fatal(err)
			}
			p, err := b.Specialize()
			if err != nil {
				t.Fatal(err)
			}
			if got := hasLoad(t, u, p); got == tt.folded {
				dump, _ := u.Dump(p)
				t.Fatalf("load folded = %v, want %v:\n%s", !got, tt.folded, dump)
			}
			if got := call(t, u, p, 1); got != 1001 {
				t.Fatalf("load64 = %d", got)
			}
		})
	}

	again, err := u.Freeze(whole, 8)
	if err != nil || again {
		t.Fatalf("refreeze = %v, %v; want false, nil", again, err)
	}
}

func TestIntern_LoadFolds(t *testing.T) {
	u := newUnit(t, loader(t))
	first := register(t, u, "first", 0)
	s, _ := u.Space().AllocBytes([]byte("hello"), "s")

	b, _ := u.NewBinder(first)
	if err := b.BindRange(s, 5, true); err != nil {
		t.Fatal(err)
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if hasLoad(t, u, p) {
		t.Fatalf("load from interned blob not folded")
	}
	if got := call(t, u, p); got != 'h' {
		t.Fatalf("first = %d", got)
	}
	if u.Stats().InternedBlobs != 1 {
		t.Fatalf("InternedBlobs = %d", u.Stats().InternedBlobs)
	}
}

func TestSpecialize_CallThroughFrozenSlot(t *testing.T) {
	m := arith(t)
	// call_slot(slot, x) = (*slot)(x)
	cs, bd := define(t, m, "call_slot", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "slot", "x")
	fp := bd.Load(ir.Ptr, cs.Params[0])
	bd.Ret(bd.Call(fp, unaryFn, cs.Params[1]))

	u := newUnit(t, m)
	add := register(t, u, "add", 0)
	callSlot := register(t, u, "call_slot", 0)
	add42 := specializeInts(t, u, add, 42)

	slot, _ := u.Space().Alloc(8, "slot")
	if err := u.Space().StoreUint(slot, 8, add42); err != nil {
		t.Fatal(err)
	}
	b, _ := u.NewBinder(callSlot)
	if err := b.BindRange(slot, 8, false); err != nil {
		t.Fatal(err)
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, p, 5); got != 47 {
		t.Fatalf("call_slot = %d, want 47", got)
	}
	if cs := calls(t, u, p); len(cs) != 0 {
		dump, _ := u.Dump(p)
		t.Fatalf("call through frozen slot not inlined:\n%s", dump)
	}
}

func TestSpecialize_FunctionPointerKeyIdentity(t *testing.T) {
	m := arith(t)
	inc, bd := define(t, m, "inc", unaryFn, "x")
	bd.Ret(bd.Add(inc.Params[0], ir.NewSigned(ir.I64, 1)))
	// via(slot, x) = apply(*slot, x)
	via, bd := define(t, m, "via", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "slot", "x")
	fp := bd.Load(ir.Ptr, via.Params[0])
	bd.Ret(bd.CallFunc(m.Func("apply"), fp, via.Params[1]))

	u := newUnit(t, m)
	incAddr := register(t, u, "inc", 0)
	apply := register(t, u, "apply", 1)
	viaAddr := register(t, u, "via", 0)

	slot, _ := u.Space().Alloc(8, "slot")
	if err := u.Space().StoreUint(slot, 8, incAddr); err != nil {
		t.Fatal(err)
	}
	b, _ := u.NewBinder(viaAddr)
	if err := b.BindRange(slot, 8, false); err != nil {
		t.Fatal(err)
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, p, 5); got != 11 {
		t.Fatalf("via(inc)(5) = %d, want 11", got)
	}

	before := u.Stats()
	b, _ = u.NewBinder(apply)
	if err := b.BindPointer(incAddr); err != nil {
		t.Fatal(err)
	}
	q, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	after := u.Stats()
	if after.Clones != before.Clones || after.Hits != before.Hits+1 {
		t.Fatalf("apply(inc) from a folded address and from BindPointer got different keys: clones %d -> %d, hits %d -> %d",
			before.Clones, after.Clones, before.Hits, after.Hits)
	}
	if got := call(t, u, q, 5); got != 11 {
		t.Fatalf("apply(inc)(5) = %d, want 11", got)
	}
}

// budgeted builds mac(a, b, c) = a*b + c and g(k, x) = mac(2, 3, k) + x.
func budgeted(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("budget")
	mac, bd := define(t, m, "mac", ir.Signature{Params: []ir.Type{ir.I64, ir.I64, ir.I64}, Result: ir.I64}, "a", "b", "c")
	bd.Ret(bd.Add(bd.Mul(mac.Params[0], mac.Params[1]), mac.Params[2]))

	g, bd := define(t, m, "g", binI64, "k", "x")
	r := bd.CallFunc(mac, ir.NewSigned(ir.I64, 2), ir.NewSigned(ir.I64, 3), g.Params[0])
	bd.Ret(bd.Add(r, g.Params[1]))
	return m
}

func TestAutoSpecialize_Budget(t *testing.T) {
	tests := []struct {
		budget   int
		consumed int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{5, 3},
	}
	for _, tt := range tests {
		u := newUnit(t, budgeted(t))
		register(t, u, "mac", tt.budget)
		g := register(t, u, "g", 0)

		p := specializeInts(t, u, g, 4)
		if got := call(t, u, p, 1); got != 2*3+4+1 {
			t.Fatalf("budget %d: g(4)(1) = %d", tt.budget, got)
		}
		cs := calls(t, u, p)
		if len(cs) != 1 {
			t.Fatalf("budget %d: %d calls left", tt.budget, len(cs))
		}
		if n := 3 - len(cs[0].Args); n != tt.consumed {
			t.Fatalf("budget %d: consumed %d leading constants, want %d", tt.budget, n, tt.consumed)
		}
	}
}

func TestInlinePolicy(t *testing.T) {
	u := newUnit(t, budgeted(t), vlbdb.WithInlinePolicy(vlbdb.InlineAggressive))
	register(t, u, "mac", 1)
	g := register(t, u, "g", 0)
	p := specializeInts(t, u, g, 4)
	if cs := calls(t, u, p); len(cs) != 0 {
		t.Fatalf("aggressive policy left %d calls", len(cs))
	}
	if got := call(t, u, p, 1); got != 11 {
		t.Fatalf("g(4)(1) = %d", got)
	}
}

func TestSpecialize_RecursionTerminates(t *testing.T) {
	m := ir.NewModule("fib")
	fib, bd := define(t, m, "fib", unaryFn, "n")
	base := fib.AddBlock("base")
	rec := fib.AddBlock("rec")
	n := fib.Params[0]
	bd.CondBr(bd.ICmp(ir.PredSLT, n, ir.NewSigned(ir.I64, 2)), base, rec)
	bd.SetBlock(base)
	bd.Ret(n)
	bd.SetBlock(rec)
	a := bd.CallFunc(fib, bd.Sub(n, ir.NewSigned(ir.I64, 1)))
	b := bd.CallFunc(fib, bd.Sub(n, ir.NewSigned(ir.I64, 2)))
	bd.Ret(bd.Add(a, b))

	u := newUnit(t, m, vlbdb.WithMaxNesting(16))
	addr := register(t, u, "fib", 1)
	p := specializeInts(t, u, addr, 10)
	if got := call(t, u, p); got != 55 {
		t.Fatalf("fib(10) = %d", got)
	}
}

func TestClosure(t *testing.T) {
	m := ir.NewModule("closure")
	// counter(state, x) = *state + x
	counter, bd := define(t, m, "counter", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "state", "x")
	bd.Ret(bd.Add(bd.Load(ir.I64, counter.Params[0]), counter.Params[1]))

	u := newUnit(t, m)
	code, ok := u.Engine().Symbols()["counter"]
	if !ok {
		t.Fatal("counter has no symbol")
	}
	state, _ := u.Space().Alloc(8, "state")
	_ = u.Space().StoreUint(state, 8, 10)

	c := vlbdb.Closure(code, state, 8)
	id, err := u.RegisterCallable(c, 0)
	if err != nil {
		t.Fatal(err)
	}
	if info, _ := u.Lookup(id); info.Budget != 1 {
		t.Fatalf("closure budget = %d, want 1", info.Budget)
	}
	b, err := u.NewBinderFor(c)
	if err != nil {
		t.Fatal(err)
	}
	if b.Bound() != 1 {
		t.Fatalf("state not bound first")
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, p, 5); got != 15 {
		t.Fatalf("closure(5) = %d", got)
	}
}

func TestClosure_Unregistered(t *testing.T) {
	m := ir.NewModule("closure")
	// counter(state, x) = *state + x
	counter, bd := define(t, m, "counter", ir.Signature{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.I64}, "state", "x")
	bd.Ret(bd.Add(bd.Load(ir.I64, counter.Params[0]), counter.Params[1]))

	u := newUnit(t, m)
	code := u.Engine().Symbols()["counter"]
	state, _ := u.Space().Alloc(8, "state")
	_ = u.Space().StoreUint(state, 8, 32)

	b, err := u.NewBinderFor(vlbdb.Closure(code, state, 8))
	if err != nil {
		t.Fatalf("NewBinderFor on an unregistered closure: %v", err)
	}
	p, err := b.Specialize()
	if err != nil {
		t.Fatal(err)
	}
	if got := call(t, u, p, 10); got != 42 {
		t.Fatalf("closure(10) = %d, want 42", got)
	}
	info, ok := u.LookupAddr(code)
	if !ok || info.Budget != 1 {
		t.Fatalf("closure code registered as %+v, %v", info, ok)
	}
}

func TestRegister_FakeResolver(t *testing.T) {
	res := symtab.NewTable(map[string]uint64{"add": 0x5000, "_Z4gonev": 0x6000})
	u := newUnit(t, arith(t), vlbdb.WithResolver(res))

	id, err := u.Register(0x5000, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if info, _ := u.Lookup(id); info.Name != "add" {
		t.Fatalf("resolved %q", info.Name)
	}
	if again, _ := u.Register(0x5000, "", 3); again != id {
		t.Fatalf("re-registration issued a new id")
	}
	if again, _ := u.Register(0x5000, "", 1); again != id {
		t.Fatalf("re-registration issued a new id")
	}
	if info, _ := u.LookupAddr(0x5000); info.Budget != 3 {
		t.Fatalf("budget = %d, want 3 (never lowered)", info.Budget)
	}
	p := specializeInts(t, u, 0x5000, 2)
	if got := call(t, u, p, 2); got != 4 {
		t.Fatalf("add(2)(2) = %d", got)
	}

	_, err = u.Register(0x6000, "", 0)
	var re *vlbdb.ResolutionError
	if !errors.As(err, &re) || re.Name != "_Z4gonev" || re.Demangled != "gone()" {
		t.Fatalf("missing function: %v", err)
	}
	if !strings.Contains(err.Error(), "gone()") {
		t.Fatalf("diagnostic lacks demangled name: %v", err)
	}

	n, err := u.RegisterAll()
	if err != nil || n != 1 {
		t.Fatalf("RegisterAll = %d, %v; want 1 (only add resolves)", n, err)
	}
}

func TestRegisterAll(t *testing.T) {
	m := arith(t)
	if _, err := m.Declare("puts", ir.Signature{Params: []ir.Type{ir.Ptr}, Result: ir.I32}); err != nil {
		t.Fatal(err)
	}
	helper, bd := define(t, m, "helper", ir.Signature{Result: ir.I64})
	bd.Ret(ir.NewSigned(ir.I64, 1))
	helper.Linkage = ir.LinkInternal

	u := newUnit(t, m)
	n, err := u.RegisterAll()
	if err != nil || n != 3 {
		t.Fatalf("RegisterAll = %d, %v; want 3", n, err)
	}
	if u.Stats().Registered != 3 {
		t.Fatalf("Registered = %d", u.Stats().Registered)
	}
}

func TestUnit_Lifetime(t *testing.T) {
	u, err := vlbdb.New(arith(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Retain(); err != nil {
		t.Fatal(err)
	}
	u.Release()
	if _, err := u.RegisterName("add", 0); err != nil {
		t.Fatalf("unit died early: %v", err)
	}
	u.Release()
	if _, err := u.RegisterName("add", 0); !errors.Is(err, vlbdb.ErrReleased) {
		t.Fatalf("after release: %v", err)
	}
	if err := u.Retain(); !errors.Is(err, vlbdb.ErrReleased) {
		t.Fatalf("retain after release: %v", err)
	}

	s, err := vlbdb.New(arith(t), vlbdb.WithOwnership(vlbdb.StaticLifetime))
	if err != nil {
		t.Fatal(err)
	}
	s.Release()
	s.Release()
	if _, err := s.RegisterName("add", 0); err != nil {
		t.Fatalf("static unit released: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := vlbdb.New(nil); err == nil {
		t.Fatal("nil module accepted")
	}
	if _, err := vlbdb.New(arith(t), vlbdb.WithPasses("sccp", "bogus")); err == nil {
		t.Fatal("unknown pass accepted")
	}
	m := ir.NewModule("bad")
	if _, err := m.Define("open", ir.Signature{Result: ir.I64}); err != nil {
		t.Fatal(err)
	}
	if _, err := vlbdb.New(m); err == nil {
		t.Fatal("unterminated block accepted")
	}
}

func TestDump(t *testing.T) {
	u := newUnit(t, arith(t))
	add := register(t, u, "add", 0)
	p := specializeInts(t, u, add, 42)
	text, err := u.Dump(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "define internal i64 @add.spec(i64 %y)") || !strings.Contains(text, "42") {
		t.Fatalf("Dump:\n%s", text)
	}
	if _, err := u.Dump(0xdead0); err == nil {
		t.Fatal("Dump of unknown address succeeded")
	}
}
