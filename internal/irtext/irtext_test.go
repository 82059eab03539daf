package irtext_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vlbdb/internal/ir"
	"vlbdb/internal/irtext"
	"vlbdb/internal/jit"
	"vlbdb/internal/mem"
)

func sample(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("sample")
	msg, _ := m.NewGlobal("msg", []byte("hi \"there\"\n\x00"), true)
	tbl, _ := m.NewGlobal("table", make([]byte, 16), false)
	tbl.Linkage = ir.LinkInternal
	printf, _ := m.Declare("printf", ir.Signature{Params: []ir.Type{ir.Ptr}, Result: ir.I32, Variadic: true})

	fact, _ := m.Define("fact", ir.Signature{Params: []ir.Type{ir.I64}, Result: ir.I64}, "n")
	bd := ir.NewBuilder(fact.Entry())
	entry := fact.Entry()
	loop := fact.AddBlock("loop")
	body := fact.AddBlock("")
	exit := fact.AddBlock("exit")
	bd.Br(loop)
	bd.SetBlock(loop)
	i := bd.Phi(ir.I64)
	acc := bd.Phi(ir.I64)
	acc.Label = "acc"
	bd.CondBr(bd.ICmp(ir.PredSLE, i, ir.NewSigned(ir.I64, 1)), exit, body)
	bd.SetBlock(body)
	nextAcc := bd.Mul(acc, i)
	nextI := bd.Sub(i, ir.NewSigned(ir.I64, 1))
	bd.Br(loop)
	i.AddIncoming(fact.Params[0], entry)
	i.AddIncoming(nextI, body)
	acc.AddIncoming(ir.NewSigned(ir.I64, 1), entry)
	acc.AddIncoming(nextAcc, body)
	bd.SetBlock(exit)
	bd.Ret(acc)

	misc, _ := m.Define("misc", ir.Signature{Params: []ir.Type{ir.Ptr, ir.F32}}, "fp", "")
	misc.Linkage = ir.LinkInternal
	bd = ir.NewBuilder(misc.Entry())
	r := bd.Call(misc.Params[0], ir.Signature{Params: []ir.Type{ir.I64}, Result: ir.I64}, ir.NewSigned(ir.I64, -3))
	bd.CallFunc(printf, ir.GlobalRef(msg, 0), r, ir.NewFloat(ir.F64, math.Inf(1)))
	p := bd.PtrAdd(ir.GlobalRef(tbl, 8), ir.NewSigned(ir.I64, -8))
	bd.Store(ir.NewCast(ir.OpPtrToInt, ir.FuncRef(fact), ir.I64), p)
	bd.Store(ir.NewAddr(0xbeef), ir.GlobalRef(tbl, 8))
	wide := bd.Cast(ir.OpBitcast, misc.Params[1], ir.I32)
	sel := bd.Select(ir.NewBool(true), wide, ir.NewSigned(ir.I32, 7))
	bd.FCmp(ir.PredOLT, misc.Params[1], ir.NewFloat(ir.F32, 2.5))
	bd.Load(ir.I8, ir.NewCast(ir.OpIntToPtr, ir.NewInt(ir.I64, 4096), ir.Ptr))
	bd.Binary(ir.OpFMul, ir.NewFloat(ir.F64, 1e100), ir.NewFloat(ir.F64, -0.5))
	bd.Cast(ir.OpZExt, sel, ir.I64)
	bd.Ret(nil)

	dead, _ := m.Define("dead", ir.Signature{Result: ir.Void})
	ir.NewBuilder(dead.Entry()).Unreachable()

	if err := ir.Validate(m); err != nil {
		t.Fatalf("sample module invalid: %v", err)
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	want := ir.ModuleString(sample(t))
	m, err := irtext.Parse("sample", []byte(want))
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, want)
	}
	if err := ir.Validate(m); err != nil {
		t.Fatalf("parsed module invalid: %v", err)
	}
	if got := ir.ModuleString(m); got != want {
		t.Fatalf("round trip mismatch\n--- got\n%s\n--- want\n%s", got, want)
	}
	if g := m.Global("table"); g == nil || g.Linkage != ir.LinkInternal || len(g.Data) != 16 {
		t.Fatalf("table = %+v", g)
	}
	if f := m.Func("printf"); f == nil || !f.IsDecl() || !f.Sig.Variadic {
		t.Fatalf("printf = %+v", f)
	}
}

func TestParse_Executes(t *testing.T) {
	src := `
; forward branch and a phi fed from a later block
define i64 @abs(i64 %x) {
entry:
  %neg = icmp slt i64 %x, 0
  br i1 %neg, label %flip, label %done
flip:
  %m = sub i64 0, %x
  br label %done
done:
  %r = phi i64 [ %x, %entry ], [ %m, %flip ]
  ret i64 %r
}

define i64 @twice(ptr %f, i64 %v) {
entry:
  %a = call i64 %f(i64 %v)
  %b = call i64 @abs(i64 %a)
  %c = add i64 %b, %b
  ret i64 %c
}
`
	m, err := irtext.Parse("exec", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Validate(m); err != nil {
		t.Fatal(err)
	}
	e, err := jit.New(m, mem.New())
	if err != nil {
		t.Fatal(err)
	}
	absAddr, err := e.PointerToFunction(m.Func("abs"))
	if err != nil {
		t.Fatal(err)
	}
	neg := uint64(math.MaxUint64 - 20) // -21
	got, err := e.CallFunc(m.Func("twice"), absAddr, neg)
	if err != nil || got != 42 {
		t.Fatalf("twice(abs, -21) = %d, %v", got, err)
	}
}

func TestParse_Unicode(t *testing.T) {
	// decomposed e + combining acute normalizes to the composed form
	src := "define i64 @cafe\u0301() {\nentry:\n  ret i64 1\n}\n"
	m, err := irtext.Parse("u", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if m.Func("caf\u00e9") == nil {
		t.Fatalf("normalized name not found")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		pos  irtext.Pos
		msg  string
	}{
		{"bad char", "global @g = constant \"x\"\n#", irtext.Pos{Line: 2, Col: 1}, "unexpected character"},
		{"unterminated string", "global @g = constant \"abc", irtext.Pos{Line: 1, Col: 22}, "unterminated string"},
		{"unknown type", "declare i7x @f()", irtext.Pos{Line: 1, Col: 9}, "unknown type"},
		{"unknown opcode", "define void @f() {\nentry:\n  frob i64 1, 2\n  ret void\n}", irtext.Pos{Line: 3, Col: 3}, "unknown opcode"},
		{"undefined value", "define i64 @f() {\nentry:\n  ret i64 %nope\n}", irtext.Pos{Line: 3, Col: 11}, "undefined value %nope"},
		{"type mismatch", "define i64 @f(i32 %x) {\nentry:\n  ret i64 %x\n}", irtext.Pos{Line: 3, Col: 11}, "has type i32"},
		{"no terminator", "define void @f() {\nentry:\n  %a = add i64 1, 2\n}", irtext.Pos{Line: 4, Col: 1}, "no terminator"},
		{"undefined block", "define void @f() {\nentry:\n  br label %gone\n}", irtext.Pos{Line: 3, Col: 12}, "undefined block"},
		{"undefined symbol", "define ptr @f() {\nentry:\n  ret ptr @g\n}", irtext.Pos{Line: 3, Col: 11}, "undefined symbol @g"},
		{"duplicate", "declare void @f()\ndeclare void @f()", irtext.Pos{Line: 2, Col: 14}, "duplicate symbol"},
		{"unterminated body", "define void @f() {\nentry:\n  ret void\n", irtext.Pos{Line: 1, Col: 18}, "unterminated function body"},
		{"named void", "define void @f(ptr %p) {\nentry:\n  %s = store i64 1, ptr %p\n  ret void\n}", irtext.Pos{Line: 3, Col: 8}, "produces no value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := irtext.Parse("e", []byte(tt.src))
			var se *irtext.SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want SyntaxError", err)
			}
			if se.Pos != tt.pos || !strings.Contains(se.Msg, tt.msg) {
				t.Fatalf("err = %v, want %s containing %q", se, tt.pos, tt.msg)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.vir")
	if err := os.WriteFile(path, []byte("declare i32 @puts(ptr)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := irtext.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "lib" || m.Func("puts") == nil {
		t.Fatalf("module %q funcs %d", m.Name, len(m.Funcs))
	}

	bad := filepath.Join(t.TempDir(), "bad.vir")
	_ = os.WriteFile(bad, []byte("declare\n"), 0o644)
	_, err = irtext.ParseFile(bad)
	if err == nil || !strings.HasPrefix(err.Error(), bad+":2:1:") {
		t.Fatalf("err = %v", err)
	}
}
