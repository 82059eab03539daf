package bitcode_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"vlbdb/internal/bitcode"
	"vlbdb/internal/ir"
	"vlbdb/internal/jit"
	"vlbdb/internal/mem"
)

func sample(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.NewModule("sample")
	k, _ := m.NewGlobal("k", []byte{5, 0, 0, 0, 0, 0, 0, 0}, true)
	k.Linkage = ir.LinkInternal
	puts, _ := m.Declare("puts", ir.Signature{Params: []ir.Type{ir.Ptr}, Result: ir.I32})

	// sum(n) = k + (n + (n-1) + ... + 1)
	sum, _ := m.Define("sum", ir.Signature{Params: []ir.Type{ir.I64}, Result: ir.I64}, "n")
	bd := ir.NewBuilder(sum.Entry())
	entry := sum.Entry()
	loop := sum.AddBlock("loop")
	body := sum.AddBlock("body")
	exit := sum.AddBlock("exit")
	base := bd.Load(ir.I64, ir.GlobalRef(k, 0))
	bd.Br(loop)
	bd.SetBlock(loop)
	i := bd.Phi(ir.I64)
	acc := bd.Phi(ir.I64)
	bd.CondBr(bd.ICmp(ir.PredEQ, i, ir.NewSigned(ir.I64, 0)), exit, body)
	bd.SetBlock(body)
	nextAcc := bd.Add(acc, i)
	nextI := bd.Sub(i, ir.NewSigned(ir.I64, 1))
	bd.Br(loop)
	i.AddIncoming(sum.Params[0], entry)
	i.AddIncoming(nextI, body)
	acc.AddIncoming(base, entry)
	acc.AddIncoming(nextAcc, body)
	bd.SetBlock(exit)
	bd.Ret(acc)

	hello, _ := m.Define("hello", ir.Signature{Params: []ir.Type{ir.Ptr}, Result: ir.Void}, "")
	bd = ir.NewBuilder(hello.Entry())
	bd.CallFunc(puts, hello.Params[0])
	bd.Call(ir.NewCast(ir.OpIntToPtr, ir.NewInt(ir.I64, 0x1000), ir.Ptr), ir.Signature{Result: ir.Void})
	bd.Store(ir.FuncRef(sum), ir.NewAddr(0x2000))
	bd.Ret(nil)

	if err := ir.Validate(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	m := sample(t)
	var buf bytes.Buffer
	if err := bitcode.Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	if !bitcode.IsBitcode(buf.Bytes()) {
		t.Fatalf("encoded data lacks magic")
	}
	got, err := bitcode.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := ir.Validate(got); err != nil {
		t.Fatalf("decoded module invalid: %v", err)
	}
	if a, b := ir.ModuleString(got), ir.ModuleString(m); a != b {
		t.Fatalf("mismatch\n--- got\n%s\n--- want\n%s", a, b)
	}

	e, err := jit.New(got, mem.New())
	if err != nil {
		t.Fatal(err)
	}
	if v, err := e.CallFunc(got.Func("sum"), 4); err != nil || v != 15 {
		t.Fatalf("sum(4) = %d, %v", v, err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.vbc")
	if err := bitcode.WriteFile(path, sample(t)); err != nil {
		t.Fatal(err)
	}
	m, err := bitcode.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "sample" || m.Func("sum") == nil || m.Global("k") == nil {
		t.Fatalf("decoded %q with %d funcs", m.Name, len(m.Funcs))
	}
}

func TestDecode_Errors(t *testing.T) {
	future, err := msgpack.Marshal(map[string]any{"v": 99, "n": "x"})
	if err != nil {
		t.Fatal(err)
	}
	dangling, err := msgpack.Marshal(map[string]any{
		"v": bitcode.SchemaVersion,
		"f": []map[string]any{{
			"n": "f",
			"s": map[string]any{"r": map[string]any{"k": 0}},
			"b": []map[string]any{{
				"l": "entry",
				"t": map[string]any{"k": 1, "t": -1, "e": -1, "v": map[string]any{"k": 1, "i": 7}},
			}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, bitcode.ErrBadMagic},
		{"text", []byte("define void @f() {"), bitcode.ErrBadMagic},
		{"schema", append([]byte(bitcode.Magic), future...), bitcode.ErrSchema},
		{"dangling operand", append([]byte(bitcode.Magic), dangling...), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bitcode.Decode(bytes.NewReader(tt.data))
			if err == nil {
				t.Fatalf("Decode succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
