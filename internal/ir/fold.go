package ir

import (
	"encoding/binary"
	"math"
)

// FoldInstr evaluates in when all of its operands are constants. It returns nil
// when the instruction is not foldable: a memory access, a call, an operand
// that is not constant, or an operation with undefined behaviour such as a
// division by zero.
func FoldInstr(in *Instr) *Const {
	switch in.Op {
	case OpLoad, OpStore, OpCall:
		return nil
	case OpPhi:
		return foldPhi(in)
	case OpSelect:
		c, ok := in.Args[0].(*Const)
		if !ok || c.Kind != ConstInt {
			return nil
		}
		arm := in.Args[2]
		if c.Bits != 0 {
			arm = in.Args[1]
		}
		k, _ := arm.(*Const)
		return k
	}

	ops := make([]*Const, len(in.Args))
	for i, a := range in.Args {
		c, ok := a.(*Const)
		if !ok {
			return nil
		}
		ops[i] = FoldConst(c)
	}

	switch {
	case in.Op.IsBinary():
		if in.Ty.IsFloat() {
			return foldFloat(in.Op, in.Ty, ops[0], ops[1])
		}
		return foldInt(in.Op, in.Ty, ops[0], ops[1])
	case in.Op == OpICmp:
		return foldICmp(in.Pred, ops[0], ops[1])
	case in.Op == OpFCmp:
		return foldFCmp(in.Pred, ops[0], ops[1])
	case in.Op.IsCast():
		return foldCast(in.Op, ops[0], in.Ty)
	case in.Op == OpPtrAdd:
		return foldPtrAdd(ops[0], ops[1])
	}
	return nil
}

func foldPhi(in *Instr) *Const {
	var first *Const
	for _, a := range in.Args {
		if a == Value(in) {
			continue
		}
		c, ok := a.(*Const)
		if !ok {
			return nil
		}
		if first == nil {
			first = c
			continue
		}
		if !first.Equal(c) {
			return nil
		}
	}
	return first
}

func foldInt(op Opcode, t Type, x, y *Const) *Const {
	if x.Kind != ConstInt || y.Kind != ConstInt {
		if op == OpAdd || op == OpSub {
			return foldCastArith(op, t, x, y)
		}
		return nil
	}
	a, b := x.Bits, y.Bits
	switch op {
	case OpAdd:
		return NewInt(t, a+b)
	case OpSub:
		return NewInt(t, a-b)
	case OpMul:
		return NewInt(t, a*b)
	case OpUDiv:
		if b == 0 {
			return nil
		}
		return NewInt(t, a/b)
	case OpURem:
		if b == 0 {
			return nil
		}
		return NewInt(t, a%b)
	case OpSDiv, OpSRem:
		sa, sb := x.Signed(), y.Signed()
		if sb == 0 || (sb == -1 && sa == minSigned(t)) {
			return nil
		}
		if op == OpSDiv {
			return NewSigned(t, sa/sb)
		}
		return NewSigned(t, sa%sb)
	case OpAnd:
		return NewInt(t, a&b)
	case OpOr:
		return NewInt(t, a|b)
	case OpXor:
		return NewInt(t, a^b)
	case OpShl, OpLShr, OpAShr:
		if b >= uint64(t.Bits) {
			return nil
		}
		switch op {
		case OpShl:
			return NewInt(t, a<<b)
		case OpLShr:
			return NewInt(t, a>>b)
		default:
			return NewSigned(t, x.Signed()>>b)
		}
	}
	return nil
}

// foldCastArith keeps pointer provenance through integer arithmetic on
// ptrtoint(@global) constants.
func foldCastArith(op Opcode, t Type, x, y *Const) *Const {
	if x.Kind != ConstCast || x.Op != OpPtrToInt || y.Kind != ConstInt {
		if op == OpAdd && y.Kind == ConstCast && x.Kind == ConstInt {
			return foldCastArith(op, t, y, x)
		}
		return nil
	}
	inner := x.Inner
	if inner.Kind != ConstGlobal {
		return nil
	}
	delta := y.Signed()
	if op == OpSub {
		delta = -delta
	}
	return NewCast(OpPtrToInt, GlobalRef(inner.Global, inner.Offset+delta), t)
}

func minSigned(t Type) int64 {
	if t.Bits >= 64 {
		return math.MinInt64
	}
	return -(int64(1) << (t.Bits - 1))
}

func foldFloat(op Opcode, t Type, x, y *Const) *Const {
	if x.Kind != ConstFloat || y.Kind != ConstFloat {
		return nil
	}
	if t.Bits == 32 {
		a, b := float32(x.Float64()), float32(y.Float64())
		var r float32
		switch op {
		case OpFAdd:
			r = a + b
		case OpFSub:
			r = a - b
		case OpFMul:
			r = a * b
		case OpFDiv:
			r = a / b
		default:
			return nil
		}
		return NewFloat(t, float64(r))
	}
	a, b := x.Float64(), y.Float64()
	switch op {
	case OpFAdd:
		return NewFloat(t, a+b)
	case OpFSub:
		return NewFloat(t, a-b)
	case OpFMul:
		return NewFloat(t, a*b)
	case OpFDiv:
		return NewFloat(t, a/b)
	}
	return nil
}

func foldICmp(p Predicate, x, y *Const) *Const {
	if x.Kind == ConstInt && y.Kind == ConstInt {
		return NewBool(compareInt(p, x, y))
	}
	if !x.Ty.IsPtr() || !y.Ty.IsPtr() {
		return nil
	}
	if p != PredEQ && p != PredNE {
		if x.Kind == ConstGlobal && y.Kind == ConstGlobal && x.Global == y.Global {
			return NewBool(compareInt(p, NewSigned(I64, x.Offset), NewSigned(I64, y.Offset)))
		}
		if x.Kind == ConstAddr && y.Kind == ConstAddr {
			return NewBool(compareInt(p, NewInt(I64, x.Bits), NewInt(I64, y.Bits)))
		}
		return nil
	}
	eq, known := pointerEqual(x, y)
	if !known {
		return nil
	}
	return NewBool(eq == (p == PredEQ))
}

// pointerEqual compares pointer constants when their relation is provable.
func pointerEqual(x, y *Const) (eq, known bool) {
	switch {
	case x.Kind == ConstNull && y.Kind == ConstNull:
		return true, true
	case x.Kind == ConstNull || y.Kind == ConstNull:
		other := y
		if y.Kind == ConstNull {
			other = x
		}
		switch other.Kind {
		case ConstFunc, ConstAddr:
			return false, true
		case ConstGlobal:
			return false, other.Offset >= 0
		}
		return false, false
	case x.Kind == ConstFunc && y.Kind == ConstFunc:
		return x.Func == y.Func, true
	case x.Kind == ConstGlobal && y.Kind == ConstGlobal && x.Global == y.Global:
		return x.Offset == y.Offset, true
	case x.Kind == ConstAddr && y.Kind == ConstAddr:
		return x.Bits == y.Bits, true
	}
	return false, false
}

func compareInt(p Predicate, x, y *Const) bool {
	a, b := x.Bits, y.Bits
	sa, sb := x.Signed(), y.Signed()
	switch p {
	case PredEQ:
		return a == b
	case PredNE:
		return a != b
	case PredSLT:
		return sa < sb
	case PredSLE:
		return sa <= sb
	case PredSGT:
		return sa > sb
	case PredSGE:
		return sa >= sb
	case PredULT:
		return a < b
	case PredULE:
		return a <= b
	case PredUGT:
		return a > b
	case PredUGE:
		return a >= b
	}
	return false
}

func foldFCmp(p Predicate, x, y *Const) *Const {
	if x.Kind != ConstFloat || y.Kind != ConstFloat {
		return nil
	}
	a, b := x.Float64(), y.Float64()
	if math.IsNaN(a) || math.IsNaN(b) {
		return NewBool(false)
	}
	switch p {
	case PredOEQ:
		return NewBool(a == b)
	case PredONE:
		return NewBool(a != b)
	case PredOLT:
		return NewBool(a < b)
	case PredOLE:
		return NewBool(a <= b)
	case PredOGT:
		return NewBool(a > b)
	case PredOGE:
		return NewBool(a >= b)
	}
	return nil
}

func foldCast(op Opcode, c *Const, to Type) *Const {
	switch op {
	case OpTrunc, OpZExt:
		if c.Kind != ConstInt {
			return nil
		}
		return NewInt(to, c.Bits)
	case OpSExt:
		if c.Kind != ConstInt {
			return nil
		}
		return NewSigned(to, c.Signed())
	case OpFPToSI:
		if c.Kind != ConstFloat {
			return nil
		}
		f := math.Trunc(c.Float64())
		if math.IsNaN(f) || f < float64(minSigned(to)) || f >= -float64(minSigned(to)) {
			return nil
		}
		return NewSigned(to, int64(f))
	case OpSIToFP:
		if c.Kind != ConstInt {
			return nil
		}
		return NewFloat(to, float64(c.Signed()))
	case OpPtrToInt:
		switch c.Kind {
		case ConstNull:
			return NewInt(to, 0)
		case ConstAddr:
			return NewInt(to, c.Bits)
		case ConstFunc, ConstGlobal:
			return NewCast(OpPtrToInt, c, to)
		}
		return nil
	case OpIntToPtr:
		switch c.Kind {
		case ConstInt:
			return NewAddr(c.Bits)
		case ConstCast:
			if c.Op == OpPtrToInt {
				return c.Inner
			}
		}
		return nil
	case OpBitcast:
		if c.Ty == to {
			return c
		}
		switch {
		case c.Kind == ConstInt && to.IsFloat() && c.Ty.Bits == to.Bits:
			return &Const{Kind: ConstFloat, Ty: to, Bits: c.Bits}
		case c.Kind == ConstFloat && to.IsInt() && c.Ty.Bits == to.Bits:
			return NewInt(to, c.Bits)
		}
		return nil
	}
	return nil
}

func foldPtrAdd(p, off *Const) *Const {
	if off.Kind != ConstInt {
		return nil
	}
	delta := off.Signed()
	if delta == 0 {
		return p
	}
	switch p.Kind {
	case ConstNull:
		return NewAddr(uint64(delta)) //nolint:gosec // G115: address arithmetic wraps
	case ConstAddr:
		return NewAddr(p.Bits + uint64(delta)) //nolint:gosec // G115: address arithmetic wraps
	case ConstGlobal:
		return GlobalRef(p.Global, p.Offset+delta)
	}
	return nil
}

// FoldConst simplifies cast constants: inttoptr(ptrtoint(p)) becomes p and a
// cast of a plain integer becomes the integer's value.
func FoldConst(c *Const) *Const {
	for c != nil && c.Kind == ConstCast {
		inner := FoldConst(c.Inner)
		var next *Const
		switch c.Op {
		case OpIntToPtr:
			switch inner.Kind {
			case ConstInt:
				next = NewAddr(inner.Bits)
			case ConstCast:
				if inner.Op == OpPtrToInt {
					next = inner.Inner
				}
			}
		case OpPtrToInt:
			switch inner.Kind {
			case ConstNull:
				next = NewInt(c.Ty, 0)
			case ConstAddr:
				next = NewInt(c.Ty, inner.Bits)
			}
		case OpBitcast:
			if inner.Ty == c.Ty {
				next = inner
			}
		}
		if next == nil {
			if inner != c.Inner {
				return NewCast(c.Op, inner, c.Ty)
			}
			return c
		}
		c = next
	}
	return c
}

// DecodeConst reads a little-endian value of type t from data. Pointers decode
// to raw addresses.
func DecodeConst(t Type, data []byte) *Const {
	n := t.Size()
	if n == 0 || len(data) < n {
		return nil
	}
	var raw [8]byte
	copy(raw[:], data[:n])
	v := binary.LittleEndian.Uint64(raw[:])
	switch t.Kind {
	case KindInt:
		return NewInt(t, v)
	case KindFloat:
		return &Const{Kind: ConstFloat, Ty: t, Bits: v}
	case KindPtr:
		return NewAddr(v)
	}
	return nil
}

// EncodeConst writes c as little-endian bytes. Only constants with a numeric
// value can be encoded.
func EncodeConst(c *Const) ([]byte, bool) {
	n := c.Ty.Size()
	var raw [8]byte
	switch c.Kind {
	case ConstInt, ConstFloat, ConstAddr:
		binary.LittleEndian.PutUint64(raw[:], c.Bits)
	case ConstNull:
	default:
		return nil, false
	}
	return raw[:n], true
}

// FoldLoadFromGlobal folds a load from a constant global when the read stays
// inside the global's data.
func FoldLoadFromGlobal(in *Instr) *Const {
	if in.Op != OpLoad {
		return nil
	}
	p, ok := in.Args[0].(*Const)
	if !ok {
		return nil
	}
	p = FoldConst(p)
	if p.Kind != ConstGlobal || !p.Global.Constant {
		return nil
	}
	off, size := p.Offset, int64(in.Ty.Size())
	if off < 0 || off+size > int64(len(p.Global.Data)) {
		return nil
	}
	return DecodeConst(in.Ty, p.Global.Data[off:off+size])
}
