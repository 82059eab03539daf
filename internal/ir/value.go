package ir

import (
	"fmt"
	"math"
)

// Value is anything an instruction can use as an operand.
type Value interface {
	Type() Type
	isValue()
}

// Param is a formal parameter of a function.
type Param struct {
	Index int
	Ty    Type
	Label string
	Fn    *Func
}

func (p *Param) Type() Type { return p.Ty }
func (*Param) isValue()     {}

// ConstKind records where a constant came from. Pointer constants keep their
// provenance so that callers can tell a function reference from a raw address.
type ConstKind uint8

const (
	// ConstInt is an integer of Ty.Bits width; Bits holds the masked value.
	ConstInt ConstKind = iota
	// ConstFloat holds IEEE bits in Bits (f32 uses the low 32 bits).
	ConstFloat
	// ConstNull is the null pointer.
	ConstNull
	// ConstFunc references a function by identity.
	ConstFunc
	// ConstGlobal points Offset bytes into a global.
	ConstGlobal
	// ConstAddr is an integer address used as a pointer.
	ConstAddr
	// ConstCast is a ptrtoint/inttoptr/bitcast of Inner that could not be simplified.
	ConstCast
)

func (k ConstKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstNull:
		return "null"
	case ConstFunc:
		return "func"
	case ConstGlobal:
		return "global"
	case ConstAddr:
		return "addr"
	case ConstCast:
		return "cast"
	default:
		return fmt.Sprintf("ConstKind(%d)", k)
	}
}

// Const is an immutable constant value.
type Const struct {
	Kind ConstKind
	Ty   Type

	Bits   uint64
	Func   *Func
	Global *Global
	Offset int64
	Op     Opcode
	Inner  *Const
}

func (c *Const) Type() Type { return c.Ty }
func (*Const) isValue()     {}

// NewInt returns an integer constant truncated to the width of t.
func NewInt(t Type, v uint64) *Const {
	return &Const{Kind: ConstInt, Ty: t, Bits: v & t.Mask()}
}

// NewSigned returns an integer constant from a signed value.
func NewSigned(t Type, v int64) *Const {
	return NewInt(t, uint64(v)) //nolint:gosec // G115: two's complement reinterpretation
}

// NewBool returns an i1 constant.
func NewBool(v bool) *Const {
	if v {
		return NewInt(I1, 1)
	}
	return NewInt(I1, 0)
}

// NewFloat returns a floating point constant of type t.
func NewFloat(t Type, f float64) *Const {
	if t.Bits == 32 {
		return &Const{Kind: ConstFloat, Ty: t, Bits: uint64(math.Float32bits(float32(f)))}
	}
	return &Const{Kind: ConstFloat, Ty: F64, Bits: math.Float64bits(f)}
}

// NewNull returns the null pointer constant.
func NewNull() *Const { return &Const{Kind: ConstNull, Ty: Ptr} }

// FuncRef returns a pointer constant naming f.
func FuncRef(f *Func) *Const { return &Const{Kind: ConstFunc, Ty: Ptr, Func: f} }

// GlobalRef returns a pointer constant offset bytes into g.
func GlobalRef(g *Global, offset int64) *Const {
	return &Const{Kind: ConstGlobal, Ty: Ptr, Global: g, Offset: offset}
}

// NewAddr returns a pointer constant for a raw address. Address zero is null.
func NewAddr(addr uint64) *Const {
	if addr == 0 {
		return NewNull()
	}
	return &Const{Kind: ConstAddr, Ty: Ptr, Bits: addr}
}

// NewCast wraps inner in a cast constant of type to.
func NewCast(op Opcode, inner *Const, to Type) *Const {
	return &Const{Kind: ConstCast, Ty: to, Op: op, Inner: inner}
}

// Signed returns the value sign-extended from the constant's width.
func (c *Const) Signed() int64 {
	return SignExtend(c.Bits, c.Ty.Bits)
}

// Float64 returns the floating point value of a ConstFloat.
func (c *Const) Float64() float64 {
	if c.Ty.Bits == 32 {
		return float64(math.Float32frombits(uint32(c.Bits))) //nolint:gosec // G115: low bits hold f32
	}
	return math.Float64frombits(c.Bits)
}

// IsZero reports whether c is an integer zero or null.
func (c *Const) IsZero() bool {
	return (c.Kind == ConstInt && c.Bits == 0) || c.Kind == ConstNull
}

// Equal compares constants structurally. Function and global references
// compare by identity of the referenced object.
func (c *Const) Equal(o *Const) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil || c.Kind != o.Kind || c.Ty != o.Ty {
		return false
	}
	switch c.Kind {
	case ConstInt, ConstFloat, ConstAddr:
		return c.Bits == o.Bits
	case ConstNull:
		return true
	case ConstFunc:
		return c.Func == o.Func
	case ConstGlobal:
		return c.Global == o.Global && c.Offset == o.Offset
	case ConstCast:
		return c.Op == o.Op && c.Inner.Equal(o.Inner)
	}
	return false
}

// Key returns a string that is equal for two constants iff Equal holds.
func (c *Const) Key() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%s:%d", c.Ty, c.Bits)
	case ConstFloat:
		return fmt.Sprintf("%s:%#x", c.Ty, c.Bits)
	case ConstNull:
		return "null"
	case ConstFunc:
		return fmt.Sprintf("fn#%d@%p", c.Func.ID, c.Func)
	case ConstGlobal:
		return fmt.Sprintf("g#%d@%p+%d", c.Global.ID, c.Global, c.Offset)
	case ConstAddr:
		return fmt.Sprintf("addr:%#x", c.Bits)
	case ConstCast:
		return fmt.Sprintf("%s(%s,%s)", c.Op, c.Ty, c.Inner.Key())
	}
	return "?"
}

// SignExtend interprets the low bits of v as a signed integer.
func SignExtend(v uint64, bits uint8) int64 {
	if bits == 0 || bits >= 64 {
		return int64(v) //nolint:gosec // G115: two's complement reinterpretation
	}
	shift := 64 - uint(bits)
	return int64(v<<shift) >> shift //nolint:gosec // G115: two's complement reinterpretation
}
