package ir

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
)

// TypeKind enumerates the first-class types of the IR.
type TypeKind uint8

const (
	KindVoid TypeKind = iota
	KindInt
	KindFloat
	KindPtr
)

func (k TypeKind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindPtr:
		return "ptr"
	default:
		return fmt.Sprintf("TypeKind(%d)", k)
	}
}

// PointerBits is the width of every pointer value.
const PointerBits = 64

// Type is a value type. Types are small comparable values.
type Type struct {
	Kind TypeKind
	Bits uint8
}

var (
	Void = Type{Kind: KindVoid}
	I1   = Type{Kind: KindInt, Bits: 1}
	I8   = Type{Kind: KindInt, Bits: 8}
	I16  = Type{Kind: KindInt, Bits: 16}
	I32  = Type{Kind: KindInt, Bits: 32}
	I64  = Type{Kind: KindInt, Bits: 64}
	F32  = Type{Kind: KindFloat, Bits: 32}
	F64  = Type{Kind: KindFloat, Bits: 64}
	Ptr  = Type{Kind: KindPtr, Bits: PointerBits}
)

// IntType returns the integer type of the given width.
func IntType(bits int) (Type, error) {
	switch bits {
	case 1, 8, 16, 32, 64:
		w, err := safecast.Conv[uint8](bits)
		return Type{Kind: KindInt, Bits: w}, err
	default:
		return Type{}, fmt.Errorf("unsupported integer width %d", bits)
	}
}

func (t Type) IsVoid() bool  { return t.Kind == KindVoid }
func (t Type) IsInt() bool   { return t.Kind == KindInt }
func (t Type) IsFloat() bool { return t.Kind == KindFloat }
func (t Type) IsPtr() bool   { return t.Kind == KindPtr }

// Size returns the store size in bytes.
func (t Type) Size() int {
	if t.Kind == KindVoid {
		return 0
	}
	return (int(t.Bits) + 7) / 8
}

// Mask returns the bit mask selecting the significant bits of an integer of this type.
func (t Type) Mask() uint64 {
	if t.Bits >= 64 || t.Bits == 0 {
		return ^uint64(0)
	}
	return (uint64(1) << t.Bits) - 1
}

func (t Type) String() string {
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		return fmt.Sprintf("i%d", t.Bits)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Bits)
	case KindPtr:
		return "ptr"
	default:
		return "invalid"
	}
}

// Signature describes a function type.
type Signature struct {
	Params   []Type
	Result   Type
	Variadic bool
}

// Equal reports whether two signatures describe the same function type.
func (s Signature) Equal(o Signature) bool {
	if s.Result != o.Result || s.Variadic != o.Variadic || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Result.String())
	b.WriteString(" (")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	if s.Variadic {
		if len(s.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
	}
	b.WriteString(")")
	return b.String()
}
