package ir

import (
	"fmt"

	"fortio.org/safecast"
)

// Opcode enumerates instruction kinds.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	// integer arithmetic
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	// floating point arithmetic
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv

	// comparisons
	OpICmp
	OpFCmp

	// conversions
	OpTrunc
	OpZExt
	OpSExt
	OpFPToSI
	OpSIToFP
	OpPtrToInt
	OpIntToPtr
	OpBitcast

	// memory
	OpPtrAdd
	OpLoad
	OpStore

	OpSelect
	OpPhi
	OpCall
)

var opcodeNames = [...]string{
	OpInvalid:  "invalid",
	OpAdd:      "add",
	OpSub:      "sub",
	OpMul:      "mul",
	OpSDiv:     "sdiv",
	OpUDiv:     "udiv",
	OpSRem:     "srem",
	OpURem:     "urem",
	OpAnd:      "and",
	OpOr:       "or",
	OpXor:      "xor",
	OpShl:      "shl",
	OpLShr:     "lshr",
	OpAShr:     "ashr",
	OpFAdd:     "fadd",
	OpFSub:     "fsub",
	OpFMul:     "fmul",
	OpFDiv:     "fdiv",
	OpICmp:     "icmp",
	OpFCmp:     "fcmp",
	OpTrunc:    "trunc",
	OpZExt:     "zext",
	OpSExt:     "sext",
	OpFPToSI:   "fptosi",
	OpSIToFP:   "sitofp",
	OpPtrToInt: "ptrtoint",
	OpIntToPtr: "inttoptr",
	OpBitcast:  "bitcast",
	OpPtrAdd:   "ptradd",
	OpLoad:     "load",
	OpStore:    "store",
	OpSelect:   "select",
	OpPhi:      "phi",
	OpCall:     "call",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// OpcodeByName maps the textual mnemonic back to its opcode.
func OpcodeByName(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n != name {
			continue
		}
		if v, err := safecast.Conv[uint8](i); err == nil && Opcode(v) != OpInvalid {
			return Opcode(v), true
		}
	}
	return OpInvalid, false
}

// IsBinary reports whether op takes two operands of the result type.
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpFDiv
}

// IsCast reports whether op is a conversion.
func (op Opcode) IsCast() bool {
	return op >= OpTrunc && op <= OpBitcast
}

// IsCommutative reports whether operand order is irrelevant.
func (op Opcode) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpFAdd, OpFMul:
		return true
	}
	return false
}

// IsAssociative reports whether chains of op may be regrouped.
func (op Opcode) IsAssociative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// Predicate selects the comparison performed by icmp/fcmp.
type Predicate uint8

const (
	PredEQ Predicate = iota
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
	// ordered float predicates
	PredOEQ
	PredONE
	PredOLT
	PredOLE
	PredOGT
	PredOGE
)

var predicateNames = [...]string{
	PredEQ:  "eq",
	PredNE:  "ne",
	PredSLT: "slt",
	PredSLE: "sle",
	PredSGT: "sgt",
	PredSGE: "sge",
	PredULT: "ult",
	PredULE: "ule",
	PredUGT: "ugt",
	PredUGE: "uge",
	PredOEQ: "oeq",
	PredONE: "one",
	PredOLT: "olt",
	PredOLE: "ole",
	PredOGT: "ogt",
	PredOGE: "oge",
}

func (p Predicate) String() string {
	if int(p) < len(predicateNames) {
		return predicateNames[p]
	}
	return fmt.Sprintf("Predicate(%d)", p)
}

// PredicateByName maps a textual predicate to its value.
func PredicateByName(name string) (Predicate, bool) {
	for i, n := range predicateNames {
		if n != name {
			continue
		}
		if v, err := safecast.Conv[uint8](i); err == nil {
			return Predicate(v), true
		}
	}
	return 0, false
}

// IsFloat reports whether p is an fcmp predicate.
func (p Predicate) IsFloat() bool { return p >= PredOEQ }

// Instr is an SSA instruction. An instruction that produces a value is itself
// the value.
type Instr struct {
	ID    int
	Op    Opcode
	Ty    Type
	Label string

	// Args are the operands. For calls they are the call arguments only;
	// the target lives in Callee. For phis they are parallel to Incoming.
	Args []Value

	Pred     Predicate
	Callee   Value
	Sig      Signature
	Incoming []*Block

	Block *Block
}

func (in *Instr) Type() Type { return in.Ty }
func (*Instr) isValue()      {}

// Operands returns every value read by the instruction, callee first.
func (in *Instr) Operands() []Value {
	if in.Op != OpCall {
		return in.Args
	}
	out := make([]Value, 0, len(in.Args)+1)
	out = append(out, in.Callee)
	return append(out, in.Args...)
}

// HasSideEffects reports whether the instruction must be kept even when unused.
func (in *Instr) HasSideEffects() bool {
	return in.Op == OpStore || in.Op == OpCall
}

// Erased reports whether the instruction was removed from its block.
func (in *Instr) Erased() bool { return in.Block == nil }

// CalledFunc returns the statically named callee of a call, or nil.
func (in *Instr) CalledFunc() *Func {
	if in.Op != OpCall {
		return nil
	}
	if c, ok := in.Callee.(*Const); ok && c.Kind == ConstFunc {
		return c.Func
	}
	return nil
}

// TermKind distinguishes block terminators.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermRet
	TermBr
	TermCondBr
	TermUnreachable
)

// Terminator ends a block. Value is the returned value (nil for void) or the
// branch condition.
type Terminator struct {
	Kind  TermKind
	Value Value
	Then  *Block
	Else  *Block
}

// Succs lists the successor blocks in order.
func (t *Terminator) Succs() []*Block {
	switch t.Kind {
	case TermBr:
		return []*Block{t.Then}
	case TermCondBr:
		if t.Then == t.Else {
			return []*Block{t.Then}
		}
		return []*Block{t.Then, t.Else}
	}
	return nil
}

// Redirect replaces every edge to from with an edge to to.
func (t *Terminator) Redirect(from, to *Block) {
	if t.Then == from {
		t.Then = to
	}
	if t.Else == from {
		t.Else = to
	}
}
