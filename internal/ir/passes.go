package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Pass transforms a function in place and reports whether it changed anything.
type Pass func(f *Func) bool

var passes = map[string]Pass{
	"sccp":        SCCP,
	"instcombine": InstCombine,
	"reassociate": Reassociate,
	"gvn":         GVN,
	"adce":        ADCE,
	"simplifycfg": func(f *Func) bool { return SimplifyCFG(f) },
}

// DefaultPasses is the finishing battery applied to specialized functions.
var DefaultPasses = []string{"sccp", "instcombine", "reassociate", "gvn", "adce", "simplifycfg"}

// maxRounds bounds the pipeline fixpoint.
const maxRounds = 8

// PassNames lists the registered pass names in sorted order.
func PassNames() []string {
	names := make([]string, 0, len(passes))
	for n := range passes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CheckPasses reports an error naming the first unknown pass.
func CheckPasses(names []string) error {
	for _, n := range names {
		if _, ok := passes[n]; !ok {
			return fmt.Errorf("unknown pass %q (known: %s)", n, strings.Join(PassNames(), ", "))
		}
	}
	return nil
}

// RunPasses applies the named passes in order, repeating the sequence until
// nothing changes or the round limit is reached.
func RunPasses(f *Func, names []string) error {
	if err := CheckPasses(names); err != nil {
		return err
	}
	if f.IsDecl() {
		return nil
	}
	for range maxRounds {
		changed := false
		for _, n := range names {
			if passes[n](f) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return nil
}

// SCCP folds constant instructions and loads from constant globals, resolves
// constant branches and drops the edges they make dead.
func SCCP(f *Func) bool {
	changed := false
	for {
		round := false
		for _, in := range f.Instrs() {
			if in.Erased() {
				continue
			}
			c := FoldInstr(in)
			if c == nil {
				c = FoldLoadFromGlobal(in)
			}
			if c == nil {
				continue
			}
			ReplaceInstr(in, c)
			round = true
		}
		for _, b := range f.Blocks {
			if foldBranch(b) {
				round = true
			}
		}
		if !round {
			return changed
		}
		changed = true
	}
}

// foldBranch turns a conditional branch on a constant into a plain branch.
func foldBranch(b *Block) bool {
	t := &b.Term
	if t.Kind != TermCondBr {
		return false
	}
	if t.Then == t.Else {
		*t = Terminator{Kind: TermBr, Then: t.Then}
		return true
	}
	c, ok := t.Value.(*Const)
	if !ok || c.Kind != ConstInt {
		return false
	}
	taken, dead := t.Then, t.Else
	if c.Bits == 0 {
		taken, dead = dead, taken
	}
	for _, phi := range dead.Phis() {
		phi.RemoveIncoming(b)
	}
	*t = Terminator{Kind: TermBr, Then: taken}
	return true
}

// InstCombine applies local algebraic identities.
func InstCombine(f *Func) bool {
	changed := false
	for _, in := range f.Instrs() {
		if in.Erased() {
			continue
		}
		if in.Op.IsCommutative() && len(in.Args) == 2 {
			if _, lc := in.Args[0].(*Const); lc {
				if _, rc := in.Args[1].(*Const); !rc {
					in.Args[0], in.Args[1] = in.Args[1], in.Args[0]
					changed = true
				}
			}
		}
		if v := SimplifyInstr(in); v != nil && v != Value(in) {
			ReplaceInstr(in, v)
			changed = true
		}
	}
	return changed
}

// SimplifyInstr returns an existing value equivalent to in, or nil.
func SimplifyInstr(in *Instr) Value {
	if c := FoldInstr(in); c != nil {
		return c
	}
	switch in.Op {
	case OpSelect:
		if c, ok := in.Args[0].(*Const); ok && c.Kind == ConstInt {
			if c.Bits != 0 {
				return in.Args[1]
			}
			return in.Args[2]
		}
		if in.Args[1] == in.Args[2] {
			return in.Args[1]
		}
		return nil
	case OpPhi:
		var only Value
		for _, a := range in.Args {
			if a == Value(in) || a == only {
				continue
			}
			if only != nil {
				return nil
			}
			only = a
		}
		return only
	case OpPtrAdd:
		if isIntConst(in.Args[1], 0) {
			return in.Args[0]
		}
		return nil
	case OpTrunc, OpZExt, OpSExt, OpBitcast:
		if in.Args[0].Type() == in.Ty {
			return in.Args[0]
		}
		return nil
	case OpICmp:
		if in.Args[0] == in.Args[1] {
			switch in.Pred {
			case PredEQ, PredSLE, PredSGE, PredULE, PredUGE:
				return NewBool(true)
			default:
				return NewBool(false)
			}
		}
		return nil
	}
	if !in.Op.IsBinary() || in.Ty.IsFloat() {
		return nil
	}
	x, y := in.Args[0], in.Args[1]
	switch in.Op {
	case OpAdd, OpOr, OpXor, OpSub, OpShl, OpLShr, OpAShr:
		if isIntConst(y, 0) {
			return x
		}
	case OpMul, OpSDiv, OpUDiv:
		if isIntConst(y, 1) {
			return x
		}
	}
	switch in.Op {
	case OpMul:
		if isIntConst(y, 0) {
			return NewInt(in.Ty, 0)
		}
	case OpAnd:
		if isIntConst(y, 0) {
			return NewInt(in.Ty, 0)
		}
		if x == y || isIntConst(y, in.Ty.Mask()) {
			return x
		}
	case OpOr:
		if x == y {
			return x
		}
	case OpSub, OpXor:
		if x == y {
			return NewInt(in.Ty, 0)
		}
	}
	return nil
}

func isIntConst(v Value, want uint64) bool {
	c, ok := v.(*Const)
	return ok && c.Kind == ConstInt && c.Bits == want
}

// Reassociate combines the constant operands of chained associative
// operations: (x op c1) op c2 becomes x op (c1 op c2).
func Reassociate(f *Func) bool {
	changed := false
	for _, in := range f.Instrs() {
		if in.Erased() || !in.Op.IsAssociative() || in.Ty.IsFloat() {
			continue
		}
		c2, ok := in.Args[1].(*Const)
		if !ok || c2.Kind != ConstInt {
			continue
		}
		inner, ok := in.Args[0].(*Instr)
		if !ok || inner.Op != in.Op || inner.Ty != in.Ty {
			continue
		}
		c1, ok := inner.Args[1].(*Const)
		if !ok || c1.Kind != ConstInt {
			continue
		}
		merged := foldInt(in.Op, in.Ty, c1, c2)
		if merged == nil {
			continue
		}
		in.Args = []Value{inner.Args[0], merged}
		changed = true
	}
	return changed
}

// GVN removes redundant pure instructions within a block.
func GVN(f *Func) bool {
	changed := false
	for _, b := range f.Blocks {
		seen := make(map[string]*Instr)
		for _, in := range slices.Clone(b.Instrs) {
			if !isPure(in) || in.Op == OpPhi {
				continue
			}
			key := valueNumber(in)
			if prev, ok := seen[key]; ok {
				ReplaceInstr(in, prev)
				changed = true
				continue
			}
			seen[key] = in
		}
	}
	return changed
}

func isPure(in *Instr) bool {
	return !in.HasSideEffects() && in.Op != OpLoad
}

func valueNumber(in *Instr) string {
	keys := make([]string, len(in.Args))
	for i, a := range in.Args {
		keys[i] = operandKey(a)
	}
	if in.Op.IsCommutative() && len(keys) == 2 && keys[1] < keys[0] {
		keys[0], keys[1] = keys[1], keys[0]
	}
	return fmt.Sprintf("%s:%s:%d(%s)", in.Op, in.Ty, in.Pred, strings.Join(keys, ","))
}

func operandKey(v Value) string {
	if c, ok := v.(*Const); ok {
		return c.Key()
	}
	return fmt.Sprintf("%p", v)
}

// ADCE deletes pure instructions whose results are never used.
func ADCE(f *Func) bool {
	changed := false
	for {
		removed := false
		for _, in := range f.Instrs() {
			if in.HasSideEffects() || in.Erased() {
				continue
			}
			if !hasOtherUses(f, in) {
				EraseInstr(in)
				removed = true
			}
		}
		if !removed {
			return changed
		}
		changed = true
	}
}

// hasOtherUses reports uses of in other than by itself.
func hasOtherUses(f *Func, in *Instr) bool {
	for _, b := range f.Blocks {
		if b.Term.Value == Value(in) {
			return true
		}
		for _, u := range b.Instrs {
			if u != in && uses(u, in) {
				return true
			}
		}
	}
	return false
}
