package ir

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotInlinable is returned when a call cannot be inlined.
var ErrNotInlinable = errors.New("call is not inlinable")

// InlineCall replaces a direct call with a copy of the callee body. The block
// holding the call is split after it; the callee blocks are placed between the
// two halves and every return branches to the continuation, merging results
// through a phi when there is more than one. It returns the newly created
// blocks, continuation included.
func InlineCall(call *Instr) ([]*Block, error) {
	if call.Op != OpCall || call.Erased() {
		return nil, fmt.Errorf("not a live call: %w", ErrNotInlinable)
	}
	callee := call.CalledFunc()
	if callee == nil {
		return nil, fmt.Errorf("indirect call: %w", ErrNotInlinable)
	}
	block := call.Block
	caller := block.Fn
	switch {
	case callee == caller:
		return nil, fmt.Errorf("@%s calls itself: %w", callee.Name, ErrNotInlinable)
	case callee.IsDecl():
		return nil, fmt.Errorf("@%s: %w", callee.Name, ErrDeclaration)
	case callee.Sig.Variadic:
		return nil, fmt.Errorf("@%s is variadic: %w", callee.Name, ErrNotInlinable)
	case len(call.Args) != len(callee.Params):
		return nil, fmt.Errorf("@%s: %d arguments for %d parameters: %w", callee.Name, len(call.Args), len(callee.Params), ErrNotInlinable)
	}

	// Split: everything after the call moves to the continuation.
	idx := block.Index(call)
	cont := caller.InsertBlockAfter(block, block.Label+".cont")
	tail := slices.Clone(block.Instrs[idx+1:])
	block.Instrs = block.Instrs[:idx+1]
	for _, in := range tail {
		in.Block = cont
	}
	cont.Instrs = tail
	cont.Term = block.Term
	for _, s := range cont.Succs() {
		for _, phi := range s.Phis() {
			phi.RetargetIncoming(block, cont)
		}
	}

	vmap := make(map[Value]Value, len(callee.Params))
	for i, p := range callee.Params {
		vmap[p] = call.Args[i]
	}
	after := block
	body := cloneBody(callee, vmap, func(label string) *Block {
		after = caller.InsertBlockAfter(after, callee.Name+"."+label)
		return after
	})
	block.Term = Terminator{Kind: TermBr, Then: body[0]}

	type ret struct {
		v Value
		b *Block
	}
	var rets []ret
	for _, b := range body {
		if b.Term.Kind != TermRet {
			continue
		}
		rets = append(rets, ret{b.Term.Value, b})
		b.Term = Terminator{Kind: TermBr, Then: cont}
	}

	var result Value
	if !call.Ty.IsVoid() {
		switch len(rets) {
		case 0:
			result = ZeroValue(call.Ty)
		case 1:
			result = rets[0].v
		default:
			phi := cont.InsertPhi(&Instr{Op: OpPhi, Ty: call.Ty, Label: call.Label})
			for _, r := range rets {
				phi.AddIncoming(r.v, r.b)
			}
			result = phi
		}
	}
	if result != nil {
		ReplaceAllUses(caller, call, result)
	}
	EraseInstr(call)
	return append(body, cont), nil
}

// ZeroValue returns the zero constant of t.
func ZeroValue(t Type) *Const {
	switch t.Kind {
	case KindFloat:
		return NewFloat(t, 0)
	case KindPtr:
		return NewNull()
	}
	return NewInt(t, 0)
}
