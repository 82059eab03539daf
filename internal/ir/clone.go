package ir

import (
	"errors"
	"fmt"
)

var (
	// ErrDeclaration is returned when a body is required but f is only declared.
	ErrDeclaration = errors.New("function has no body")
	// ErrArity is returned when more constants are supplied than parameters exist.
	ErrArity = errors.New("too many constant arguments")
	// ErrArgType is returned when a constant does not match the parameter type.
	ErrArgType = errors.New("constant does not match parameter type")
)

// CloneSpecialized clones base into its module with the leading parameters
// replaced by consts. The clone takes the remaining parameters, in order, and
// keeps the result type and variadic flag. An empty name picks a fresh one.
func CloneSpecialized(base *Func, consts []*Const, name string) (*Func, error) {
	if base.IsDecl() {
		return nil, fmt.Errorf("@%s: %w", base.Name, ErrDeclaration)
	}
	if len(consts) > len(base.Params) {
		return nil, fmt.Errorf("@%s: %d constants for %d parameters: %w", base.Name, len(consts), len(base.Params), ErrArity)
	}
	for i, c := range consts {
		if c.Ty != base.Params[i].Ty {
			return nil, fmt.Errorf("@%s: parameter %d is %s, constant is %s: %w", base.Name, i, base.Params[i].Ty, c.Ty, ErrArgType)
		}
	}

	k := len(consts)
	sig := Signature{
		Params:   append([]Type(nil), base.Sig.Params[k:]...),
		Result:   base.Sig.Result,
		Variadic: base.Sig.Variadic,
	}
	labels := make([]string, 0, len(base.Params)-k)
	for _, p := range base.Params[k:] {
		labels = append(labels, p.Label)
	}

	mod := base.Module
	if name == "" {
		if mod != nil {
			name = mod.UniqueName(base.Name + ".spec")
		} else {
			name = base.Name + ".spec"
		}
	}
	clone := NewFunc(name, sig, labels...)
	clone.Linkage = LinkInternal

	vmap := make(map[Value]Value, len(base.Params))
	for i, p := range base.Params {
		if i < k {
			vmap[p] = consts[i]
		} else {
			vmap[p] = clone.Params[i-k]
		}
	}
	cloneBody(base, vmap, func(label string) *Block { return clone.AddBlock(label) })

	if mod != nil {
		if err := mod.AddFunc(clone); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// cloneBody copies every block of src through newBlock. vmap seeds the value
// mapping (parameters) and receives the instruction mapping. The returned
// blocks are in the layout order of src.
func cloneBody(src *Func, vmap map[Value]Value, newBlock func(label string) *Block) []*Block {
	bmap := make(map[*Block]*Block, len(src.Blocks))
	out := make([]*Block, 0, len(src.Blocks))
	for _, b := range src.Blocks {
		nb := newBlock(b.Label)
		bmap[b] = nb
		out = append(out, nb)
	}

	// Phase 1: copy instructions so that forward references resolve.
	var copies []*Instr
	for _, b := range src.Blocks {
		nb := bmap[b]
		for _, in := range b.Instrs {
			c := &Instr{
				Op:     in.Op,
				Ty:     in.Ty,
				Label:  in.Label,
				Pred:   in.Pred,
				Callee: in.Callee,
				Sig:    in.Sig,
				Args:   append([]Value(nil), in.Args...),
			}
			if len(in.Incoming) > 0 {
				c.Incoming = make([]*Block, len(in.Incoming))
				for i, ib := range in.Incoming {
					c.Incoming[i] = bmap[ib]
				}
			}
			nb.Append(c)
			vmap[in] = c
			copies = append(copies, c)
		}
	}

	// Phase 2: remap operands and terminators.
	remap := func(v Value) Value {
		if n, ok := vmap[v]; ok {
			return n
		}
		return v
	}
	for _, c := range copies {
		for i, a := range c.Args {
			c.Args[i] = remap(a)
		}
		if c.Callee != nil {
			c.Callee = remap(c.Callee)
		}
	}
	for _, b := range src.Blocks {
		t := b.Term
		if t.Value != nil {
			t.Value = remap(t.Value)
		}
		t.Then = bmap[t.Then]
		t.Else = bmap[t.Else]
		bmap[b].Term = t
	}
	return out
}
