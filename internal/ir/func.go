package ir

import (
	"fmt"
	"slices"
)

// Linkage controls symbol visibility of functions and globals.
type Linkage uint8

const (
	LinkExternal Linkage = iota
	LinkInternal
)

func (l Linkage) String() string {
	if l == LinkInternal {
		return "internal"
	}
	return "external"
}

// Func is a function definition or declaration. A function without blocks is
// a declaration.
type Func struct {
	ID      int
	Name    string
	Sig     Signature
	Params  []*Param
	Blocks  []*Block
	Linkage Linkage
	Module  *Module

	lastInstr int
}

// NewFunc creates a detached function with one parameter per signature slot.
// labels may be shorter than the parameter list.
func NewFunc(name string, sig Signature, labels ...string) *Func {
	f := &Func{Name: name, Sig: sig}
	f.Params = make([]*Param, len(sig.Params))
	for i, t := range sig.Params {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		f.Params[i] = &Param{Index: i, Ty: t, Label: label, Fn: f}
	}
	return f
}

// IsDecl reports whether the function has no body.
func (f *Func) IsDecl() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block.
func (f *Func) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddBlock appends a new empty block.
func (f *Func) AddBlock(label string) *Block {
	b := &Block{ID: len(f.Blocks), Label: label, Fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// InsertBlockAfter creates a block placed right after after in layout order.
func (f *Func) InsertBlockAfter(after *Block, label string) *Block {
	b := &Block{Label: label, Fn: f}
	idx := slices.Index(f.Blocks, after)
	if idx < 0 {
		f.Blocks = append(f.Blocks, b)
	} else {
		f.Blocks = slices.Insert(f.Blocks, idx+1, b)
	}
	f.Renumber()
	return b
}

// RemoveBlock drops b from the layout. Callers fix up references first.
func (f *Func) RemoveBlock(b *Block) {
	idx := slices.Index(f.Blocks, b)
	if idx < 0 {
		return
	}
	f.Blocks = slices.Delete(f.Blocks, idx, idx+1)
	b.Fn = nil
	f.Renumber()
}

// Renumber assigns block IDs in layout order.
func (f *Func) Renumber() {
	for i, b := range f.Blocks {
		b.ID = i
	}
}

func (f *Func) nextInstrID() int {
	f.lastInstr++
	return f.lastInstr
}

// Instrs returns a snapshot of all instructions in layout order.
func (f *Func) Instrs() []*Instr {
	var out []*Instr
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

// Preds maps every block to its predecessors in layout order.
func (f *Func) Preds() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// Owns reports whether b is part of f.
func (f *Func) Owns(b *Block) bool {
	return b != nil && b.Fn == f && slices.Contains(f.Blocks, b)
}

func (f *Func) String() string {
	return fmt.Sprintf("@%s: %s", f.Name, f.Sig)
}
