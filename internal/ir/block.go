package ir

import "slices"

// Block is a basic block: straight-line instructions closed by a terminator.
type Block struct {
	ID     int
	Label  string
	Instrs []*Instr
	Term   Terminator
	Fn     *Func
}

func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// Succs lists successor blocks.
func (b *Block) Succs() []*Block { return b.Term.Succs() }

// Append adds in at the end of the block.
func (b *Block) Append(in *Instr) *Instr {
	b.adopt(in)
	b.Instrs = append(b.Instrs, in)
	return in
}

// InsertBefore places in immediately before pos, which must be in b.
func (b *Block) InsertBefore(in, pos *Instr) *Instr {
	idx := b.Index(pos)
	if idx < 0 {
		return b.Append(in)
	}
	b.adopt(in)
	b.Instrs = slices.Insert(b.Instrs, idx, in)
	return in
}

// InsertPhi places a phi after the existing phis.
func (b *Block) InsertPhi(in *Instr) *Instr {
	b.adopt(in)
	n := len(b.Phis())
	b.Instrs = slices.Insert(b.Instrs, n, in)
	return in
}

// Index returns the position of in inside the block or -1.
func (b *Block) Index(in *Instr) int {
	return slices.Index(b.Instrs, in)
}

// Phis returns the leading phi instructions.
func (b *Block) Phis() []*Instr {
	n := 0
	for n < len(b.Instrs) && b.Instrs[n].Op == OpPhi {
		n++
	}
	return b.Instrs[:n]
}

func (b *Block) adopt(in *Instr) {
	in.Block = b
	if b.Fn != nil && in.ID == 0 {
		in.ID = b.Fn.nextInstrID()
	}
}

func (b *Block) remove(in *Instr) {
	idx := b.Index(in)
	if idx < 0 {
		return
	}
	b.Instrs = slices.Delete(b.Instrs, idx, idx+1)
	in.Block = nil
}

// IncomingFor returns the phi operand flowing in from pred.
func (in *Instr) IncomingFor(pred *Block) (Value, bool) {
	for i, b := range in.Incoming {
		if b == pred {
			return in.Args[i], true
		}
	}
	return nil, false
}

// AddIncoming appends a (value, block) pair to a phi.
func (in *Instr) AddIncoming(v Value, pred *Block) {
	in.Args = append(in.Args, v)
	in.Incoming = append(in.Incoming, pred)
}

// RemoveIncoming drops every entry that flows in from pred.
func (in *Instr) RemoveIncoming(pred *Block) {
	for i := len(in.Incoming) - 1; i >= 0; i-- {
		if in.Incoming[i] == pred {
			in.Args = slices.Delete(in.Args, i, i+1)
			in.Incoming = slices.Delete(in.Incoming, i, i+1)
		}
	}
}

// RetargetIncoming renames the incoming block from to to.
func (in *Instr) RetargetIncoming(from, to *Block) {
	for i, b := range in.Incoming {
		if b == from {
			in.Incoming[i] = to
		}
	}
}
