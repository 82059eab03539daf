package ir

// Builder appends instructions to a block.
type Builder struct {
	Block *Block
}

func NewBuilder(b *Block) *Builder { return &Builder{Block: b} }

// SetBlock moves the insertion point to the end of b.
func (bd *Builder) SetBlock(b *Block) { bd.Block = b }

func (bd *Builder) emit(in *Instr) *Instr { return bd.Block.Append(in) }

// Binary emits an arithmetic or bitwise instruction typed after x.
func (bd *Builder) Binary(op Opcode, x, y Value) *Instr {
	return bd.emit(&Instr{Op: op, Ty: x.Type(), Args: []Value{x, y}})
}

func (bd *Builder) Add(x, y Value) *Instr { return bd.Binary(OpAdd, x, y) }
func (bd *Builder) Sub(x, y Value) *Instr { return bd.Binary(OpSub, x, y) }
func (bd *Builder) Mul(x, y Value) *Instr { return bd.Binary(OpMul, x, y) }

// ICmp emits an integer or pointer comparison producing i1.
func (bd *Builder) ICmp(p Predicate, x, y Value) *Instr {
	return bd.emit(&Instr{Op: OpICmp, Ty: I1, Pred: p, Args: []Value{x, y}})
}

// FCmp emits an ordered float comparison producing i1.
func (bd *Builder) FCmp(p Predicate, x, y Value) *Instr {
	return bd.emit(&Instr{Op: OpFCmp, Ty: I1, Pred: p, Args: []Value{x, y}})
}

// Cast emits a conversion of v to type to.
func (bd *Builder) Cast(op Opcode, v Value, to Type) *Instr {
	return bd.emit(&Instr{Op: op, Ty: to, Args: []Value{v}})
}

// PtrAdd offsets pointer p by an integer byte count.
func (bd *Builder) PtrAdd(p, off Value) *Instr {
	return bd.emit(&Instr{Op: OpPtrAdd, Ty: Ptr, Args: []Value{p, off}})
}

// Load reads a value of type t from p.
func (bd *Builder) Load(t Type, p Value) *Instr {
	return bd.emit(&Instr{Op: OpLoad, Ty: t, Args: []Value{p}})
}

// Store writes v to p.
func (bd *Builder) Store(v, p Value) *Instr {
	return bd.emit(&Instr{Op: OpStore, Ty: Void, Args: []Value{v, p}})
}

func (bd *Builder) Select(c, x, y Value) *Instr {
	return bd.emit(&Instr{Op: OpSelect, Ty: x.Type(), Args: []Value{c, x, y}})
}

// Phi emits an empty phi; fill it with AddIncoming.
func (bd *Builder) Phi(t Type) *Instr {
	return bd.Block.InsertPhi(&Instr{Op: OpPhi, Ty: t})
}

// Call emits a call through callee with the given signature.
func (bd *Builder) Call(callee Value, sig Signature, args ...Value) *Instr {
	return bd.emit(&Instr{Op: OpCall, Ty: sig.Result, Callee: callee, Sig: sig, Args: args})
}

// CallFunc emits a direct call to f.
func (bd *Builder) CallFunc(f *Func, args ...Value) *Instr {
	return bd.Call(FuncRef(f), f.Sig, args...)
}

// Ret terminates the block; v is nil for void returns.
func (bd *Builder) Ret(v Value) {
	bd.Block.Term = Terminator{Kind: TermRet, Value: v}
}

func (bd *Builder) Br(target *Block) {
	bd.Block.Term = Terminator{Kind: TermBr, Then: target}
}

func (bd *Builder) CondBr(c Value, then, els *Block) {
	bd.Block.Term = Terminator{Kind: TermCondBr, Value: c, Then: then, Else: els}
}

func (bd *Builder) Unreachable() {
	bd.Block.Term = Terminator{Kind: TermUnreachable}
}
