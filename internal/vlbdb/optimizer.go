package vlbdb

import (
	"fmt"

	"vlbdb/internal/ir"
	"vlbdb/internal/trace"
)

// optimizer propagates constants through one freshly specialized function,
// resolves and specializes the calls it makes, and inlines the callees
// reachable through its constant inputs.
type optimizer struct {
	u  *Unit
	fn *ir.Func

	queue   []*ir.Instr
	queued  map[*ir.Instr]bool
	known   map[*ir.Block]bool
	sites   map[*ir.Instr]bool
	targets map[*ir.Func]bool
}

func (u *Unit) optimize(fn *ir.Func, args []*ir.Const) {
	end := u.begin(trace.ScopeOptimize, "optimize")
	o := &optimizer{
		u:       u,
		fn:      fn,
		queued:  make(map[*ir.Instr]bool),
		known:   make(map[*ir.Block]bool),
		sites:   make(map[*ir.Instr]bool),
		targets: make(map[*ir.Func]bool),
	}
	for _, in := range fn.Instrs() {
		if in.Op == ir.OpCall {
			o.sites[in] = true
		}
	}
	for _, a := range args {
		u.addTarget(o.targets, a)
	}
	o.enqueueNewBlocks()
	o.run()
	end(fn.Name)
}

func (o *optimizer) push(in *ir.Instr) {
	if in.Erased() || o.queued[in] {
		return
	}
	o.queued[in] = true
	o.queue = append(o.queue, in)
}

func (o *optimizer) pushBlock(b *ir.Block) {
	for _, in := range b.Instrs {
		o.push(in)
	}
}

func (o *optimizer) enqueueNewBlocks() {
	for _, b := range o.fn.Blocks {
		if !o.known[b] {
			o.known[b] = true
			o.pushBlock(b)
		}
	}
}

func (o *optimizer) run() {
	for len(o.queue) > 0 {
		in := o.queue[0]
		o.queue = o.queue[1:]
		delete(o.queued, in)
		if in.Erased() {
			continue
		}
		if o.fold(in) {
			continue
		}
		if in.Op != ir.OpCall {
			continue
		}
		call := o.processCall(in)
		if o.sites[call] && o.shouldInline(call) {
			delete(o.sites, call)
			o.inline(call)
		}
	}
}

// fold replaces in by a constant when its operands allow it.
func (o *optimizer) fold(in *ir.Instr) bool {
	if !ir.HasUses(o.fn, in) {
		return false
	}
	c := ir.FoldInstr(in)
	if c == nil && in.Op == ir.OpLoad {
		c = ir.FoldLoadFromGlobal(in)
		if c == nil {
			c = o.u.foldLoadFromFrozen(in)
		}
		if c != nil {
			o.u.stats.LoadFolds++
		}
	}
	if c == nil {
		return false
	}
	o.u.addTarget(o.targets, c)
	o.u.stats.Folds++
	o.u.point(trace.ScopeInstr, "fold", fmt.Sprintf("%s -> %s", in.Op, ir.ConstString(c)))
	for _, user := range ir.ReplaceInstr(in, c) {
		o.push(user)
	}
	return true
}

// processCall points call at its statically known callee and, when the
// callee is registered, at a specialization on the call's constant prefix.
// It returns the call that replaces it, or call itself.
func (o *optimizer) processCall(call *ir.Instr) *ir.Instr {
	callee := o.u.resolveFunction(call.Callee)
	if callee == nil {
		return call
	}
	if call.CalledFunc() != callee {
		if !callee.Sig.Equal(call.Sig) {
			return call
		}
		call.Callee = ir.FuncRef(callee)
	}
	rec, ok := o.u.byFunc[callee]
	if !ok {
		return call
	}

	var consts []*ir.Const
	for _, a := range call.Args {
		c, ok := a.(*ir.Const)
		if !ok {
			break
		}
		consts = append(consts, c)
	}
	if len(consts) == 0 {
		return call
	}
	spec, n, err := o.u.autoSpecialize(rec, consts)
	if err != nil {
		o.u.point(trace.ScopeInstr, "specialize.skip", err.Error())
		return call
	}
	if n == 0 {
		return call
	}

	repl := &ir.Instr{
		Op:     ir.OpCall,
		Ty:     call.Ty,
		Label:  call.Label,
		Callee: ir.FuncRef(spec.fn),
		Sig:    spec.fn.Sig,
		Args:   append([]ir.Value(nil), call.Args[n:]...),
	}
	call.Block.InsertBefore(repl, call)
	if o.sites[call] {
		delete(o.sites, call)
		o.sites[repl] = true
	}
	ir.ReplaceAllUses(o.fn, call, repl)
	ir.EraseInstr(call)
	o.u.stats.CallsRewritten++
	o.u.point(trace.ScopeInstr, "call.rewrite", fmt.Sprintf("@%s -> @%s", callee.Name, spec.fn.Name))
	return repl
}

func (o *optimizer) shouldInline(call *ir.Instr) bool {
	callee := call.CalledFunc()
	if callee == nil || callee == o.fn {
		return false
	}
	rec, ok := o.u.byFunc[callee]
	if !ok {
		return false
	}
	if o.u.inline == InlineAggressive {
		return true
	}
	return o.targets[rec.key.Base]
}

func (o *optimizer) inline(call *ir.Instr) {
	block := call.Block
	callee := call.CalledFunc()
	if _, err := ir.InlineCall(call); err != nil {
		o.u.point(trace.ScopeInstr, "inline.skip", err.Error())
		return
	}
	o.u.stats.Inlines++
	o.u.point(trace.ScopeInstr, "inline", "@"+callee.Name)
	o.pushBlock(block)
	o.enqueueNewBlocks()
}

// foldLoadFromFrozen folds a load whose address lies inside a frozen range.
// Reads that run past the end of the range are left alone.
func (u *Unit) foldLoadFromFrozen(in *ir.Instr) *ir.Const {
	p, ok := in.Args[0].(*ir.Const)
	if !ok {
		return nil
	}
	p = ir.FoldConst(p)
	if p.Kind != ir.ConstAddr {
		return nil
	}
	data, ok := u.frozenAt(p.Bits, in.Ty.Size())
	if !ok {
		return nil
	}
	return ir.DecodeConst(in.Ty, data)
}
