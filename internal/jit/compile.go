package jit

import (
	"fmt"
	"math"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
)

// Fault is a runtime error raised by compiled code.
type Fault struct {
	Func   string
	Addr   mem.Addr
	Reason string
	Err    error
}

func (f *Fault) Error() string {
	prefix := "jit"
	if f.Func != "" {
		prefix = "@" + f.Func
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, f.Reason, f.Err)
	}
	if f.Addr != 0 {
		return fmt.Sprintf("%s: %s (%#x)", prefix, f.Reason, f.Addr)
	}
	return fmt.Sprintf("%s: %s", prefix, f.Reason)
}

func (f *Fault) Unwrap() error { return f.Err }

// trap unwinds compiled code back to program.run.
type trap struct{ err error }

func raise(err error) { panic(trap{err}) }

type frame struct {
	regs  []uint64
	ret   uint64
	depth int
}

type operand func(fr *frame) uint64

type move struct {
	dst int
	src operand
}

type cblock struct {
	ops  []func(fr *frame)
	term func(fr *frame) int
}

type program struct {
	name   string
	slots  int
	params int
	blocks []cblock
}

func (p *program) run(e *Engine, args []uint64, depth int) (result uint64, err error) {
	fr := &frame{regs: make([]uint64, p.slots), depth: depth}
	copy(fr.regs, args[:p.params])
	defer func() {
		if r := recover(); r != nil {
			t, ok := r.(trap)
			if !ok {
				panic(r)
			}
			result, err = 0, t.err
		}
	}()
	idx := 0
	for {
		b := &p.blocks[idx]
		for _, op := range b.ops {
			op(fr)
		}
		idx = b.term(fr)
		if idx < 0 {
			return fr.ret, nil
		}
	}
}

type compiler struct {
	e      *Engine
	fn     *ir.Func
	slots  map[ir.Value]int
	blocks map[*ir.Block]int
}

// compile translates en.fn. Callers hold e.mu.
func (e *Engine) compile(en *entry) error {
	f := en.fn
	if err := ir.ValidateFunc(f); err != nil {
		return fmt.Errorf("compile @%s: %w", f.Name, err)
	}
	c := &compiler{
		e:      e,
		fn:     f,
		slots:  make(map[ir.Value]int),
		blocks: make(map[*ir.Block]int, len(f.Blocks)),
	}
	for _, p := range f.Params {
		c.slots[p] = len(c.slots)
	}
	for i, b := range f.Blocks {
		c.blocks[b] = i
		for _, in := range b.Instrs {
			if !in.Ty.IsVoid() {
				c.slots[in] = len(c.slots)
			}
		}
	}
	prog := &program{name: f.Name, slots: len(c.slots), params: len(f.Params), blocks: make([]cblock, len(f.Blocks))}
	for i, b := range f.Blocks {
		cb, err := c.block(b)
		if err != nil {
			return fmt.Errorf("compile @%s: %s: %w", f.Name, b.Label, err)
		}
		prog.blocks[i] = cb
	}
	en.prog = prog
	e.compiled++
	return nil
}

func (c *compiler) block(b *ir.Block) (cblock, error) {
	var cb cblock
	for _, in := range b.Instrs {
		if in.Op == ir.OpPhi {
			continue
		}
		op, err := c.instr(in)
		if err != nil {
			return cb, err
		}
		cb.ops = append(cb.ops, op)
	}
	term, err := c.term(b)
	if err != nil {
		return cb, err
	}
	cb.term = term
	return cb, nil
}

// edge returns the phi moves for the edge from -> to followed by the target
// index. Moves read all sources before writing.
func (c *compiler) edge(from, to *ir.Block) (func(fr *frame) int, error) {
	idx := c.blocks[to]
	var moves []move
	for _, phi := range to.Phis() {
		v, ok := phi.IncomingFor(from)
		if !ok {
			return nil, fmt.Errorf("phi in %s has no entry for %s", to.Label, from.Label)
		}
		src, err := c.operand(v)
		if err != nil {
			return nil, err
		}
		moves = append(moves, move{dst: c.slots[phi], src: src})
	}
	switch len(moves) {
	case 0:
		return func(*frame) int { return idx }, nil
	case 1:
		m := moves[0]
		return func(fr *frame) int { fr.regs[m.dst] = m.src(fr); return idx }, nil
	}
	return func(fr *frame) int {
		vals := make([]uint64, len(moves))
		for i, m := range moves {
			vals[i] = m.src(fr)
		}
		for i, m := range moves {
			fr.regs[m.dst] = vals[i]
		}
		return idx
	}, nil
}

func (c *compiler) term(b *ir.Block) (func(fr *frame) int, error) {
	t := b.Term
	switch t.Kind {
	case ir.TermRet:
		if t.Value == nil {
			return func(*frame) int { return -1 }, nil
		}
		v, err := c.operand(t.Value)
		if err != nil {
			return nil, err
		}
		return func(fr *frame) int { fr.ret = v(fr); return -1 }, nil
	case ir.TermBr:
		return c.edge(b, t.Then)
	case ir.TermCondBr:
		cond, err := c.operand(t.Value)
		if err != nil {
			return nil, err
		}
		then, err := c.edge(b, t.Then)
		if err != nil {
			return nil, err
		}
		els, err := c.edge(b, t.Else)
		if err != nil {
			return nil, err
		}
		return func(fr *frame) int {
			if cond(fr)&1 != 0 {
				return then(fr)
			}
			return els(fr)
		}, nil
	case ir.TermUnreachable:
		name := c.fn.Name
		return func(*frame) int {
			raise(&Fault{Func: name, Reason: "reached unreachable"})
			return -1
		}, nil
	}
	return nil, fmt.Errorf("block %s is not terminated", b.Label)
}

func (c *compiler) operand(v ir.Value) (operand, error) {
	switch v := v.(type) {
	case *ir.Const:
		k, err := c.e.constValue(v)
		if err != nil {
			return nil, err
		}
		return func(*frame) uint64 { return k }, nil
	default:
		slot, ok := c.slots[v]
		if !ok {
			return nil, fmt.Errorf("operand %T is not defined in @%s", v, c.fn.Name)
		}
		return func(fr *frame) uint64 { return fr.regs[slot] }, nil
	}
}

// constValue encodes a constant. Callers hold e.mu.
func (e *Engine) constValue(k *ir.Const) (uint64, error) {
	switch k.Kind {
	case ir.ConstInt, ir.ConstFloat, ir.ConstAddr:
		return k.Bits, nil
	case ir.ConstNull:
		return 0, nil
	case ir.ConstFunc:
		return e.entryFor(k.Func).addr, nil
	case ir.ConstGlobal:
		base, err := e.globalAddr(k.Global)
		if err != nil {
			return 0, err
		}
		return base + uint64(k.Offset), nil //nolint:gosec // G115: address arithmetic wraps
	case ir.ConstCast:
		inner, err := e.constValue(k.Inner)
		if err != nil {
			return 0, err
		}
		return inner & k.Ty.Mask(), nil
	}
	return 0, fmt.Errorf("unsupported constant kind %s", k.Kind)
}

func (c *compiler) instr(in *ir.Instr) (func(fr *frame), error) {
	args := make([]operand, len(in.Args))
	for i, a := range in.Args {
		op, err := c.operand(a)
		if err != nil {
			return nil, err
		}
		args[i] = op
	}
	dst := c.slots[in]
	name := c.fn.Name

	switch {
	case in.Op.IsBinary():
		f, err := binaryOp(in.Op, in.Ty, name)
		if err != nil {
			return nil, err
		}
		x, y := args[0], args[1]
		return func(fr *frame) { fr.regs[dst] = f(x(fr), y(fr)) }, nil
	case in.Op == ir.OpICmp || in.Op == ir.OpFCmp:
		cmp, err := compareOp(in.Pred, in.Args[0].Type())
		if err != nil {
			return nil, err
		}
		x, y := args[0], args[1]
		return func(fr *frame) {
			if cmp(x(fr), y(fr)) {
				fr.regs[dst] = 1
			} else {
				fr.regs[dst] = 0
			}
		}, nil
	case in.Op.IsCast():
		f, err := castOp(in.Op, in.Args[0].Type(), in.Ty, name)
		if err != nil {
			return nil, err
		}
		x := args[0]
		return func(fr *frame) { fr.regs[dst] = f(x(fr)) }, nil
	case in.Op == ir.OpPtrAdd:
		p, off := args[0], args[1]
		bits := in.Args[1].Type().Bits
		return func(fr *frame) {
			fr.regs[dst] = p(fr) + uint64(ir.SignExtend(off(fr), bits)) //nolint:gosec // G115: address arithmetic wraps
		}, nil
	case in.Op == ir.OpLoad:
		return c.load(in, args[0], dst), nil
	case in.Op == ir.OpStore:
		return c.store(in, args[0], args[1]), nil
	case in.Op == ir.OpSelect:
		cond, x, y := args[0], args[1], args[2]
		return func(fr *frame) {
			if cond(fr)&1 != 0 {
				fr.regs[dst] = x(fr)
			} else {
				fr.regs[dst] = y(fr)
			}
		}, nil
	case in.Op == ir.OpCall:
		return c.call(in, args, dst)
	}
	return nil, fmt.Errorf("unsupported instruction %s", in.Op)
}

func (c *compiler) load(in *ir.Instr, p operand, dst int) func(fr *frame) {
	space, size, name := c.e.space, in.Ty.Size(), c.fn.Name
	mask := in.Ty.Mask()
	return func(fr *frame) {
		v, err := space.LoadUint(p(fr), size)
		if err != nil {
			raise(&Fault{Func: name, Reason: "load", Err: err})
		}
		fr.regs[dst] = v & mask
	}
}

func (c *compiler) store(in *ir.Instr, v, p operand) func(fr *frame) {
	space, size, name := c.e.space, in.Args[0].Type().Size(), c.fn.Name
	return func(fr *frame) {
		if err := space.StoreUint(p(fr), size, v(fr)); err != nil {
			raise(&Fault{Func: name, Reason: "store", Err: err})
		}
	}
}

func (c *compiler) call(in *ir.Instr, args []operand, dst int) (func(fr *frame), error) {
	callee, err := c.operand(in.Callee)
	if err != nil {
		return nil, err
	}
	e := c.e
	hasResult := !in.Ty.IsVoid()
	return func(fr *frame) {
		vals := make([]uint64, len(args))
		for i, a := range args {
			vals[i] = a(fr)
		}
		r, err := e.call(callee(fr), vals, fr.depth+1)
		if err != nil {
			raise(err)
		}
		if hasResult {
			fr.regs[dst] = r
		}
	}, nil
}

func binaryOp(op ir.Opcode, t ir.Type, name string) (func(a, b uint64) uint64, error) {
	mask := t.Mask()
	bits := t.Bits
	if t.IsFloat() {
		return floatOp(op, t)
	}
	divFault := func(reason string) { raise(&Fault{Func: name, Reason: reason}) }
	switch op {
	case ir.OpAdd:
		return func(a, b uint64) uint64 { return (a + b) & mask }, nil
	case ir.OpSub:
		return func(a, b uint64) uint64 { return (a - b) & mask }, nil
	case ir.OpMul:
		return func(a, b uint64) uint64 { return (a * b) & mask }, nil
	case ir.OpUDiv, ir.OpURem:
		rem := op == ir.OpURem
		return func(a, b uint64) uint64 {
			if b == 0 {
				divFault("division by zero")
			}
			if rem {
				return a % b
			}
			return a / b
		}, nil
	case ir.OpSDiv, ir.OpSRem:
		rem := op == ir.OpSRem
		minVal := int64(-1) << (bits - 1)
		if bits >= 64 {
			minVal = math.MinInt64
		}
		return func(a, b uint64) uint64 {
			sa, sb := ir.SignExtend(a, bits), ir.SignExtend(b, bits)
			if sb == 0 {
				divFault("division by zero")
			}
			if sb == -1 && sa == minVal {
				divFault("signed division overflow")
			}
			if rem {
				return uint64(sa%sb) & mask //nolint:gosec // G115: two's complement reinterpretation
			}
			return uint64(sa/sb) & mask //nolint:gosec // G115: two's complement reinterpretation
		}, nil
	case ir.OpAnd:
		return func(a, b uint64) uint64 { return a & b }, nil
	case ir.OpOr:
		return func(a, b uint64) uint64 { return a | b }, nil
	case ir.OpXor:
		return func(a, b uint64) uint64 { return (a ^ b) & mask }, nil
	case ir.OpShl:
		return func(a, b uint64) uint64 {
			if b >= uint64(bits) {
				return 0
			}
			return (a << b) & mask
		}, nil
	case ir.OpLShr:
		return func(a, b uint64) uint64 {
			if b >= uint64(bits) {
				return 0
			}
			return a >> b
		}, nil
	case ir.OpAShr:
		return func(a, b uint64) uint64 {
			if b >= uint64(bits) {
				b = uint64(bits) - 1
			}
			return uint64(ir.SignExtend(a, bits)>>b) & mask //nolint:gosec // G115: two's complement reinterpretation
		}, nil
	}
	return nil, fmt.Errorf("unsupported integer operation %s", op)
}

func floatOp(op ir.Opcode, t ir.Type) (func(a, b uint64) uint64, error) {
	if t.Bits == 32 {
		f := func(g func(x, y float32) float32) func(a, b uint64) uint64 {
			return func(a, b uint64) uint64 {
				x := math.Float32frombits(uint32(a)) //nolint:gosec // G115: low bits hold f32
				y := math.Float32frombits(uint32(b)) //nolint:gosec // G115: low bits hold f32
				return uint64(math.Float32bits(g(x, y)))
			}
		}
		switch op {
		case ir.OpFAdd:
			return f(func(x, y float32) float32 { return x + y }), nil
		case ir.OpFSub:
			return f(func(x, y float32) float32 { return x - y }), nil
		case ir.OpFMul:
			return f(func(x, y float32) float32 { return x * y }), nil
		case ir.OpFDiv:
			return f(func(x, y float32) float32 { return x / y }), nil
		}
		return nil, fmt.Errorf("unsupported float operation %s", op)
	}
	f := func(g func(x, y float64) float64) func(a, b uint64) uint64 {
		return func(a, b uint64) uint64 {
			return math.Float64bits(g(math.Float64frombits(a), math.Float64frombits(b)))
		}
	}
	switch op {
	case ir.OpFAdd:
		return f(func(x, y float64) float64 { return x + y }), nil
	case ir.OpFSub:
		return f(func(x, y float64) float64 { return x - y }), nil
	case ir.OpFMul:
		return f(func(x, y float64) float64 { return x * y }), nil
	case ir.OpFDiv:
		return f(func(x, y float64) float64 { return x / y }), nil
	}
	return nil, fmt.Errorf("unsupported float operation %s", op)
}

func toFloat(t ir.Type, v uint64) float64 {
	if t.Bits == 32 {
		return float64(math.Float32frombits(uint32(v))) //nolint:gosec // G115: low bits hold f32
	}
	return math.Float64frombits(v)
}

func fromFloat(t ir.Type, f float64) uint64 {
	if t.Bits == 32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func compareOp(p ir.Predicate, t ir.Type) (func(a, b uint64) bool, error) {
	if p.IsFloat() {
		if !t.IsFloat() {
			return nil, fmt.Errorf("float predicate %s on %s", p, t)
		}
		return func(a, b uint64) bool {
			x, y := toFloat(t, a), toFloat(t, b)
			switch p {
			case ir.PredOEQ:
				return x == y
			case ir.PredONE:
				return x != y && !math.IsNaN(x) && !math.IsNaN(y)
			case ir.PredOLT:
				return x < y
			case ir.PredOLE:
				return x <= y
			case ir.PredOGT:
				return x > y
			default:
				return x >= y
			}
		}, nil
	}
	bits := t.Bits
	switch p {
	case ir.PredEQ:
		return func(a, b uint64) bool { return a == b }, nil
	case ir.PredNE:
		return func(a, b uint64) bool { return a != b }, nil
	case ir.PredULT:
		return func(a, b uint64) bool { return a < b }, nil
	case ir.PredULE:
		return func(a, b uint64) bool { return a <= b }, nil
	case ir.PredUGT:
		return func(a, b uint64) bool { return a > b }, nil
	case ir.PredUGE:
		return func(a, b uint64) bool { return a >= b }, nil
	case ir.PredSLT:
		return func(a, b uint64) bool { return ir.SignExtend(a, bits) < ir.SignExtend(b, bits) }, nil
	case ir.PredSLE:
		return func(a, b uint64) bool { return ir.SignExtend(a, bits) <= ir.SignExtend(b, bits) }, nil
	case ir.PredSGT:
		return func(a, b uint64) bool { return ir.SignExtend(a, bits) > ir.SignExtend(b, bits) }, nil
	case ir.PredSGE:
		return func(a, b uint64) bool { return ir.SignExtend(a, bits) >= ir.SignExtend(b, bits) }, nil
	}
	return nil, fmt.Errorf("unsupported predicate %s", p)
}

func castOp(op ir.Opcode, from, to ir.Type, name string) (func(v uint64) uint64, error) {
	mask := to.Mask()
	switch op {
	case ir.OpTrunc, ir.OpZExt, ir.OpPtrToInt:
		return func(v uint64) uint64 { return v & mask }, nil
	case ir.OpIntToPtr, ir.OpBitcast:
		return func(v uint64) uint64 { return v }, nil
	case ir.OpSExt:
		bits := from.Bits
		return func(v uint64) uint64 { return uint64(ir.SignExtend(v, bits)) & mask }, nil //nolint:gosec // G115: two's complement reinterpretation
	case ir.OpSIToFP:
		bits := from.Bits
		return func(v uint64) uint64 { return fromFloat(to, float64(ir.SignExtend(v, bits))) }, nil
	case ir.OpFPToSI:
		limit := math.Ldexp(1, int(to.Bits)-1)
		return func(v uint64) uint64 {
			f := math.Trunc(toFloat(from, v))
			if math.IsNaN(f) || f < -limit || f >= limit {
				raise(&Fault{Func: name, Reason: "float to integer conversion out of range"})
			}
			return uint64(int64(f)) & mask //nolint:gosec // G115: two's complement reinterpretation
		}, nil
	}
	return nil, fmt.Errorf("unsupported cast %s", op)
}
