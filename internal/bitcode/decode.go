package bitcode

import (
	"errors"
	"fmt"

	"vlbdb/internal/ir"
)

func decodeModule(p *payload) (*ir.Module, error) {
	m := ir.NewModule(p.Name)
	for _, gd := range p.Globals {
		g, err := m.NewGlobal(gd.Name, gd.Data, gd.Constant)
		if err != nil {
			return nil, fmt.Errorf("bitcode: %w", err)
		}
		if gd.Internal {
			g.Linkage = ir.LinkInternal
		}
	}
	funcs := make([]*ir.Func, len(p.Funcs))
	for i, fd := range p.Funcs {
		f := ir.NewFunc(fd.Name, decodeSig(fd.Sig), fd.Params...)
		if fd.Internal {
			f.Linkage = ir.LinkInternal
		}
		if err := m.AddFunc(f); err != nil {
			return nil, fmt.Errorf("bitcode: %w", err)
		}
		funcs[i] = f
	}
	for i, fd := range p.Funcs {
		if err := decodeBody(m, funcs[i], &fd); err != nil {
			return nil, fmt.Errorf("bitcode: @%s: %w", fd.Name, err)
		}
	}
	return m, nil
}

type funcDecoder struct {
	m      *ir.Module
	f      *ir.Func
	instrs []*ir.Instr
}

// decodeBody materializes every instruction before wiring operands so that
// phis may refer to values defined later in layout order.
func decodeBody(m *ir.Module, f *ir.Func, fd *funcData) error {
	d := &funcDecoder{m: m, f: f}
	for _, bd := range fd.Blocks {
		b := f.AddBlock(bd.Label)
		for _, id := range bd.Instrs {
			in := &ir.Instr{Op: ir.Opcode(id.Op), Ty: decodeType(id.Ty), Label: id.Label, Pred: ir.Predicate(id.Pred)}
			d.instrs = append(d.instrs, b.Append(in))
		}
	}
	n := 0
	for bi, bd := range fd.Blocks {
		b := f.Blocks[bi]
		for _, id := range bd.Instrs {
			in := d.instrs[n]
			n++
			for _, od := range id.Args {
				v, err := d.operand(od)
				if err != nil {
					return err
				}
				in.Args = append(in.Args, v)
			}
			if id.Callee != nil {
				v, err := d.operand(*id.Callee)
				if err != nil {
					return err
				}
				in.Callee = v
			}
			if id.Sig != nil {
				in.Sig = decodeSig(*id.Sig)
			}
			for _, idx := range id.Incoming {
				pred, err := d.block(idx)
				if err != nil {
					return err
				}
				in.Incoming = append(in.Incoming, pred)
			}
		}
		t := ir.Terminator{Kind: ir.TermKind(bd.Term.Kind)}
		if bd.Term.Value != nil {
			v, err := d.operand(*bd.Term.Value)
			if err != nil {
				return err
			}
			t.Value = v
		}
		var err error
		if bd.Term.Then >= 0 {
			if t.Then, err = d.block(bd.Term.Then); err != nil {
				return err
			}
		}
		if bd.Term.Else >= 0 {
			if t.Else, err = d.block(bd.Term.Else); err != nil {
				return err
			}
		}
		b.Term = t
	}
	return nil
}

func (d *funcDecoder) block(idx int) (*ir.Block, error) {
	if idx < 0 || idx >= len(d.f.Blocks) {
		return nil, fmt.Errorf("block index %d out of range", idx)
	}
	return d.f.Blocks[idx], nil
}

func (d *funcDecoder) operand(od operandData) (ir.Value, error) {
	switch od.Kind {
	case operandParam:
		if od.Index < 0 || od.Index >= len(d.f.Params) {
			return nil, fmt.Errorf("parameter index %d out of range", od.Index)
		}
		return d.f.Params[od.Index], nil
	case operandInstr:
		if od.Index < 0 || od.Index >= len(d.instrs) {
			return nil, fmt.Errorf("instruction index %d out of range", od.Index)
		}
		return d.instrs[od.Index], nil
	case operandConst:
		if od.Const == nil {
			return nil, errors.New("constant operand without payload")
		}
		return d.constant(od.Const)
	}
	return nil, fmt.Errorf("unknown operand kind %d", od.Kind)
}

func (d *funcDecoder) constant(cd *constData) (*ir.Const, error) {
	c := &ir.Const{
		Kind:   ir.ConstKind(cd.Kind),
		Ty:     decodeType(cd.Ty),
		Bits:   cd.Bits,
		Offset: cd.Offset,
		Op:     ir.Opcode(cd.Op),
	}
	switch c.Kind {
	case ir.ConstFunc:
		if c.Func = d.m.Func(cd.Symbol); c.Func == nil {
			return nil, fmt.Errorf("undefined function @%s", cd.Symbol)
		}
	case ir.ConstGlobal:
		if c.Global = d.m.Global(cd.Symbol); c.Global == nil {
			return nil, fmt.Errorf("undefined global @%s", cd.Symbol)
		}
	case ir.ConstCast:
		if cd.Inner == nil {
			return nil, errors.New("cast constant without operand")
		}
		inner, err := d.constant(cd.Inner)
		if err != nil {
			return nil, err
		}
		c.Inner = inner
	}
	return c, nil
}
