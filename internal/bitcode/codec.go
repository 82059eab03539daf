package bitcode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"vlbdb/internal/ir"
)

var (
	// ErrBadMagic is returned for input that is not a bitcode container.
	ErrBadMagic = errors.New("bitcode: bad magic")
	// ErrSchema is returned for containers written by another schema version.
	ErrSchema = errors.New("bitcode: unsupported schema version")
)

// IsBitcode reports whether data starts with the container magic.
func IsBitcode(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Encode writes m to w.
func Encode(w io.Writer, m *ir.Module) error {
	p, err := encodeModule(m)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(p)
}

// Decode reads a module from r.
func Decode(r io.Reader) (*ir.Module, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadMagic
		}
		return nil, err
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}
	var p payload
	if err := msgpack.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("bitcode: %w", err)
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrSchema, p.Schema, SchemaVersion)
	}
	return decodeModule(&p)
}

// WriteFile encodes m to path, replacing any existing file atomically.
func WriteFile(path string, m *ir.Module) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".vbc-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	w := bufio.NewWriter(f)
	if err = Encode(w, m); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile decodes the module stored at path.
func ReadFile(path string) (*ir.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func encodeModule(m *ir.Module) (*payload, error) {
	p := &payload{Schema: SchemaVersion, Name: m.Name}
	for _, g := range m.Globals {
		p.Globals = append(p.Globals, globalData{
			Name:     g.Name,
			Data:     g.Data,
			Constant: g.Constant,
			Internal: g.Linkage == ir.LinkInternal,
		})
	}
	for _, f := range m.Funcs {
		fd, err := encodeFunc(f)
		if err != nil {
			return nil, fmt.Errorf("bitcode: @%s: %w", f.Name, err)
		}
		p.Funcs = append(p.Funcs, fd)
	}
	return p, nil
}

type funcEncoder struct {
	params map[*ir.Param]int
	instrs map[*ir.Instr]int
	blocks map[*ir.Block]int
}

func encodeFunc(f *ir.Func) (funcData, error) {
	fd := funcData{Name: f.Name, Internal: f.Linkage == ir.LinkInternal, Sig: encodeSig(f.Sig)}
	e := &funcEncoder{
		params: make(map[*ir.Param]int),
		instrs: make(map[*ir.Instr]int),
		blocks: make(map[*ir.Block]int),
	}
	for i, p := range f.Params {
		fd.Params = append(fd.Params, p.Label)
		e.params[p] = i
	}
	n := 0
	for i, b := range f.Blocks {
		e.blocks[b] = i
		for _, in := range b.Instrs {
			e.instrs[in] = n
			n++
		}
	}
	for _, b := range f.Blocks {
		bd := blockData{Label: b.Label}
		for _, in := range b.Instrs {
			id, err := e.instr(in)
			if err != nil {
				return fd, err
			}
			bd.Instrs = append(bd.Instrs, id)
		}
		term, err := e.term(&b.Term)
		if err != nil {
			return fd, err
		}
		bd.Term = term
		fd.Blocks = append(fd.Blocks, bd)
	}
	return fd, nil
}

func (e *funcEncoder) instr(in *ir.Instr) (instrData, error) {
	id := instrData{Op: uint8(in.Op), Ty: encodeType(in.Ty), Label: in.Label, Pred: uint8(in.Pred)}
	for _, a := range in.Args {
		od, err := e.operand(a)
		if err != nil {
			return id, err
		}
		id.Args = append(id.Args, od)
	}
	if in.Op == ir.OpCall {
		od, err := e.operand(in.Callee)
		if err != nil {
			return id, err
		}
		sig := encodeSig(in.Sig)
		id.Callee, id.Sig = &od, &sig
	}
	for _, b := range in.Incoming {
		idx, ok := e.blocks[b]
		if !ok {
			return id, fmt.Errorf("phi incoming from foreign block %q", b.Label)
		}
		id.Incoming = append(id.Incoming, idx)
	}
	return id, nil
}

func (e *funcEncoder) term(t *ir.Terminator) (termData, error) {
	td := termData{Kind: uint8(t.Kind), Then: -1, Else: -1}
	if t.Value != nil {
		od, err := e.operand(t.Value)
		if err != nil {
			return td, err
		}
		td.Value = &od
	}
	if t.Then != nil {
		td.Then = e.blocks[t.Then]
	}
	if t.Else != nil {
		td.Else = e.blocks[t.Else]
	}
	return td, nil
}

func (e *funcEncoder) operand(v ir.Value) (operandData, error) {
	switch v := v.(type) {
	case *ir.Param:
		if i, ok := e.params[v]; ok {
			return operandData{Kind: operandParam, Index: i}, nil
		}
		return operandData{}, errors.New("parameter of another function")
	case *ir.Instr:
		if i, ok := e.instrs[v]; ok {
			return operandData{Kind: operandInstr, Index: i}, nil
		}
		return operandData{}, errors.New("operand is not in the function")
	case *ir.Const:
		cd, err := encodeConst(v)
		if err != nil {
			return operandData{}, err
		}
		return operandData{Kind: operandConst, Const: cd}, nil
	}
	return operandData{}, fmt.Errorf("unsupported value %T", v)
}

func encodeConst(c *ir.Const) (*constData, error) {
	cd := &constData{Kind: uint8(c.Kind), Ty: encodeType(c.Ty), Bits: c.Bits, Offset: c.Offset, Op: uint8(c.Op)}
	switch c.Kind {
	case ir.ConstFunc:
		cd.Symbol = c.Func.Name
	case ir.ConstGlobal:
		cd.Symbol = c.Global.Name
	case ir.ConstCast:
		inner, err := encodeConst(c.Inner)
		if err != nil {
			return nil, err
		}
		cd.Inner = inner
	}
	return cd, nil
}
