// Package irtext reads the textual module format written by ir.Print.
package irtext

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vlbdb/internal/ir"
)

// Parse reads a module named name from src.
func Parse(name string, src []byte) (*ir.Module, error) {
	return parse(name, "", src)
}

// ParseFile reads the module stored at path. The module is named after the
// file without its extension.
func ParseFile(path string) (*ir.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	return parse(strings.TrimSuffix(base, filepath.Ext(base)), path, src)
}

func parse(name, file string, src []byte) (*ir.Module, error) {
	toks, err := NewLexer(file, src).All()
	if err != nil {
		return nil, err
	}
	p := &parser{file: file, toks: toks, mod: ir.NewModule(name)}
	if err := p.headers(); err != nil {
		return nil, err
	}
	for _, b := range p.bodies {
		p.pos = b.start
		if err := p.body(b.fn); err != nil {
			return nil, err
		}
	}
	return p.mod, nil
}

type pendingBody struct {
	fn    *ir.Func
	start int
}

type parser struct {
	file   string
	toks   []Token
	pos    int
	mod    *ir.Module
	bodies []pendingBody

	// per function
	fn     *ir.Func
	bd     *ir.Builder
	blocks map[string]*ir.Block
	values map[string]ir.Value
	fwd    map[string]*ir.Instr
	fwdPos map[string]Pos
	fixups [][2]ir.Value
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Kind != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(pos Pos, format string, args ...any) error {
	return &SyntaxError{File: p.file, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(k Kind) (Token, error) {
	tok := p.next()
	if tok.Kind != k {
		return tok, p.errorf(tok.Pos, "expected %s, found %s", k, tok)
	}
	return tok, nil
}

func (p *parser) expectWord(word string) error {
	tok := p.next()
	if tok.Kind != Ident || tok.Text != word {
		return p.errorf(tok.Pos, "expected %q, found %s", word, tok)
	}
	return nil
}

func (p *parser) acceptWord(word string) bool {
	if tok := p.peek(); tok.Kind == Ident && tok.Text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) accept(k Kind) bool {
	if p.peek().Kind == k {
		p.pos++
		return true
	}
	return false
}

// headers declares every global and function so bodies may refer forward.
func (p *parser) headers() error {
	for {
		tok := p.peek()
		if tok.Kind == EOF {
			return nil
		}
		if tok.Kind != Ident {
			return p.errorf(tok.Pos, "expected declaration, found %s", tok)
		}
		var err error
		switch tok.Text {
		case "global":
			err = p.global()
		case "define", "declare":
			err = p.funcHeader()
		default:
			err = p.errorf(tok.Pos, "unexpected %s at top level", tok)
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) global() error {
	p.next()
	internal := p.acceptWord("internal")
	nameTok, err := p.expect(Global)
	if err != nil {
		return err
	}
	if _, err := p.expect(Equal); err != nil {
		return err
	}
	var constant bool
	switch tok := p.next(); {
	case tok.Kind == Ident && tok.Text == "constant":
		constant = true
	case tok.Kind == Ident && tok.Text == "mutable":
	default:
		return p.errorf(tok.Pos, "expected constant or mutable, found %s", tok)
	}
	var data []byte
	switch tok := p.next(); {
	case tok.Kind == String:
		data = []byte(tok.Text)
	case tok.Kind == Ident && tok.Text == "zeroinit":
		n, err := p.expect(Int)
		if err != nil {
			return err
		}
		size, err := strconv.Atoi(n.Text)
		if err != nil || size < 0 {
			return p.errorf(n.Pos, "bad zeroinit size %s", n.Text)
		}
		data = make([]byte, size)
	default:
		return p.errorf(tok.Pos, "expected initializer, found %s", tok)
	}
	g, err := p.mod.NewGlobal(nameTok.Text, data, constant)
	if err != nil {
		return p.errorf(nameTok.Pos, "%v", err)
	}
	if internal {
		g.Linkage = ir.LinkInternal
	}
	return nil
}

func (p *parser) funcHeader() error {
	define := p.next().Text == "define"
	internal := p.acceptWord("internal")
	result, err := p.typ()
	if err != nil {
		return err
	}
	nameTok, err := p.expect(Global)
	if err != nil {
		return err
	}
	if _, err := p.expect(LParen); err != nil {
		return err
	}
	sig := ir.Signature{Result: result}
	var labels []string
	for p.peek().Kind != RParen {
		if len(sig.Params) > 0 || sig.Variadic {
			if _, err := p.expect(Comma); err != nil {
				return err
			}
		}
		if p.accept(Ellipsis) {
			sig.Variadic = true
			continue
		}
		if sig.Variadic {
			return p.errorf(p.peek().Pos, "parameter after '...'")
		}
		t, err := p.typ()
		if err != nil {
			return err
		}
		label := ""
		if tok := p.peek(); tok.Kind == Local {
			p.next()
			label = valueLabel(tok.Text)
		} else if define {
			return p.errorf(tok.Pos, "expected parameter name, found %s", tok)
		}
		sig.Params = append(sig.Params, t)
		labels = append(labels, label)
	}
	p.next()
	f := ir.NewFunc(nameTok.Text, sig, labels...)
	if internal {
		f.Linkage = ir.LinkInternal
	}
	if err := p.mod.AddFunc(f); err != nil {
		return p.errorf(nameTok.Pos, "%v", err)
	}
	if !define {
		return nil
	}
	lb, err := p.expect(LBrace)
	if err != nil {
		return err
	}
	p.bodies = append(p.bodies, pendingBody{fn: f, start: p.pos})
	for {
		switch tok := p.next(); tok.Kind {
		case RBrace:
			return nil
		case EOF:
			return p.errorf(lb.Pos, "unterminated function body")
		}
	}
}

// valueLabel maps printer-generated numeric names back to unnamed values.
func valueLabel(name string) string {
	if _, err := strconv.ParseUint(name, 10, 64); err == nil {
		return ""
	}
	return name
}

func (p *parser) typ() (ir.Type, error) {
	tok := p.next()
	if tok.Kind != Ident {
		return ir.Type{}, p.errorf(tok.Pos, "expected type, found %s", tok)
	}
	switch tok.Text {
	case "void":
		return ir.Void, nil
	case "ptr":
		return ir.Ptr, nil
	case "f32":
		return ir.F32, nil
	case "f64":
		return ir.F64, nil
	}
	if rest, ok := strings.CutPrefix(tok.Text, "i"); ok {
		if bits, err := strconv.Atoi(rest); err == nil {
			t, err := ir.IntType(bits)
			if err != nil {
				return ir.Type{}, p.errorf(tok.Pos, "%v", err)
			}
			return t, nil
		}
	}
	return ir.Type{}, p.errorf(tok.Pos, "unknown type %s", tok)
}

func isLabel(toks []Token, i int) bool {
	k := toks[i].Kind
	return (k == Ident || k == Int) && i+1 < len(toks) && toks[i+1].Kind == Colon
}

// body parses the blocks of f starting after its '{'.
func (p *parser) body(f *ir.Func) error {
	p.fn = f
	p.blocks = make(map[string]*ir.Block)
	p.values = make(map[string]ir.Value)
	p.fwd = make(map[string]*ir.Instr)
	p.fwdPos = make(map[string]Pos)
	p.fixups = nil
	if err := p.bindParams(f); err != nil {
		return err
	}

	for i := p.pos; p.toks[i].Kind != RBrace; i++ {
		if !isLabel(p.toks, i) {
			continue
		}
		tok := p.toks[i]
		if _, dup := p.blocks[tok.Text]; dup {
			return p.errorf(tok.Pos, "duplicate block label %s", tok.Text)
		}
		p.blocks[tok.Text] = f.AddBlock(tok.Text)
	}
	if len(f.Blocks) == 0 || !isLabel(p.toks, p.pos) {
		return p.errorf(p.peek().Pos, "function @%s: body must start with a block label", f.Name)
	}
	p.bd = ir.NewBuilder(nil)

	for p.peek().Kind != RBrace {
		if !isLabel(p.toks, p.pos) {
			return p.errorf(p.peek().Pos, "expected block label, found %s", p.peek())
		}
		tok := p.next()
		p.next() // ':'
		p.bd.SetBlock(p.blocks[tok.Text])
		if err := p.block(); err != nil {
			return err
		}
	}
	if len(p.fwd) > 0 {
		var first string
		for name := range p.fwd {
			if first == "" || before(p.fwdPos[name], p.fwdPos[first]) {
				first = name
			}
		}
		return p.errorf(p.fwdPos[first], "undefined value %%%s", first)
	}
	for _, fx := range p.fixups {
		ir.ReplaceAllUses(f, fx[0], fx[1])
	}
	return nil
}

func before(a, b Pos) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Col < b.Col)
}

// bindParams scopes the parameter names written in the header of f, which
// ends at the '{' just before the body.
func (p *parser) bindParams(f *ir.Func) error {
	i := p.pos - 1 // '{'
	for i >= 0 && p.toks[i].Kind != LParen {
		i--
	}
	idx := 0
	for j := i + 1; p.toks[j].Kind != RParen; j++ {
		if p.toks[j].Kind != Local {
			continue
		}
		if idx >= len(f.Params) {
			break
		}
		name := p.toks[j].Text
		if _, dup := p.values[name]; dup {
			return p.errorf(p.toks[j].Pos, "duplicate parameter %%%s", name)
		}
		p.values[name] = f.Params[idx]
		idx++
	}
	return nil
}

// block parses instructions up to and including the terminator.
func (p *parser) block() error {
	for {
		tok := p.peek()
		switch {
		case tok.Kind == RBrace || isLabel(p.toks, p.pos):
			return p.errorf(tok.Pos, "block %s has no terminator", p.bd.Block.Label)
		case tok.Kind == Local:
			if err := p.namedInstr(); err != nil {
				return err
			}
		case tok.Kind == Ident:
			done, err := p.statement()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		default:
			return p.errorf(tok.Pos, "expected instruction, found %s", tok)
		}
	}
}

func (p *parser) namedInstr() error {
	nameTok := p.next()
	if _, err := p.expect(Equal); err != nil {
		return err
	}
	opTok := p.peek()
	in, err := p.instr()
	if err != nil {
		return err
	}
	if in.Ty.IsVoid() {
		return p.errorf(opTok.Pos, "%s produces no value to name %%%s", in.Op, nameTok.Text)
	}
	return p.define(nameTok, in)
}

func (p *parser) define(nameTok Token, in *ir.Instr) error {
	name := nameTok.Text
	if _, dup := p.values[name]; dup {
		return p.errorf(nameTok.Pos, "redefinition of %%%s", name)
	}
	in.Label = valueLabel(name)
	if ph, ok := p.fwd[name]; ok {
		if ph.Ty != in.Ty {
			return p.errorf(nameTok.Pos, "%%%s used as %s but defined as %s", name, ph.Ty, in.Ty)
		}
		delete(p.fwd, name)
		delete(p.fwdPos, name)
		p.fixups = append(p.fixups, [2]ir.Value{ph, in})
	}
	p.values[name] = in
	return nil
}

// statement parses an unnamed instruction or a terminator. done reports a
// terminator.
func (p *parser) statement() (bool, error) {
	tok := p.peek()
	switch tok.Text {
	case "ret":
		p.next()
		if p.acceptWord("void") {
			p.bd.Ret(nil)
			return true, nil
		}
		v, err := p.typedValue()
		if err != nil {
			return false, err
		}
		p.bd.Ret(v)
		return true, nil
	case "br":
		p.next()
		if p.acceptWord("label") {
			b, err := p.blockRef()
			if err != nil {
				return false, err
			}
			p.bd.Br(b)
			return true, nil
		}
		c, err := p.typedValue()
		if err != nil {
			return false, err
		}
		var targets [2]*ir.Block
		for i := range targets {
			if _, err := p.expect(Comma); err != nil {
				return false, err
			}
			if err := p.expectWord("label"); err != nil {
				return false, err
			}
			if targets[i], err = p.blockRef(); err != nil {
				return false, err
			}
		}
		p.bd.CondBr(c, targets[0], targets[1])
		return true, nil
	case "unreachable":
		p.next()
		p.bd.Unreachable()
		return true, nil
	}
	_, err := p.instr()
	return false, err
}

func (p *parser) blockRef() (*ir.Block, error) {
	tok, err := p.expect(Local)
	if err != nil {
		return nil, err
	}
	b, ok := p.blocks[tok.Text]
	if !ok {
		return nil, p.errorf(tok.Pos, "undefined block %%%s", tok.Text)
	}
	return b, nil
}

func (p *parser) instr() (*ir.Instr, error) {
	tok := p.next()
	if tok.Kind != Ident {
		return nil, p.errorf(tok.Pos, "expected opcode, found %s", tok)
	}
	op, ok := ir.OpcodeByName(tok.Text)
	if !ok {
		return nil, p.errorf(tok.Pos, "unknown opcode %s", tok)
	}
	switch {
	case op.IsBinary():
		t, err := p.typ()
		if err != nil {
			return nil, err
		}
		x, y, err := p.pair(t, t)
		if err != nil {
			return nil, err
		}
		return p.bd.Binary(op, x, y), nil
	case op == ir.OpICmp || op == ir.OpFCmp:
		pt := p.next()
		pred, ok := ir.PredicateByName(pt.Text)
		if pt.Kind != Ident || !ok {
			return nil, p.errorf(pt.Pos, "unknown predicate %s", pt)
		}
		t, err := p.typ()
		if err != nil {
			return nil, err
		}
		x, y, err := p.pair(t, t)
		if err != nil {
			return nil, err
		}
		if op == ir.OpFCmp {
			return p.bd.FCmp(pred, x, y), nil
		}
		return p.bd.ICmp(pred, x, y), nil
	case op.IsCast():
		v, err := p.typedValue()
		if err != nil {
			return nil, err
		}
		if err := p.expectWord("to"); err != nil {
			return nil, err
		}
		to, err := p.typ()
		if err != nil {
			return nil, err
		}
		return p.bd.Cast(op, v, to), nil
	case op == ir.OpPtrAdd:
		ptr, off, err := p.typedPair()
		if err != nil {
			return nil, err
		}
		return p.bd.PtrAdd(ptr, off), nil
	case op == ir.OpLoad:
		t, err := p.typ()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Comma); err != nil {
			return nil, err
		}
		ptr, err := p.typedValue()
		if err != nil {
			return nil, err
		}
		return p.bd.Load(t, ptr), nil
	case op == ir.OpStore:
		v, ptr, err := p.typedPair()
		if err != nil {
			return nil, err
		}
		return p.bd.Store(v, ptr), nil
	case op == ir.OpSelect:
		c, err := p.typedValue()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Comma); err != nil {
			return nil, err
		}
		x, y, err := p.typedPair()
		if err != nil {
			return nil, err
		}
		return p.bd.Select(c, x, y), nil
	case op == ir.OpPhi:
		return p.phi()
	case op == ir.OpCall:
		return p.call()
	}
	return nil, p.errorf(tok.Pos, "unsupported opcode %s", tok)
}

func (p *parser) phi() (*ir.Instr, error) {
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	phi := p.bd.Phi(t)
	for first := true; first || p.accept(Comma); first = false {
		if _, err := p.expect(LBracket); err != nil {
			return nil, err
		}
		v, err := p.value(t)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Comma); err != nil {
			return nil, err
		}
		b, err := p.blockRef()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RBracket); err != nil {
			return nil, err
		}
		phi.AddIncoming(v, b)
	}
	return phi, nil
}

func (p *parser) call() (*ir.Instr, error) {
	result, err := p.typ()
	if err != nil {
		return nil, err
	}
	calleeTok := p.peek()
	callee, err := p.value(ir.Ptr)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(LParen); err != nil {
		return nil, err
	}
	var args []ir.Value
	for p.peek().Kind != RParen {
		if len(args) > 0 {
			if _, err := p.expect(Comma); err != nil {
				return nil, err
			}
		}
		a, err := p.typedValue()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	p.next()

	var sig ir.Signature
	if c, ok := callee.(*ir.Const); ok && c.Kind == ir.ConstFunc {
		sig = c.Func.Sig
		if sig.Result != result {
			return nil, p.errorf(calleeTok.Pos, "call of @%s returns %s, not %s", c.Func.Name, sig.Result, result)
		}
	} else {
		sig = ir.Signature{Result: result}
		for _, a := range args {
			sig.Params = append(sig.Params, a.Type())
		}
	}
	return p.bd.Call(callee, sig, args...), nil
}

func (p *parser) pair(tx, ty ir.Type) (ir.Value, ir.Value, error) {
	x, err := p.value(tx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := p.expect(Comma); err != nil {
		return nil, nil, err
	}
	y, err := p.value(ty)
	return x, y, err
}

func (p *parser) typedPair() (ir.Value, ir.Value, error) {
	x, err := p.typedValue()
	if err != nil {
		return nil, nil, err
	}
	if _, err := p.expect(Comma); err != nil {
		return nil, nil, err
	}
	y, err := p.typedValue()
	return x, y, err
}

func (p *parser) typedValue() (ir.Value, error) {
	t, err := p.typ()
	if err != nil {
		return nil, err
	}
	return p.value(t)
}

// value parses an operand of type t. Locals not yet defined become
// placeholders that are patched once the whole body is read.
func (p *parser) value(t ir.Type) (ir.Value, error) {
	tok := p.peek()
	if tok.Kind != Local {
		return p.constant(t)
	}
	p.next()
	if v, ok := p.values[tok.Text]; ok {
		if v.Type() != t {
			return nil, p.errorf(tok.Pos, "%%%s has type %s, expected %s", tok.Text, v.Type(), t)
		}
		return v, nil
	}
	if ph, ok := p.fwd[tok.Text]; ok {
		if ph.Ty != t {
			return nil, p.errorf(tok.Pos, "%%%s used as both %s and %s", tok.Text, ph.Ty, t)
		}
		return ph, nil
	}
	ph := &ir.Instr{Op: ir.OpInvalid, Ty: t, Label: tok.Text}
	p.fwd[tok.Text] = ph
	p.fwdPos[tok.Text] = tok.Pos
	return ph, nil
}

func (p *parser) constant(t ir.Type) (*ir.Const, error) {
	tok := p.next()
	switch tok.Kind {
	case Int:
		if t.IsFloat() {
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return nil, p.errorf(tok.Pos, "bad number %s", tok.Text)
			}
			return ir.NewFloat(t, f), nil
		}
		if !t.IsInt() {
			return nil, p.errorf(tok.Pos, "integer literal for %s operand", t)
		}
		if v, err := strconv.ParseInt(tok.Text, 10, 64); err == nil {
			return ir.NewSigned(t, v), nil
		}
		v, err := strconv.ParseUint(tok.Text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "integer %s out of range", tok.Text)
		}
		return ir.NewInt(t, v), nil
	case Float:
		if !t.IsFloat() {
			return nil, p.errorf(tok.Pos, "float literal for %s operand", t)
		}
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "bad float %s", tok.Text)
		}
		return ir.NewFloat(t, f), nil
	case Hex:
		bits, err := strconv.ParseUint(strings.TrimPrefix(tok.Text, "0x"), 16, 64)
		if err != nil {
			return nil, p.errorf(tok.Pos, "bad hex literal %s", tok.Text)
		}
		switch {
		case t.IsFloat():
			return &ir.Const{Kind: ir.ConstFloat, Ty: t, Bits: bits}, nil
		case t.IsInt():
			return ir.NewInt(t, bits), nil
		}
		return nil, p.errorf(tok.Pos, "hex literal for %s operand", t)
	case Global:
		return p.symbol(tok, t)
	case Ident:
		return p.keywordConst(tok, t)
	}
	return nil, p.errorf(tok.Pos, "expected value, found %s", tok)
}

func (p *parser) symbol(tok Token, t ir.Type) (*ir.Const, error) {
	if !t.IsPtr() {
		return nil, p.errorf(tok.Pos, "@%s used as %s", tok.Text, t)
	}
	if f := p.mod.Func(tok.Text); f != nil {
		return ir.FuncRef(f), nil
	}
	g := p.mod.Global(tok.Text)
	if g == nil {
		return nil, p.errorf(tok.Pos, "undefined symbol @%s", tok.Text)
	}
	var off int64
	switch nt := p.peek(); {
	case nt.Kind == Plus:
		p.next()
		n, err := p.expect(Int)
		if err != nil {
			return nil, err
		}
		if off, err = strconv.ParseInt(n.Text, 10, 64); err != nil {
			return nil, p.errorf(n.Pos, "bad offset %s", n.Text)
		}
	case nt.Kind == Int && strings.HasPrefix(nt.Text, "-"):
		p.next()
		v, err := strconv.ParseInt(nt.Text, 10, 64)
		if err != nil {
			return nil, p.errorf(nt.Pos, "bad offset %s", nt.Text)
		}
		off = v
	}
	return ir.GlobalRef(g, off), nil
}

func (p *parser) keywordConst(tok Token, t ir.Type) (*ir.Const, error) {
	switch tok.Text {
	case "true", "false":
		if t != ir.I1 {
			return nil, p.errorf(tok.Pos, "%s used as %s", tok.Text, t)
		}
		return ir.NewBool(tok.Text == "true"), nil
	case "null":
		if !t.IsPtr() {
			return nil, p.errorf(tok.Pos, "null used as %s", t)
		}
		return ir.NewNull(), nil
	case "addr":
		if _, err := p.expect(LParen); err != nil {
			return nil, err
		}
		h, err := p.expect(Hex)
		if err != nil {
			return nil, err
		}
		bits, err := strconv.ParseUint(strings.TrimPrefix(h.Text, "0x"), 16, 64)
		if err != nil {
			return nil, p.errorf(h.Pos, "bad address %s", h.Text)
		}
		if _, err := p.expect(RParen); err != nil {
			return nil, err
		}
		return ir.NewAddr(bits), nil
	}
	op, ok := ir.OpcodeByName(tok.Text)
	if !ok || !op.IsCast() {
		return nil, p.errorf(tok.Pos, "expected value, found %s", tok)
	}
	if _, err := p.expect(LParen); err != nil {
		return nil, err
	}
	inner, err := p.constant(castOperandType(op, t))
	if err != nil {
		return nil, err
	}
	if err := p.expectWord("to"); err != nil {
		return nil, err
	}
	to, err := p.typ()
	if err != nil {
		return nil, err
	}
	if to != t {
		return nil, p.errorf(tok.Pos, "%s constant of type %s used as %s", op, to, t)
	}
	if _, err := p.expect(RParen); err != nil {
		return nil, err
	}
	return ir.NewCast(op, inner, to), nil
}

// castOperandType is the operand type a constant cast expression implies.
func castOperandType(op ir.Opcode, to ir.Type) ir.Type {
	switch op {
	case ir.OpPtrToInt:
		return ir.Ptr
	case ir.OpIntToPtr:
		return ir.I64
	}
	return to
}
