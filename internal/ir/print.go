package ir

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Print writes m in the textual module format.
func Print(w io.Writer, m *Module) error {
	if w == nil || m == nil {
		return nil
	}
	var buf bytes.Buffer
	for _, g := range m.Globals {
		printGlobal(&buf, g)
	}
	for _, f := range m.Funcs {
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		printFunc(&buf, f)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// FuncString renders one function.
func FuncString(f *Func) string {
	var buf bytes.Buffer
	printFunc(&buf, f)
	return buf.String()
}

// ModuleString renders a whole module.
func ModuleString(m *Module) string {
	var sb strings.Builder
	_ = Print(&sb, m)
	return sb.String()
}

func printGlobal(buf *bytes.Buffer, g *Global) {
	buf.WriteString("global ")
	if g.Linkage == LinkInternal {
		buf.WriteString("internal ")
	}
	fmt.Fprintf(buf, "@%s = ", g.Name)
	if g.Constant {
		buf.WriteString("constant ")
	} else {
		buf.WriteString("mutable ")
	}
	if len(g.Data) > 0 && allZero(g.Data) {
		fmt.Fprintf(buf, "zeroinit %d\n", len(g.Data))
		return
	}
	buf.WriteString(QuoteBytes(g.Data))
	buf.WriteByte('\n')
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// QuoteBytes renders data as a double-quoted string with \HH escapes.
func QuoteBytes(data []byte) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range data {
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "\\%02X", c)
	}
	sb.WriteByte('"')
	return sb.String()
}

// namer assigns unique printable names to the values and blocks of a function.
type namer struct {
	values map[Value]string
	blocks map[*Block]string
	used   map[string]int
	next   int
}

func newNamer(f *Func) *namer {
	n := &namer{
		values: make(map[Value]string),
		blocks: make(map[*Block]string),
		used:   make(map[string]int),
	}
	for _, p := range f.Params {
		n.values[p] = n.fresh(p.Label)
	}
	for _, b := range f.Blocks {
		label := b.Label
		if label == "" {
			label = fmt.Sprintf("bb%d", b.ID)
		}
		n.blocks[b] = n.freshBlock(label)
		for _, in := range b.Instrs {
			if !in.Ty.IsVoid() {
				n.values[in] = n.fresh(in.Label)
			}
		}
	}
	return n
}

func (n *namer) fresh(label string) string {
	if label == "" {
		s := strconv.Itoa(n.next)
		n.next++
		for n.used[s] > 0 {
			s = strconv.Itoa(n.next)
			n.next++
		}
		n.used[s]++
		return s
	}
	return n.unique(label)
}

func (n *namer) freshBlock(label string) string {
	return n.unique("$" + label)[1:]
}

func (n *namer) unique(s string) string {
	if n.used[s] == 0 {
		n.used[s]++
		return s
	}
	for {
		cand := fmt.Sprintf("%s.%d", s, n.used[s])
		n.used[s]++
		if n.used[cand] == 0 {
			n.used[cand]++
			return cand
		}
	}
}

func (n *namer) value(v Value) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case *Const:
		return ConstString(v)
	default:
		if s, ok := n.values[v]; ok {
			return "%" + s
		}
		return "%<undef>"
	}
}

func (n *namer) typed(v Value) string {
	return v.Type().String() + " " + n.value(v)
}

func printFunc(buf *bytes.Buffer, f *Func) {
	n := newNamer(f)
	if f.IsDecl() {
		buf.WriteString("declare ")
	} else {
		buf.WriteString("define ")
	}
	if f.Linkage == LinkInternal {
		buf.WriteString("internal ")
	}
	fmt.Fprintf(buf, "%s @%s(", f.Sig.Result, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			buf.WriteString(", ")
		}
		if f.IsDecl() && p.Label == "" {
			buf.WriteString(p.Ty.String())
			continue
		}
		fmt.Fprintf(buf, "%s %%%s", p.Ty, n.values[p])
	}
	if f.Sig.Variadic {
		if len(f.Params) > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString("...")
	}
	buf.WriteString(")")
	if f.IsDecl() {
		buf.WriteByte('\n')
		return
	}
	buf.WriteString(" {\n")
	for _, b := range f.Blocks {
		fmt.Fprintf(buf, "%s:\n", n.blocks[b])
		for _, in := range b.Instrs {
			buf.WriteString("  ")
			printInstr(buf, n, in)
			buf.WriteByte('\n')
		}
		buf.WriteString("  ")
		printTerm(buf, n, &b.Term)
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
}

func printInstr(buf *bytes.Buffer, n *namer, in *Instr) {
	if !in.Ty.IsVoid() {
		fmt.Fprintf(buf, "%%%s = ", n.values[in])
	}
	switch {
	case in.Op.IsBinary():
		fmt.Fprintf(buf, "%s %s %s, %s", in.Op, in.Ty, n.value(in.Args[0]), n.value(in.Args[1]))
	case in.Op == OpICmp || in.Op == OpFCmp:
		fmt.Fprintf(buf, "%s %s %s %s, %s", in.Op, in.Pred, in.Args[0].Type(), n.value(in.Args[0]), n.value(in.Args[1]))
	case in.Op.IsCast():
		fmt.Fprintf(buf, "%s %s to %s", in.Op, n.typed(in.Args[0]), in.Ty)
	case in.Op == OpPtrAdd:
		fmt.Fprintf(buf, "ptradd %s, %s", n.typed(in.Args[0]), n.typed(in.Args[1]))
	case in.Op == OpLoad:
		fmt.Fprintf(buf, "load %s, %s", in.Ty, n.typed(in.Args[0]))
	case in.Op == OpStore:
		fmt.Fprintf(buf, "store %s, %s", n.typed(in.Args[0]), n.typed(in.Args[1]))
	case in.Op == OpSelect:
		fmt.Fprintf(buf, "select %s, %s, %s", n.typed(in.Args[0]), n.typed(in.Args[1]), n.typed(in.Args[2]))
	case in.Op == OpPhi:
		fmt.Fprintf(buf, "phi %s ", in.Ty)
		for i, a := range in.Args {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(buf, "[ %s, %%%s ]", n.value(a), n.blocks[in.Incoming[i]])
		}
	case in.Op == OpCall:
		fmt.Fprintf(buf, "call %s %s(", in.Ty, n.value(in.Callee))
		for i, a := range in.Args {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(n.typed(a))
		}
		buf.WriteString(")")
	default:
		fmt.Fprintf(buf, "%s", in.Op)
	}
}

func printTerm(buf *bytes.Buffer, n *namer, t *Terminator) {
	switch t.Kind {
	case TermRet:
		if t.Value == nil {
			buf.WriteString("ret void")
			return
		}
		fmt.Fprintf(buf, "ret %s", n.typed(t.Value))
	case TermBr:
		fmt.Fprintf(buf, "br label %%%s", n.blocks[t.Then])
	case TermCondBr:
		fmt.Fprintf(buf, "br %s, label %%%s, label %%%s", n.typed(t.Value), n.blocks[t.Then], n.blocks[t.Else])
	case TermUnreachable:
		buf.WriteString("unreachable")
	default:
		buf.WriteString("<unterminated>")
	}
}

// ConstString renders a constant operand without its type.
func ConstString(c *Const) string {
	switch c.Kind {
	case ConstInt:
		if c.Ty == I1 {
			return strconv.FormatBool(c.Bits != 0)
		}
		return strconv.FormatInt(c.Signed(), 10)
	case ConstFloat:
		return formatFloat(c)
	case ConstNull:
		return "null"
	case ConstFunc:
		return "@" + c.Func.Name
	case ConstGlobal:
		switch {
		case c.Offset > 0:
			return fmt.Sprintf("@%s+%d", c.Global.Name, c.Offset)
		case c.Offset < 0:
			return fmt.Sprintf("@%s%d", c.Global.Name, c.Offset)
		}
		return "@" + c.Global.Name
	case ConstAddr:
		return fmt.Sprintf("addr(%#x)", c.Bits)
	case ConstCast:
		return fmt.Sprintf("%s(%s to %s)", c.Op, ConstString(c.Inner), c.Ty)
	}
	return "?"
}

func formatFloat(c *Const) string {
	f := c.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Sprintf("%#x", c.Bits)
	}
	bits := 64
	if c.Ty.Bits == 32 {
		bits = 32
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
