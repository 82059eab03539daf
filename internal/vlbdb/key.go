package vlbdb

import (
	"strings"

	"vlbdb/internal/ir"
)

// Key identifies a specialization: a base function and the constants bound
// to its leading parameters, in order.
type Key struct {
	Base *ir.Func
	Args []*ir.Const
}

// cacheKey is the comparable form of Key.
//
// Go maps cannot use slices as keys, so the bound constants are flattened
// into a stable string.
type cacheKey struct {
	base    *ir.Func
	argsKey string
}

func (k Key) cacheKey() cacheKey {
	return cacheKey{base: k.Base, argsKey: constsKey(k.Args)}
}

// extend returns a key with args appended to the bound prefix.
func (k Key) extend(args []*ir.Const) Key {
	out := make([]*ir.Const, 0, len(k.Args)+len(args))
	out = append(out, k.Args...)
	out = append(out, args...)
	return Key{Base: k.Base, Args: out}
}

// prefix returns k with only the first n bound arguments.
func (k Key) prefix(n int) Key {
	return Key{Base: k.Base, Args: k.Args[:n:n]}
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString("@")
	b.WriteString(k.Base.Name)
	b.WriteByte('(')
	for i, a := range k.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ir.ConstString(a))
	}
	b.WriteByte(')')
	return b.String()
}

func constsKey(args []*ir.Const) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte('#')
		}
		b.WriteString(arg.Key())
	}
	return b.String()
}

// keyArgs folds constant expressions and names function pointers by their
// target, so that equal values produce equal keys however they were reached.
func (u *Unit) keyArgs(args []*ir.Const) []*ir.Const {
	out := make([]*ir.Const, len(args))
	for i, a := range args {
		out[i] = u.keyArg(a)
	}
	return out
}

func (u *Unit) keyArg(c *ir.Const) *ir.Const {
	c = ir.FoldConst(c)
	if c == nil || !c.Ty.IsPtr() || c.Kind == ir.ConstFunc {
		return c
	}
	if f := u.resolveFunction(c); f != nil {
		return ir.FuncRef(f)
	}
	return c
}
