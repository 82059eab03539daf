package vlbdb

import (
	"vlbdb/internal/ir"
)

// provenanceKind classifies where a constant callee points.
type provenanceKind uint8

const (
	provUnknown  provenanceKind = iota
	provFunction                // a function reference
	provAddress                 // an integer used as a code address
	provCast                    // a cast of another constant
)

func classify(c *ir.Const) provenanceKind {
	switch c.Kind {
	case ir.ConstFunc:
		return provFunction
	case ir.ConstAddr, ir.ConstInt:
		return provAddress
	case ir.ConstCast:
		return provCast
	default:
		return provUnknown
	}
}

// resolveFunction peels casts off v until it names a function directly or
// through the address of a registered function.
func (u *Unit) resolveFunction(v ir.Value) *ir.Func {
	c, ok := v.(*ir.Const)
	if !ok {
		return nil
	}
	for _, cur := range []*ir.Const{c, ir.FoldConst(c)} {
		for cur != nil {
			switch classify(cur) {
			case provFunction:
				return cur.Func
			case provAddress:
				if rec, ok := u.byAddr[cur.Bits]; ok {
					return rec.fn
				}
				cur = nil
			case provCast:
				cur = cur.Inner
			default:
				cur = nil
			}
		}
	}
	return nil
}

// addTarget records the base of the function v resolves to as an inline
// target.
func (u *Unit) addTarget(targets map[*ir.Func]bool, v ir.Value) {
	f := u.resolveFunction(v)
	if f == nil {
		return
	}
	if rec, ok := u.byFunc[f]; ok {
		targets[rec.key.Base] = true
	}
}
