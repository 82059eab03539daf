package ir

import (
	"errors"
	"fmt"
)

// Validate checks module invariants.
// Returns error if any invariant is violated.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if err := ValidateFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateFunc checks the invariants of one function body.
func ValidateFunc(f *Func) error {
	if f == nil || f.IsDecl() {
		return nil
	}

	var errs []error

	// 1. Check all blocks terminated and targets owned
	if err := validateTerminators(f); err != nil {
		errs = append(errs, err)
	}

	// 2. Check operands are defined in f
	if err := validateOperands(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Check phi placement and incoming edges
	if err := validatePhis(f); err != nil {
		errs = append(errs, err)
	}

	// 4. Check return and call types
	if err := validateTypes(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func blockName(b *Block) string {
	if b.Label != "" {
		return b.Label
	}
	return fmt.Sprintf("bb%d", b.ID)
}

func validateTerminators(f *Func) error {
	var errs []error
	for _, b := range f.Blocks {
		if b.Fn != f {
			errs = append(errs, fmt.Errorf("%s: block belongs to another function", blockName(b)))
		}
		switch b.Term.Kind {
		case TermNone:
			errs = append(errs, fmt.Errorf("%s: unterminated block", blockName(b)))
		case TermBr, TermCondBr:
			for _, s := range b.Term.Succs() {
				if !f.Owns(s) {
					errs = append(errs, fmt.Errorf("%s: branch target is not a block of this function", blockName(b)))
				}
			}
			if b.Term.Kind == TermCondBr && (b.Term.Value == nil || b.Term.Value.Type() != I1) {
				errs = append(errs, fmt.Errorf("%s: branch condition must be i1", blockName(b)))
			}
		}
	}
	return errors.Join(errs...)
}

func validateOperands(f *Func) error {
	var errs []error
	defined := make(map[Value]bool)
	for _, p := range f.Params {
		defined[p] = true
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			defined[in] = true
			if in.Block != b {
				errs = append(errs, fmt.Errorf("%s: instruction %%%d has a stale block link", blockName(b), in.ID))
			}
		}
	}
	check := func(where string, v Value) {
		switch v := v.(type) {
		case nil:
			errs = append(errs, fmt.Errorf("%s: nil operand", where))
		case *Const:
		default:
			if !defined[v] {
				errs = append(errs, fmt.Errorf("%s: operand is not defined in this function", where))
			}
		}
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			where := fmt.Sprintf("%s: %s %%%d", blockName(b), in.Op, in.ID)
			for _, a := range in.Operands() {
				check(where, a)
			}
		}
		if b.Term.Value != nil {
			check(blockName(b)+": terminator", b.Term.Value)
		}
	}
	return errors.Join(errs...)
}

func validatePhis(f *Func) error {
	var errs []error
	preds := f.Preds()
	for _, b := range f.Blocks {
		phis := len(b.Phis())
		for i, in := range b.Instrs {
			if in.Op != OpPhi {
				continue
			}
			if i >= phis {
				errs = append(errs, fmt.Errorf("%s: phi %%%d after non-phi instruction", blockName(b), in.ID))
				continue
			}
			if len(in.Args) != len(in.Incoming) {
				errs = append(errs, fmt.Errorf("%s: phi %%%d has mismatched incoming lists", blockName(b), in.ID))
				continue
			}
			if len(in.Incoming) != len(preds[b]) {
				errs = append(errs, fmt.Errorf("%s: phi %%%d has %d entries for %d predecessors", blockName(b), in.ID, len(in.Incoming), len(preds[b])))
			}
			for _, ib := range in.Incoming {
				found := false
				for _, p := range preds[b] {
					if p == ib {
						found = true
						break
					}
				}
				if !found {
					errs = append(errs, fmt.Errorf("%s: phi %%%d names a block that is not a predecessor", blockName(b), in.ID))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateTypes(f *Func) error {
	var errs []error
	for _, b := range f.Blocks {
		if b.Term.Kind == TermRet {
			switch {
			case f.Sig.Result.IsVoid() && b.Term.Value != nil:
				errs = append(errs, fmt.Errorf("%s: void function returns a value", blockName(b)))
			case !f.Sig.Result.IsVoid() && (b.Term.Value == nil || b.Term.Value.Type() != f.Sig.Result):
				errs = append(errs, fmt.Errorf("%s: return type mismatch, want %s", blockName(b), f.Sig.Result))
			}
		}
		for _, in := range b.Instrs {
			if in.Op != OpCall {
				continue
			}
			n, want := len(in.Args), len(in.Sig.Params)
			if n < want || (n > want && !in.Sig.Variadic) {
				errs = append(errs, fmt.Errorf("%s: call %%%d passes %d arguments to %s", blockName(b), in.ID, n, in.Sig))
			}
			if in.Callee == nil || !in.Callee.Type().IsPtr() {
				errs = append(errs, fmt.Errorf("%s: call %%%d target is not a pointer", blockName(b), in.ID))
			}
		}
	}
	return errors.Join(errs...)
}
