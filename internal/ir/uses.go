package ir

// Users returns the instructions of f that read v, in layout order. An
// instruction appears once even if it uses v several times.
func Users(f *Func, v Value) []*Instr {
	var out []*Instr
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if uses(in, v) {
				out = append(out, in)
			}
		}
	}
	return out
}

// HasUses reports whether v is read by any instruction or terminator of f.
func HasUses(f *Func, v Value) bool {
	for _, b := range f.Blocks {
		if b.Term.Value == v {
			return true
		}
		for _, in := range b.Instrs {
			if uses(in, v) {
				return true
			}
		}
	}
	return false
}

func uses(in *Instr, v Value) bool {
	if in.Callee == v && in.Op == OpCall {
		return true
	}
	for _, a := range in.Args {
		if a == v {
			return true
		}
	}
	return false
}

// ReplaceAllUses rewrites every read of old in f to read repl and returns the
// users that changed.
func ReplaceAllUses(f *Func, old, repl Value) []*Instr {
	var changed []*Instr
	for _, b := range f.Blocks {
		if b.Term.Value == old {
			b.Term.Value = repl
		}
		for _, in := range b.Instrs {
			hit := false
			if in.Op == OpCall && in.Callee == old {
				in.Callee = repl
				hit = true
			}
			for i, a := range in.Args {
				if a == old {
					in.Args[i] = repl
					hit = true
				}
			}
			if hit {
				changed = append(changed, in)
			}
		}
	}
	return changed
}

// EraseInstr removes in from its block. Remaining uses must be replaced first.
func EraseInstr(in *Instr) {
	if in.Block == nil {
		return
	}
	in.Block.remove(in)
}

// ReplaceInstr substitutes repl for every use of in and erases it.
func ReplaceInstr(in *Instr, repl Value) []*Instr {
	if in.Block == nil || in.Block.Fn == nil {
		return nil
	}
	users := ReplaceAllUses(in.Block.Fn, in, repl)
	EraseInstr(in)
	return users
}
