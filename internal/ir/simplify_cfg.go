package ir

// SimplifyCFG performs control flow graph simplification on a function.
// Transformations:
// 1. Remove trivial branch blocks (0 instructions + br terminator)
// 2. Collapse branch chains
// 3. Remove unreachable blocks
// 4. Merge a block into its single predecessor
// 5. Renumber blocks deterministically
func SimplifyCFG(f *Func) bool {
	if f == nil || len(f.Blocks) == 0 {
		return false
	}
	changed := false

	// Phase 1: Build redirect map for trivial branch blocks
	redirects := buildRedirectMap(f)

	// Phase 2: Apply redirects to all terminators
	if applyRedirects(f, redirects) {
		changed = true
	}

	// Phase 3: Compute reachability and remove dead blocks
	if removeUnreachable(f, computeReachability(f)) {
		changed = true
	}

	// Phase 4: Merge straight-line pairs
	if mergeBlocks(f) {
		changed = true
	}

	// Phase 5: Renumber
	f.Renumber()
	return changed
}

// buildRedirectMap finds trivial branch blocks and maps each to its final
// target, following chains. A block is only bypassed when its target has no
// phis, since bypassing would change the incoming edges the phis name.
func buildRedirectMap(f *Func) map[*Block]*Block {
	redirects := make(map[*Block]*Block)
	entry := f.Entry()
	for _, b := range f.Blocks {
		if b == entry || !isTrivialBranch(b) {
			continue
		}
		target := b.Term.Then
		visited := map[*Block]bool{b: true}
		for !visited[target] {
			visited[target] = true
			if next, ok := redirects[target]; ok {
				target = next
				continue
			}
			if target != entry && isTrivialBranch(target) {
				target = target.Term.Then
				continue
			}
			break
		}
		if target == b || len(target.Phis()) > 0 {
			continue
		}
		redirects[b] = target
	}
	return redirects
}

func isTrivialBranch(b *Block) bool {
	return len(b.Instrs) == 0 && b.Term.Kind == TermBr
}

// applyRedirects updates all terminators to use the redirected targets.
func applyRedirects(f *Func, redirects map[*Block]*Block) bool {
	if len(redirects) == 0 {
		return false
	}
	changed := false
	redirect := func(b *Block) *Block {
		if nb, ok := redirects[b]; ok {
			changed = true
			return nb
		}
		return b
	}
	for _, b := range f.Blocks {
		switch b.Term.Kind {
		case TermBr:
			b.Term.Then = redirect(b.Term.Then)
		case TermCondBr:
			b.Term.Then = redirect(b.Term.Then)
			b.Term.Else = redirect(b.Term.Else)
		}
	}
	return changed
}

// computeReachability performs a DFS from the entry block.
func computeReachability(f *Func) map[*Block]bool {
	reachable := make(map[*Block]bool, len(f.Blocks))
	var visit func(b *Block)
	visit = func(b *Block) {
		if b == nil || reachable[b] {
			return
		}
		reachable[b] = true
		for _, s := range b.Succs() {
			visit(s)
		}
	}
	visit(f.Entry())
	return reachable
}

// removeUnreachable drops dead blocks and the phi entries they feed.
func removeUnreachable(f *Func, reachable map[*Block]bool) bool {
	if len(reachable) == len(f.Blocks) {
		return false
	}
	kept := make([]*Block, 0, len(reachable))
	for _, b := range f.Blocks {
		if reachable[b] {
			kept = append(kept, b)
			continue
		}
		for _, s := range b.Succs() {
			if reachable[s] {
				for _, phi := range s.Phis() {
					phi.RemoveIncoming(b)
				}
			}
		}
		b.Fn = nil
	}
	f.Blocks = kept
	return true
}

// mergeBlocks folds a successor into its predecessor when the edge between them
// is the only way in and out.
func mergeBlocks(f *Func) bool {
	changed := false
	for {
		preds := f.Preds()
		merged := false
		for _, b := range f.Blocks {
			if b.Term.Kind != TermBr {
				continue
			}
			s := b.Term.Then
			if s == b || s == f.Entry() || len(preds[s]) != 1 {
				continue
			}
			for _, phi := range s.Phis() {
				v, _ := phi.IncomingFor(b)
				if v == nil || v == Value(phi) {
					v = ZeroValue(phi.Ty)
				}
				ReplaceInstr(phi, v)
			}
			for _, in := range s.Instrs {
				in.Block = b
			}
			b.Instrs = append(b.Instrs, s.Instrs...)
			s.Instrs = nil
			b.Term = s.Term
			for _, succ := range b.Succs() {
				for _, phi := range succ.Phis() {
					phi.RetargetIncoming(s, b)
				}
			}
			f.RemoveBlock(s)
			merged = true
			break
		}
		if !merged {
			return changed
		}
		changed = true
	}
}
