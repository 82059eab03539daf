package vlbdb

import (
	"fmt"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
	"vlbdb/internal/trace"
)

// specializeCall specializes base on args, which are appended to whatever
// base already has bound.
func (u *Unit) specializeCall(base *record, args []*ir.Const) (*record, error) {
	key := base.key.extend(u.keyArgs(args))
	budget := max(base.budget-len(args), 0)
	return u.specializeInner(key, budget)
}

// specializeInner returns the record for key, cloning and optimizing the base
// function on a miss. The clone is registered before it is optimized so that
// recursive requests for the same key hit the cache.
func (u *Unit) specializeInner(key Key, budget int) (*record, error) {
	ck := key.cacheKey()
	if rec, ok := u.cache[ck]; ok {
		u.stats.Hits++
		u.point(trace.ScopeSpecialize, "cache.hit", key.String())
		return rec, nil
	}
	u.stats.Misses++

	end := u.begin(trace.ScopeSpecialize, "specialize")
	defer end(key.String())

	clone, err := ir.CloneSpecialized(key.Base, key.Args, "")
	if err != nil {
		return nil, fmt.Errorf("vlbdb: specialize %s: %w", key, err)
	}
	u.stats.Clones++
	rec := u.addRecord(key, clone, budget)

	u.nesting++
	u.optimize(clone, key.Args)
	u.nesting--

	if err := u.finish(clone); err != nil {
		return nil, err
	}
	return rec, nil
}

// autoSpecialize specializes the callee of rec on a constant argument prefix
// found at a call site. Longer prefixes are served only from the cache;
// at most rec.budget of them are folded into a new specialization. It
// returns the record to call and how many leading arguments it consumed.
func (u *Unit) autoSpecialize(rec *record, consts []*ir.Const) (*record, int, error) {
	if rec.key.Base.IsDecl() {
		return rec, 0, nil
	}
	key := rec.key.extend(u.keyArgs(consts))
	bound := len(rec.key.Args)
	n := len(consts)
	for ; n > rec.budget; n-- {
		if hit, ok := u.cache[key.prefix(bound+n).cacheKey()]; ok {
			u.stats.Hits++
			return hit, n, nil
		}
	}
	if n == 0 {
		return rec, 0, nil
	}
	if u.nesting >= u.maxNesting {
		u.point(trace.ScopeSpecialize, "nesting.limit", key.prefix(bound+n).String())
		return rec, 0, nil
	}
	out, err := u.specializeInner(key.prefix(bound+n), rec.budget-n)
	if err != nil {
		return rec, 0, err
	}
	return out, n, nil
}

// specializeRetain specializes and compiles, recording the code address.
func (u *Unit) specializeRetain(base *record, args []*ir.Const) (mem.Addr, error) {
	if err := u.check(); err != nil {
		return 0, err
	}
	rec, err := u.specializeCall(base, args)
	if err != nil {
		return 0, err
	}
	end := u.begin(trace.ScopeSpecialize, "compile")
	addr, err := u.engine.PointerToFunction(rec.fn)
	end(rec.fn.Name)
	if err != nil {
		return 0, fmt.Errorf("vlbdb: compile @%s: %w", rec.fn.Name, err)
	}
	u.byAddr[addr] = rec
	return addr, nil
}
