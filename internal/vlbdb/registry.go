package vlbdb

import (
	"fmt"
	"strconv"

	"fortio.org/safecast"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
	"vlbdb/internal/symtab"
	"vlbdb/internal/trace"
)

// FunctionID is the handle issued when a function is registered.
type FunctionID uint32

// NoFunctionID is never issued.
const NoFunctionID FunctionID = 0

func (id FunctionID) String() string {
	return "fn" + strconv.FormatUint(uint64(id), 10)
}

// record is the registry entry of a base function or a specialization.
type record struct {
	id     FunctionID
	key    Key
	fn     *ir.Func
	addr   mem.Addr
	budget int
}

func (r *record) raise(budget int) {
	r.budget = max(r.budget, budget)
}

// FunctionInfo describes a registered function.
type FunctionInfo struct {
	ID     FunctionID
	Name   string
	Addr   mem.Addr
	Key    Key
	Budget int
}

func (r *record) info() FunctionInfo {
	return FunctionInfo{ID: r.id, Name: r.fn.Name, Addr: r.addr, Key: r.key, Budget: r.budget}
}

// addRecord registers fn under key. The record is reachable by key, function
// and code address from here on.
func (u *Unit) addRecord(key Key, fn *ir.Func, budget int) *record {
	id, err := safecast.Conv[uint32](len(u.records) + 1)
	if err != nil {
		panic(fmt.Sprintf("vlbdb: function table overflow: %v", err))
	}
	rec := &record{
		id:     FunctionID(id),
		key:    key,
		fn:     fn,
		addr:   u.engine.AddressOf(fn),
		budget: max(budget, 0),
	}
	u.records = append(u.records, rec)
	u.cache[key.cacheKey()] = rec
	u.byFunc[fn] = rec
	u.byAddr[rec.addr] = rec
	return rec
}

// Register makes a function available for specialization. addr, name or both
// identify it: a known address only raises the budget, a name is looked up in
// the module and an address alone is reverse-resolved through the resolver.
// budget is how many further leading constant arguments call sites found
// during optimization may fold into new specializations. Re-registering never
// lowers the budget.
func (u *Unit) Register(addr mem.Addr, name string, budget int) (FunctionID, error) {
	if err := u.check(); err != nil {
		return NoFunctionID, err
	}
	if addr == 0 && name == "" {
		return NoFunctionID, ErrNoTarget
	}
	if addr != 0 {
		if rec, ok := u.byAddr[addr]; ok {
			rec.raise(budget)
			return rec.id, nil
		}
	}

	end := u.begin(trace.ScopeUnit, "register")
	defer end(name)

	if name == "" {
		n, ok := u.resolver.Name(addr)
		if !ok {
			return NoFunctionID, &ResolutionError{Addr: addr}
		}
		name = n
	}
	fn := u.mod.Func(name)
	if fn == nil {
		demangled, _ := symtab.Demangle(name)
		return NoFunctionID, &ResolutionError{Name: name, Demangled: demangled, Addr: addr}
	}
	if addr == 0 {
		if a, ok := u.resolver.Lookup(name); ok {
			addr = a
		}
	}

	rec, ok := u.byFunc[fn]
	if ok {
		rec.raise(budget)
	} else {
		if !fn.IsDecl() {
			if err := u.finish(fn); err != nil {
				return NoFunctionID, err
			}
		}
		rec = u.addRecord(Key{Base: fn}, fn, budget)
	}
	if addr != 0 {
		u.byAddr[addr] = rec
	}
	return rec.id, nil
}

// RegisterName registers a module function by name.
func (u *Unit) RegisterName(name string, budget int) (FunctionID, error) {
	return u.Register(0, name, budget)
}

// RegisterAll registers, with budget 0, every external function with a body
// that the resolver can locate. Unresolved symbols are skipped. It returns
// the number of functions registered.
func (u *Unit) RegisterAll() (int, error) {
	if err := u.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, fn := range append([]*ir.Func(nil), u.mod.Funcs...) {
		if fn.IsDecl() || fn.Linkage != ir.LinkExternal {
			continue
		}
		addr, ok := u.resolver.Lookup(fn.Name)
		if !ok {
			continue
		}
		if _, err := u.Register(addr, fn.Name, 0); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RegisterCallable registers the code of c. A closure's state is always
// bound, so its code gets one extra unit of budget.
func (u *Unit) RegisterCallable(c Callable, budget int) (FunctionID, error) {
	if c.Kind == CallableClosure {
		budget++
	}
	return u.Register(c.Code, "", budget)
}

// Lookup returns the registry entry for a function handle.
func (u *Unit) Lookup(id FunctionID) (FunctionInfo, bool) {
	rec := u.recordByID(id)
	if rec == nil {
		return FunctionInfo{}, false
	}
	return rec.info(), true
}

// LookupAddr returns the registry entry for a code address.
func (u *Unit) LookupAddr(addr mem.Addr) (FunctionInfo, bool) {
	if u.check() != nil {
		return FunctionInfo{}, false
	}
	rec, ok := u.byAddr[addr]
	if !ok {
		return FunctionInfo{}, false
	}
	return rec.info(), true
}

// Address returns the code address of a registered function.
func (u *Unit) Address(id FunctionID) (mem.Addr, error) {
	rec := u.recordByID(id)
	if rec == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return rec.addr, nil
}

func (u *Unit) recordByID(id FunctionID) *record {
	if u.check() != nil || id == NoFunctionID || int(id) > len(u.records) {
		return nil
	}
	return u.records[id-1]
}

// finish runs the finishing passes over fn and drops stale compiled code.
func (u *Unit) finish(fn *ir.Func) error {
	end := u.begin(trace.ScopeOptimize, "finish")
	defer end(fn.Name)
	if err := ir.RunPasses(fn, u.passes); err != nil {
		return fmt.Errorf("vlbdb: finishing passes on @%s: %w", fn.Name, err)
	}
	u.engine.Invalidate(fn)
	return nil
}
