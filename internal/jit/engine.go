// Package jit executes IR functions. Each function is compiled once into a
// tree of Go closures and published at a stable code address in the host
// address space, so function pointers flow through memory like any other
// value.
package jit

import (
	"errors"
	"fmt"
	"sync"

	"fortio.org/safecast"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
)

// DefaultMaxDepth bounds nested calls.
const DefaultMaxDepth = 10000

// HostFunc implements a declared function in Go. Arguments and the result use
// the engine's value encoding: integers zero-extended, floats as IEEE bits,
// pointers as addresses.
type HostFunc func(e *Engine, args []uint64) (uint64, error)

type entry struct {
	fn   *ir.Func
	addr mem.Addr
	prog *program
	host HostFunc
}

// Engine owns the compiled code of one module.
type Engine struct {
	mod   *ir.Module
	space *mem.Space

	mu       sync.Mutex
	byFunc   map[*ir.Func]*entry
	byAddr   map[mem.Addr]*entry
	globals  map[*ir.Global]mem.Addr
	hosts    map[string]HostFunc
	maxDepth int
	compiled int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the call depth limit.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// New creates an engine for mod. Globals are materialized into space and every
// function of the module receives its code address up front.
func New(mod *ir.Module, space *mem.Space, opts ...Option) (*Engine, error) {
	if mod == nil || space == nil {
		return nil, errors.New("jit: module and address space are required")
	}
	e := &Engine{
		mod:      mod,
		space:    space,
		byFunc:   make(map[*ir.Func]*entry),
		byAddr:   make(map[mem.Addr]*entry),
		globals:  make(map[*ir.Global]mem.Addr),
		hosts:    make(map[string]HostFunc),
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(e)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range mod.Globals {
		if _, err := e.globalAddr(g); err != nil {
			return nil, err
		}
	}
	for _, f := range mod.Funcs {
		e.entryFor(f)
	}
	return e, nil
}

// Module returns the module the engine executes.
func (e *Engine) Module() *ir.Module { return e.mod }

// Space returns the host address space.
func (e *Engine) Space() *mem.Space { return e.space }

// BindHost implements the declaration name with fn.
func (e *Engine) BindHost(name string, fn HostFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hosts[name] = fn
	if f := e.mod.Func(name); f != nil {
		e.entryFor(f).host = fn
	}
}

// PointerToFunction compiles fn if needed and returns its code address.
func (e *Engine) PointerToFunction(fn *ir.Func) (mem.Addr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en := e.entryFor(fn)
	if !fn.IsDecl() && en.prog == nil {
		if err := e.compile(en); err != nil {
			return 0, err
		}
	}
	return en.addr, nil
}

// AddressOf returns the code address of fn without compiling it.
func (e *Engine) AddressOf(fn *ir.Func) mem.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entryFor(fn).addr
}

// FunctionAt maps a code address back to its function.
func (e *Engine) FunctionAt(addr mem.Addr) (*ir.Func, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.byAddr[addr]
	if !ok {
		return nil, false
	}
	return en.fn, true
}

// GlobalAddr returns the address a global was materialized at.
func (e *Engine) GlobalAddr(g *ir.Global) (mem.Addr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalAddr(g)
}

// Invalidate drops the compiled code of fn; the next call recompiles it.
func (e *Engine) Invalidate(fn *ir.Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.byFunc[fn]; ok {
		en.prog = nil
	}
}

// Symbols returns the externally visible code symbols: every external function
// that has a body or a host binding.
func (e *Engine) Symbols() map[string]mem.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]mem.Addr)
	for _, f := range e.mod.Funcs {
		if f.Linkage != ir.LinkExternal {
			continue
		}
		en := e.entryFor(f)
		if f.IsDecl() && en.host == nil {
			continue
		}
		out[f.Name] = en.addr
	}
	return out
}

// Compiled reports how many function bodies have been compiled.
func (e *Engine) Compiled() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compiled
}

// Call invokes the code at addr.
func (e *Engine) Call(addr mem.Addr, args ...uint64) (uint64, error) {
	return e.call(addr, args, 0)
}

// CallFunc invokes fn directly.
func (e *Engine) CallFunc(fn *ir.Func, args ...uint64) (uint64, error) {
	addr, err := e.PointerToFunction(fn)
	if err != nil {
		return 0, err
	}
	return e.call(addr, args, 0)
}

func (e *Engine) call(addr mem.Addr, args []uint64, depth int) (uint64, error) {
	if depth >= e.maxDepth {
		return 0, &Fault{Addr: addr, Reason: fmt.Sprintf("call depth limit %d exceeded", e.maxDepth)}
	}
	e.mu.Lock()
	en, ok := e.byAddr[addr]
	if !ok {
		e.mu.Unlock()
		return 0, &Fault{Addr: addr, Reason: "call to non-function address"}
	}
	if en.host == nil && en.fn.IsDecl() {
		e.mu.Unlock()
		return 0, &Fault{Func: en.fn.Name, Addr: addr, Reason: "unresolved external function"}
	}
	if en.host == nil && en.prog == nil {
		if cerr := e.compile(en); cerr != nil {
			e.mu.Unlock()
			return 0, cerr
		}
	}
	host, prog := en.host, en.prog
	e.mu.Unlock()

	n, want := len(args), len(en.fn.Params)
	if n < want || (n > want && !en.fn.Sig.Variadic) {
		return 0, &Fault{Func: en.fn.Name, Addr: addr, Reason: fmt.Sprintf("called with %d arguments, want %d", n, want)}
	}
	if host != nil {
		return host(e, args)
	}
	return prog.run(e, args, depth)
}

// entryFor returns the entry of f, assigning a code address on first sight.
// Callers hold e.mu.
func (e *Engine) entryFor(f *ir.Func) *entry {
	if en, ok := e.byFunc[f]; ok {
		return en
	}
	en := &entry{fn: f, addr: e.space.ReserveCode()}
	if f.IsDecl() {
		en.host = e.hosts[f.Name]
	}
	e.byFunc[f] = en
	e.byAddr[en.addr] = en
	return en
}

// globalAddr materializes g on first use. Callers hold e.mu.
func (e *Engine) globalAddr(g *ir.Global) (mem.Addr, error) {
	if addr, ok := e.globals[g]; ok {
		return addr, nil
	}
	addr, err := e.space.AllocBytes(g.Data, g.Name)
	if err != nil {
		return 0, fmt.Errorf("materialize @%s: %w", g.Name, err)
	}
	if g.Constant {
		if err := e.space.Protect(addr); err != nil {
			return 0, err
		}
	}
	e.globals[g] = addr
	return addr, nil
}

// GlobalAt maps a data address back to the global containing it.
func (e *Engine) GlobalAt(addr mem.Addr) (*ir.Global, int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for g, base := range e.globals {
		if addr >= base && addr < base+mem.Addr(len(g.Data)) {
			off, err := safecast.Conv[int64](addr - base)
			return g, off, err == nil
		}
	}
	return nil, 0, false
}
