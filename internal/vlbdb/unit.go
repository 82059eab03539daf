// Package vlbdb is the runtime specialization engine. A Unit owns a loaded
// module and its execution engine; functions registered with it can be bound
// to constant leading arguments and recompiled into residual functions.
package vlbdb

import (
	"errors"
	"fmt"
	"hash/maphash"

	"github.com/google/btree"
	"github.com/google/uuid"

	"vlbdb/internal/ir"
	"vlbdb/internal/jit"
	"vlbdb/internal/mem"
	"vlbdb/internal/symtab"
	"vlbdb/internal/trace"
)

// InlinePolicy selects which resolved callees the optimizer may inline.
type InlinePolicy uint8

const (
	// InlineConservative inlines only callees reachable through constant
	// arguments or constants folded out of bound memory.
	InlineConservative InlinePolicy = iota
	// InlineAggressive inlines any registered callee at an original call site.
	InlineAggressive
)

func (p InlinePolicy) String() string {
	if p == InlineAggressive {
		return "aggressive"
	}
	return "conservative"
}

// ParseInlinePolicy converts a configuration string to an InlinePolicy.
func ParseInlinePolicy(s string) (InlinePolicy, error) {
	switch s {
	case "", "conservative":
		return InlineConservative, nil
	case "aggressive":
		return InlineAggressive, nil
	default:
		return InlineConservative, fmt.Errorf("invalid inline policy: %q (expected: conservative|aggressive)", s)
	}
}

// DefaultMaxNesting bounds how deeply specializations may trigger further
// specializations while being optimized.
const DefaultMaxNesting = 64

// Stats counts the work a unit performed.
type Stats struct {
	Hits           int
	Misses         int
	Clones         int
	Folds          int
	LoadFolds      int
	CallsRewritten int
	Inlines        int
	Compiled       int
	Registered     int
	InternedBlobs  int
	InternedBytes  int
	FrozenRanges   int
}

type options struct {
	resolver   symtab.Resolver
	tracer     trace.Tracer
	passes     []string
	inline     InlinePolicy
	maxDepth   int
	maxNesting int
	ownership  Ownership
	space      *mem.Space
}

// Option configures a Unit.
type Option func(*options)

// WithResolver replaces the default resolver, which answers from the
// engine's symbol table.
func WithResolver(r symtab.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTracer attaches a tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithPasses sets the finishing pass pipeline.
func WithPasses(names ...string) Option {
	return func(o *options) { o.passes = append([]string(nil), names...) }
}

// WithInlinePolicy sets the inlining policy.
func WithInlinePolicy(p InlinePolicy) Option {
	return func(o *options) { o.inline = p }
}

// WithMaxCallDepth bounds the call depth of executed code.
func WithMaxCallDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithMaxNesting bounds nested specialization during optimization.
func WithMaxNesting(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxNesting = n
		}
	}
}

// WithOwnership sets the unit's lifetime mode.
func WithOwnership(m Ownership) Option {
	return func(o *options) { o.ownership = m }
}

// WithSpace runs the unit in an existing address space.
func WithSpace(s *mem.Space) Option {
	return func(o *options) { o.space = s }
}

// Unit owns a module, its execution engine and every specialization made from
// it. Mutating calls on one Unit must be serialized by the caller.
type Unit struct {
	id  uuid.UUID
	ref refCount

	mod      *ir.Module
	space    *mem.Space
	engine   *jit.Engine
	resolver symtab.Resolver
	tracer   trace.Tracer

	passes     []string
	inline     InlinePolicy
	maxNesting int
	nesting    int

	records []*record
	byAddr  map[mem.Addr]*record
	byFunc  map[*ir.Func]*record
	cache   map[cacheKey]*record

	seed   maphash.Seed
	blobs  map[uint64][]*Blob
	frozen *btree.BTreeG[frozenRange]

	stats Stats
	span  uint64
}

// New creates a unit for mod. The module is validated and compiled lazily.
func New(mod *ir.Module, opts ...Option) (*Unit, error) {
	if mod == nil {
		return nil, errors.New("vlbdb: nil module")
	}
	o := options{
		passes:     ir.DefaultPasses,
		maxDepth:   jit.DefaultMaxDepth,
		maxNesting: DefaultMaxNesting,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := ir.CheckPasses(o.passes); err != nil {
		return nil, err
	}
	if err := ir.Validate(mod); err != nil {
		return nil, fmt.Errorf("vlbdb: invalid module %s: %w", mod.Name, err)
	}
	if o.space == nil {
		o.space = mem.New()
	}
	if o.tracer == nil {
		o.tracer = trace.Nop
	}
	engine, err := jit.New(mod, o.space, jit.WithMaxDepth(o.maxDepth))
	if err != nil {
		return nil, err
	}
	u := &Unit{
		id:         uuid.New(),
		mod:        mod,
		space:      o.space,
		engine:     engine,
		resolver:   o.resolver,
		tracer:     o.tracer,
		passes:     o.passes,
		inline:     o.inline,
		maxNesting: o.maxNesting,
		byAddr:     make(map[mem.Addr]*record),
		byFunc:     make(map[*ir.Func]*record),
		cache:      make(map[cacheKey]*record),
		seed:       maphash.MakeSeed(),
		blobs:      make(map[uint64][]*Blob),
		frozen:     btree.NewG(8, frozenLess),
	}
	if u.resolver == nil {
		u.resolver = engineResolver{engine}
	}
	u.ref.init(o.ownership)
	trace.Point(u.tracer, trace.ScopeUnit, "unit.new", 0, u.id.String())
	return u, nil
}

// ID returns the unit's identity.
func (u *Unit) ID() uuid.UUID { return u.id }

// Module returns the module specializations are added to.
func (u *Unit) Module() *ir.Module { return u.mod }

// Engine returns the execution engine, e.g. to bind host functions.
func (u *Unit) Engine() *jit.Engine { return u.engine }

// Space returns the address space the unit's code and data live in.
func (u *Unit) Space() *mem.Space { return u.space }

// Retain adds a reference.
func (u *Unit) Retain() error {
	if !u.ref.retain() {
		return ErrReleased
	}
	return nil
}

// Release drops a reference. Dropping the last one destroys the unit along
// with every cache, clone and blob it holds.
func (u *Unit) Release() {
	if !u.ref.release() {
		return
	}
	trace.Point(u.tracer, trace.ScopeUnit, "unit.release", 0, u.id.String())
	u.records = nil
	u.byAddr = nil
	u.byFunc = nil
	u.cache = nil
	u.blobs = nil
	u.frozen = nil
	u.engine = nil
	u.mod = nil
}

func (u *Unit) check() error {
	if !u.ref.alive() || u.mod == nil {
		return ErrReleased
	}
	return nil
}

// Call runs the code at addr.
func (u *Unit) Call(addr mem.Addr, args ...uint64) (uint64, error) {
	if err := u.check(); err != nil {
		return 0, err
	}
	return u.engine.Call(addr, args...)
}

// Dump returns the IR text of the function at addr.
func (u *Unit) Dump(addr mem.Addr) (string, error) {
	if err := u.check(); err != nil {
		return "", err
	}
	if rec, ok := u.byAddr[addr]; ok {
		return ir.FuncString(rec.fn), nil
	}
	if f, ok := u.engine.FunctionAt(addr); ok {
		return ir.FuncString(f), nil
	}
	return "", &ResolutionError{Addr: addr}
}

// FunctionAt returns the IR function behind a code address.
func (u *Unit) FunctionAt(addr mem.Addr) (*ir.Func, bool) {
	if u.check() != nil {
		return nil, false
	}
	if rec, ok := u.byAddr[addr]; ok {
		return rec.fn, true
	}
	return u.engine.FunctionAt(addr)
}

// Stats returns a snapshot of the work counters.
func (u *Unit) Stats() Stats {
	s := u.stats
	if u.engine != nil {
		s.Compiled = u.engine.Compiled()
	}
	s.Registered = len(u.records)
	return s
}

// begin opens a span nested under the current one; the returned func ends it.
func (u *Unit) begin(scope trace.Scope, name string) func(detail string) {
	sp := trace.Begin(u.tracer, scope, name, u.span)
	if sp.ID() == 0 {
		return func(string) {}
	}
	prev := u.span
	u.span = sp.ID()
	return func(detail string) {
		u.span = prev
		sp.End(detail)
	}
}

func (u *Unit) point(scope trace.Scope, name, detail string) {
	trace.Point(u.tracer, scope, name, u.span, detail)
}

// engineResolver answers symbol queries from the engine's external symbols.
type engineResolver struct{ e *jit.Engine }

func (r engineResolver) Lookup(name string) (uint64, bool) {
	addr, ok := r.e.Symbols()[name]
	return addr, ok
}

func (r engineResolver) Name(addr uint64) (string, bool) {
	f, ok := r.e.FunctionAt(addr)
	if !ok || f.Linkage != ir.LinkExternal {
		return "", false
	}
	if _, ok := r.e.Symbols()[f.Name]; !ok {
		return "", false
	}
	return f.Name, true
}
