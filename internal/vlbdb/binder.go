package vlbdb

import (
	"fmt"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
	"vlbdb/internal/trace"
)

// Binder accumulates constants for the leading parameters of one registered
// function. Binds must follow parameter order. The first failed bind poisons
// the binder: later binds and Specialize report that error.
type Binder struct {
	u      *Unit
	base   *record
	params []ir.Type
	args   []*ir.Const
	err    error
	ref    refCount
}

// NewBinder starts binding arguments of the registered function at addr.
func (u *Unit) NewBinder(addr mem.Addr) (*Binder, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	rec, ok := u.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("%w: no registered function at %#x", ErrUnknownFunction, addr)
	}
	return u.newBinder(rec), nil
}

// NewBinderID starts binding arguments of a registered function.
func (u *Unit) NewBinderID(id FunctionID) (*Binder, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	rec := u.recordByID(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return u.newBinder(rec), nil
}

// NewBinderFor starts binding arguments of c, registering its code with
// budget 0 if needed. For a closure the captured state is bound first, as an
// interned range.
func (u *Unit) NewBinderFor(c Callable) (*Binder, error) {
	if err := u.check(); err != nil {
		return nil, err
	}
	if _, ok := u.byAddr[c.Code]; !ok {
		if _, err := u.RegisterCallable(c, 0); err != nil {
			return nil, err
		}
	}
	b, err := u.NewBinder(c.Code)
	if err != nil {
		return nil, err
	}
	if c.Kind == CallableClosure {
		if err := b.BindRange(c.State, c.Size, true); err != nil {
			b.Release()
			return nil, err
		}
	}
	return b, nil
}

func (u *Unit) newBinder(rec *record) *Binder {
	b := &Binder{
		u:      u,
		base:   rec,
		params: rec.fn.Sig.Params,
	}
	b.ref.init(Owned)
	return b
}

// Bound returns how many arguments have been bound.
func (b *Binder) Bound() int { return len(b.args) }

// Remaining returns how many parameters are still unbound.
func (b *Binder) Remaining() int { return len(b.params) - len(b.args) }

// Err returns the error that poisoned the binder, if any.
func (b *Binder) Err() error {
	if !b.ref.alive() {
		return ErrBinderConsumed
	}
	return b.err
}

// next returns the type of the parameter the next bind fills.
func (b *Binder) next() (ir.Type, error) {
	if err := b.Err(); err != nil {
		return ir.Type{}, err
	}
	if len(b.args) >= len(b.params) {
		return ir.Type{}, b.fail(fmt.Errorf("%w: @%s takes %d", ErrTooManyArgs, b.base.fn.Name, len(b.params)))
	}
	return b.params[len(b.args)], nil
}

func (b *Binder) fail(err error) error {
	if b.err == nil {
		b.err = err
		trace.Point(b.u.tracer, trace.ScopeUnit, "bind.error", b.u.span, err.Error())
	}
	return b.err
}

func (b *Binder) mismatch(t ir.Type, what string) error {
	return b.fail(fmt.Errorf("%w: parameter %d of @%s is %s, got %s", ErrKindMismatch, len(b.args), b.base.fn.Name, t, what))
}

// BindInt binds a signed integer, truncated to the parameter width.
func (b *Binder) BindInt(v int64) error {
	t, err := b.next()
	if err != nil {
		return err
	}
	if !t.IsInt() {
		return b.mismatch(t, "integer")
	}
	b.args = append(b.args, ir.NewSigned(t, v))
	return nil
}

// BindUint binds an unsigned integer, truncated to the parameter width.
func (b *Binder) BindUint(v uint64) error {
	t, err := b.next()
	if err != nil {
		return err
	}
	if !t.IsInt() {
		return b.mismatch(t, "integer")
	}
	b.args = append(b.args, ir.NewInt(t, v))
	return nil
}

// BindFloat binds a floating point value, rounded to the parameter width.
func (b *Binder) BindFloat(v float64) error {
	t, err := b.next()
	if err != nil {
		return err
	}
	if !t.IsFloat() {
		return b.mismatch(t, "float")
	}
	b.args = append(b.args, ir.NewFloat(t, v))
	return nil
}

// BindPointer binds an address. Null and registered functions keep their
// identity; any other address is bound as a raw pointer.
func (b *Binder) BindPointer(addr mem.Addr) error {
	t, err := b.next()
	if err != nil {
		return err
	}
	if !t.IsPtr() {
		return b.mismatch(t, "pointer")
	}
	b.args = append(b.args, b.u.pointerConst(addr))
	return nil
}

// BindRange binds a pointer to the size bytes at addr. With intern the
// contents are copied into a shared constant blob and the argument points at
// it; otherwise the range is frozen in place and the argument is addr itself.
func (b *Binder) BindRange(addr mem.Addr, size uint64, intern bool) error {
	t, err := b.next()
	if err != nil {
		return err
	}
	if !t.IsPtr() {
		return b.mismatch(t, "byte range")
	}
	if intern {
		blob, _, err := b.u.InternBlob(addr, size)
		if err != nil {
			return b.fail(fmt.Errorf("vlbdb: intern %#x+%d: %w", addr, size, err))
		}
		b.args = append(b.args, ir.GlobalRef(blob.global, 0))
		return nil
	}
	if _, err := b.u.Freeze(addr, size); err != nil {
		return b.fail(fmt.Errorf("vlbdb: freeze %#x+%d: %w", addr, size, err))
	}
	b.args = append(b.args, ir.NewAddr(addr))
	return nil
}

// Copy returns an independent binder with the same bound prefix.
func (b *Binder) Copy() (*Binder, error) {
	if !b.ref.alive() {
		return nil, ErrBinderConsumed
	}
	c := b.u.newBinder(b.base)
	c.args = append([]*ir.Const(nil), b.args...)
	c.err = b.err
	return c, nil
}

// Retain adds a reference so that Specialize does not destroy the binder.
func (b *Binder) Retain() error {
	if !b.ref.retain() {
		return ErrBinderConsumed
	}
	return nil
}

// Release drops a reference; the last one destroys the binder.
func (b *Binder) Release() {
	if b.ref.release() {
		b.args = nil
	}
}

// SpecializeRetain compiles the specialization of the bound prefix and
// returns its code address. The binder stays usable.
func (b *Binder) SpecializeRetain() (mem.Addr, error) {
	if err := b.Err(); err != nil {
		return 0, err
	}
	return b.u.specializeRetain(b.base, b.args)
}

// Specialize is SpecializeRetain followed by Release. The binder is consumed
// whether or not specialization succeeds.
func (b *Binder) Specialize() (mem.Addr, error) {
	addr, err := b.SpecializeRetain()
	if b.ref.alive() {
		b.Release()
	}
	return addr, err
}

// pointerConst converts an address to the most informative pointer constant.
func (u *Unit) pointerConst(addr mem.Addr) *ir.Const {
	if addr == 0 {
		return ir.NewNull()
	}
	if rec, ok := u.byAddr[addr]; ok {
		return ir.FuncRef(rec.fn)
	}
	return ir.NewAddr(addr)
}
