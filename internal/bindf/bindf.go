package bindf

import (
	"fmt"

	"fortio.org/safecast"

	"vlbdb/internal/mem"
	"vlbdb/internal/vlbdb"
)

// Bindf binds one argument per conversion in format. A %*p conversion takes
// its width from the argument before the pointer.
func Bindf(b *vlbdb.Binder, format string, args ...any) error {
	dirs, err := Parse(format)
	if err != nil {
		return err
	}
	next := 0
	take := func(d Directive) (any, error) {
		if next >= len(args) {
			return nil, fmt.Errorf("%w: missing argument for %%%c at offset %d", ErrArgs, d.Verb, d.Offset)
		}
		a := args[next]
		next++
		return a, nil
	}
	for _, d := range dirs {
		if err := bindOne(b, d, take); err != nil {
			return err
		}
	}
	if next < len(args) {
		return fmt.Errorf("%w: %d extra arguments", ErrArgs, len(args)-next)
	}
	return nil
}

func bindOne(b *vlbdb.Binder, d Directive, take func(Directive) (any, error)) error {
	width := d.Width
	if d.StarWidth {
		a, err := take(d)
		if err != nil {
			return err
		}
		if width, err = asInt(a); err != nil {
			return argError(d, "width", err)
		}
	}
	if d.StarPrecision {
		a, err := take(d)
		if err != nil {
			return err
		}
		if _, err := asInt(a); err != nil {
			return argError(d, "precision", err)
		}
	}
	a, err := take(d)
	if err != nil {
		return err
	}
	switch d.Class() {
	case ClassInt:
		v, err := asInt(a)
		if err != nil {
			return argError(d, "value", err)
		}
		return b.BindInt(v)
	case ClassUint:
		v, err := asUint(a)
		if err != nil {
			return argError(d, "value", err)
		}
		return b.BindUint(v)
	case ClassFloat:
		v, err := asFloat(a)
		if err != nil {
			return argError(d, "value", err)
		}
		return b.BindFloat(v)
	}
	addr, err := asAddr(a)
	if err != nil {
		return argError(d, "pointer", err)
	}
	switch {
	case width != 0:
		size, err := safecast.Conv[uint64](max(width, -width))
		if err != nil {
			return argError(d, "width", err)
		}
		return b.BindRange(addr, size, width > 0)
	}
	return b.BindPointer(addr)
}

func argError(d Directive, what string, err error) error {
	return fmt.Errorf("%w: %%%c at offset %d: %s: %w", ErrArgs, d.Verb, d.Offset, what, err)
}

func asInt(a any) (int64, error) {
	switch v := a.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return safecast.Conv[int64](v)
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return safecast.Conv[int64](v)
	}
	return 0, fmt.Errorf("%T is not an integer", a)
}

func asUint(a any) (uint64, error) {
	switch v := a.(type) {
	case uint:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case uintptr:
		return uint64(v), nil
	case int:
		return safecast.Conv[uint64](v)
	case int8:
		return safecast.Conv[uint64](v)
	case int16:
		return safecast.Conv[uint64](v)
	case int32:
		return safecast.Conv[uint64](v)
	case int64:
		return safecast.Conv[uint64](v)
	}
	return 0, fmt.Errorf("%T is not an unsigned integer", a)
}

func asFloat(a any) (float64, error) {
	switch v := a.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%T is not a float", a)
}

func asAddr(a any) (mem.Addr, error) {
	switch v := a.(type) {
	case nil:
		return 0, nil
	case uint64:
		return v, nil
	case uintptr:
		return uint64(v), nil
	case vlbdb.Callable:
		return v.Code, nil
	}
	return 0, fmt.Errorf("%T is not an address", a)
}

// Specializef binds format against the registered function at fn and
// specializes it. The binder is consumed either way.
func Specializef(u *vlbdb.Unit, fn mem.Addr, format string, args ...any) (mem.Addr, error) {
	b, err := u.NewBinder(fn)
	if err != nil {
		return 0, err
	}
	return bindAndSpecialize(b, format, args)
}

// SpecializeCallablef is Specializef for a registered callable. A closure's
// state is bound before the formatted arguments.
func SpecializeCallablef(u *vlbdb.Unit, c vlbdb.Callable, format string, args ...any) (mem.Addr, error) {
	b, err := u.NewBinderFor(c)
	if err != nil {
		return 0, err
	}
	return bindAndSpecialize(b, format, args)
}

func bindAndSpecialize(b *vlbdb.Binder, format string, args []any) (mem.Addr, error) {
	if err := Bindf(b, format, args...); err != nil {
		b.Release()
		return 0, err
	}
	return b.Specialize()
}
