package vlbdb

import (
	"fmt"

	"vlbdb/internal/mem"
)

// CallableKind tags the Callable variant.
type CallableKind uint8

const (
	// CallableFunc is a plain function pointer.
	CallableFunc CallableKind = iota
	// CallableClosure is code plus a captured state range passed as the
	// leading argument.
	CallableClosure
)

// Callable is a value that can be specialized: either a plain function or a
// closure whose code takes its captured state as the first parameter.
type Callable struct {
	Kind  CallableKind
	Code  mem.Addr
	State mem.Addr
	Size  uint64
}

// Func returns the Callable for a plain function pointer.
func Func(addr mem.Addr) Callable {
	return Callable{Kind: CallableFunc, Code: addr}
}

// Closure returns the Callable for code taking the state range [state, state+size).
func Closure(code, state mem.Addr, size uint64) Callable {
	return Callable{Kind: CallableClosure, Code: code, State: state, Size: size}
}

func (c Callable) String() string {
	if c.Kind == CallableClosure {
		return fmt.Sprintf("closure(%#x, state %#x+%d)", c.Code, c.State, c.Size)
	}
	return fmt.Sprintf("func(%#x)", c.Code)
}
