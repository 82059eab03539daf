package vlbdb

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget is returned when neither an address nor a name identifies
	// the function to register.
	ErrNoTarget = errors.New("vlbdb: no function address or name given")
	// ErrTooManyArgs is returned when a bind runs past the parameter list.
	ErrTooManyArgs = errors.New("vlbdb: too many bound arguments")
	// ErrKindMismatch is returned when a bound value does not fit the
	// declared parameter type.
	ErrKindMismatch = errors.New("vlbdb: bound value does not match parameter type")
	// ErrUnknownFunction is returned for functions missing from the module or
	// the registry.
	ErrUnknownFunction = errors.New("vlbdb: unknown function")
	// ErrBinderConsumed is returned by any use of a destroyed binder.
	ErrBinderConsumed = errors.New("vlbdb: binder already consumed")
	// ErrReleased is returned by any use of a destroyed unit.
	ErrReleased = errors.New("vlbdb: unit released")
)

// ResolutionError reports a function that could not be resolved by name or
// address.
type ResolutionError struct {
	Name      string
	Demangled string
	Addr      uint64
}

func (e *ResolutionError) Error() string {
	switch {
	case e.Name == "":
		return fmt.Sprintf("vlbdb: no symbol for address %#x", e.Addr)
	case e.Demangled != "" && e.Demangled != e.Name:
		return fmt.Sprintf("vlbdb: function %s (%s) not found in module", e.Name, e.Demangled)
	default:
		return fmt.Sprintf("vlbdb: function %s not found in module", e.Name)
	}
}

func (e *ResolutionError) Unwrap() error { return ErrUnknownFunction }
