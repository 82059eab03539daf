// Package bindf binds specialization arguments from a printf-style format
// string.
//
// Conversions map onto the typed binder calls:
//
//	%d %i                  BindInt
//	%u %o %x %X %c         BindUint
//	%f %F %e %E %g %G %a %A BindFloat
//	%p                     BindPointer
//	%Np %*p                BindRange of N bytes, interned for N > 0 and
//	                       frozen in place for N < 0
//	%%                     literal, binds nothing
//
// Length modifiers h, l, ll, j, z and t are accepted and ignored since Go
// arguments carry their own width. A precision is ignored too, but a "*"
// precision still consumes its argument. Text outside conversions is ignored.
package bindf

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrFormat reports a malformed format string.
var ErrFormat = errors.New("bindf: bad format")

// ErrArgs reports arguments that do not match the format.
var ErrArgs = errors.New("bindf: argument mismatch")

// Class groups conversions by the binder call they feed.
type Class uint8

const (
	ClassInt Class = iota + 1
	ClassUint
	ClassFloat
	ClassPointer
	ClassRange
)

func (c Class) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassUint:
		return "uint"
	case ClassFloat:
		return "float"
	case ClassPointer:
		return "pointer"
	case ClassRange:
		return "range"
	}
	return fmt.Sprintf("Class(%d)", c)
}

// Directive is one parsed conversion.
type Directive struct {
	Offset   int
	Verb     byte
	Width    int64
	HasWidth bool
	// StarWidth means the width is taken from the argument list.
	StarWidth bool
	// StarPrecision means a precision argument precedes the value; it is
	// consumed and ignored.
	StarPrecision bool
	Modifier      string
}

// Class returns the binder call the directive feeds. A %p with a zero width
// binds a plain pointer.
func (d Directive) Class() Class {
	switch d.Verb {
	case 'd', 'i':
		return ClassInt
	case 'u', 'o', 'x', 'X', 'c':
		return ClassUint
	case 'f', 'F', 'e', 'E', 'g', 'G', 'a', 'A':
		return ClassFloat
	}
	if d.StarWidth || (d.HasWidth && d.Width != 0) {
		return ClassRange
	}
	return ClassPointer
}

// Parse splits format into its conversions.
func Parse(format string) ([]Directive, error) {
	var out []Directive
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		d, next, err := parseOne(format, i)
		if err != nil {
			return nil, err
		}
		i = next
		if d.Verb != '%' {
			out = append(out, d)
		}
	}
	return out, nil
}

// parseOne reads the conversion starting at the '%' at start and returns the
// index of its verb.
func parseOne(format string, start int) (Directive, int, error) {
	d := Directive{Offset: start}
	afterPoint := false
	for i := start + 1; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '%' && i == start+1:
			d.Verb = '%'
			return d, i, nil
		case c == '*':
			if afterPoint {
				d.StarPrecision = true
			} else {
				d.StarWidth, d.HasWidth = true, true
			}
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(format) && format[j] >= '0' && format[j] <= '9' {
				j++
			}
			if c == '-' && j == i+1 {
				// a bare '-' is the justification flag
				continue
			}
			n, err := strconv.ParseInt(format[i:j], 10, 64)
			if err != nil {
				return d, 0, fmt.Errorf("%w: width at offset %d: %w", ErrFormat, i, err)
			}
			if !afterPoint {
				d.Width, d.HasWidth = n, true
			}
			i = j - 1
		case c == '.':
			afterPoint = true
		case c == '+' || c == ' ' || c == '#':
		case c == 'h' || c == 'l' || c == 'j' || c == 'z' || c == 't':
			d.Modifier += string(c)
		default:
			d.Verb = c
			if !isVerb(c) {
				return d, 0, fmt.Errorf("%w: unknown conversion %%%c at offset %d", ErrFormat, c, start)
			}
			if c == 'c' && d.Modifier != "" {
				return d, 0, fmt.Errorf("%w: %%%sc at offset %d", ErrFormat, d.Modifier, start)
			}
			if !validModifier(d.Modifier) {
				return d, 0, fmt.Errorf("%w: length modifier %q at offset %d", ErrFormat, d.Modifier, start)
			}
			return d, i, nil
		}
	}
	return d, 0, fmt.Errorf("%w: unterminated conversion at offset %d", ErrFormat, start)
}

func isVerb(c byte) bool {
	switch c {
	case 'd', 'i', 'u', 'o', 'x', 'X', 'c', 'f', 'F', 'e', 'E', 'g', 'G', 'a', 'A', 'p':
		return true
	}
	return false
}

func validModifier(m string) bool {
	switch m {
	case "", "h", "hh", "l", "ll", "j", "z", "t":
		return true
	}
	return false
}
