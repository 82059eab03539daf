package bindf

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ParseArgs converts textual values, one per argument format consumes, into
// the Go values Bindf expects. Integers accept the 0x, 0o and 0b prefixes; a
// %c value may also be a single character.
func ParseArgs(format string, raw []string) ([]any, error) {
	dirs, err := Parse(format)
	if err != nil {
		return nil, err
	}
	var out []any
	next := func(d Directive) (string, error) {
		if len(out) >= len(raw) {
			return "", fmt.Errorf("%w: missing argument for %%%c at offset %d", ErrArgs, d.Verb, d.Offset)
		}
		return raw[len(out)], nil
	}
	for _, d := range dirs {
		if d.StarWidth {
			s, err := next(d)
			if err != nil {
				return nil, err
			}
			w, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, argError(d, "width", err)
			}
			out = append(out, w)
		}
		if d.StarPrecision {
			s, err := next(d)
			if err != nil {
				return nil, err
			}
			prec, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, argError(d, "precision", err)
			}
			out = append(out, prec)
		}
		s, err := next(d)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(d, s)
		if err != nil {
			return nil, argError(d, "value", err)
		}
		out = append(out, v)
	}
	if len(out) < len(raw) {
		return nil, fmt.Errorf("%w: %d extra arguments", ErrArgs, len(raw)-len(out))
	}
	return out, nil
}

func parseValue(d Directive, s string) (any, error) {
	switch d.Class() {
	case ClassInt:
		return strconv.ParseInt(s, 0, 64)
	case ClassUint:
		if d.Verb == 'c' && utf8.RuneCountInString(s) == 1 {
			r, _ := utf8.DecodeRuneInString(s)
			return uint64(r), nil
		}
		return strconv.ParseUint(s, 0, 64)
	case ClassFloat:
		return strconv.ParseFloat(s, 64)
	}
	return strconv.ParseUint(s, 0, 64)
}
