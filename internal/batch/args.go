package batch

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"vlbdb/internal/vlbdb"
)

// ResolveArgs expands symbolic argument values against u before they are
// parsed by bindf.ParseArgs. "@name" becomes the address of a module
// function and "str:text" copies text into the unit's address space and
// becomes its address.
func ResolveArgs(u *vlbdb.Unit, raw []string) ([]string, error) {
	out := make([]string, len(raw))
	for i, s := range raw {
		switch {
		case strings.HasPrefix(s, "@"):
			addr, ok := u.Engine().Symbols()[s[1:]]
			if !ok {
				return nil, fmt.Errorf("argument %d: undefined symbol %s", i+1, s)
			}
			out[i] = "0x" + strconv.FormatUint(addr, 16)
		case strings.HasPrefix(s, "str:"):
			text := s[len("str:"):]
			addr, err := u.Space().AllocBytes([]byte(text), fmt.Sprintf("arg%d", i+1))
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			out[i] = "0x" + strconv.FormatUint(addr, 16)
		default:
			out[i] = s
		}
	}
	return out, nil
}

// ParseCallArgs converts residual call arguments into raw 64-bit words.
// Integers may be signed or unsigned with the usual base prefixes; anything
// else that parses as a float is passed as its IEEE-754 bits.
func ParseCallArgs(raw []string) ([]uint64, error) {
	out := make([]uint64, len(raw))
	for i, s := range raw {
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			out[i] = uint64(v) //nolint:gosec // G115: two's complement reinterpretation
			continue
		}
		if v, err := strconv.ParseUint(s, 0, 64); err == nil {
			out[i] = v
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("call argument %d: invalid number %q", i+1, s)
		}
		out[i] = math.Float64bits(f)
	}
	return out, nil
}
