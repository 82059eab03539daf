// Package testkit holds checks shared by tests and fuzz harnesses.
package testkit

import (
	"bytes"
	"fmt"

	"vlbdb/internal/bitcode"
	"vlbdb/internal/ir"
	"vlbdb/internal/irtext"
)

// CheckModuleInvariants verifies that a valid module survives both
// serializations unchanged:
//  1. printing, parsing and printing again yields the same text
//  2. encoding to bitcode and decoding prints the same text
func CheckModuleInvariants(m *ir.Module) error {
	if m == nil {
		return fmt.Errorf("nil module")
	}
	if err := ir.Validate(m); err != nil {
		return fmt.Errorf("invalid module: %w", err)
	}
	want := ir.ModuleString(m)

	reparsed, err := irtext.Parse(m.Name, []byte(want))
	if err != nil {
		return fmt.Errorf("printed module does not parse: %w", err)
	}
	if got := ir.ModuleString(reparsed); got != want {
		return fmt.Errorf("text round trip changed the module:\n--- printed\n%s\n--- reprinted\n%s", want, got)
	}

	var buf bytes.Buffer
	if err := bitcode.Encode(&buf, m); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	decoded, err := bitcode.Decode(&buf)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if got := ir.ModuleString(decoded); got != want {
		return fmt.Errorf("bitcode round trip changed the module:\n--- printed\n%s\n--- decoded\n%s", want, got)
	}
	return nil
}
