package fuzztests

import (
	"bytes"
	"testing"

	"vlbdb/internal/bitcode"
	"vlbdb/internal/ir"
	"vlbdb/internal/irtext"
	"vlbdb/internal/testkit"
)

func FuzzIRTextParse(f *testing.F) {
	addModuleSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		m, err := irtext.Parse("fuzz", clampSeed(input))
		if err != nil {
			return
		}
		if ir.Validate(m) != nil {
			return
		}
		if err := testkit.CheckModuleInvariants(m); err != nil {
			t.Fatal(err)
		}
	})
}

func FuzzBitcodeDecode(f *testing.F) {
	addModuleSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		// text seeds become bitcode seeds when they parse
		if m, err := irtext.Parse("fuzz", clampSeed(input)); err == nil {
			var buf bytes.Buffer
			if err := bitcode.Encode(&buf, m); err != nil {
				t.Fatalf("encode parsed module: %v", err)
			}
			input = buf.Bytes()
		}
		m, err := bitcode.Decode(bytes.NewReader(input))
		if err != nil {
			return
		}
		// decoded modules may be structurally invalid; printing must not panic
		_ = ir.ModuleString(m)
	})
}
