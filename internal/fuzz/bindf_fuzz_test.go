package fuzztests

import (
	"testing"

	"vlbdb/internal/bindf"
)

func FuzzBindfParse(f *testing.F) {
	for _, seed := range []string{"", "%d", "%p %*p", "%-8p%08x%%", "%lld %hhu %zx", "%.3f", "%", "%q", "%lc"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, format string) {
		dirs, err := bindf.Parse(format)
		if err != nil {
			return
		}
		for _, d := range dirs {
			if d.Class() == 0 {
				t.Fatalf("directive %+v has no class", d)
			}
			if d.Offset < 0 || d.Offset >= len(format) || format[d.Offset] != '%' {
				t.Fatalf("directive %+v does not point at a conversion in %q", d, format)
			}
		}
	})
}
