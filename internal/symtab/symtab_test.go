package symtab_test

import (
	"slices"
	"testing"

	"vlbdb/internal/symtab"
)

func TestTable(t *testing.T) {
	tab := symtab.NewTable(map[string]uint64{"add": 0x10, "apply": 0x20})
	if a, ok := tab.Lookup("add"); !ok || a != 0x10 {
		t.Fatalf("Lookup(add) = %#x, %v", a, ok)
	}
	if n, ok := tab.Name(0x20); !ok || n != "apply" {
		t.Fatalf("Name(0x20) = %q, %v", n, ok)
	}
	tab.Add("add", 0x30)
	if _, ok := tab.Name(0x10); ok {
		t.Fatalf("stale address still resolves")
	}
	if got := tab.Names(); !slices.Equal(got, []string{"add", "apply"}) {
		t.Fatalf("Names = %v", got)
	}

	var empty symtab.Table
	if _, ok := empty.Lookup("x"); ok {
		t.Fatalf("zero table resolved a name")
	}
}

func TestDemangle(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"_Z3addll", "add(long, long)", true},
		{"_Z5applyPFllEl", "_Z5applyPFllEl", false},
		{"_ZN2ns6Parser5parseEPKc", "ns::Parser::parse(char const*)", true},
		{"_Z4mainv", "main()", true},
		{"_Z6printfPKcz", "printf(char const*, ...)", true},
		{"plain_c", "plain_c", false},
		{"_Z99short", "_Z99short", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := symtab.Demangle(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("Demangle(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
