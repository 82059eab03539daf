package mem_test

import (
	"errors"
	"testing"

	"vlbdb/internal/mem"
)

func faultKind(t *testing.T, err error) mem.FaultKind {
	t.Helper()
	var f *mem.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *mem.Fault, got %v", err)
	}
	return f.Kind
}

func TestAllocReadWrite(t *testing.T) {
	s := mem.New()
	a, err := s.AllocBytes([]byte("hello"), "greeting")
	if err != nil {
		t.Fatal(err)
	}
	if a%mem.PageSize != 0 {
		t.Fatalf("address %#x not page aligned", a)
	}
	got, err := s.Read(a+1, 3)
	if err != nil || string(got) != "ell" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if err := s.Write(a, []byte("J")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Read(a, 5)
	if string(got) != "Jello" {
		t.Fatalf("after write: %q", got)
	}
	if name, ok := s.RegionName(a + 2); !ok || name != "greeting" {
		t.Fatalf("RegionName = %q, %v", name, ok)
	}
}

func TestLoadStoreUint(t *testing.T) {
	s := mem.New()
	a, _ := s.Alloc(16, "buf")
	if err := s.StoreUint(a+8, 4, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	v, err := s.LoadUint(a+8, 4)
	if err != nil || v != 0xdeadbeef {
		t.Fatalf("LoadUint = %#x, %v", v, err)
	}
	b, _ := s.LoadUint(a+8, 1)
	if b != 0xef {
		t.Fatalf("little endian low byte = %#x", b)
	}
}

func TestFaults(t *testing.T) {
	s := mem.New()
	a, _ := s.Alloc(8, "buf")
	ro, _ := s.AllocBytes([]byte{1, 2}, "ro")
	if err := s.Protect(ro); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want mem.FaultKind
	}{
		{"past end", func() error { _, err := s.Read(a+4, 8); return err }(), mem.FaultOutOfBounds},
		{"unmapped", func() error { _, err := s.Read(a+mem.PageSize/2, 1); return err }(), mem.FaultUnmapped},
		{"below data", func() error { _, err := s.LoadUint(16, 8); return err }(), mem.FaultUnmapped},
		{"read only", s.Write(ro, []byte{9}), mem.FaultReadOnly},
		{"bad size", func() error { _, err := s.LoadUint(a, 9); return err }(), mem.FaultBadSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := faultKind(t, tt.err); got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}

	if err := s.Free(a); err != nil {
		t.Fatal(err)
	}
	if got := faultKind(t, s.Free(a)); got != mem.FaultDoubleFree {
		t.Fatalf("second free kind = %s", got)
	}
	if s.Mapped(a, 1) {
		t.Fatalf("freed region still mapped")
	}
}

func TestZeroSizeAllocationsAreDistinct(t *testing.T) {
	s := mem.New()
	a, _ := s.Alloc(0, "a")
	b, _ := s.Alloc(0, "b")
	if a == b {
		t.Fatalf("zero-size allocations share address %#x", a)
	}
	if got, err := s.Read(a, 0); err != nil || len(got) != 0 {
		t.Fatalf("empty read = %v, %v", got, err)
	}
	if _, err := s.Read(a, 1); err == nil {
		t.Fatalf("read past empty region succeeded")
	}
}

func TestCodeAddressesDoNotAliasData(t *testing.T) {
	s := mem.New()
	c1 := s.ReserveCode()
	c2 := s.ReserveCode()
	d, _ := s.Alloc(32, "d")
	if c1 == c2 || !mem.IsCode(c1) || mem.IsCode(d) {
		t.Fatalf("code %#x %#x data %#x", c1, c2, d)
	}
	if s.Mapped(c1, 1) {
		t.Fatalf("code address readable as data")
	}
	if n, used := s.Stats(); n != 1 || used != 32 {
		t.Fatalf("Stats = %d, %d", n, used)
	}
}
