// Package mem models the host address space that compiled code and the
// engine read from. Data regions live in a single ordered map so that any
// address resolves to its enclosing region with a nearest-below lookup.
package mem

import (
	"encoding/binary"
	"fmt"
	"sync"

	"fortio.org/safecast"
	"github.com/google/btree"
)

// Addr is a host address.
type Addr = uint64

const (
	// PageSize is the allocation granularity of data regions.
	PageSize = 4096
	// DataBase is the first data address handed out.
	DataBase Addr = 0x1000_0000
	// CodeBase is the first code address. Code and data never overlap.
	CodeBase Addr = 0x7f00_0000_0000
	// CodeStride separates consecutive code addresses.
	CodeStride = 16
)

// FaultKind classifies invalid memory accesses.
type FaultKind uint8

const (
	FaultUnmapped FaultKind = iota
	FaultOutOfBounds
	FaultReadOnly
	FaultDoubleFree
	FaultBadSize
)

func (k FaultKind) String() string {
	switch k {
	case FaultUnmapped:
		return "unmapped address"
	case FaultOutOfBounds:
		return "out of bounds"
	case FaultReadOnly:
		return "write to read-only memory"
	case FaultDoubleFree:
		return "double free"
	case FaultBadSize:
		return "bad size"
	default:
		return fmt.Sprintf("FaultKind(%d)", k)
	}
}

// Fault is the error returned by invalid accesses.
type Fault struct {
	Kind FaultKind
	Addr Addr
	Size int
	Op   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s of %d bytes at %#x: %s", f.Op, f.Size, f.Addr, f.Kind)
}

type region struct {
	start    Addr
	data     []byte
	name     string
	readOnly bool
}

func (r *region) end() Addr { return r.start + Addr(len(r.data)) }

// Space is a simulated address space. It is safe for concurrent use.
type Space struct {
	mu       sync.RWMutex
	regions  *btree.BTreeG[*region]
	nextData Addr
	nextCode Addr
	used     int
}

func New() *Space {
	return &Space{
		regions: btree.NewG[*region](8, func(a, b *region) bool {
			return a.start < b.start
		}),
		nextData: DataBase,
		nextCode: CodeBase,
	}
}

// Alloc reserves size zeroed bytes. Every allocation, including an empty
// one, gets a distinct page-aligned address.
func (s *Space) Alloc(size int, name string) (Addr, error) {
	if size < 0 {
		return 0, &Fault{Kind: FaultBadSize, Size: size, Op: "alloc"}
	}
	span, err := safecast.Conv[uint64](size)
	if err != nil {
		return 0, fmt.Errorf("alloc %d bytes: %w", size, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.nextData
	pages := span/PageSize + 1
	s.nextData += pages * PageSize
	s.regions.ReplaceOrInsert(&region{start: addr, data: make([]byte, size), name: name})
	s.used += size
	return addr, nil
}

// AllocBytes allocates a copy of data.
func (s *Space) AllocBytes(data []byte, name string) (Addr, error) {
	addr, err := s.Alloc(len(data), name)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _ := s.lookup(addr)
	copy(r.data, data)
	return addr, nil
}

// Protect marks the region starting at addr read-only.
func (s *Space) Protect(addr Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lookup(addr)
	if !ok || r.start != addr {
		return &Fault{Kind: FaultUnmapped, Addr: addr, Op: "protect"}
	}
	r.readOnly = true
	return nil
}

// Free releases the region starting at addr.
func (s *Space) Free(addr Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lookup(addr)
	if !ok || r.start != addr {
		return &Fault{Kind: FaultDoubleFree, Addr: addr, Op: "free"}
	}
	s.regions.Delete(r)
	s.used -= len(r.data)
	return nil
}

// lookup finds the region with the greatest start <= addr.
func (s *Space) lookup(addr Addr) (*region, bool) {
	var found *region
	s.regions.DescendLessOrEqual(&region{start: addr}, func(r *region) bool {
		found = r
		return false
	})
	return found, found != nil
}

// span resolves [addr, addr+n) to a slice of its region's backing store.
func (s *Space) span(addr Addr, n int, op string) ([]byte, *region, error) {
	if n < 0 {
		return nil, nil, &Fault{Kind: FaultBadSize, Addr: addr, Size: n, Op: op}
	}
	r, ok := s.lookup(addr)
	if !ok || addr > r.end() || (addr == r.end() && n > 0) {
		return nil, nil, &Fault{Kind: FaultUnmapped, Addr: addr, Size: n, Op: op}
	}
	off := addr - r.start
	size, err := safecast.Conv[uint64](n)
	if err != nil || size > uint64(len(r.data))-off {
		return nil, nil, &Fault{Kind: FaultOutOfBounds, Addr: addr, Size: n, Op: op}
	}
	return r.data[off : off+size], r, nil
}

// Read copies n bytes starting at addr.
func (s *Space) Read(addr Addr, n int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _, err := s.span(addr, n, "read")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies data to addr.
func (s *Space) Write(addr Addr, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, r, err := s.span(addr, len(data), "write")
	if err != nil {
		return err
	}
	if r.readOnly {
		return &Fault{Kind: FaultReadOnly, Addr: addr, Size: len(data), Op: "write"}
	}
	copy(b, data)
	return nil
}

// LoadUint reads a little-endian unsigned integer of size bytes (1..8).
func (s *Space) LoadUint(addr Addr, size int) (uint64, error) {
	if size < 1 || size > 8 {
		return 0, &Fault{Kind: FaultBadSize, Addr: addr, Size: size, Op: "load"}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, _, err := s.span(addr, size, "load")
	if err != nil {
		return 0, err
	}
	var raw [8]byte
	copy(raw[:], b)
	return binary.LittleEndian.Uint64(raw[:]), nil
}

// StoreUint writes the low size bytes of v little-endian.
func (s *Space) StoreUint(addr Addr, size int, v uint64) error {
	if size < 1 || size > 8 {
		return &Fault{Kind: FaultBadSize, Addr: addr, Size: size, Op: "store"}
	}
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], v)
	return s.Write(addr, raw[:size])
}

// Mapped reports whether [addr, addr+n) is readable.
func (s *Space) Mapped(addr Addr, n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, _, err := s.span(addr, n, "probe")
	return err == nil
}

// RegionName returns the allocation name of the region containing addr.
func (s *Space) RegionName(addr Addr) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lookup(addr)
	if !ok || addr > r.end() {
		return "", false
	}
	return r.name, true
}

// ReserveCode hands out a fresh code address.
func (s *Space) ReserveCode() Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := s.nextCode
	s.nextCode += CodeStride
	return addr
}

// IsCode reports whether addr lies in the code range.
func IsCode(addr Addr) bool { return addr >= CodeBase }

// Stats reports the number of live regions and their total size.
func (s *Space) Stats() (regions, bytes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions.Len(), s.used
}
