package vlbdb

import (
	"bytes"
	"fmt"
	"hash/maphash"

	"fortio.org/safecast"

	"vlbdb/internal/ir"
	"vlbdb/internal/mem"
	"vlbdb/internal/trace"
)

// Blob is an interned constant byte range. Its bytes live in a constant
// module global so that loads through it fold.
type Blob struct {
	global *ir.Global
}

// Name returns the name of the backing global.
func (b *Blob) Name() string { return b.global.Name }

// Size returns the length of the blob.
func (b *Blob) Size() int { return len(b.global.Data) }

// Bytes returns a copy of the blob contents.
func (b *Blob) Bytes() []byte { return bytes.Clone(b.global.Data) }

// Global returns the backing global.
func (b *Blob) Global() *ir.Global { return b.global }

// frozenRange records an address declared immutable and the contents it had
// when frozen.
type frozenRange struct {
	start mem.Addr
	blob  *Blob
}

func frozenLess(a, b frozenRange) bool { return a.start < b.start }

// readRange copies [addr, addr+size) from the unit's address space. Empty
// ranges never touch memory.
func (u *Unit) readRange(addr mem.Addr, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	n, err := safecast.Conv[int](size)
	if err != nil {
		return nil, fmt.Errorf("vlbdb: range of %d bytes: %w", size, err)
	}
	return u.space.Read(addr, n)
}

// internBytes returns the blob holding data, creating it if no identical
// contents were interned before.
func (u *Unit) internBytes(data []byte) (*Blob, bool, error) {
	h := maphash.Bytes(u.seed, data)
	for _, b := range u.blobs[h] {
		if bytes.Equal(b.global.Data, data) {
			return b, false, nil
		}
	}
	g, err := u.mod.NewGlobal(u.mod.UniqueName("constant"), bytes.Clone(data), true)
	if err != nil {
		return nil, false, err
	}
	g.Linkage = ir.LinkInternal
	b := &Blob{global: g}
	u.blobs[h] = append(u.blobs[h], b)
	u.stats.InternedBlobs++
	u.stats.InternedBytes += len(data)
	u.point(trace.ScopeInstr, "intern", fmt.Sprintf("%s %d bytes", g.Name, len(data)))
	return b, true, nil
}

// InternBlob interns the contents of [addr, addr+size) and reports whether a
// new blob was created.
func (u *Unit) InternBlob(addr mem.Addr, size uint64) (*Blob, bool, error) {
	if err := u.check(); err != nil {
		return nil, false, err
	}
	data, err := u.readRange(addr, size)
	if err != nil {
		return nil, false, err
	}
	return u.internBytes(data)
}

// Intern interns the contents of [addr, addr+size). Identical contents share
// one blob regardless of where they were read from. It reports whether a new
// blob was created.
func (u *Unit) Intern(addr mem.Addr, size uint64) (bool, error) {
	_, created, err := u.InternBlob(addr, size)
	return created, err
}

// Freeze declares [addr, addr+size) immutable for the unit's lifetime so that
// loads from it fold to its current contents. Freezing an address that is
// already frozen returns false and changes nothing.
func (u *Unit) Freeze(addr mem.Addr, size uint64) (bool, error) {
	if err := u.check(); err != nil {
		return false, err
	}
	if _, ok := u.frozen.Get(frozenRange{start: addr}); ok {
		return false, nil
	}
	data, err := u.readRange(addr, size)
	if err != nil {
		return false, err
	}
	blob, _, err := u.internBytes(data)
	if err != nil {
		return false, err
	}
	u.frozen.ReplaceOrInsert(frozenRange{start: addr, blob: blob})
	u.stats.FrozenRanges++
	return true, nil
}

// frozenAt returns the bytes frozen at [addr, addr+n), if a single frozen
// range covers them.
func (u *Unit) frozenAt(addr mem.Addr, n int) ([]byte, bool) {
	var found frozenRange
	ok := false
	u.frozen.DescendLessOrEqual(frozenRange{start: addr}, func(r frozenRange) bool {
		found, ok = r, true
		return false
	})
	if !ok {
		return nil, false
	}
	data := found.blob.global.Data
	off := addr - found.start
	size, err := safecast.Conv[uint64](n)
	if err != nil || off > uint64(len(data)) || size > uint64(len(data))-off {
		return nil, false
	}
	return data[off : off+size], true
}
