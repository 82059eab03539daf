// Package symtab resolves between native code addresses and symbol names.
package symtab

import (
	"sort"
	"sync"
)

// Resolver is the dynamic symbol table capability.
type Resolver interface {
	// Lookup returns the address of a named symbol.
	Lookup(name string) (uint64, bool)
	// Name returns the symbol defined at addr.
	Name(addr uint64) (string, bool)
}

// Table is an in-memory Resolver. The zero value is empty and ready to use.
type Table struct {
	mu     sync.RWMutex
	byName map[string]uint64
	byAddr map[uint64]string
}

// NewTable builds a table from a name to address map.
func NewTable(syms map[string]uint64) *Table {
	t := &Table{}
	for name, addr := range syms {
		t.Add(name, addr)
	}
	return t
}

// Add defines name at addr, replacing any previous definition of either.
func (t *Table) Add(name string, addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byName == nil {
		t.byName = make(map[string]uint64)
		t.byAddr = make(map[uint64]string)
	}
	if old, ok := t.byName[name]; ok {
		delete(t.byAddr, old)
	}
	t.byName[name] = addr
	t.byAddr[addr] = name
}

func (t *Table) Lookup(name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.byName[name]
	return addr, ok
}

func (t *Table) Name(addr uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byAddr[addr]
	return name, ok
}

// Names lists the defined symbols in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byName))
	for n := range t.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Empty resolves nothing.
type Empty struct{}

func (Empty) Lookup(string) (uint64, bool) { return 0, false }
func (Empty) Name(uint64) (string, bool)   { return "", false }
