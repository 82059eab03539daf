package ir

import (
	"errors"
	"fmt"
)

// Global is a named byte array in the module's data segment.
type Global struct {
	ID       int
	Name     string
	Data     []byte
	Constant bool
	Linkage  Linkage
}

// Module owns functions and globals.
type Module struct {
	Name    string
	Funcs   []*Func
	Globals []*Global

	funcByName   map[string]*Func
	globalByName map[string]*Global
	nextFunc     int
	nextGlobal   int
	nameSeq      map[string]int
}

// ErrDuplicateSymbol is returned when a name is defined twice.
var ErrDuplicateSymbol = errors.New("duplicate symbol")

func NewModule(name string) *Module {
	return &Module{
		Name:         name,
		funcByName:   make(map[string]*Func),
		globalByName: make(map[string]*Global),
		nameSeq:      make(map[string]int),
	}
}

// AddFunc inserts f into the module.
func (m *Module) AddFunc(f *Func) error {
	if m.taken(f.Name) {
		return fmt.Errorf("function @%s: %w", f.Name, ErrDuplicateSymbol)
	}
	m.nextFunc++
	f.ID = m.nextFunc
	f.Module = m
	m.Funcs = append(m.Funcs, f)
	m.funcByName[f.Name] = f
	return nil
}

// AddGlobal inserts g into the module.
func (m *Module) AddGlobal(g *Global) error {
	if m.taken(g.Name) {
		return fmt.Errorf("global @%s: %w", g.Name, ErrDuplicateSymbol)
	}
	m.nextGlobal++
	g.ID = m.nextGlobal
	m.Globals = append(m.Globals, g)
	m.globalByName[g.Name] = g
	return nil
}

// Func returns the function with the given name or nil.
func (m *Module) Func(name string) *Func { return m.funcByName[name] }

// Global returns the global with the given name or nil.
func (m *Module) Global(name string) *Global { return m.globalByName[name] }

// UniqueName returns prefix, or prefix.N for the first free N.
func (m *Module) UniqueName(prefix string) string {
	if !m.taken(prefix) {
		return prefix
	}
	for {
		m.nameSeq[prefix]++
		name := fmt.Sprintf("%s.%d", prefix, m.nameSeq[prefix])
		if !m.taken(name) {
			return name
		}
	}
}

func (m *Module) taken(name string) bool {
	_, f := m.funcByName[name]
	_, g := m.globalByName[name]
	return f || g
}

// Declare adds a body-less function.
func (m *Module) Declare(name string, sig Signature) (*Func, error) {
	f := NewFunc(name, sig)
	if err := m.AddFunc(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Define adds a function with an empty entry block.
func (m *Module) Define(name string, sig Signature, labels ...string) (*Func, error) {
	f := NewFunc(name, sig, labels...)
	if err := m.AddFunc(f); err != nil {
		return nil, err
	}
	f.AddBlock("entry")
	return f, nil
}

// NewGlobal adds a global initialized with a copy of data.
func (m *Module) NewGlobal(name string, data []byte, constant bool) (*Global, error) {
	g := &Global{Name: name, Data: append([]byte(nil), data...), Constant: constant}
	if err := m.AddGlobal(g); err != nil {
		return nil, err
	}
	return g, nil
}
