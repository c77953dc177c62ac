package vm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Module is the global namespace of a script. GLOBAL registers index its
// globals; unset globals fall back to the predeclared environment and then
// to the universe.
//
// Globals may be read and written from several threads until the module is
// frozen. At most one thread executes the module body at a time.
type Module struct {
	Name        string
	names       []string
	index       map[string]int
	predeclared map[string]Value

	mu      sync.RWMutex
	globals []Value
	frozen  atomic.Bool
	owner   atomic.Pointer[Thread] // thread running the module body
}

// NewModule creates a module with the given global names. predeclared may
// be nil.
func NewModule(name string, globals []string, predeclared map[string]Value) *Module {
	m := &Module{
		Name:        name,
		names:       globals,
		index:       make(map[string]int, len(globals)),
		globals:     make([]Value, len(globals)),
		predeclared: predeclared,
	}
	for i, g := range globals {
		m.index[g] = i
	}
	return m
}

// Names returns the global names in register order.
func (m *Module) Names() []string { return m.names }

// Get returns the value of global name if it has been assigned.
func (m *Module) Get(name string) (Value, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	m.mu.RLock()
	v := m.globals[i]
	m.mu.RUnlock()
	return v, v != nil
}

// Set assigns global name.
func (m *Module) Set(name string, v Value) error {
	i, ok := m.index[name]
	if !ok {
		return fmt.Errorf("module %s has no global %s", m.Name, name)
	}
	return m.setGlobal(i, v)
}

// Freeze forbids further assignments to globals.
func (m *Module) Freeze() {
	m.mu.Lock()
	m.frozen.Store(true)
	m.mu.Unlock()
}

// Frozen reports whether the module has been frozen.
func (m *Module) Frozen() bool { return m.frozen.Load() }

// Exports returns the assigned globals whose names do not start with an
// underscore, in register order.
func (m *Module) Exports() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for i, name := range m.names {
		if m.globals[i] != nil && !strings.HasPrefix(name, "_") {
			out = append(out, name)
		}
	}
	return out
}

func (m *Module) getGlobal(i int) (Value, error) {
	var v Value
	if m.frozen.Load() {
		v = m.globals[i]
	} else {
		m.mu.RLock()
		v = m.globals[i]
		m.mu.RUnlock()
	}
	if v != nil {
		return v, nil
	}
	name := m.names[i]
	if v, ok := m.predeclared[name]; ok {
		return v, nil
	}
	if v, ok := Universe[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("global variable %s referenced before assignment", name)
}

func (m *Module) setGlobal(i int, v Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Frozen() {
		return fmt.Errorf("cannot assign global %s of frozen module %s", m.names[i], m.Name)
	}
	m.globals[i] = v
	return nil
}

// claim reserves the module body for th. The returned function gives the
// reservation back; it does nothing when th already held it.
func (m *Module) claim(th *Thread) (func(), error) {
	if m.owner.CompareAndSwap(nil, th) {
		return func() { m.owner.Store(nil) }, nil
	}
	if m.owner.Load() == th {
		return func() {}, nil
	}
	return nil, fmt.Errorf("module %s: %w", m.Name, ErrModuleBusy)
}

// Loader resolves a module name to a loaded module. Implementations wrap
// ErrModuleNotFound when the name is unknown.
type Loader interface {
	Load(th *Thread, module string) (*Module, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(th *Thread, module string) (*Module, error)

// Load calls f.
func (f LoaderFunc) Load(th *Thread, module string) (*Module, error) {
	return f(th, module)
}
