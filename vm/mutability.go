package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Mutability is the domain that owns the mutable values created on one
// thread. It starts open and may be frozen once; frozen values can be shared
// read-only with other threads.
type Mutability struct {
	id     uuid.UUID
	frozen atomic.Bool
}

// NewMutability returns an open domain.
func NewMutability() *Mutability {
	return &Mutability{id: uuid.New()}
}

// ID identifies the domain in diagnostics.
func (m *Mutability) ID() uuid.UUID { return m.id }

// Freeze makes every value in the domain immutable. It cannot be undone.
func (m *Mutability) Freeze() { m.frozen.Store(true) }

// Frozen reports whether the domain has been frozen.
func (m *Mutability) Frozen() bool {
	return m != nil && m.frozen.Load()
}

func (m *Mutability) String() string {
	state := "open"
	if m.Frozen() {
		state = "frozen"
	}
	return fmt.Sprintf("mutability %s (%s)", m.id, state)
}

// checkMutable is shared by the mutable collections. itercount is the number
// of live iterators over the value.
func checkMutable(m *Mutability, itercount int, verb, what string) error {
	if m.Frozen() {
		return fmt.Errorf("cannot %s frozen %s", verb, what)
	}
	if itercount > 0 {
		return fmt.Errorf("cannot %s %s during iteration", verb, what)
	}
	return nil
}
