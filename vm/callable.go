package vm

import (
	"fmt"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Calling conventions
// ---------------------------------------------------------------------------

// Callable is a value that can be called.
type Callable interface {
	Value
	// Name is the display name used in call stacks.
	Name() string
	// Location is the declaration position; the zero Location for builtins.
	Location() Location
}

// CallImpler is the convenience calling convention: a positional tuple and
// keyword pairs in call-site order.
type CallImpler interface {
	Callable
	CallImpl(th *Thread, args Tuple, kwargs []Tuple) (Value, error)
}

// Fastcaller is the fast calling convention: flat positional values and
// alternating name/value pairs, both owned by the callee. Implementations
// must reject repeated keyword names.
type Fastcaller interface {
	Callable
	Fastcall(th *Thread, pos, named *Args) (Value, error)
}

// LinkedCall is a call specialized to one call-site signature. The buffer
// holds the positional values followed by one value per signature name.
type LinkedCall interface {
	CallLinked(th *Thread, args *Args) (Value, error)
}

// Linker is implemented by callables that can specialize themselves to a
// call-site signature.
type Linker interface {
	Callable
	Link(sig *CallSig) (LinkedCall, error)
}

// Call invokes fn with a positional tuple and keyword pairs. It is the
// entry point for hosts; args and kwargs are not retained.
func Call(th *Thread, fn Value, args Tuple, kwargs []Tuple) (Value, error) {
	c, ok := fn.(Callable)
	if !ok {
		return nil, fmt.Errorf("invalid call of non-function (%s)", fn.Type().Name)
	}
	pos := append([]Value(nil), args...)
	named := make([]Value, 0, 2*len(kwargs))
	for _, kv := range kwargs {
		named = append(named, kv[0], kv[1])
	}
	return th.Fastcall(c, MoveArgs(pos...), MoveArgs(named...))
}

// fastcall dispatches to the callee's fast convention, or to the default
// that reduces it to the convenience convention.
func fastcall(th *Thread, c Callable, pos, named *Args) (Value, error) {
	if f, ok := c.(Fastcaller); ok {
		return f.Fastcall(th, pos, named)
	}
	return defaultFastcall(th, c, pos, named)
}

func defaultFastcall(th *Thread, c Callable, pos, named *Args) (Value, error) {
	args := Tuple(pos.Take())
	kwargs, err := splitNamed(c.Name(), named.Take())
	if err != nil {
		return nil, err
	}
	impl, ok := c.(CallImpler)
	if !ok {
		return nil, fmt.Errorf("%s: not implemented", c.Name())
	}
	return impl.CallImpl(th, args, kwargs)
}

// link specializes c to sig, falling back to an adapter over fastcall.
func link(c Callable, sig *CallSig) (LinkedCall, error) {
	if l, ok := c.(Linker); ok {
		return l.Link(sig)
	}
	return &fastcallLink{c: c, sig: sig}, nil
}

type fastcallLink struct {
	c   Callable
	sig *CallSig
}

func (l *fastcallLink) CallLinked(th *Thread, args *Args) (Value, error) {
	vals := args.Take()
	np := l.sig.NumPositional
	named := make([]Value, 0, 2*len(l.sig.Names))
	for j, name := range l.sig.Names {
		named = append(named, String(name), vals[np+j])
	}
	return fastcall(th, l.c, MoveArgs(vals[:np]...), MoveArgs(named...))
}

// ---------------------------------------------------------------------------
// Call-site link cache
// ---------------------------------------------------------------------------

// callSite caches the linked call of one CALL instruction, keyed by callee
// identity. Functions are shared between threads, so the entry is swapped
// atomically.
type callSite struct {
	entry  atomic.Pointer[linkEntry]
	links  atomic.Uint64
	reuses atomic.Uint64
}

type linkEntry struct {
	callee Callable
	linked LinkedCall
}

// cacheable reports whether callee identity is stable and comparable.
// Bound methods are created afresh by every attribute lookup.
func cacheable(c Callable) bool {
	switch c := c.(type) {
	case *Closure:
		return true
	case *Builtin:
		return c.recv == nil
	}
	return false
}

func (s *callSite) lookup(c Callable, sig *CallSig) (LinkedCall, error) {
	ok := cacheable(c)
	if ok {
		if e := s.entry.Load(); e != nil && e.callee == c {
			s.reuses.Add(1)
			return e.linked, nil
		}
	}
	lc, err := link(c, sig)
	if err != nil {
		return nil, err
	}
	s.links.Add(1)
	if ok {
		s.entry.Store(&linkEntry{callee: c, linked: lc})
	}
	return lc, nil
}
