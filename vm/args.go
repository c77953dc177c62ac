package vm

import "fmt"

// Args is an argument buffer whose ownership moves from caller to callee.
// MoveArgs hands the slice over; the callee reads it or takes it, and any
// use after Take panics. A nil *Args is an empty buffer.
type Args struct {
	vals  []Value
	moved bool
}

// MoveArgs wraps vals. The caller must not touch vals afterwards.
func MoveArgs(vals ...Value) *Args {
	return &Args{vals: vals}
}

func (a *Args) live() {
	if a.moved {
		invariant("use of argument buffer after it was taken")
	}
}

// Len returns the number of values in the buffer.
func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	a.live()
	return len(a.vals)
}

// At returns value i.
func (a *Args) At(i int) Value {
	a.live()
	return a.vals[i]
}

// Take transfers the values to the caller and invalidates the buffer.
func (a *Args) Take() []Value {
	if a == nil {
		return nil
	}
	a.live()
	vals := a.vals
	a.vals, a.moved = nil, true
	return vals
}

// splitNamed converts an alternating name/value buffer into keyword pairs,
// rejecting repeated names.
func splitNamed(fnName string, named []Value) ([]Tuple, error) {
	if len(named)%2 != 0 {
		invariant("%s: odd-length keyword buffer", fnName)
	}
	if len(named) == 0 {
		return nil, nil
	}
	kwargs := make([]Tuple, 0, len(named)/2)
	for i := 0; i < len(named); i += 2 {
		name, ok := named[i].(String)
		if !ok {
			invariant("%s: keyword name is %s, not string", fnName, named[i].Type().Name)
		}
		for _, kv := range kwargs {
			if kv[0].(String) == name {
				return nil, errMultipleValues(fnName, string(name))
			}
		}
		kwargs = append(kwargs, Tuple{name, named[i+1]})
	}
	return kwargs, nil
}

func errMultipleValues(fnName, param string) error {
	return fmt.Errorf("%s: got multiple values for parameter '%s'", fnName, param)
}
