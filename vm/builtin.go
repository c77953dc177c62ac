package vm

import (
	"fmt"
	"strings"
)

// BuiltinFunc implements a builtin function.
type BuiltinFunc func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error)

// Builtin is a function implemented in Go. A builtin produced by attribute
// lookup carries its receiver and the method it was selected from.
type Builtin struct {
	name   string
	fn     BuiltinFunc
	recv   Value
	method *Method
}

// NewBuiltin returns a builtin called name.
func NewBuiltin(name string, fn BuiltinFunc) *Builtin {
	return &Builtin{name: name, fn: fn}
}

func bindMethod(recv Value, m *Method) *Builtin {
	return &Builtin{name: m.Name, recv: recv, method: m}
}

func (b *Builtin) Name() string       { return b.name }
func (b *Builtin) Location() Location { return Location{} }
func (b *Builtin) Type() *Type        { return builtinType }
func (b *Builtin) Truth() bool        { return true }
func (b *Builtin) value()             {}

// Receiver returns the bound receiver, or nil.
func (b *Builtin) Receiver() Value { return b.recv }

func (b *Builtin) String() string {
	if b.recv != nil {
		return fmt.Sprintf("<built-in method %s of %s value>", b.name, b.recv.Type().Name)
	}
	return "<built-in function " + b.name + ">"
}

// CallImpl implements the convenience calling convention.
func (b *Builtin) CallImpl(th *Thread, args Tuple, kwargs []Tuple) (Value, error) {
	if b.method != nil {
		return b.method.Call(th, b.recv, args, kwargs)
	}
	return b.fn(th, b, args, kwargs)
}

// ---------------------------------------------------------------------------
// Argument unpacking for builtins
// ---------------------------------------------------------------------------

// UnpackArgs assigns args and kwargs to the variables of alternating
// (name, pointer) pairs. A name ending in "?" is optional. Supported
// pointers are *Value, *string, *int, *bool, *Tuple, *Callable.
func UnpackArgs(fnName string, args Tuple, kwargs []Tuple, pairs ...any) error {
	nparams := len(pairs) / 2
	if len(args) > nparams {
		return fmt.Errorf("%s: got %d arguments, want at most %d", fnName, len(args), nparams)
	}
	names := make([]string, nparams)
	optional := make([]bool, nparams)
	for i := range names {
		name := pairs[2*i].(string)
		names[i] = strings.TrimSuffix(name, "?")
		optional[i] = names[i] != name
	}

	set := make([]bool, nparams)
	assign := func(i int, v Value) error {
		if set[i] {
			return errMultipleValues(fnName, names[i])
		}
		set[i] = true
		if err := unpackOne(pairs[2*i+1], v); err != nil {
			return fmt.Errorf("%s: for parameter %s: %w", fnName, names[i], err)
		}
		return nil
	}
	for i, v := range args {
		if err := assign(i, v); err != nil {
			return err
		}
	}
kwloop:
	for _, kv := range kwargs {
		name := string(kv[0].(String))
		for i, n := range names {
			if n == name {
				if err := assign(i, kv[1]); err != nil {
					return err
				}
				continue kwloop
			}
		}
		return fmt.Errorf("%s: unexpected keyword argument '%s'%s", fnName, name, didYouMean(name, names, ""))
	}
	for i, ok := range set {
		if !ok && !optional[i] {
			return fmt.Errorf("%s: missing argument for %s", fnName, names[i])
		}
	}
	return nil
}

func unpackOne(ptr any, v Value) error {
	switch p := ptr.(type) {
	case *Value:
		*p = v
	case *string:
		s, ok := v.(String)
		if !ok {
			return fmt.Errorf("got %s, want string", v.Type().Name)
		}
		*p = string(s)
	case *int:
		i, ok := v.(Int)
		if !ok {
			return fmt.Errorf("got %s, want int", v.Type().Name)
		}
		*p = int(i)
	case *bool:
		b, ok := v.(Bool)
		if !ok {
			return fmt.Errorf("got %s, want bool", v.Type().Name)
		}
		*p = bool(b)
	case *Tuple:
		t, ok := v.(Tuple)
		if !ok {
			return fmt.Errorf("got %s, want tuple", v.Type().Name)
		}
		*p = t
	case *Callable:
		c, ok := v.(Callable)
		if !ok {
			return fmt.Errorf("got %s, want callable", v.Type().Name)
		}
		*p = c
	default:
		invariant("UnpackArgs: unsupported pointer type %T", ptr)
	}
	return nil
}
