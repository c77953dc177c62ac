package vm

import (
	"fmt"
	"sort"
	"strings"
)

// Universe holds the builtins visible to every module.
var Universe map[string]Value

func init() {
	Universe = map[string]Value{
		"None":    None,
		"True":    True,
		"False":   False,
		"dir":     NewBuiltin("dir", builtinDir),
		"fail":    NewBuiltin("fail", builtinFail),
		"getattr": NewBuiltin("getattr", builtinGetattr),
		"hasattr": NewBuiltin("hasattr", builtinHasattr),
		"len":     NewBuiltin("len", builtinLen),
		"print":   NewBuiltin("print", builtinPrint),
		"range":   NewBuiltin("range", builtinRange),
		"repr":    NewBuiltin("repr", builtinRepr),
		"str":     NewBuiltin("str", builtinStr),
		"struct":  NewBuiltin("struct", builtinStruct),
		"type":    NewBuiltin("type", builtinTypeOf),
	}
}

func builtinDir(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	names := AttrNames(x)
	elems := make([]Value, len(names))
	for i, n := range names {
		elems[i] = String(n)
	}
	return NewList(th.Mutability(), elems), nil
}

func builtinFail(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("fail: unexpected keyword arguments")
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	return nil, fmt.Errorf("fail: %s", strings.Join(parts, " "))
}

func builtinGetattr(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x, dflt Value
	var name string
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x, "name", &name, "default?", &dflt); err != nil {
		return nil, err
	}
	v, err := GetAttr(x, name)
	if err != nil {
		if dflt != nil {
			return dflt, nil
		}
		return nil, err
	}
	return v, nil
}

func builtinHasattr(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	var name string
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x, "name", &name); err != nil {
		return nil, err
	}
	names := AttrNames(x)
	i := sort.SearchStrings(names, name)
	return Bool(i < len(names) && names[i] == name), nil
}

func builtinLen(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	n := Len(x)
	if n < 0 {
		return nil, fmt.Errorf("len: value of type %s has no len", x.Type().Name)
	}
	return Int(n), nil
}

func builtinPrint(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	sep := " "
	for _, kv := range kwargs {
		if kv[0].(String) != "sep" {
			return nil, fmt.Errorf("print: unexpected keyword argument '%s'", kv[0].(String))
		}
		s, ok := kv[1].(String)
		if !ok {
			return nil, fmt.Errorf("print: for parameter sep: got %s, want string", kv[1].Type().Name)
		}
		sep = string(s)
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	th.Print(strings.Join(parts, sep))
	return None, nil
}

func builtinRange(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var start, stop, step int
	step = 1
	switch len(args) {
	case 1:
		if err := UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	default:
		if err := UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step?", &step); err != nil {
			return nil, err
		}
	}
	if step == 0 {
		return nil, fmt.Errorf("range: step argument must not be zero")
	}
	var elems []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(elems) >= maxRepeatLen {
			return nil, fmt.Errorf("range: too many elements")
		}
		elems = append(elems, Int(i))
	}
	return NewList(th.Mutability(), elems), nil
}

func builtinRepr(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	return String(Repr(x)), nil
}

func builtinStr(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	return String(Str(x)), nil
}

func builtinStruct(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("struct: unexpected positional arguments")
	}
	return NewStruct(kwargs)
}

func builtinTypeOf(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs(b.Name(), args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	return String(x.Type().Name), nil
}
