package vm

import (
	"fmt"
	"strings"
)

// Attribute tables of the built-in types.

func init() {
	listType.Register(
		&Method{Name: "append", Call: listAppend},
		&Method{Name: "clear", Call: listClear},
		&Method{Name: "extend", Call: listExtend},
		&Method{Name: "index", Call: listIndex},
		&Method{Name: "pop", Call: listPop},
	)
	dictType.Register(
		&Method{Name: "get", Call: dictGet},
		&Method{Name: "items", Call: dictItems},
		&Method{Name: "keys", Call: dictKeys},
		&Method{Name: "pop", Call: dictPop},
		&Method{Name: "values", Call: dictValues},
	)
	stringType.Register(
		&Method{Name: "endswith", Call: stringEndswith},
		&Method{Name: "join", Call: stringJoin},
		&Method{Name: "lower", Call: stringLower},
		&Method{Name: "split", Call: stringSplit},
		&Method{Name: "startswith", Call: stringStartswith},
		&Method{Name: "strip", Call: stringStrip},
		&Method{Name: "upper", Call: stringUpper},
	)
	functionType.Register(
		&Method{Name: "name", Kind: KindField, Get: func(recv Value) (Value, error) {
			return String(recv.(*Closure).Name()), nil
		}},
	)
}

// ---------------------------------------------------------------------------
// list
// ---------------------------------------------------------------------------

func listAppend(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs("append", args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	if err := recv.(*List).Append(x); err != nil {
		return nil, err
	}
	th.RecordSideEffect()
	return None, nil
}

func listClear(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("clear", args, kwargs); err != nil {
		return nil, err
	}
	if err := recv.(*List).Clear(); err != nil {
		return nil, err
	}
	th.RecordSideEffect()
	return None, nil
}

func listExtend(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs("extend", args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	l := recv.(*List)
	if err := l.checkMutable("extend"); err != nil {
		return nil, err
	}
	it, err := Iterate(x)
	if err != nil {
		return nil, err
	}
	defer it.Done()
	var elem Value
	var add []Value
	for it.Next(&elem) {
		add = append(add, elem)
	}
	l.elems = append(l.elems, add...)
	th.RecordSideEffect()
	return None, nil
}

func listIndex(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackArgs("index", args, kwargs, "x", &x); err != nil {
		return nil, err
	}
	for i, e := range recv.(*List).elems {
		eq, err := Equal(e, x)
		if err != nil {
			return nil, err
		}
		if eq {
			return Int(i), nil
		}
	}
	return nil, fmt.Errorf("index: value not in list")
}

func listPop(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	l := recv.(*List)
	i := -1
	if err := UnpackArgs("pop", args, kwargs, "i?", &i); err != nil {
		return nil, err
	}
	idx, err := sequenceIndex(Int(i), len(l.elems), "pop")
	if err != nil {
		return nil, err
	}
	if err := l.checkMutable("pop from"); err != nil {
		return nil, err
	}
	v := l.elems[idx]
	l.elems = append(l.elems[:idx], l.elems[idx+1:]...)
	th.RecordSideEffect()
	return v, nil
}

// ---------------------------------------------------------------------------
// dict
// ---------------------------------------------------------------------------

func dictGet(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var key, dflt Value
	if err := UnpackArgs("get", args, kwargs, "key", &key, "default?", &dflt); err != nil {
		return nil, err
	}
	v, found, err := recv.(*Dict).Get(key)
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	if dflt != nil {
		return dflt, nil
	}
	return None, nil
}

func dictItems(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("items", args, kwargs); err != nil {
		return nil, err
	}
	items := recv.(*Dict).Items()
	elems := make([]Value, len(items))
	for i, kv := range items {
		elems[i] = kv
	}
	return NewList(th.Mutability(), elems), nil
}

func dictKeys(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("keys", args, kwargs); err != nil {
		return nil, err
	}
	return NewList(th.Mutability(), recv.(*Dict).Keys()), nil
}

func dictPop(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var key, dflt Value
	if err := UnpackArgs("pop", args, kwargs, "key", &key, "default?", &dflt); err != nil {
		return nil, err
	}
	v, found, err := recv.(*Dict).Delete(key)
	if err != nil {
		return nil, err
	}
	if found {
		th.RecordSideEffect()
		return v, nil
	}
	if dflt != nil {
		return dflt, nil
	}
	return nil, fmt.Errorf("pop: missing key %s", Repr(key))
}

func dictValues(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("values", args, kwargs); err != nil {
		return nil, err
	}
	d := recv.(*Dict)
	return NewList(th.Mutability(), append([]Value(nil), d.vals...)), nil
}

// ---------------------------------------------------------------------------
// string
// ---------------------------------------------------------------------------

func stringEndswith(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var suffix string
	if err := UnpackArgs("endswith", args, kwargs, "suffix", &suffix); err != nil {
		return nil, err
	}
	return Bool(strings.HasSuffix(string(recv.(String)), suffix)), nil
}

func stringJoin(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Value
	if err := UnpackArgs("join", args, kwargs, "iterable", &iterable); err != nil {
		return nil, err
	}
	it, err := Iterate(iterable)
	if err != nil {
		return nil, err
	}
	defer it.Done()
	var parts []string
	var x Value
	for it.Next(&x) {
		s, ok := x.(String)
		if !ok {
			return nil, fmt.Errorf("join: in list, want string, got %s", x.Type().Name)
		}
		parts = append(parts, string(s))
	}
	return String(strings.Join(parts, string(recv.(String)))), nil
}

func stringLower(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("lower", args, kwargs); err != nil {
		return nil, err
	}
	return String(strings.ToLower(string(recv.(String)))), nil
}

func stringSplit(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var sep Value = None
	if err := UnpackArgs("split", args, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}
	s := string(recv.(String))
	var parts []string
	switch sep := sep.(type) {
	case NoneType:
		parts = strings.Fields(s)
	case String:
		if sep == "" {
			return nil, fmt.Errorf("split: empty separator")
		}
		parts = strings.Split(s, string(sep))
	default:
		return nil, fmt.Errorf("split: for parameter sep: got %s, want string", sep.Type().Name)
	}
	elems := make([]Value, len(parts))
	for i, p := range parts {
		elems[i] = String(p)
	}
	return NewList(th.Mutability(), elems), nil
}

func stringStartswith(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	var prefix string
	if err := UnpackArgs("startswith", args, kwargs, "prefix", &prefix); err != nil {
		return nil, err
	}
	return Bool(strings.HasPrefix(string(recv.(String)), prefix)), nil
}

func stringStrip(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("strip", args, kwargs); err != nil {
		return nil, err
	}
	return String(strings.TrimSpace(string(recv.(String)))), nil
}

func stringUpper(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackArgs("upper", args, kwargs); err != nil {
		return nil, err
	}
	return String(strings.ToUpper(string(recv.(String)))), nil
}
