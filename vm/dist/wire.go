package dist

import (
	"crypto/sha256"
	"fmt"

	"github.com/chazu/larkvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is the canonical encoding mode. Equal functions encode to
// equal bytes, which Hash relies on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalFunction serializes fn, its nested functions and its module's
// global names to CBOR bytes.
func MarshalFunction(fn *vm.Function) ([]byte, error) {
	u, err := NewUnit(fn)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(u)
}

// UnmarshalFunction deserializes a function. The function and its nested
// functions share a fresh module whose unset globals resolve through
// predeclared, which may be nil.
func UnmarshalFunction(data []byte, predeclared map[string]vm.Value) (*vm.Function, error) {
	var u Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("dist: unmarshal function: %w", err)
	}
	return u.Function(predeclared)
}

// Hash returns the SHA-256 of fn's canonical encoding.
func Hash(fn *vm.Function) ([32]byte, error) {
	data, err := MarshalFunction(fn)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// NewUnit converts fn to its wire form.
func NewUnit(fn *vm.Function) (*Unit, error) {
	f, err := encodeFunc(fn)
	if err != nil {
		return nil, err
	}
	u := &Unit{Version: Version, Func: f}
	if m := fn.Module(); m != nil {
		u.Module = &ModuleInfo{Name: m.Name, Globals: m.Names()}
	}
	return u, nil
}

// Function reconstructs the function described by u.
func (u *Unit) Function(predeclared map[string]vm.Value) (*vm.Function, error) {
	if u.Version != Version {
		return nil, fmt.Errorf("dist: unsupported wire version %d (want %d)", u.Version, Version)
	}
	if u.Func == nil {
		return nil, fmt.Errorf("dist: unit has no function")
	}
	var m *vm.Module
	if u.Module != nil {
		m = vm.NewModule(u.Module.Name, u.Module.Globals, predeclared)
	}
	return decodeFunc(u.Func, m)
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func encodeFunc(fn *vm.Function) (*Func, error) {
	spec := fn.Spec()
	f := &Func{
		Name:       spec.Name,
		Pos:        encodePos(spec.Pos),
		Code:       spec.Code,
		Strings:    spec.Strings,
		Locals:     encodeBindings(spec.Locals),
		Freevars:   encodeBindings(spec.Freevars),
		RegCount:   spec.RegCount,
		LoopDepth:  spec.LoopDepth,
		ResultType: spec.ResultType,
		Params: Params{
			NumParams:  spec.Params.NumParams,
			NumKwonly:  spec.Params.NumKwonly,
			HasVarargs: spec.Params.HasVarargs,
			HasKwargs:  spec.Params.HasKwargs,
		},
	}
	for _, obj := range spec.Objects {
		o, err := encodeObject(obj)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: %w", spec.Name, err)
		}
		f.Objects = append(f.Objects, o)
	}
	for _, c := range spec.Consts {
		v, err := encodeValue(c)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: %w", spec.Name, err)
		}
		f.Consts = append(f.Consts, v)
	}
	for _, e := range spec.Locs {
		entry := LocEntry{IP: e.IP, Stack: make([]Pos, len(e.Stack))}
		for i, l := range e.Stack {
			entry.Stack[i] = encodePos(l)
		}
		f.Locs = append(f.Locs, entry)
	}
	if spec.ConstResult != nil {
		v, err := encodeValue(spec.ConstResult)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: constant result: %w", spec.Name, err)
		}
		f.ConstResult = &v
	}
	return f, nil
}

func encodeObject(obj any) (Object, error) {
	switch x := obj.(type) {
	case *vm.Function:
		f, err := encodeFunc(x)
		if err != nil {
			return Object{}, err
		}
		return Object{Kind: ObjectFunc, Func: f}, nil
	case *vm.CallSig:
		return Object{Kind: ObjectSig, Sig: &Sig{NumPositional: x.NumPositional, Names: x.Names}}, nil
	case vm.Tuple:
		v, err := encodeValue(x)
		if err != nil {
			return Object{}, err
		}
		return Object{Kind: ObjectTuple, Tuple: v.Elems}, nil
	}
	return Object{}, fmt.Errorf("cannot encode object of type %T", obj)
}

func encodeValue(v vm.Value) (Value, error) {
	switch x := v.(type) {
	case vm.NoneType:
		return Value{Kind: ValueNone}, nil
	case vm.Bool:
		if x {
			return Value{Kind: ValueBool, Int: 1}, nil
		}
		return Value{Kind: ValueBool}, nil
	case vm.Int:
		return Value{Kind: ValueInt, Int: int64(x)}, nil
	case vm.Float:
		f := float64(x)
		return Value{Kind: ValueFloat, Float: &f}, nil
	case vm.String:
		return Value{Kind: ValueString, Str: string(x)}, nil
	case vm.Tuple:
		out := Value{Kind: ValueTuple, Elems: make([]Value, len(x))}
		for i, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return Value{}, err
			}
			out.Elems[i] = ev
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("cannot encode %s constant", v.Type().Name)
}

func encodePos(l vm.Location) Pos {
	return Pos{File: l.File, Line: l.Line, Col: l.Col}
}

func encodeBindings(bs []vm.Binding) []Binding {
	if len(bs) == 0 {
		return nil
	}
	out := make([]Binding, len(bs))
	for i, b := range bs {
		out[i] = Binding{Name: b.Name, Pos: encodePos(b.Pos), Captured: b.Captured}
	}
	return out
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func decodeFunc(f *Func, m *vm.Module) (*vm.Function, error) {
	spec := vm.FunctionSpec{
		Name:       f.Name,
		Pos:        decodePos(f.Pos),
		Code:       f.Code,
		Strings:    f.Strings,
		Locals:     decodeBindings(f.Locals),
		Freevars:   decodeBindings(f.Freevars),
		RegCount:   f.RegCount,
		LoopDepth:  f.LoopDepth,
		Module:     m,
		ResultType: f.ResultType,
		Params: vm.Params{
			NumParams:  f.Params.NumParams,
			NumKwonly:  f.Params.NumKwonly,
			HasVarargs: f.Params.HasVarargs,
			HasKwargs:  f.Params.HasKwargs,
		},
	}
	for i, o := range f.Objects {
		obj, err := decodeObject(o, m)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: object %d: %w", f.Name, i, err)
		}
		spec.Objects = append(spec.Objects, obj)
	}
	for i, c := range f.Consts {
		v, err := decodeValue(c)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: constant %d: %w", f.Name, i, err)
		}
		spec.Consts = append(spec.Consts, v)
	}
	for _, e := range f.Locs {
		entry := vm.LocEntry{IP: e.IP, Stack: make([]vm.Location, len(e.Stack))}
		for i, p := range e.Stack {
			entry.Stack[i] = decodePos(p)
		}
		spec.Locs = append(spec.Locs, entry)
	}
	if f.ConstResult != nil {
		v, err := decodeValue(*f.ConstResult)
		if err != nil {
			return nil, fmt.Errorf("dist: function %s: constant result: %w", f.Name, err)
		}
		spec.ConstResult = v
	}
	fn, err := vm.NewFunction(spec)
	if err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	return fn, nil
}

func decodeObject(o Object, m *vm.Module) (any, error) {
	switch o.Kind {
	case ObjectFunc:
		if o.Func == nil {
			return nil, fmt.Errorf("function object has no body")
		}
		return decodeFunc(o.Func, m)
	case ObjectSig:
		if o.Sig == nil {
			return nil, fmt.Errorf("signature object is empty")
		}
		return &vm.CallSig{NumPositional: o.Sig.NumPositional, Names: o.Sig.Names}, nil
	case ObjectTuple:
		return decodeValue(Value{Kind: ValueTuple, Elems: o.Tuple})
	}
	return nil, fmt.Errorf("unknown object kind %d", o.Kind)
}

func decodeValue(v Value) (vm.Value, error) {
	switch v.Kind {
	case ValueNone:
		return vm.None, nil
	case ValueBool:
		return vm.Bool(v.Int != 0), nil
	case ValueInt:
		return vm.Int(v.Int), nil
	case ValueFloat:
		if v.Float == nil {
			return nil, fmt.Errorf("float constant has no value")
		}
		return vm.Float(*v.Float), nil
	case ValueString:
		return vm.String(v.Str), nil
	case ValueTuple:
		t := make(vm.Tuple, len(v.Elems))
		for i, e := range v.Elems {
			ev, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			t[i] = ev
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

func decodePos(p Pos) vm.Location {
	return vm.Location{File: p.File, Line: p.Line, Col: p.Col}
}

func decodeBindings(bs []Binding) []vm.Binding {
	if len(bs) == 0 {
		return nil
	}
	out := make([]vm.Binding, len(bs))
	for i, b := range bs {
		out[i] = vm.Binding{Name: b.Name, Pos: decodePos(b.Pos), Captured: b.Captured}
	}
	return out
}
