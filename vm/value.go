package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------
//
// The value set is closed: NoneType, Bool, Int, Float, String, Tuple, *List,
// *Dict, *Struct, *Builtin, *Closure and *HostValue. Hosts extend the
// language through HostValue, whose *Type carries the attribute table.

// Value is any value the interpreter can hold in a register.
type Value interface {
	// String returns the printed representation of the value.
	String() string
	// Type returns the value's type. Type identity is pointer identity.
	Type() *Type
	// Truth returns the truth value of the value.
	Truth() bool

	value()
}

// NoneType is the type of None.
type NoneType struct{}

// None is the only NoneType value.
var None = NoneType{}

func (NoneType) String() string { return "None" }
func (NoneType) Type() *Type    { return noneType }
func (NoneType) Truth() bool    { return false }
func (NoneType) value()         {}

// Bool is a boolean value.
type Bool bool

const (
	False Bool = false
	True  Bool = true
)

func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}
func (Bool) Type() *Type    { return boolType }
func (b Bool) Truth() bool  { return bool(b) }
func (Bool) value()         {}

// Int is a 64-bit signed integer. Arithmetic that overflows fails.
type Int int64

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (Int) Type() *Type      { return intType }
func (i Int) Truth() bool    { return i != 0 }
func (Int) value()           {}

// Float is a 64-bit IEEE float.
type Float float64

func (f Float) String() string {
	x := float64(f)
	switch {
	case math.IsInf(x, 1):
		return "+inf"
	case math.IsInf(x, -1):
		return "-inf"
	case math.IsNaN(x):
		return "nan"
	}
	s := strconv.FormatFloat(x, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
func (Float) Type() *Type   { return floatType }
func (f Float) Truth() bool { return f != 0 }
func (Float) value()        {}

// String is an immutable string.
type String string

func (s String) String() string { return strconv.Quote(string(s)) }
func (String) Type() *Type      { return stringType }
func (s String) Truth() bool    { return len(s) > 0 }
func (String) value()           {}

// Tuple is an immutable sequence.
type Tuple []Value

func (t Tuple) String() string { return Repr(t) }
func (Tuple) Type() *Type      { return tupleType }
func (t Tuple) Truth() bool    { return len(t) > 0 }
func (Tuple) value()           {}

// cell holds a captured local shared between a function and the closures
// it creates.
type cell struct {
	v Value
}

func (*cell) String() string { return "<cell>" }
func (*cell) Type() *Type    { return cellType }
func (*cell) Truth() bool    { return true }
func (*cell) value()         {}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// Repr returns the printed representation of v. Cyclic lists and dicts
// print their repeated occurrence as [...] or {...}.
func Repr(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, nil)
	return sb.String()
}

// Str returns v as the str builtin would: strings unquoted, other values
// as Repr.
func Str(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return Repr(v)
}

func writeValue(sb *strings.Builder, v Value, path []Value) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("<nil>")
	case Tuple:
		sb.WriteByte('(')
		for i, e := range x {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, e, path)
		}
		if len(x) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case *List:
		if onPath(path, x) {
			sb.WriteString("[...]")
			return
		}
		path = append(path, x)
		sb.WriteByte('[')
		for i, e := range x.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, e, path)
		}
		sb.WriteByte(']')
	case *Dict:
		if onPath(path, x) {
			sb.WriteString("{...}")
			return
		}
		path = append(path, x)
		sb.WriteByte('{')
		for i, k := range x.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, k, path)
			sb.WriteString(": ")
			writeValue(sb, x.vals[i], path)
		}
		sb.WriteByte('}')
	case *Struct:
		sb.WriteString("struct(")
		for i, name := range x.names {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(name)
			sb.WriteString(" = ")
			writeValue(sb, x.vals[i], path)
		}
		sb.WriteByte(')')
	default:
		sb.WriteString(v.String())
	}
}

func onPath(path []Value, v Value) bool {
	for _, p := range path {
		if p == v {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

// hashKey returns a string that is equal for equal hashable values. Integral
// floats share the key of the equal Int.
func hashKey(v Value) (string, error) {
	switch x := v.(type) {
	case NoneType:
		return "N", nil
	case Bool:
		if x {
			return "T", nil
		}
		return "F", nil
	case Int:
		return "i" + strconv.FormatInt(int64(x), 10), nil
	case Float:
		f := float64(x)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return "i" + strconv.FormatInt(int64(f), 10), nil
		}
		return "f" + strconv.FormatUint(math.Float64bits(f), 16), nil
	case String:
		return "s" + strconv.Itoa(len(x)) + ":" + string(x), nil
	case Tuple:
		var sb strings.Builder
		sb.WriteString("t(")
		for _, e := range x {
			k, err := hashKey(e)
			if err != nil {
				return "", err
			}
			sb.WriteString(k)
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
		return sb.String(), nil
	case *Builtin, *Closure, *HostValue:
		return fmt.Sprintf("p%p", x), nil
	}
	return "", fmt.Errorf("unhashable type: %s", v.Type().Name)
}

// Hashable reports whether v may be used as a dict key.
func Hashable(v Value) bool {
	_, err := hashKey(v)
	return err == nil
}
