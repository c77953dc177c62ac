package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Equality and ordering
// ---------------------------------------------------------------------------

// Equal reports whether x == y.
func Equal(x, y Value) (bool, error) {
	return compareDepth(EQL, x, y, 0)
}

// Compare applies the comparison operator op (EQL, NEQ, LT, LE, GT, GE).
func Compare(op Token, x, y Value) (bool, error) {
	return compareDepth(op, x, y, 0)
}

const maxCompareDepth = 100

func compareDepth(op Token, x, y Value, depth int) (bool, error) {
	if depth > maxCompareDepth {
		return false, fmt.Errorf("comparison exceeded maximum recursion depth")
	}
	switch op {
	case EQL, NEQ, LT, LE, GT, GE:
	default:
		invariant("%s is not a comparison", op)
	}

	// Mixed int/float compare numerically.
	if xf, yf, ok := numericPair(x, y); ok {
		if xi, ok := x.(Int); ok {
			if yi, ok := y.(Int); ok {
				return threeway(op, cmpInt(int64(xi), int64(yi))), nil
			}
		}
		if math.IsNaN(xf) || math.IsNaN(yf) {
			return op == NEQ, nil
		}
		return threeway(op, cmpFloat(xf, yf)), nil
	}

	if x.Type() != y.Type() {
		switch op {
		case EQL:
			return false, nil
		case NEQ:
			return true, nil
		}
		return false, fmt.Errorf("%s %s %s not implemented", x.Type().Name, op.Symbol(), y.Type().Name)
	}

	switch x := x.(type) {
	case NoneType:
		if op == EQL || op == NEQ {
			return op == EQL, nil
		}
	case Bool:
		return threeway(op, cmpInt(b2i(bool(x)), b2i(bool(y.(Bool))))), nil
	case String:
		return threeway(op, strings.Compare(string(x), string(y.(String)))), nil
	case Tuple:
		return compareSeq(op, x, y.(Tuple), depth)
	case *List:
		return compareSeq(op, x.elems, y.(*List).elems, depth)
	case *Dict:
		if op == EQL || op == NEQ {
			eq, err := dictsEqual(x, y.(*Dict), depth)
			return eq == (op == EQL), err
		}
	case *Struct:
		if op == EQL || op == NEQ {
			eq, err := structsEqual(x, y.(*Struct), depth)
			return eq == (op == EQL), err
		}
	default:
		if op == EQL || op == NEQ {
			return (x == y) == (op == EQL), nil
		}
	}
	return false, fmt.Errorf("%s %s %s not implemented", x.Type().Name, op.Symbol(), y.Type().Name)
}

func numericPair(x, y Value) (float64, float64, bool) {
	xf, ok := asFloat(x)
	if !ok {
		return 0, 0, false
	}
	yf, ok := asFloat(y)
	if !ok {
		return 0, 0, false
	}
	return xf, yf, true
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Int:
		return float64(x), true
	case Float:
		return float64(x), true
	}
	return 0, false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func threeway(op Token, c int) bool {
	switch op {
	case EQL:
		return c == 0
	case NEQ:
		return c != 0
	case LT:
		return c < 0
	case LE:
		return c <= 0
	case GT:
		return c > 0
	case GE:
		return c >= 0
	}
	invariant("%s is not a comparison", op)
	return false
}

func compareSeq(op Token, x, y []Value, depth int) (bool, error) {
	if (op == EQL || op == NEQ) && len(x) != len(y) {
		return op == NEQ, nil
	}
	for i := 0; i < len(x) && i < len(y); i++ {
		eq, err := compareDepth(EQL, x[i], y[i], depth+1)
		if err != nil {
			return false, err
		}
		if !eq {
			if op == EQL || op == NEQ {
				return op == NEQ, nil
			}
			return compareDepth(op, x[i], y[i], depth+1)
		}
	}
	return threeway(op, cmpInt(int64(len(x)), int64(len(y)))), nil
}

func dictsEqual(x, y *Dict, depth int) (bool, error) {
	if x.Len() != y.Len() {
		return false, nil
	}
	for i, k := range x.keys {
		yv, found, err := y.Get(k)
		if err != nil || !found {
			return false, err
		}
		eq, err := compareDepth(EQL, x.vals[i], yv, depth+1)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func structsEqual(x, y *Struct, depth int) (bool, error) {
	if len(x.names) != len(y.names) {
		return false, nil
	}
	for i, name := range x.names {
		if y.names[i] != name {
			return false, nil
		}
		eq, err := compareDepth(EQL, x.vals[i], y.vals[i], depth+1)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var errIntOverflow = errors.New("integer overflow")

func addInt(x, y int64) (Value, error) {
	z := x + y
	if (z > x) != (y > 0) {
		return nil, errIntOverflow
	}
	return Int(z), nil
}

func subInt(x, y int64) (Value, error) {
	z := x - y
	if (z < x) != (y > 0) {
		return nil, errIntOverflow
	}
	return Int(z), nil
}

func mulInt(x, y int64) (Value, error) {
	if x == 0 || y == 0 {
		return Int(0), nil
	}
	z := x * y
	if z/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return nil, errIntOverflow
	}
	return Int(z), nil
}

// floorDiv and floorMod round toward negative infinity.
func floorDiv(x, y int64) int64 {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}

func floorMod(x, y int64) int64 {
	m := x % y
	if m != 0 && ((m < 0) != (y < 0)) {
		m += y
	}
	return m
}

// Binary applies a binary operator. New lists are created in the thread's
// domain.
func Binary(th *Thread, op Token, x, y Value) (Value, error) {
	switch op {
	case EQL, NEQ, LT, LE, GT, GE:
		ok, err := Compare(op, x, y)
		if err != nil {
			return nil, err
		}
		return Bool(ok), nil
	case IN, NOT_IN:
		ok, err := contains(y, x)
		if err != nil {
			return nil, err
		}
		return Bool(ok == (op == IN)), nil
	}

	if xi, ok := x.(Int); ok {
		if yi, ok := y.(Int); ok {
			return binaryInt(op, int64(xi), int64(yi))
		}
	}
	if xf, yf, ok := numericPair(x, y); ok {
		if v, ok, err := binaryFloat(op, xf, yf); ok {
			return v, err
		}
	}

	switch op {
	case PLUS:
		switch x := x.(type) {
		case String:
			if y, ok := y.(String); ok {
				return x + y, nil
			}
		case Tuple:
			if y, ok := y.(Tuple); ok {
				z := make(Tuple, 0, len(x)+len(y))
				return append(append(z, x...), y...), nil
			}
		case *List:
			if y, ok := y.(*List); ok {
				z := make([]Value, 0, len(x.elems)+len(y.elems))
				z = append(append(z, x.elems...), y.elems...)
				return NewList(th.Mutability(), z), nil
			}
		}
	case STAR:
		if n, ok := y.(Int); ok {
			if v, ok, err := repeat(th, x, int64(n)); ok {
				return v, err
			}
		}
		if n, ok := x.(Int); ok {
			if v, ok, err := repeat(th, y, int64(n)); ok {
				return v, err
			}
		}
	}
	return nil, fmt.Errorf("unknown binary op: %s %s %s", x.Type().Name, op.Symbol(), y.Type().Name)
}

func binaryInt(op Token, x, y int64) (Value, error) {
	switch op {
	case PLUS:
		return addInt(x, y)
	case MINUS:
		return subInt(x, y)
	case STAR:
		return mulInt(x, y)
	case SLASH:
		if y == 0 {
			return nil, fmt.Errorf("floating-point division by zero")
		}
		return Float(float64(x) / float64(y)), nil
	case SLASHSLASH:
		if y == 0 {
			return nil, fmt.Errorf("integer division by zero")
		}
		if x == math.MinInt64 && y == -1 {
			return nil, errIntOverflow
		}
		return Int(floorDiv(x, y)), nil
	case PERCENT:
		if y == 0 {
			return nil, fmt.Errorf("integer modulo by zero")
		}
		if y == -1 {
			return Int(0), nil
		}
		return Int(floorMod(x, y)), nil
	case AMP:
		return Int(x & y), nil
	case PIPE:
		return Int(x | y), nil
	case CIRCUMFLEX:
		return Int(x ^ y), nil
	case LTLT, GTGT:
		if y < 0 {
			return nil, fmt.Errorf("negative shift count: %d", y)
		}
		if op == GTGT {
			if y >= 64 {
				y = 63
			}
			return Int(x >> uint(y)), nil
		}
		if y >= 64 || (x<<uint(y))>>uint(y) != x {
			return nil, errIntOverflow
		}
		return Int(x << uint(y)), nil
	}
	return nil, fmt.Errorf("unknown binary op: int %s int", op.Symbol())
}

func binaryFloat(op Token, x, y float64) (Value, bool, error) {
	switch op {
	case PLUS:
		return Float(x + y), true, nil
	case MINUS:
		return Float(x - y), true, nil
	case STAR:
		return Float(x * y), true, nil
	case SLASH:
		if y == 0 {
			return nil, true, fmt.Errorf("floating-point division by zero")
		}
		return Float(x / y), true, nil
	case SLASHSLASH:
		if y == 0 {
			return nil, true, fmt.Errorf("floating-point division by zero")
		}
		return Float(math.Floor(x / y)), true, nil
	case PERCENT:
		if y == 0 {
			return nil, true, fmt.Errorf("floating-point modulo by zero")
		}
		m := math.Mod(x, y)
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return Float(m), true, nil
	}
	return nil, false, nil
}

const maxRepeatLen = 1 << 24

func repeat(th *Thread, x Value, n int64) (Value, bool, error) {
	if n < 0 {
		n = 0
	}
	l := Len(x)
	if l < 0 {
		return nil, false, nil
	}
	if l == 0 {
		n = 0
	} else if n > maxRepeatLen/int64(l) {
		return nil, true, fmt.Errorf("excessive repeat (%d * %d elements)", l, n)
	}
	switch x := x.(type) {
	case String:
		return String(strings.Repeat(string(x), int(n))), true, nil
	case Tuple:
		z := make(Tuple, 0, len(x)*int(n))
		for i := int64(0); i < n; i++ {
			z = append(z, x...)
		}
		return z, true, nil
	case *List:
		z := make([]Value, 0, len(x.elems)*int(n))
		for i := int64(0); i < n; i++ {
			z = append(z, x.elems...)
		}
		return NewList(th.Mutability(), z), true, nil
	}
	return nil, false, nil
}

// Unary applies a unary operator.
func Unary(op Token, x Value) (Value, error) {
	switch op {
	case NOT:
		return !Bool(x.Truth()), nil
	case MINUS:
		switch x := x.(type) {
		case Int:
			if x == math.MinInt64 {
				return nil, errIntOverflow
			}
			return -x, nil
		case Float:
			return -x, nil
		}
	case PLUS:
		switch x.(type) {
		case Int, Float:
			return x, nil
		}
	case TILDE:
		if x, ok := x.(Int); ok {
			return ^x, nil
		}
	}
	return nil, fmt.Errorf("unknown unary op: %s%s", op.Symbol(), x.Type().Name)
}

// ---------------------------------------------------------------------------
// Membership and indexing
// ---------------------------------------------------------------------------

func contains(container, x Value) (bool, error) {
	switch c := container.(type) {
	case String:
		s, ok := x.(String)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", x.Type().Name)
		}
		return strings.Contains(string(c), string(s)), nil
	case Tuple:
		return sliceContains(c, x)
	case *List:
		return sliceContains(c.elems, x)
	case *Dict:
		_, found, err := c.Get(x)
		return found, err
	}
	return false, fmt.Errorf("'in' not supported for %s", container.Type().Name)
}

func sliceContains(elems []Value, x Value) (bool, error) {
	for _, e := range elems {
		eq, err := Equal(e, x)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func sequenceIndex(k Value, n int, what string) (int, error) {
	i, ok := k.(Int)
	if !ok {
		return 0, fmt.Errorf("%s index: got %s, want int", what, k.Type().Name)
	}
	idx := int64(i)
	if idx < 0 {
		idx += int64(n)
	}
	if idx < 0 || idx >= int64(n) {
		return 0, fmt.Errorf("%s index %d out of range [%d:%d]", what, int64(i), -n, n)
	}
	return int(idx), nil
}

// Index evaluates x[k].
func Index(x, k Value) (Value, error) {
	switch x := x.(type) {
	case String:
		i, err := sequenceIndex(k, len(x), "string")
		if err != nil {
			return nil, err
		}
		return x[i : i+1], nil
	case Tuple:
		i, err := sequenceIndex(k, len(x), "tuple")
		if err != nil {
			return nil, err
		}
		return x[i], nil
	case *List:
		i, err := sequenceIndex(k, len(x.elems), "list")
		if err != nil {
			return nil, err
		}
		return x.elems[i], nil
	case *Dict:
		v, found, err := x.Get(k)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("key %s not in dict", Repr(k))
		}
		return v, nil
	}
	return nil, fmt.Errorf("unhandled index operation %s[%s]", x.Type().Name, k.Type().Name)
}

// SetIndex performs x[k] = v.
func SetIndex(x, k, v Value) error {
	switch x := x.(type) {
	case *List:
		i, err := sequenceIndex(k, len(x.elems), "list")
		if err != nil {
			return err
		}
		return x.SetIndex(i, v)
	case *Dict:
		return x.SetKey(k, v)
	}
	return fmt.Errorf("%s value does not support item assignment", x.Type().Name)
}
