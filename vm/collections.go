package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a mutable sequence owned by a mutability domain.
type List struct {
	elems     []Value
	mu        *Mutability
	itercount int
}

// NewList returns a list owning elems, belonging to domain mu. A nil mu
// yields a list that is never frozen.
func NewList(mu *Mutability, elems []Value) *List {
	return &List{elems: elems, mu: mu}
}

func (l *List) String() string { return Repr(l) }
func (l *List) Type() *Type    { return listType }
func (l *List) Truth() bool    { return len(l.elems) > 0 }
func (l *List) value()         {}

// Len returns the number of elements.
func (l *List) Len() int { return len(l.elems) }

// Index returns element i.
func (l *List) Index(i int) Value { return l.elems[i] }

// Elems returns a copy of the elements.
func (l *List) Elems() []Value {
	return append([]Value(nil), l.elems...)
}

func (l *List) checkMutable(verb string) error {
	return checkMutable(l.mu, l.itercount, verb, "list")
}

// Append adds v at the end.
func (l *List) Append(v Value) error {
	if err := l.checkMutable("append to"); err != nil {
		return err
	}
	l.elems = append(l.elems, v)
	return nil
}

// SetIndex replaces element i.
func (l *List) SetIndex(i int, v Value) error {
	if err := l.checkMutable("assign to element of"); err != nil {
		return err
	}
	l.elems[i] = v
	return nil
}

// Clear removes every element.
func (l *List) Clear() error {
	if err := l.checkMutable("clear"); err != nil {
		return err
	}
	l.elems = l.elems[:0]
	return nil
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

// Dict is a mutable mapping that iterates in insertion order.
type Dict struct {
	keys      []Value
	vals      []Value
	index     map[string]int
	mu        *Mutability
	itercount int
}

// NewDict returns an empty dict belonging to domain mu.
func NewDict(mu *Mutability, size int) *Dict {
	return &Dict{
		keys:  make([]Value, 0, size),
		vals:  make([]Value, 0, size),
		index: make(map[string]int, size),
		mu:    mu,
	}
}

func (d *Dict) String() string { return Repr(d) }
func (d *Dict) Type() *Type    { return dictType }
func (d *Dict) Truth() bool    { return len(d.keys) > 0 }
func (d *Dict) value()         {}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Get looks up k. It fails only if k is unhashable.
func (d *Dict) Get(k Value) (Value, bool, error) {
	key, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[key]
	if !ok {
		return nil, false, nil
	}
	return d.vals[i], true, nil
}

// SetKey inserts or replaces the entry for k.
func (d *Dict) SetKey(k, v Value) error {
	if err := checkMutable(d.mu, d.itercount, "insert into", "dict"); err != nil {
		return err
	}
	key, err := hashKey(k)
	if err != nil {
		return err
	}
	if i, ok := d.index[key]; ok {
		d.vals[i] = v
		return nil
	}
	d.index[key] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
	return nil
}

// Delete removes the entry for k and returns its value.
func (d *Dict) Delete(k Value) (Value, bool, error) {
	if err := checkMutable(d.mu, d.itercount, "delete from", "dict"); err != nil {
		return nil, false, err
	}
	key, err := hashKey(k)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[key]
	if !ok {
		return nil, false, nil
	}
	v := d.vals[i]
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.vals = append(d.vals[:i], d.vals[i+1:]...)
	delete(d.index, key)
	for j := i; j < len(d.keys); j++ {
		kj, _ := hashKey(d.keys[j])
		d.index[kj] = j
	}
	return v, true, nil
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	return append([]Value(nil), d.keys...)
}

// Items returns (key, value) pairs in insertion order.
func (d *Dict) Items() []Tuple {
	items := make([]Tuple, len(d.keys))
	for i, k := range d.keys {
		items[i] = Tuple{k, d.vals[i]}
	}
	return items
}

// ---------------------------------------------------------------------------
// Struct
// ---------------------------------------------------------------------------

// Struct is an immutable record with named fields.
type Struct struct {
	names []string // sorted
	vals  []Value
}

// NewStruct creates a struct from (name, value) pairs.
func NewStruct(fields []Tuple) (*Struct, error) {
	sorted := append([]Tuple(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return string(sorted[i][0].(String)) < string(sorted[j][0].(String))
	})
	s := &Struct{names: make([]string, len(sorted)), vals: make([]Value, len(sorted))}
	for i, kv := range sorted {
		name := string(kv[0].(String))
		if i > 0 && s.names[i-1] == name {
			return nil, fmt.Errorf("struct: duplicate field %q", name)
		}
		s.names[i] = name
		s.vals[i] = kv[1]
	}
	return s, nil
}

func (s *Struct) String() string { return Repr(s) }
func (s *Struct) Type() *Type    { return structType }
func (s *Struct) Truth() bool    { return true }
func (s *Struct) value()         {}

// Attr returns field name, or (nil, nil).
func (s *Struct) Attr(name string) (Value, error) {
	i := sort.SearchStrings(s.names, name)
	if i < len(s.names) && s.names[i] == name {
		return s.vals[i], nil
	}
	return nil, nil
}

// AttrNames returns the sorted field names.
func (s *Struct) AttrNames() []string { return s.names }

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// Iterator yields the elements of an iterable value. Done must be called
// once iteration ends so the value becomes mutable again.
type Iterator interface {
	Next(p *Value) bool
	Done()
}

// Iterate returns an iterator over v, or an error if v is not iterable.
func Iterate(v Value) (Iterator, error) {
	switch x := v.(type) {
	case Tuple:
		return &sliceIterator{elems: x}, nil
	case *List:
		it := &sliceIterator{elems: x.elems}
		if !x.mu.Frozen() {
			x.itercount++
			it.done = func() { x.itercount-- }
		}
		return it, nil
	case *Dict:
		it := &sliceIterator{elems: x.keys}
		if !x.mu.Frozen() {
			x.itercount++
			it.done = func() { x.itercount-- }
		}
		return it, nil
	}
	return nil, fmt.Errorf("%s value is not iterable", v.Type().Name)
}

type sliceIterator struct {
	elems []Value
	i     int
	done  func()
}

func (it *sliceIterator) Next(p *Value) bool {
	if it.i < len(it.elems) {
		*p = it.elems[it.i]
		it.i++
		return true
	}
	return false
}

func (it *sliceIterator) Done() {
	if it.done != nil {
		it.done()
		it.done = nil
	}
}

// Len returns the length of v, or -1 if v has none.
func Len(v Value) int {
	switch x := v.(type) {
	case String:
		return len(x)
	case Tuple:
		return len(x)
	case *List:
		return len(x.elems)
	case *Dict:
		return len(x.keys)
	}
	return -1
}
