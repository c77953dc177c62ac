package vm

import (
	"sort"
)

// ---------------------------------------------------------------------------
// Types and their attribute tables
// ---------------------------------------------------------------------------

// MethodKind distinguishes callable methods from computed fields.
type MethodKind uint8

const (
	// KindMethod attributes evaluate to a builtin bound to the receiver.
	KindMethod MethodKind = iota
	// KindField attributes evaluate to the result of Get.
	KindField
)

// MethodFunc implements a method. recv is the value the method was
// selected from.
type MethodFunc func(th *Thread, recv Value, args Tuple, kwargs []Tuple) (Value, error)

// Method is an entry in a type's attribute table.
type Method struct {
	Name string
	Kind MethodKind
	Call MethodFunc                  // KindMethod
	Get  func(recv Value) (Value, error) // KindField
}

// Type describes a value type and its registered attributes. Tables are
// populated during package initialization and read-only afterwards.
type Type struct {
	Name    string
	methods map[string]*Method
	names   []string
}

// NewType creates a type with the given attribute table.
func NewType(name string, methods ...*Method) *Type {
	t := &Type{Name: name, methods: make(map[string]*Method, len(methods))}
	t.Register(methods...)
	return t
}

// Register adds attributes to the table. It must not be called once values
// of the type are in use.
func (t *Type) Register(methods ...*Method) {
	for _, m := range methods {
		if _, dup := t.methods[m.Name]; !dup {
			t.names = append(t.names, m.Name)
		}
		t.methods[m.Name] = m
	}
	sort.Strings(t.names)
}

// Method returns the attribute called name, or nil.
func (t *Type) Method(name string) *Method {
	return t.methods[name]
}

// AttrNames returns the sorted attribute names.
func (t *Type) AttrNames() []string {
	return t.names
}

func (t *Type) String() string { return t.Name }

// Built-in types. Attribute tables are registered in init to keep method
// implementations free to mention the types.
var (
	noneType     = NewType("NoneType")
	boolType     = NewType("bool")
	intType      = NewType("int")
	floatType    = NewType("float")
	stringType   = NewType("string")
	tupleType    = NewType("tuple")
	listType     = NewType("list")
	dictType     = NewType("dict")
	structType   = NewType("struct")
	builtinType  = NewType("builtin_function_or_method")
	functionType = NewType("function")
	cellType     = NewType("cell")
)

// HasAttrs is implemented by values with dynamic fields, such as structs.
// Attr returns (nil, nil) when there is no such field.
type HasAttrs interface {
	Value
	Attr(name string) (Value, error)
	AttrNames() []string
}

// ---------------------------------------------------------------------------
// HostValue: the extension variant
// ---------------------------------------------------------------------------

// HostValue wraps a host object. Its type's attribute table is the only
// way scripts can reach it.
type HostValue struct {
	typ  *Type
	Data any
}

// NewHostValue wraps data as a value of type t.
func NewHostValue(t *Type, data any) *HostValue {
	return &HostValue{typ: t, Data: data}
}

func (h *HostValue) String() string { return "<" + h.typ.Name + ">" }
func (h *HostValue) Type() *Type    { return h.typ }
func (h *HostValue) Truth() bool    { return true }
func (h *HostValue) value()         {}
