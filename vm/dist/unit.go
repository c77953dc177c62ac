// Package dist implements the portable form of compiled functions: a
// canonical CBOR encoding, content hashing, and a policy over the modules a
// function may load. Two hosts that agree on Version can exchange compiled
// functions without sharing a compiler.
package dist

// Version is the wire format version. The instruction stream layout and the
// interpreter are versioned together with it.
const Version = 1

// Unit is the top-level wire message: one function and the module its
// GLOBAL registers index.
type Unit struct {
	Version uint16      `cbor:"1,keyasint"`
	Module  *ModuleInfo `cbor:"2,keyasint,omitempty"`
	Func    *Func       `cbor:"3,keyasint"`
}

// ModuleInfo names a module and its globals in register order.
type ModuleInfo struct {
	Name    string   `cbor:"1,keyasint"`
	Globals []string `cbor:"2,keyasint,omitempty"`
}

// Func mirrors vm.FunctionSpec.
type Func struct {
	Name        string     `cbor:"1,keyasint"`
	Pos         Pos        `cbor:"2,keyasint"`
	Code        []int32    `cbor:"3,keyasint"`
	Strings     []string   `cbor:"4,keyasint,omitempty"`
	Objects     []Object   `cbor:"5,keyasint,omitempty"`
	Consts      []Value    `cbor:"6,keyasint,omitempty"`
	Locals      []Binding  `cbor:"7,keyasint,omitempty"`
	Freevars    []Binding  `cbor:"8,keyasint,omitempty"`
	Params      Params     `cbor:"9,keyasint"`
	RegCount    int        `cbor:"10,keyasint"`
	LoopDepth   int        `cbor:"11,keyasint,omitempty"`
	Locs        []LocEntry `cbor:"12,keyasint,omitempty"`
	ConstResult *Value     `cbor:"13,keyasint,omitempty"`
	ResultType  string     `cbor:"14,keyasint,omitempty"`
}

// Pos is a source location.
type Pos struct {
	File string `cbor:"1,keyasint,omitempty"`
	Line int32  `cbor:"2,keyasint,omitempty"`
	Col  int32  `cbor:"3,keyasint,omitempty"`
}

// Binding is a local or free variable.
type Binding struct {
	Name     string `cbor:"1,keyasint"`
	Pos      Pos    `cbor:"2,keyasint"`
	Captured bool   `cbor:"3,keyasint,omitempty"`
}

// Params is the parameter shape.
type Params struct {
	NumParams  int  `cbor:"1,keyasint,omitempty"`
	NumKwonly  int  `cbor:"2,keyasint,omitempty"`
	HasVarargs bool `cbor:"3,keyasint,omitempty"`
	HasKwargs  bool `cbor:"4,keyasint,omitempty"`
}

// LocEntry is one row of the ip -> location-stack table.
type LocEntry struct {
	IP    int   `cbor:"1,keyasint"`
	Stack []Pos `cbor:"2,keyasint"`
}

// ValueKind identifies the variant of an encoded constant.
type ValueKind uint8

const (
	ValueNone   ValueKind = 0
	ValueBool   ValueKind = 1
	ValueInt    ValueKind = 2
	ValueFloat  ValueKind = 3
	ValueString ValueKind = 4
	ValueTuple  ValueKind = 5
)

// Value is an encoded constant. Only immutable values without identity can
// be encoded.
type Value struct {
	Kind  ValueKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"` // ValueInt; ValueBool as 0 or 1
	Float *float64  `cbor:"3,keyasint,omitempty"` // ValueFloat; set for every float, zero included
	Str   string    `cbor:"4,keyasint,omitempty"`
	Elems []Value   `cbor:"5,keyasint,omitempty"`
}

// ObjectKind identifies the variant of an object-pool entry.
type ObjectKind uint8

const (
	ObjectFunc  ObjectKind = 1
	ObjectSig   ObjectKind = 2
	ObjectTuple ObjectKind = 3
)

// Object is an encoded object-pool entry.
type Object struct {
	Kind  ObjectKind `cbor:"1,keyasint"`
	Func  *Func      `cbor:"2,keyasint,omitempty"`
	Sig   *Sig       `cbor:"3,keyasint,omitempty"`
	Tuple []Value    `cbor:"4,keyasint,omitempty"`
}

// Sig is a call-site signature.
type Sig struct {
	NumPositional int      `cbor:"1,keyasint,omitempty"`
	Names         []string `cbor:"2,keyasint,omitempty"`
}
