package vm

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Source locations
// ---------------------------------------------------------------------------

// Location is a position in a source file. The zero Location denotes a
// builtin with no source.
type Location struct {
	File string
	Line int32
	Col  int32
}

// IsValid reports whether the location refers to a source file.
func (l Location) IsValid() bool {
	return l.File != "" || l.Line != 0
}

func (l Location) String() string {
	if !l.IsValid() {
		return "<builtin>"
	}
	if l.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// LocEntry maps the instruction at IP (and those after it, up to the next
// entry) to a stack of source locations, outermost first. Stacks longer
// than one describe instructions inlined from other functions.
type LocEntry struct {
	IP    int
	Stack []Location
}

// Binding is a resolved local or free variable.
type Binding struct {
	Name     string
	Pos      Location
	Captured bool // local held in a cell because a nested function uses it
}

// Params describes the parameter shape of a function. The first NumParams
// locals are the parameters, the last NumKwonly of which are keyword-only.
// When HasVarargs is set the next local receives the surplus positional
// tuple, followed by the keyword dict when HasKwargs is set.
type Params struct {
	NumParams  int
	NumKwonly  int
	HasVarargs bool
	HasKwargs  bool
}

// CallSig is the call-site shape carried by a CALL instruction: the number
// of positional arguments and the keyword names in call-site order.
type CallSig struct {
	NumPositional int
	Names         []string
}

// NumArgs is the number of registers the call site passes.
func (s *CallSig) NumArgs() int {
	return s.NumPositional + len(s.Names)
}

func (s *CallSig) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%d", s.NumPositional)
	for _, n := range s.Names {
		sb.WriteString(", ")
		sb.WriteString(n)
		sb.WriteByte('=')
	}
	sb.WriteByte(')')
	return sb.String()
}

// clone copies every slice of s so that the result shares no backing
// array with s. Constant tuples are copied too; functions and the module
// are shared.
func (s FunctionSpec) clone() FunctionSpec {
	s.Code = slices.Clone(s.Code)
	s.Strings = slices.Clone(s.Strings)
	s.Consts = cloneValues(s.Consts)
	s.Locals = slices.Clone(s.Locals)
	s.Freevars = slices.Clone(s.Freevars)
	if s.Objects != nil {
		objs := make([]any, len(s.Objects))
		for i, obj := range s.Objects {
			switch x := obj.(type) {
			case *CallSig:
				objs[i] = &CallSig{NumPositional: x.NumPositional, Names: slices.Clone(x.Names)}
			case Tuple:
				objs[i] = cloneTuple(x)
			default:
				objs[i] = obj
			}
		}
		s.Objects = objs
	}
	if s.Locs != nil {
		locs := make([]LocEntry, len(s.Locs))
		for i, e := range s.Locs {
			locs[i] = LocEntry{IP: e.IP, Stack: slices.Clone(e.Stack)}
		}
		s.Locs = locs
	}
	return s
}

func cloneValues(vs []Value) []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, len(vs))
	for i, v := range vs {
		if t, ok := v.(Tuple); ok {
			v = cloneTuple(t)
		}
		out[i] = v
	}
	return out
}

func cloneTuple(t Tuple) Tuple {
	return Tuple(cloneValues(t))
}

// ---------------------------------------------------------------------------
// Function: a compiled function body
// ---------------------------------------------------------------------------

// FunctionSpec is everything needed to construct a Function.
type FunctionSpec struct {
	Name     string
	Pos      Location
	Code     []int32
	Strings  []string
	Objects  []any // *Function, *CallSig, or constant Tuple
	Consts   []Value
	Locals   []Binding
	Freevars []Binding
	Params   Params
	RegCount int
	// LoopDepth bounds the number of simultaneously active iterators.
	LoopDepth int
	Locs      []LocEntry
	Module    *Module

	// Facts proven by the producer. A non-nil ConstResult lets callers skip
	// the body; a non-empty ResultType is checked on every return.
	ConstResult Value
	ResultType  string
}

// Function is an immutable compiled function. It may be shared by any number
// of threads; only its per-site caches change after construction, and those
// are updated atomically.
type Function struct {
	name     string
	pos      Location
	code     []int32
	strings  []string
	objects  []any
	consts   []Value
	locals   []Binding
	freevars []Binding
	params   Params
	regCount int

	loopDepth int
	locs      []LocEntry
	module    *Module

	constResult Value
	resultType  string

	// params looked up by name during keyword binding
	paramIndex map[string]int

	attrCaches map[int]*AttrCache
	callSites  map[int]*callSite
}

// NewFunction validates spec and returns the function it describes. The
// instruction stream must decode to its exact end with known opcodes,
// register operands in range, and jump targets on instruction boundaries.
func NewFunction(spec FunctionSpec) (fn *Function, err error) {
	spec = spec.clone()
	fn = &Function{
		name:        spec.Name,
		pos:         spec.Pos,
		code:        spec.Code,
		strings:     spec.Strings,
		objects:     spec.Objects,
		consts:      spec.Consts,
		locals:      spec.Locals,
		freevars:    spec.Freevars,
		params:      spec.Params,
		regCount:    spec.RegCount,
		loopDepth:   spec.LoopDepth,
		locs:        spec.Locs,
		module:      spec.Module,
		constResult: spec.ConstResult,
		resultType:  spec.ResultType,
		attrCaches:  make(map[int]*AttrCache),
		callSites:   make(map[int]*callSite),
	}
	if fn.name == "" {
		fn.name = "<anonymous>"
	}
	if err := fn.checkShape(); err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InternalError)
			if !ok {
				panic(r)
			}
			fn, err = nil, fmt.Errorf("function %s: malformed code: %s", fn.name, ie.Msg)
		}
	}()
	if err := fn.validate(); err != nil {
		return nil, fmt.Errorf("function %s: %w", fn.name, err)
	}
	return fn, nil
}

func (fn *Function) checkShape() error {
	p := fn.params
	if p.NumParams < 0 || p.NumKwonly < 0 || p.NumKwonly > p.NumParams {
		return fmt.Errorf("bad parameter shape %+v", p)
	}
	nparams := p.NumParams
	if p.HasVarargs {
		nparams++
	}
	if p.HasKwargs {
		nparams++
	}
	if nparams > len(fn.locals) {
		return fmt.Errorf("%d parameters but only %d locals", nparams, len(fn.locals))
	}
	if fn.regCount < 0 || fn.regCount > MaxRegIndex+1 {
		return fmt.Errorf("register count %d out of range", fn.regCount)
	}
	if fn.regCount < len(fn.locals) {
		return fmt.Errorf("register count %d is smaller than %d locals", fn.regCount, len(fn.locals))
	}
	if fn.loopDepth < 0 {
		return fmt.Errorf("negative loop depth %d", fn.loopDepth)
	}
	if !sort.SliceIsSorted(fn.locs, func(i, j int) bool { return fn.locs[i].IP < fn.locs[j].IP }) {
		return fmt.Errorf("location table is not sorted by ip")
	}
	fn.paramIndex = make(map[string]int, p.NumParams)
	for i := 0; i < p.NumParams; i++ {
		fn.paramIndex[fn.locals[i].Name] = i
	}
	return nil
}

// validate walks the stream once, checking operands and allocating the
// per-site caches.
func (fn *Function) validate() error {
	starts := make(map[int]bool)
	var targets []int
	ip := 0
	for ip < len(fn.code) {
		starts[ip] = true
		op := Opcode(fn.code[ip])
		info, ok := op.Info()
		if !ok {
			return fmt.Errorf("unknown opcode %d at ip %d", int32(op), ip)
		}
		size := 1 + info.Operands.CodeSize(fn.code, ip+1)
		if ip+size > len(fn.code) {
			return fmt.Errorf("%s at ip %d runs past end of code", op, ip)
		}
		vals, next := info.Operands.Decode(fn.code, ip+1)
		if next != ip+size {
			invariant("%s at ip %d: decode consumed %d words, size is %d", op, ip, next-ip, size)
		}
		v := &operandChecker{fn: fn, op: op, ip: ip}
		v.check(info.Operands, vals)
		if v.err == nil {
			v.checkInstruction(vals.([]any))
		}
		if v.err != nil {
			return v.err
		}
		targets = append(targets, v.addrs...)

		switch op {
		case OpDot:
			fn.attrCaches[ip] = &AttrCache{}
		case OpCall:
			fn.callSites[ip] = &callSite{}
		}
		ip += size
	}
	for _, t := range targets {
		if t != len(fn.code) && !starts[t] {
			return fmt.Errorf("jump target @%d is not an instruction boundary", t)
		}
	}
	return nil
}

type operandChecker struct {
	fn    *Function
	op    Opcode
	ip    int
	addrs []int
	err   error
}

func (c *operandChecker) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%s at ip %d: %s", c.op, c.ip, fmt.Sprintf(format, args...))
	}
}

func (c *operandChecker) check(o *Operand, v any) {
	switch o.Kind {
	case KindFixed:
		vals := v.([]any)
		for i, e := range o.Elems {
			c.check(e, vals[i])
		}
	case KindLengthDelimited:
		for _, x := range v.([]any) {
			c.check(o.Elem, x)
		}
	case KindString:
		if i := int(v.(int32)); i < 0 || i >= len(c.fn.strings) {
			c.fail("string index %d out of range", i)
		}
	case KindObject:
		i := int(v.(int32))
		if i < 0 || i >= len(c.fn.objects) {
			c.fail("object index %d out of range", i)
			return
		}
		c.checkObject(c.fn.objects[i])
	case KindAddr:
		a := int(v.(int32))
		if a < 0 || a > len(c.fn.code) {
			c.fail("jump target @%d out of range", a)
			return
		}
		c.addrs = append(c.addrs, a)
	case KindTokenKind:
		if !v.(Token).valid() {
			c.fail("unknown token %d", int32(v.(Token)))
		}
	case KindInSlot:
		c.checkReg(v.(Reg))
	case KindOutSlot:
		r := v.(Reg)
		if r.Mode() == ModeConst {
			c.fail("output register %s is a constant", r)
			return
		}
		c.checkReg(r)
	case KindInLocal:
		r := v.(Reg)
		if m := r.Mode(); m != ModeLocal && m != ModeCell && m != ModeFree {
			c.fail("register %s is not a local or free variable", r)
			return
		}
		c.checkReg(r)
	case KindList:
		l := v.(ListOperand)
		if l.IsPooled() {
			if l.Pooled >= len(c.fn.objects) {
				c.fail("list object %d out of range", l.Pooled)
			} else if _, ok := c.fn.objects[l.Pooled].(Tuple); !ok {
				c.fail("list object %d is %T, want a constant tuple", l.Pooled, c.fn.objects[l.Pooled])
			}
			return
		}
		for _, r := range l.Regs {
			c.checkReg(r)
		}
	}
}

func (c *operandChecker) checkObject(obj any) {
	switch c.op {
	case OpCall:
		if _, ok := obj.(*CallSig); !ok {
			c.fail("object is %T, want call signature", obj)
		}
	case OpNewFunction:
		if _, ok := obj.(*Function); !ok {
			c.fail("object is %T, want function", obj)
		}
	}
}

// checkInstruction checks the relations between the operands of CALL and
// NEW_FUNCTION that the interpreter relies on. Each operand has already
// passed check.
func (c *operandChecker) checkInstruction(vals []any) {
	switch c.op {
	case OpCall:
		sig := c.fn.objects[vals[1].(int32)].(*CallSig)
		if sig.NumPositional < 0 {
			c.fail("call signature %s has negative positional count", sig)
			return
		}
		if n := c.listLen(vals[2].(ListOperand)); n != sig.NumArgs() {
			c.fail("call signature %s takes %d arguments, list has %d", sig, sig.NumArgs(), n)
		}
	case OpNewFunction:
		inner := c.fn.objects[vals[0].(int32)].(*Function)
		if n := c.listLen(vals[1].(ListOperand)); n > inner.params.NumParams {
			c.fail("%d defaults for %d parameters of %s", n, inner.params.NumParams, inner.name)
			return
		}
		cells := vals[2].([]any)
		if len(cells) != len(inner.freevars) {
			c.fail("%d cells for %d free variables of %s", len(cells), len(inner.freevars), inner.name)
			return
		}
		for _, x := range cells {
			if r := x.(Reg); r.Mode() == ModeLocal && !c.fn.isCaptured(r.Index()) {
				c.fail("register %s is not a captured local", r)
				return
			}
		}
	}
}

func (c *operandChecker) listLen(l ListOperand) int {
	if l.IsPooled() {
		return len(c.fn.objects[l.Pooled].(Tuple))
	}
	return len(l.Regs)
}

func (fn *Function) isCaptured(i int) bool {
	return i < len(fn.locals) && fn.locals[i].Captured
}

func (c *operandChecker) checkReg(r Reg) {
	i := r.Index()
	switch r.Mode() {
	case ModeLocal:
		if i >= c.fn.regCount {
			c.fail("register %s out of range (%d registers)", r, c.fn.regCount)
		}
	case ModeCell:
		if !c.fn.isCaptured(i) {
			c.fail("register %s is not a captured local", r)
		}
	case ModeFree:
		if i >= len(c.fn.freevars) {
			c.fail("register %s out of range (%d free variables)", r, len(c.fn.freevars))
		}
	case ModeConst:
		if i >= len(c.fn.consts) {
			c.fail("register %s out of range (%d constants)", r, len(c.fn.consts))
		}
	case ModeGlobal:
		if c.fn.module != nil && i >= len(c.fn.module.names) {
			c.fail("register %s out of range (%d globals)", r, len(c.fn.module.names))
		}
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Name returns the function name.
func (fn *Function) Name() string { return fn.name }

// Position returns the declaration position.
func (fn *Function) Position() Location { return fn.pos }

// Code returns a copy of the instruction stream.
func (fn *Function) Code() []int32 { return slices.Clone(fn.code) }

// Module returns the owning module, which may be nil.
func (fn *Function) Module() *Module { return fn.module }

// Params returns the parameter shape.
func (fn *Function) Params() Params { return fn.params }

// NumRegisters returns the register count of one activation.
func (fn *Function) NumRegisters() int { return fn.regCount }

// Locals returns a copy of the local variable bindings.
func (fn *Function) Locals() []Binding { return slices.Clone(fn.locals) }

// Freevars returns a copy of the free variable bindings.
func (fn *Function) Freevars() []Binding { return slices.Clone(fn.freevars) }

// ConstantResult returns the proven constant result, or nil.
func (fn *Function) ConstantResult() Value { return fn.constResult }

// ResultType returns the proven result type name, or "".
func (fn *Function) ResultType() string { return fn.resultType }

// Spec returns a copy of the construction parameters. Nested functions and
// the module are shared.
func (fn *Function) Spec() FunctionSpec {
	spec := FunctionSpec{
		Name:        fn.name,
		Pos:         fn.pos,
		Code:        fn.code,
		Strings:     fn.strings,
		Objects:     fn.objects,
		Consts:      fn.consts,
		Locals:      fn.locals,
		Freevars:    fn.freevars,
		Params:      fn.params,
		RegCount:    fn.regCount,
		LoopDepth:   fn.loopDepth,
		Locs:        fn.locs,
		Module:      fn.module,
		ConstResult: fn.constResult,
		ResultType:  fn.resultType,
	}
	return spec.clone()
}

// InstructionOpcodeAt returns the opcode of the instruction at ip.
func (fn *Function) InstructionOpcodeAt(ip int) Opcode {
	return Opcode(word(fn.code, ip))
}

// InstructionLengthAt returns the length in words of the instruction at ip,
// opcode included.
func (fn *Function) InstructionLengthAt(ip int) int {
	return 1 + fn.InstructionOpcodeAt(ip).Operands().CodeSize(fn.code, ip+1)
}

// LocationAt returns the source location stack active at ip, outermost
// first. Without a table entry the declaration position stands in.
func (fn *Function) LocationAt(ip int) []Location {
	return slices.Clone(fn.locationAt(ip))
}

func (fn *Function) locationAt(ip int) []Location {
	i := sort.Search(len(fn.locs), func(i int) bool { return fn.locs[i].IP > ip })
	if i == 0 {
		return []Location{fn.pos}
	}
	return fn.locs[i-1].Stack
}

func (fn *Function) String() string {
	return "<function " + fn.name + ">"
}
