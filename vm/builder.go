package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Builder: assembles a Function
// ---------------------------------------------------------------------------

// Builder assembles an instruction stream and its pools. It interns strings
// and hashable constants, patches jump labels, tracks loop nesting, and
// records source locations. A Builder is not safe for concurrent use.
type Builder struct {
	spec     FunctionSpec
	strIndex map[string]int32
	constIdx map[string]int
	labels   []*Label

	loops int
	err   error
}

// NewBuilder creates a builder for a function called name.
func NewBuilder(name string) *Builder {
	return &Builder{
		spec:     FunctionSpec{Name: name, Code: make([]int32, 0, 32)},
		strIndex: make(map[string]int32),
		constIdx: make(map[string]int),
	}
}

// Len returns the current length of the stream, which is the ip of the
// next emitted instruction.
func (b *Builder) Len() int {
	return len(b.spec.Code)
}

// SetPosition sets the declaration position.
func (b *Builder) SetPosition(pos Location) { b.spec.Pos = pos }

// SetModule sets the owning module.
func (b *Builder) SetModule(m *Module) { b.spec.Module = m }

// SetParams sets the parameter shape. Parameters must be declared as the
// first locals, in order.
func (b *Builder) SetParams(p Params) { b.spec.Params = p }

// SetConstResult records a proven constant result.
func (b *Builder) SetConstResult(v Value) { b.spec.ConstResult = v }

// SetResultType records a proven result type name.
func (b *Builder) SetResultType(name string) { b.spec.ResultType = name }

// ---------------------------------------------------------------------------
// Registers and pools
// ---------------------------------------------------------------------------

// Local declares a local variable and returns its register. Locals must be
// declared before any Temp.
func (b *Builder) Local(name string) Reg {
	return LocalReg(b.declare(name, false))
}

// CellLocal declares a local that nested functions capture.
func (b *Builder) CellLocal(name string) Reg {
	return CellReg(b.declare(name, true))
}

func (b *Builder) declare(name string, captured bool) int {
	if b.spec.RegCount > len(b.spec.Locals) {
		b.setErr(fmt.Errorf("local %s declared after temporaries", name))
	}
	b.spec.Locals = append(b.spec.Locals, Binding{Name: name, Pos: b.spec.Pos, Captured: captured})
	b.grow(len(b.spec.Locals))
	return len(b.spec.Locals) - 1
}

// Temp allocates an unnamed scratch register.
func (b *Builder) Temp() Reg {
	n := b.spec.RegCount
	b.grow(n + 1)
	return LocalReg(n)
}

func (b *Builder) grow(n int) {
	if n > b.spec.RegCount {
		b.spec.RegCount = n
	}
}

// Free declares a free variable and returns its register.
func (b *Builder) Free(name string) Reg {
	b.spec.Freevars = append(b.spec.Freevars, Binding{Name: name, Pos: b.spec.Pos})
	return FreeReg(len(b.spec.Freevars) - 1)
}

// Const interns v in the constant-register pool.
func (b *Builder) Const(v Value) Reg {
	key, err := hashKey(v)
	if err == nil {
		key = v.Type().Name + ":" + key
		if i, ok := b.constIdx[key]; ok {
			return ConstReg(i)
		}
		b.constIdx[key] = len(b.spec.Consts)
	}
	b.spec.Consts = append(b.spec.Consts, v)
	return ConstReg(len(b.spec.Consts) - 1)
}

// String interns s in the string pool.
func (b *Builder) String(s string) int32 {
	if i, ok := b.strIndex[s]; ok {
		return i
	}
	i := int32(len(b.spec.Strings))
	b.spec.Strings = append(b.spec.Strings, s)
	b.strIndex[s] = i
	return i
}

// Object appends obj to the object pool.
func (b *Builder) Object(obj any) int32 {
	b.spec.Objects = append(b.spec.Objects, obj)
	return int32(len(b.spec.Objects) - 1)
}

// Sig appends a call signature to the object pool.
func (b *Builder) Sig(numPositional int, names ...string) int32 {
	return b.Object(&CallSig{NumPositional: numPositional, Names: names})
}

// ConstList returns an out-of-line LIST operand for a constant tuple.
func (b *Builder) ConstList(t Tuple) ListOperand {
	return PooledList(int(b.Object(t)))
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Emit appends an instruction. Operands are given in descriptor order:
// int or int32 for NUMBER, STRING, OBJECT; Reg for slots; Token; an ADDR
// is an int or a *Label; []any for nested FIXED and LENGTH_DELIMITED
// operands; ListOperand for LIST. The first encoding error is kept and
// reported by Build.
func (b *Builder) Emit(op Opcode, operands ...any) {
	info, ok := op.Info()
	if !ok {
		b.setErr(fmt.Errorf("emit: unknown opcode %d", int32(op)))
		return
	}
	desc := info.Operands
	if len(operands) != len(desc.Elems) {
		b.setErr(fmt.Errorf("emit %s: got %d operands, want %d", op, len(operands), len(desc.Elems)))
		return
	}
	start := len(b.spec.Code)
	code := append(b.spec.Code, int32(op))
	var err error
	for i, elem := range desc.Elems {
		v := operands[i]
		if l, ok := v.(*Label); ok && elem.Kind == KindAddr {
			if l.resolved {
				v = int32(l.target)
			} else {
				l.refs = append(l.refs, len(code))
				v = int32(0)
			}
		}
		if code, err = elem.Encode(code, v); err != nil {
			b.spec.Code = code[:start]
			b.setErr(fmt.Errorf("emit %s at ip %d: %w", op, start, err))
			return
		}
	}
	b.spec.Code = code

	if op == OpForInit {
		b.loops++
		if b.loops > b.spec.LoopDepth {
			b.spec.LoopDepth = b.loops
		}
	}
}

// EndLoop closes the innermost loop opened by a FOR_INIT.
func (b *Builder) EndLoop() {
	if b.loops == 0 {
		b.setErr(fmt.Errorf("EndLoop without FOR_INIT"))
		return
	}
	b.loops--
}

// SetLocation records the source location stack, outermost first, for
// instructions emitted from now on.
func (b *Builder) SetLocation(stack ...Location) {
	ip := len(b.spec.Code)
	if n := len(b.spec.Locs); n > 0 && b.spec.Locs[n-1].IP == ip {
		b.spec.Locs[n-1].Stack = stack
		return
	}
	b.spec.Locs = append(b.spec.Locs, LocEntry{IP: ip, Stack: stack})
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is marked.
type Label struct {
	resolved bool
	target   int
	refs     []int // code positions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{refs: make([]int, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position and patches every
// reference emitted so far.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		b.setErr(fmt.Errorf("label marked twice"))
		return
	}
	l.resolved = true
	l.target = len(b.spec.Code)
	for _, ref := range l.refs {
		b.spec.Code[ref] = int32(l.target)
	}
	l.refs = nil
}

// Build validates the assembled function.
func (b *Builder) Build() (*Function, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("function %s: jump to unmarked label", b.spec.Name)
		}
	}
	if b.loops != 0 {
		return nil, fmt.Errorf("function %s: %d unclosed loops", b.spec.Name, b.loops)
	}
	return NewFunction(b.spec)
}
