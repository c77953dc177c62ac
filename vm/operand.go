package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Operand codec
// ---------------------------------------------------------------------------
//
// Every instruction is an opcode word followed by the words described by the
// opcode's operand descriptor. The descriptor is a small tree of Operand
// nodes; the interpreter and the disassembler walk the same stream with it,
// so CodeSize, Decode, Encode and Format must agree on word counts for every
// valid encoding.

// OperandKind enumerates the operand shapes.
type OperandKind uint8

const (
	KindNumber OperandKind = iota
	KindString
	KindObject
	KindInSlot
	KindOutSlot
	KindInLocal
	KindTokenKind
	KindAddr
	KindFixed
	KindLengthDelimited
	KindList
)

var operandKindNames = [...]string{
	KindNumber:          "NUMBER",
	KindString:          "STRING",
	KindObject:          "OBJECT",
	KindInSlot:          "IN_SLOT",
	KindOutSlot:         "OUT_SLOT",
	KindInLocal:         "IN_LOCAL",
	KindTokenKind:       "TOKEN_KIND",
	KindAddr:            "ADDR",
	KindFixed:           "FIXED",
	KindLengthDelimited: "LENGTH_DELIMITED",
	KindList:            "LIST",
}

func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return fmt.Sprintf("OperandKind(%d)", uint8(k))
}

// Operand describes the shape of one instruction operand.
type Operand struct {
	Kind  OperandKind
	Elems []*Operand // KindFixed: sub-operands in order
	Elem  *Operand   // KindLengthDelimited: repeated element
}

// Leaf operand descriptors.
var (
	Number    = &Operand{Kind: KindNumber}
	StringRef = &Operand{Kind: KindString}
	ObjectRef = &Operand{Kind: KindObject}
	InSlot    = &Operand{Kind: KindInSlot}
	OutSlot   = &Operand{Kind: KindOutSlot}
	InLocal   = &Operand{Kind: KindInLocal}
	TokenKind = &Operand{Kind: KindTokenKind}
	Addr      = &Operand{Kind: KindAddr}
	RegList   = &Operand{Kind: KindList}
)

// Fixed returns a descriptor for a tuple of heterogeneous operands.
func Fixed(ops ...*Operand) *Operand {
	return &Operand{Kind: KindFixed, Elems: ops}
}

// LengthDelimited returns a descriptor for a length word followed by that
// many repetitions of elem.
func LengthDelimited(elem *Operand) *Operand {
	return &Operand{Kind: KindLengthDelimited, Elem: elem}
}

// ListOperand is the decoded form of a LIST operand. Exactly one of Regs and
// Pooled is meaningful: Pooled >= 0 names an object-pool Tuple.
type ListOperand struct {
	Regs   []Reg
	Pooled int
}

// InlineList builds a ListOperand holding registers inline. An empty list
// always has nil Regs.
func InlineList(regs ...Reg) ListOperand {
	if len(regs) == 0 {
		regs = nil
	}
	return ListOperand{Regs: regs, Pooled: -1}
}

// PooledList builds a ListOperand referring to object-pool entry i.
func PooledList(i int) ListOperand {
	return ListOperand{Pooled: i}
}

// IsPooled reports whether the list lives out of line in the object pool.
func (l ListOperand) IsPooled() bool { return l.Pooled >= 0 }

func word(code []int32, ip int) int32 {
	if ip < 0 || ip >= len(code) {
		invariant("operand read at ip %d past end of %d-word stream", ip, len(code))
	}
	return code[ip]
}

// CodeSize returns the number of words this operand occupies starting at ip.
func (o *Operand) CodeSize(code []int32, ip int) int {
	switch o.Kind {
	case KindNumber, KindString, KindObject, KindInSlot, KindOutSlot,
		KindInLocal, KindTokenKind, KindAddr:
		return 1
	case KindFixed:
		n := 0
		for _, e := range o.Elems {
			n += e.CodeSize(code, ip+n)
		}
		return n
	case KindLengthDelimited:
		count := o.count(code, ip)
		n := 1
		for i := 0; i < count; i++ {
			n += o.Elem.CodeSize(code, ip+n)
		}
		return n
	case KindList:
		w := word(code, ip)
		if w < 0 {
			return 1
		}
		checkRemaining(code, ip, int(w), 1)
		return 1 + int(w)
	}
	invariant("unknown operand kind %d", o.Kind)
	return 0
}

// minSize is the fewest words any encoding of o can occupy.
func (o *Operand) minSize() int {
	if o.Kind == KindFixed {
		n := 0
		for _, e := range o.Elems {
			n += e.minSize()
		}
		return n
	}
	return 1
}

// count reads the length word of a LENGTH_DELIMITED operand at ip. A count
// that cannot fit in the rest of the stream is rejected before any element
// is visited.
func (o *Operand) count(code []int32, ip int) int {
	count := int(word(code, ip))
	if count < 0 {
		invariant("negative length %d at ip %d", count, ip)
	}
	checkRemaining(code, ip, count, max(o.Elem.minSize(), 1))
	return count
}

// checkRemaining rejects a length word at ip announcing count elements of
// at least width words each when fewer words follow it.
func checkRemaining(code []int32, ip, count, width int) {
	if count > (len(code)-ip-1)/width {
		invariant("length %d at ip %d runs past end of code", count, ip)
	}
}

// Decode reads the operand at ip and returns its value and the ip just past
// it. Values are int32 for NUMBER, STRING, OBJECT and ADDR, Reg for slots,
// Token for TOKEN_KIND, []any for FIXED and LENGTH_DELIMITED, and
// ListOperand for LIST.
func (o *Operand) Decode(code []int32, ip int) (any, int) {
	switch o.Kind {
	case KindNumber, KindString, KindObject, KindAddr:
		return word(code, ip), ip + 1
	case KindInSlot, KindOutSlot, KindInLocal:
		r := Reg(word(code, ip))
		r.Mode() // rejects unassigned patterns
		return r, ip + 1
	case KindTokenKind:
		return Token(word(code, ip)), ip + 1
	case KindFixed:
		vals := make([]any, len(o.Elems))
		for i, e := range o.Elems {
			vals[i], ip = e.Decode(code, ip)
		}
		return vals, ip
	case KindLengthDelimited:
		count := o.count(code, ip)
		ip++
		vals := make([]any, count)
		for i := range vals {
			vals[i], ip = o.Elem.Decode(code, ip)
		}
		return vals, ip
	case KindList:
		w := word(code, ip)
		ip++
		if w < 0 {
			return PooledList(int(-w - 1)), ip
		}
		checkRemaining(code, ip-1, int(w), 1)
		var regs []Reg
		if w > 0 {
			regs = make([]Reg, w)
		}
		for i := range regs {
			regs[i] = Reg(word(code, ip))
			regs[i].Mode()
			ip++
		}
		return InlineList(regs...), ip
	}
	invariant("unknown operand kind %d", o.Kind)
	return nil, ip
}

// Encode appends the encoding of v to dst.
func (o *Operand) Encode(dst []int32, v any) ([]int32, error) {
	switch o.Kind {
	case KindNumber, KindString, KindObject, KindAddr:
		w, ok := asWord(v)
		if !ok {
			return dst, fmt.Errorf("%s operand: want integer, got %T", o.Kind, v)
		}
		return append(dst, w), nil
	case KindInSlot, KindOutSlot, KindInLocal:
		r, ok := v.(Reg)
		if !ok {
			return dst, fmt.Errorf("%s operand: want Reg, got %T", o.Kind, v)
		}
		return append(dst, int32(r)), nil
	case KindTokenKind:
		t, ok := v.(Token)
		if !ok || !t.valid() {
			return dst, fmt.Errorf("%s operand: want Token, got %v", o.Kind, v)
		}
		return append(dst, int32(t)), nil
	case KindFixed:
		vals, ok := v.([]any)
		if !ok || len(vals) != len(o.Elems) {
			return dst, fmt.Errorf("FIXED operand: want %d values, got %v", len(o.Elems), v)
		}
		var err error
		for i, e := range o.Elems {
			if dst, err = e.Encode(dst, vals[i]); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindLengthDelimited:
		vals, ok := v.([]any)
		if !ok {
			return dst, fmt.Errorf("LENGTH_DELIMITED operand: want []any, got %T", v)
		}
		dst = append(dst, int32(len(vals)))
		var err error
		for _, x := range vals {
			if dst, err = o.Elem.Encode(dst, x); err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindList:
		l, ok := v.(ListOperand)
		if !ok {
			return dst, fmt.Errorf("LIST operand: want ListOperand, got %T", v)
		}
		if l.IsPooled() {
			return append(dst, int32(-l.Pooled-1)), nil
		}
		dst = append(dst, int32(len(l.Regs)))
		for _, r := range l.Regs {
			dst = append(dst, int32(r))
		}
		return dst, nil
	}
	return dst, fmt.Errorf("unknown operand kind %d", o.Kind)
}

func asWord(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if int(int32(x)) != x {
			return 0, false
		}
		return int32(x), true
	}
	return 0, false
}

// Format renders the operand at ip into sb, resolving pool references
// through fn, and returns the ip just past it.
func (o *Operand) Format(sb *strings.Builder, fn *Function, code []int32, ip int) int {
	switch o.Kind {
	case KindNumber:
		sb.WriteString(strconv.Itoa(int(word(code, ip))))
		return ip + 1
	case KindString:
		i := int(word(code, ip))
		if fn != nil && i >= 0 && i < len(fn.strings) {
			sb.WriteString(strconv.Quote(fn.strings[i]))
		} else {
			fmt.Fprintf(sb, "str#%d", i)
		}
		return ip + 1
	case KindObject:
		i := int(word(code, ip))
		if fn != nil && i >= 0 && i < len(fn.objects) {
			sb.WriteString(objectString(fn.objects[i]))
		} else {
			fmt.Fprintf(sb, "obj#%d", i)
		}
		return ip + 1
	case KindInSlot, KindOutSlot, KindInLocal:
		sb.WriteString(formatReg(Reg(word(code, ip)), fn))
		return ip + 1
	case KindTokenKind:
		sb.WriteString(Token(word(code, ip)).String())
		return ip + 1
	case KindAddr:
		fmt.Fprintf(sb, "@%d", word(code, ip))
		return ip + 1
	case KindFixed:
		for i, e := range o.Elems {
			if i > 0 {
				sb.WriteByte(' ')
			}
			ip = e.Format(sb, fn, code, ip)
		}
		return ip
	case KindLengthDelimited:
		count := int(word(code, ip))
		ip++
		sb.WriteByte('[')
		for i := 0; i < count; i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			ip = o.Elem.Format(sb, fn, code, ip)
		}
		sb.WriteByte(']')
		return ip
	case KindList:
		w := word(code, ip)
		ip++
		sb.WriteByte('[')
		if w < 0 {
			i := int(-w - 1)
			if fn != nil && i < len(fn.objects) {
				if t, ok := fn.objects[i].(Tuple); ok {
					for j, x := range t {
						if j > 0 {
							sb.WriteByte(' ')
						}
						sb.WriteString("=" + Repr(x))
					}
				}
			} else {
				fmt.Fprintf(sb, "obj#%d", i)
			}
		} else {
			for j := 0; j < int(w); j++ {
				if j > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(formatReg(Reg(word(code, ip)), fn))
				ip++
			}
		}
		sb.WriteByte(']')
		return ip
	}
	invariant("unknown operand kind %d", o.Kind)
	return ip
}

// String describes the operand shape, e.g. "FIXED(IN_SLOT, OUT_SLOT)".
func (o *Operand) String() string {
	switch o.Kind {
	case KindFixed:
		parts := make([]string, len(o.Elems))
		for i, e := range o.Elems {
			parts[i] = e.String()
		}
		return "FIXED(" + strings.Join(parts, ", ") + ")"
	case KindLengthDelimited:
		return "LENGTH_DELIMITED(" + o.Elem.String() + ")"
	}
	return o.Kind.String()
}

func objectString(obj any) string {
	switch x := obj.(type) {
	case *Function:
		return "<function " + x.name + ">"
	case *CallSig:
		return x.String()
	case Tuple:
		return Repr(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", obj)
}
