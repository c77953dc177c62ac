package vm

import (
	"encoding/binary"
	"reflect"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzOperandRoundTrip: every descriptor tree and conforming value must
// encode to CodeSize words, decode back to itself, and format in exactly
// the same number of words.
// ---------------------------------------------------------------------------

// fuzzBytes hands out fuzz input one piece at a time, yielding zeros once
// the input is exhausted.
type fuzzBytes struct {
	data []byte
}

func (b *fuzzBytes) next() byte {
	if len(b.data) == 0 {
		return 0
	}
	c := b.data[0]
	b.data = b.data[1:]
	return c
}

func (b *fuzzBytes) word() int32 {
	var buf [4]byte
	for i := range buf {
		buf[i] = b.next()
	}
	return int32(binary.LittleEndian.Uint32(buf[:]))
}

func (b *fuzzBytes) reg() Reg {
	i := int(b.next())
	switch b.next() % 6 {
	case 0:
		return LocalReg(i)
	case 1:
		return GlobalReg(i)
	case 2:
		return CellReg(i)
	case 3:
		return FreeReg(i)
	case 4:
		return ConstReg(i)
	}
	return NullReg
}

// descriptor builds an operand tree at most depth levels deep. FIXED nodes
// always have at least one element.
func (b *fuzzBytes) descriptor(depth int) *Operand {
	leaves := []*Operand{Number, StringRef, ObjectRef, InSlot, OutSlot, InLocal, TokenKind, Addr, RegList}
	k := int(b.next())
	if depth <= 0 || k%4 != 0 {
		return leaves[k%len(leaves)]
	}
	if b.next()%2 == 0 {
		return LengthDelimited(b.descriptor(depth - 1))
	}
	elems := make([]*Operand, 1+int(b.next()%3))
	for i := range elems {
		elems[i] = b.descriptor(depth - 1)
	}
	return Fixed(elems...)
}

// value builds a value that o can encode.
func (b *fuzzBytes) value(o *Operand) any {
	switch o.Kind {
	case KindNumber, KindString, KindObject, KindAddr:
		return b.word()
	case KindInSlot, KindOutSlot, KindInLocal:
		return b.reg()
	case KindTokenKind:
		return Token(int(b.next()) % int(numTokens))
	case KindList:
		n := int(b.next())
		if n%5 == 4 {
			return PooledList(n)
		}
		regs := make([]Reg, n%5)
		for i := range regs {
			regs[i] = b.reg()
		}
		return InlineList(regs...)
	case KindFixed:
		vals := make([]any, len(o.Elems))
		for i, e := range o.Elems {
			vals[i] = b.value(e)
		}
		return vals
	case KindLengthDelimited:
		vals := make([]any, b.next()%4)
		for i := range vals {
			vals[i] = b.value(o.Elem)
		}
		return vals
	}
	return nil
}

func FuzzOperandRoundTrip(f *testing.F) {
	seeds := [][]byte{
		{},
		{0},
		{4, 0, 1, 8, 8},
		{4, 1, 3, 3, 3, 3, 2, 1, 2, 1, 0, 0},
		{8, 0, 4, 1, 2, 9, 9, 9, 9, 3, 7, 7},
		{0, 0, 0, 0, 255, 255, 255, 127},
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		in := &fuzzBytes{data: data}
		desc := in.descriptor(3)
		value := in.value(desc)

		words, err := desc.Encode(nil, value)
		if err != nil {
			t.Fatalf("Encode(%s, %#v): %v", desc, value, err)
		}
		code := append([]int32{99}, words...)
		code = append(code, 77)

		if got := desc.CodeSize(code, 1); got != len(words) {
			t.Fatalf("%s: CodeSize = %d, want %d", desc, got, len(words))
		}
		got, next := desc.Decode(code, 1)
		if next != 1+len(words) {
			t.Errorf("%s: Decode next = %d, want %d", desc, next, 1+len(words))
		}
		if !reflect.DeepEqual(got, value) {
			t.Errorf("%s: Decode = %#v, want %#v", desc, got, value)
		}
		var sb strings.Builder
		if end := desc.Format(&sb, nil, code, 1); end != 1+len(words) {
			t.Errorf("%s: Format consumed %d words, want %d", desc, end-1, len(words))
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzNewFunction: construction rejects bad streams with an error and never
// panics.
// ---------------------------------------------------------------------------

func FuzzNewFunction(f *testing.F) {
	l0 := int32(LocalReg(0))
	seeds := [][]int32{
		{},
		{int32(OpReturn), l0},
		{int32(OpMov), int32(ConstReg(0)), l0},
		{int32(OpUnpack), l0, 1 << 30},
		{int32(OpList), 1 << 30, l0},
		{int32(OpCall), l0, 0, 1, l0, l0},
		{int32(OpNewFunction), 1, 0, 1, int32(CellReg(0)), l0},
		{int32(OpDict), 1, l0, l0, l0},
		{int32(OpLoad), 0, 1, 0, l0},
		{int32(OpBr), 2, int32(OpForInit), l0, l0, 0},
	}
	for _, s := range seeds {
		buf := make([]byte, 4*len(s))
		for i, w := range s {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(w))
		}
		f.Add(buf)
	}

	inner, err := NewFunction(FunctionSpec{Name: "inner", Freevars: []Binding{{Name: "n"}}})
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		code := make([]int32, len(data)/4)
		for i := range code {
			code[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
		}
		spec := FunctionSpec{
			Name:     "fuzz",
			Code:     code,
			Strings:  []string{"s"},
			Objects:  []any{&CallSig{NumPositional: 1}, inner, Tuple{Int(1)}},
			Consts:   []Value{Int(1)},
			Locals:   []Binding{{Name: "n", Captured: true}, {Name: "x"}},
			Freevars: []Binding{{Name: "y"}},
			RegCount: 3,
			Module:   NewModule("m", []string{"g"}, nil),
		}
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("NewFunction panicked on %v: %v", code, r)
			}
		}()
		fn, err := NewFunction(spec)
		if err != nil {
			return
		}
		// Anything accepted must disassemble cleanly.
		fn.Disassemble()
	})
}
