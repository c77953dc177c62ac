package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the first word of every instruction.
type Opcode int32

// Moves and constants
const (
	OpNop     Opcode = iota // no operation
	OpMov                   // in -> out
	OpLoadInt               // NUMBER immediate -> out
)

// Operators
const (
	OpUnary  Opcode = iota + 0x10 // token, in -> out
	OpBinary                      // token, lhs, rhs -> out
	OpTypeIs                      // in, type name -> out (bool)
)

// Control flow
const (
	OpBr       Opcode = iota + 0x20 // unconditional jump
	OpIfBr                          // jump if truthy
	OpIfNotBr                       // jump if falsy
	OpForInit                       // start iteration; jump to end if empty
	OpContinue                      // advance innermost iterator
	OpBreak                         // pop innermost iterator and jump
	OpReturn                        // return in
)

// Collections
const (
	OpList       Opcode = iota + 0x30 // LIST -> new list
	OpTuple                           // LIST -> new tuple
	OpDict                            // key/value pairs -> new dict
	OpListAppend                      // list, item
	OpIndex                           // x, key -> out
	OpSetIndex                        // x, key, value
	OpUnpack                          // sequence -> outs
)

// Attributes, calls, functions, modules
const (
	OpDot         Opcode = iota + 0x40 // receiver, name -> out (inline cached)
	OpCall                             // fn, sig, args -> out (linked per site)
	OpNewFunction                      // function, defaults, cells -> out
	OpLoad                             // module, (name, out)...
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string   // mnemonic used by the disassembler
	Operands *Operand // shape of the words following the opcode
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:     {"NOP", Fixed()},
	OpMov:     {"MOV", Fixed(InSlot, OutSlot)},
	OpLoadInt: {"LOAD_INT", Fixed(Number, OutSlot)},

	OpUnary:  {"UNARY", Fixed(TokenKind, InSlot, OutSlot)},
	OpBinary: {"BINARY", Fixed(TokenKind, InSlot, InSlot, OutSlot)},
	OpTypeIs: {"TYPE_IS", Fixed(InSlot, StringRef, OutSlot)},

	OpBr:       {"BR", Fixed(Addr)},
	OpIfBr:     {"IF_BR", Fixed(InSlot, Addr)},
	OpIfNotBr:  {"IF_NOT_BR", Fixed(InSlot, Addr)},
	OpForInit:  {"FOR_INIT", Fixed(InSlot, OutSlot, Addr)},
	OpContinue: {"CONTINUE", Fixed(OutSlot, Addr, Addr)},
	OpBreak:    {"BREAK", Fixed(Addr)},
	OpReturn:   {"RETURN", Fixed(InSlot)},

	OpList:       {"LIST", Fixed(RegList, OutSlot)},
	OpTuple:      {"TUPLE", Fixed(RegList, OutSlot)},
	OpDict:       {"DICT", Fixed(LengthDelimited(Fixed(InSlot, InSlot)), OutSlot)},
	OpListAppend: {"LIST_APPEND", Fixed(InSlot, InSlot)},
	OpIndex:      {"INDEX", Fixed(InSlot, InSlot, OutSlot)},
	OpSetIndex:   {"SET_INDEX", Fixed(InSlot, InSlot, InSlot)},
	OpUnpack:     {"UNPACK", Fixed(InSlot, LengthDelimited(OutSlot))},

	OpDot:         {"DOT", Fixed(InSlot, StringRef, OutSlot)},
	OpCall:        {"CALL", Fixed(InSlot, ObjectRef, RegList, OutSlot)},
	OpNewFunction: {"NEW_FUNCTION", Fixed(ObjectRef, RegList, LengthDelimited(InLocal), OutSlot)},
	OpLoad:        {"LOAD", Fixed(StringRef, LengthDelimited(Fixed(StringRef, OutSlot)))},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN_%02X", int32(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// Operands returns the operand descriptor, panicking for unknown opcodes.
func (op Opcode) Operands() *Operand {
	info, ok := opcodeTable[op]
	if !ok {
		invariant("unknown opcode %d", int32(op))
	}
	return info.Operands
}

// Opcodes returns every defined opcode, in no particular order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		ops = append(ops, op)
	}
	return ops
}
