package vm

import (
	"strconv"
	"strings"
)

// Disassemble renders the instruction stream, one "<ip>: <OPCODE> <operands>"
// line per instruction, followed by "<len>: EOF". The format is stable;
// tools and tests compare it byte for byte.
func (fn *Function) Disassemble() string {
	var sb strings.Builder
	ip := 0
	for ip < len(fn.code) {
		ip = fn.disassembleInstruction(&sb, ip)
	}
	sb.WriteString(strconv.Itoa(len(fn.code)))
	sb.WriteString(": EOF\n")
	return sb.String()
}

// DisassembleInstruction renders the single instruction at ip, without the
// trailing newline, and returns the ip of the next instruction.
func (fn *Function) DisassembleInstruction(ip int) (string, int) {
	var sb strings.Builder
	next := fn.disassembleInstruction(&sb, ip)
	return strings.TrimSuffix(sb.String(), "\n"), next
}

func (fn *Function) disassembleInstruction(sb *strings.Builder, ip int) int {
	op := fn.InstructionOpcodeAt(ip)
	operands := op.Operands()
	size := operands.CodeSize(fn.code, ip+1)

	sb.WriteString(strconv.Itoa(ip))
	sb.WriteString(": ")
	sb.WriteString(op.Name())
	if len(operands.Elems) > 0 {
		sb.WriteByte(' ')
	}
	next := operands.Format(sb, fn, fn.code, ip+1)
	if next != ip+1+size {
		invariant("%s at ip %d: formatted %d operand words, size is %d", op, ip, next-ip-1, size)
	}
	sb.WriteByte('\n')
	return next
}
