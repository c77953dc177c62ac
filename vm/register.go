package vm

import "fmt"

// ---------------------------------------------------------------------------
// Reg: register/slot addressing
// ---------------------------------------------------------------------------

// Reg identifies a storage location within a function activation. The
// addressing mode lives in bits 28..30 and the index in bits 0..27; the sign
// bit is always clear.
type Reg int32

// AddrMode is the addressing mode encoded in a Reg.
type AddrMode uint8

const (
	ModeLocal  AddrMode = 0 // function-local variable
	ModeGlobal AddrMode = 1 // module-level binding
	ModeCell   AddrMode = 2 // local captured by a nested closure
	ModeFree   AddrMode = 3 // captured variable read inside the closure
	ModeConst  AddrMode = 4 // constant-register table
	ModeNull   AddrMode = 5 // no value
)

const (
	regModeShift = 28
	regModeMask  = 0x7 << regModeShift
	regIndexMask = 1<<regModeShift - 1

	// MaxRegIndex is the largest index representable in a Reg.
	MaxRegIndex = regIndexMask
)

// NullReg is the canonical NULL slot. Writes to it are discarded.
const NullReg = Reg(int32(ModeNull) << regModeShift)

func makeReg(mode AddrMode, index int) Reg {
	if index < 0 || index > MaxRegIndex {
		invariant("register index %d out of range", index)
	}
	return Reg(int32(mode)<<regModeShift | int32(index))
}

// LocalReg addresses local variable i.
func LocalReg(i int) Reg { return makeReg(ModeLocal, i) }

// GlobalReg addresses module global i.
func GlobalReg(i int) Reg { return makeReg(ModeGlobal, i) }

// CellReg addresses local i, which holds a cell shared with nested closures.
func CellReg(i int) Reg { return makeReg(ModeCell, i) }

// FreeReg addresses free variable i of the running closure.
func FreeReg(i int) Reg { return makeReg(ModeFree, i) }

// ConstReg addresses constant-register i.
func ConstReg(i int) Reg { return makeReg(ModeConst, i) }

// Mode returns the addressing mode. Unassigned bit patterns panic.
func (r Reg) Mode() AddrMode {
	if r < 0 {
		invariant("register word %#x has the sign bit set", uint32(r))
	}
	m := AddrMode((int32(r) & regModeMask) >> regModeShift)
	if m > ModeNull {
		invariant("register word %#x has unassigned addressing mode %d", uint32(r), m)
	}
	return m
}

// Index returns the index part of the register.
func (r Reg) Index() int {
	return int(int32(r) & regIndexMask)
}

// IsNull reports whether r is a NULL slot.
func (r Reg) IsNull() bool {
	return r.Mode() == ModeNull
}

func (m AddrMode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeGlobal:
		return "global"
	case ModeCell:
		return "cell"
	case ModeFree:
		return "free"
	case ModeConst:
		return "const"
	case ModeNull:
		return "null"
	}
	return fmt.Sprintf("AddrMode(%d)", uint8(m))
}

// String renders the register without constant-pool context.
func (r Reg) String() string {
	return formatReg(r, nil)
}

// formatReg renders r with its mode prefix. Constants are dereferenced
// through fn when available.
func formatReg(r Reg, fn *Function) string {
	switch r.Mode() {
	case ModeLocal:
		return fmt.Sprintf("l$%d", r.Index())
	case ModeGlobal:
		return fmt.Sprintf("g$%d", r.Index())
	case ModeCell:
		return fmt.Sprintf("c$%d", r.Index())
	case ModeFree:
		return fmt.Sprintf("f$%d", r.Index())
	case ModeConst:
		if fn != nil && r.Index() < len(fn.consts) {
			return "=" + Repr(fn.consts[r.Index()])
		}
		return fmt.Sprintf("=%d", r.Index())
	default:
		return "=null"
	}
}
