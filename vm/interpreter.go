package vm

import (
	"fmt"
	"strings"
)

// activation is the register file of one running closure.
type activation struct {
	fn     *Function
	c      *Closure
	locals []Value
}

func (a *activation) regName(r Reg) string {
	i := r.Index()
	switch r.Mode() {
	case ModeLocal, ModeCell:
		if i < len(a.fn.locals) {
			return a.fn.locals[i].Name
		}
		return fmt.Sprintf("temporary %d", i)
	case ModeFree:
		return a.fn.freevars[i].Name
	case ModeGlobal:
		if a.fn.module != nil {
			return a.fn.module.names[i]
		}
	}
	return r.String()
}

func (a *activation) cellAt(i int) *cell {
	c, ok := a.locals[i].(*cell)
	if !ok {
		invariant("%s: register c$%d does not hold a cell", a.fn.name, i)
	}
	return c
}

func (a *activation) freeAt(i int) *cell {
	c, ok := a.c.freevars[i].(*cell)
	if !ok {
		invariant("%s: free variable %d is not a cell", a.fn.name, i)
	}
	return c
}

// get reads an input register.
func (a *activation) get(w int32) (Value, error) {
	r := Reg(w)
	i := r.Index()
	var v Value
	switch r.Mode() {
	case ModeLocal:
		v = a.locals[i]
	case ModeCell:
		v = a.cellAt(i).v
	case ModeFree:
		v = a.freeAt(i).v
	case ModeConst:
		return a.fn.consts[i], nil
	case ModeGlobal:
		if a.fn.module == nil {
			return nil, fmt.Errorf("%s: global %s read without a module", a.fn.name, r)
		}
		return a.fn.module.getGlobal(i)
	case ModeNull:
		invariant("%s: read of the null register", a.fn.name)
	}
	if v == nil {
		return nil, fmt.Errorf("local variable %s referenced before assignment", a.regName(r))
	}
	return v, nil
}

// getOptional reads a register that may be NULL, yielding nil.
func (a *activation) getOptional(w int32) (Value, error) {
	if Reg(w).IsNull() {
		return nil, nil
	}
	return a.get(w)
}

// set writes an output register. Writes to NULL are discarded.
func (a *activation) set(w int32, v Value) error {
	r := Reg(w)
	i := r.Index()
	switch r.Mode() {
	case ModeLocal:
		a.locals[i] = v
	case ModeCell:
		a.cellAt(i).v = v
	case ModeFree:
		a.freeAt(i).v = v
	case ModeGlobal:
		if a.fn.module == nil {
			return fmt.Errorf("%s: global %s written without a module", a.fn.name, r)
		}
		return a.fn.module.setGlobal(i, v)
	case ModeConst:
		invariant("%s: write to constant register %s", a.fn.name, r)
	case ModeNull:
	}
	return nil
}

// list reads a LIST operand at pos and returns the values and the position
// after it. Pooled lists are copied so the result may be handed over.
func (a *activation) list(code []int32, pos int, allowNull bool) ([]Value, int, error) {
	w := code[pos]
	pos++
	if w < 0 {
		t := a.fn.objects[-w-1].(Tuple)
		return append([]Value(nil), t...), pos, nil
	}
	vals := make([]Value, w)
	for i := range vals {
		var err error
		if allowNull {
			vals[i], err = a.getOptional(code[pos])
		} else {
			vals[i], err = a.get(code[pos])
		}
		if err != nil {
			return nil, pos, err
		}
		pos++
	}
	return vals, pos, nil
}

// interpret runs the body of c in fr. locals holds the bound parameters and
// has one slot per register.
func (th *Thread) interpret(fr *Frame, c *Closure, locals []Value) (Value, error) {
	fn := c.fn
	code := fn.code
	a := &activation{fn: fn, c: c, locals: locals}
	for i, b := range fn.locals {
		if b.Captured {
			locals[i] = &cell{v: locals[i]}
		}
	}

	iters := make([]Iterator, 0, fn.loopDepth)
	defer func() {
		for _, it := range iters {
			it.Done()
		}
	}()

	ip := 0
	for {
		if ip >= len(code) {
			return None, nil
		}
		fr.ip = ip
		if err := th.step(); err != nil {
			return nil, err
		}

		op := Opcode(code[ip])
		switch op {
		case OpNop:
			ip++

		case OpMov:
			v, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			if err := a.set(code[ip+2], v); err != nil {
				return nil, err
			}
			ip += 3

		case OpLoadInt:
			if err := a.set(code[ip+2], Int(code[ip+1])); err != nil {
				return nil, err
			}
			ip += 3

		// --- Operators ---
		case OpUnary:
			x, err := a.get(code[ip+2])
			if err != nil {
				return nil, err
			}
			z, err := Unary(Token(code[ip+1]), x)
			if err != nil {
				return nil, err
			}
			if err := a.set(code[ip+3], z); err != nil {
				return nil, err
			}
			ip += 4

		case OpBinary:
			x, err := a.get(code[ip+2])
			if err != nil {
				return nil, err
			}
			y, err := a.get(code[ip+3])
			if err != nil {
				return nil, err
			}
			z, err := Binary(th, Token(code[ip+1]), x, y)
			if err != nil {
				return nil, err
			}
			if err := a.set(code[ip+4], z); err != nil {
				return nil, err
			}
			ip += 5

		case OpTypeIs:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			is := Bool(x.Type().Name == fn.strings[code[ip+2]])
			if err := a.set(code[ip+3], is); err != nil {
				return nil, err
			}
			ip += 4

		// --- Control flow ---
		case OpBr:
			ip = int(code[ip+1])

		case OpIfBr, OpIfNotBr:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			if x.Truth() == (op == OpIfBr) {
				ip = int(code[ip+2])
			} else {
				ip += 3
			}

		case OpForInit:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			it, err := Iterate(x)
			if err != nil {
				return nil, err
			}
			var elem Value
			if !it.Next(&elem) {
				it.Done()
				ip = int(code[ip+3])
				break
			}
			if len(iters) == fn.loopDepth {
				it.Done()
				invariant("%s: loop nesting exceeds declared depth %d", fn.name, fn.loopDepth)
			}
			iters = append(iters, it)
			if err := a.set(code[ip+2], elem); err != nil {
				return nil, err
			}
			ip += 4

		case OpContinue:
			if len(iters) == 0 {
				invariant("%s: CONTINUE outside a loop at ip %d", fn.name, ip)
			}
			it := iters[len(iters)-1]
			var elem Value
			if it.Next(&elem) {
				if err := a.set(code[ip+1], elem); err != nil {
					return nil, err
				}
				ip = int(code[ip+2])
			} else {
				it.Done()
				iters = iters[:len(iters)-1]
				ip = int(code[ip+3])
			}

		case OpBreak:
			if len(iters) == 0 {
				invariant("%s: BREAK outside a loop at ip %d", fn.name, ip)
			}
			iters[len(iters)-1].Done()
			iters = iters[:len(iters)-1]
			ip = int(code[ip+1])

		case OpReturn:
			return a.get(code[ip+1])

		// --- Collections ---
		case OpList, OpTuple:
			vals, pos, err := a.list(code, ip+1, false)
			if err != nil {
				return nil, err
			}
			var v Value
			if op == OpList {
				v = NewList(th.mu, vals)
			} else {
				v = Tuple(vals)
			}
			if err := a.set(code[pos], v); err != nil {
				return nil, err
			}
			ip = pos + 1

		case OpDict:
			n := int(code[ip+1])
			pos := ip + 2
			d := NewDict(th.mu, n)
			for i := 0; i < n; i++ {
				k, err := a.get(code[pos])
				if err != nil {
					return nil, err
				}
				v, err := a.get(code[pos+1])
				if err != nil {
					return nil, err
				}
				if err := d.SetKey(k, v); err != nil {
					return nil, err
				}
				pos += 2
			}
			if err := a.set(code[pos], d); err != nil {
				return nil, err
			}
			ip = pos + 1

		case OpListAppend:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			l, ok := x.(*List)
			if !ok {
				invariant("%s: LIST_APPEND to %s at ip %d", fn.name, x.Type().Name, ip)
			}
			v, err := a.get(code[ip+2])
			if err != nil {
				return nil, err
			}
			if err := l.Append(v); err != nil {
				return nil, err
			}
			th.RecordSideEffect()
			ip += 3

		case OpIndex:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			k, err := a.get(code[ip+2])
			if err != nil {
				return nil, err
			}
			v, err := Index(x, k)
			if err != nil {
				return nil, err
			}
			if err := a.set(code[ip+3], v); err != nil {
				return nil, err
			}
			ip += 4

		case OpSetIndex:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			k, err := a.get(code[ip+2])
			if err != nil {
				return nil, err
			}
			v, err := a.get(code[ip+3])
			if err != nil {
				return nil, err
			}
			if err := SetIndex(x, k, v); err != nil {
				return nil, err
			}
			th.RecordSideEffect()
			ip += 4

		case OpUnpack:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			var elems []Value
			switch x := x.(type) {
			case Tuple:
				elems = x
			case *List:
				elems = x.elems
			default:
				return nil, fmt.Errorf("got %s in sequence assignment", x.Type().Name)
			}
			n := int(code[ip+2])
			if len(elems) > n {
				return nil, fmt.Errorf("too many values to unpack (got %d, want %d)", len(elems), n)
			}
			if len(elems) < n {
				return nil, fmt.Errorf("too few values to unpack (got %d, want %d)", len(elems), n)
			}
			for i := 0; i < n; i++ {
				if err := a.set(code[ip+3+i], elems[i]); err != nil {
					return nil, err
				}
			}
			ip += 3 + n

		// --- Attributes, calls, functions, modules ---
		case OpDot:
			x, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			v, err := fn.attrCaches[ip].Lookup(x, fn.strings[code[ip+2]])
			if err != nil {
				return nil, err
			}
			if err := a.set(code[ip+3], v); err != nil {
				return nil, err
			}
			ip += 4

		case OpCall:
			callee, err := a.get(code[ip+1])
			if err != nil {
				return nil, err
			}
			sig := fn.objects[code[ip+2]].(*CallSig)
			args, pos, err := a.list(code, ip+3, false)
			if err != nil {
				return nil, err
			}
			if len(args) != sig.NumArgs() {
				invariant("%s: call at ip %d passes %d values for signature %s", fn.name, ip, len(args), sig)
			}
			c, ok := callee.(Callable)
			if !ok {
				return nil, fmt.Errorf("invalid call of non-function (%s)", callee.Type().Name)
			}
			lc, err := fn.callSites[ip].lookup(c, sig)
			if err != nil {
				return nil, err
			}
			v, err := th.callLinked(c, lc, MoveArgs(args...))
			if err != nil {
				return nil, err
			}
			if err := a.set(code[pos], v); err != nil {
				return nil, err
			}
			ip = pos + 1

		case OpNewFunction:
			inner := fn.objects[code[ip+1]].(*Function)
			defaults, pos, err := a.list(code, ip+2, true)
			if err != nil {
				return nil, err
			}
			n := int(code[pos])
			pos++
			if n != len(inner.freevars) {
				invariant("%s: %s captures %d cells, has %d free variables", fn.name, inner.name, n, len(inner.freevars))
			}
			if len(defaults) > inner.params.NumParams {
				invariant("%s: %d defaults for %d parameters of %s", fn.name, len(defaults), inner.params.NumParams, inner.name)
			}
			cells := make(Tuple, n)
			for i := range cells {
				r := Reg(code[pos+i])
				switch r.Mode() {
				case ModeFree:
					cells[i] = a.freeAt(r.Index())
				default:
					cells[i] = a.cellAt(r.Index())
				}
			}
			pos += n
			closure := &Closure{fn: inner, defaults: Tuple(defaults), freevars: cells}
			if err := a.set(code[pos], closure); err != nil {
				return nil, err
			}
			ip = pos + 1

		case OpLoad:
			name := fn.strings[code[ip+1]]
			m, err := th.Load(name)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", name, err)
			}
			n := int(code[ip+2])
			pos := ip + 3
			for i := 0; i < n; i++ {
				sym := fn.strings[code[pos]]
				v, ok := m.Get(sym)
				if !ok || strings.HasPrefix(sym, "_") {
					return nil, fmt.Errorf("load: name %s not found in module %s%s", sym, name, didYouMean(sym, m.Exports(), ""))
				}
				if err := a.set(code[pos+1], v); err != nil {
					return nil, err
				}
				pos += 2
			}
			ip = pos

		default:
			invariant("%s: unknown opcode %d at ip %d", fn.name, int32(op), ip)
		}
	}
}
