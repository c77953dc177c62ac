package main

import (
	"fmt"

	"github.com/chazu/larkvm/vm"
)

// demoOrder lists the demo modules in the order they are written.
var demoOrder = []string{"math", "main", "broken"}

// demoModules builds a small program: math defines helpers, main loads and
// calls them, and broken fails two calls deep to show a backtrace.
func demoModules() (map[string]*vm.Function, error) {
	mathFn, err := demoMath()
	if err != nil {
		return nil, fmt.Errorf("math: %w", err)
	}
	mainFn, err := demoMain()
	if err != nil {
		return nil, fmt.Errorf("main: %w", err)
	}
	brokenFn, err := demoBroken()
	if err != nil {
		return nil, fmt.Errorf("broken: %w", err)
	}
	return map[string]*vm.Function{"math": mathFn, "main": mainFn, "broken": brokenFn}, nil
}

func at(file string, line, col int32) vm.Location {
	return vm.Location{File: file, Line: line, Col: col}
}

// math.star:
//
//	pi = 3.14159
//	def square(x):
//	    return x * x
//	def sum(xs):
//	    total = 0
//	    for x in xs:
//	        total += x
//	    return total
func demoMath() (*vm.Function, error) {
	m := vm.NewModule("math", []string{"pi", "square", "sum"}, nil)

	sq := vm.NewBuilder("square")
	sq.SetModule(m)
	sq.SetPosition(at("math.star", 2, 5))
	sq.SetParams(vm.Params{NumParams: 1})
	sq.SetResultType("int")
	x := sq.Local("x")
	r := sq.Temp()
	sq.SetLocation(at("math.star", 3, 14))
	sq.Emit(vm.OpBinary, vm.STAR, x, x, r)
	sq.Emit(vm.OpReturn, r)
	square, err := sq.Build()
	if err != nil {
		return nil, err
	}

	sb := vm.NewBuilder("sum")
	sb.SetModule(m)
	sb.SetPosition(at("math.star", 4, 5))
	sb.SetParams(vm.Params{NumParams: 1})
	xs := sb.Local("xs")
	total := sb.Local("total")
	elem := sb.Local("x")
	end := sb.NewLabel()
	sb.SetLocation(at("math.star", 5, 5))
	sb.Emit(vm.OpLoadInt, 0, total)
	sb.SetLocation(at("math.star", 6, 5))
	sb.Emit(vm.OpForInit, xs, elem, end)
	body := sb.Len()
	sb.SetLocation(at("math.star", 7, 15))
	sb.Emit(vm.OpBinary, vm.PLUS, total, elem, total)
	sb.Emit(vm.OpContinue, elem, body, end)
	sb.Mark(end)
	sb.EndLoop()
	sb.Emit(vm.OpReturn, total)
	sum, err := sb.Build()
	if err != nil {
		return nil, err
	}

	b := vm.NewBuilder("<toplevel>")
	b.SetModule(m)
	b.SetPosition(at("math.star", 1, 1))
	tmp := b.Temp()
	b.Emit(vm.OpMov, b.Const(vm.Float(3.14159)), vm.GlobalReg(0))
	b.Emit(vm.OpNewFunction, b.Object(square), vm.InlineList(), []any{}, tmp)
	b.Emit(vm.OpMov, tmp, vm.GlobalReg(1))
	b.Emit(vm.OpNewFunction, b.Object(sum), vm.InlineList(), []any{}, tmp)
	b.Emit(vm.OpMov, tmp, vm.GlobalReg(2))
	b.Emit(vm.OpReturn, b.Const(vm.None))
	return b.Build()
}

// main.star:
//
//	load("math", "square", "sum")
//	a = square(12)
//	b = sum([1, 2, 3, 4])
//	print(a, b)
//	result = (a, b)
func demoMain() (*vm.Function, error) {
	m := vm.NewModule("main", []string{"result", "print"}, nil)
	b := vm.NewBuilder("<toplevel>")
	b.SetModule(m)
	b.SetPosition(at("main.star", 1, 1))
	square := b.Local("square")
	sum := b.Local("sum")
	a := b.Local("a")
	s := b.Local("b")
	xs, tmp, out := b.Temp(), b.Temp(), b.Temp()

	b.SetLocation(at("main.star", 1, 1))
	b.Emit(vm.OpLoad, b.String("math"), []any{
		[]any{b.String("square"), square},
		[]any{b.String("sum"), sum},
	})
	b.SetLocation(at("main.star", 2, 11))
	b.Emit(vm.OpCall, square, b.Sig(1), vm.InlineList(b.Const(vm.Int(12))), a)
	b.SetLocation(at("main.star", 3, 8))
	b.Emit(vm.OpList, b.ConstList(vm.Tuple{vm.Int(1), vm.Int(2), vm.Int(3), vm.Int(4)}), xs)
	b.Emit(vm.OpCall, sum, b.Sig(1), vm.InlineList(xs), s)
	b.SetLocation(at("main.star", 4, 6))
	b.Emit(vm.OpCall, vm.GlobalReg(1), b.Sig(2, "sep"), vm.InlineList(a, s, b.Const(vm.String(", "))), tmp)
	b.SetLocation(at("main.star", 5, 1))
	b.Emit(vm.OpTuple, vm.InlineList(a, s), out)
	b.Emit(vm.OpMov, out, vm.GlobalReg(0))
	b.Emit(vm.OpReturn, out)
	return b.Build()
}

// broken.star:
//
//	def check(n):
//	    fail("check failed for", n)
//	check(3)
func demoBroken() (*vm.Function, error) {
	m := vm.NewModule("broken", []string{"fail"}, nil)

	cb := vm.NewBuilder("check")
	cb.SetModule(m)
	cb.SetPosition(at("broken.star", 1, 5))
	cb.SetParams(vm.Params{NumParams: 1})
	n := cb.Local("n")
	r := cb.Temp()
	cb.SetLocation(at("broken.star", 2, 9))
	cb.Emit(vm.OpCall, vm.GlobalReg(0), cb.Sig(2), vm.InlineList(cb.Const(vm.String("check failed for")), n), r)
	cb.Emit(vm.OpReturn, r)
	check, err := cb.Build()
	if err != nil {
		return nil, err
	}

	b := vm.NewBuilder("<toplevel>")
	b.SetModule(m)
	b.SetPosition(at("broken.star", 1, 1))
	f, r2 := b.Temp(), b.Temp()
	b.Emit(vm.OpNewFunction, b.Object(check), vm.InlineList(), []any{}, f)
	b.SetLocation(at("broken.star", 3, 6))
	b.Emit(vm.OpCall, f, b.Sig(1), vm.InlineList(b.Const(vm.Int(3))), r2)
	b.Emit(vm.OpReturn, r2)
	return b.Build()
}
