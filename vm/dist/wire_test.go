package dist

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/chazu/larkvm/vm"
)

func mustBuild(t *testing.T, b *vm.Builder) *vm.Function {
	t.Helper()
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return fn
}

// sampleFunction builds a module-level function that loads two modules,
// creates a nested function, and carries every kind of pool entry.
func sampleFunction(t testing.TB) *vm.Function {
	t.Helper()
	m := vm.NewModule("main", []string{"answer", "_private"}, nil)

	ib := vm.NewBuilder("inner")
	ib.SetModule(m)
	ib.SetPosition(vm.Location{File: "main.star", Line: 4, Col: 1})
	u := ib.Local("upper")
	ib.Emit(vm.OpLoad, ib.String("text"), []any{[]any{ib.String("upper"), u}})
	ib.Emit(vm.OpReturn, u)
	inner, err := ib.Build()
	if err != nil {
		t.Fatalf("Build inner: %v", err)
	}

	b := vm.NewBuilder("<toplevel>")
	b.SetModule(m)
	b.SetPosition(vm.Location{File: "main.star", Line: 1})
	pi := b.Local("pi")
	f := b.Local("f")
	r := b.Temp()
	b.SetLocation(vm.Location{File: "main.star", Line: 2, Col: 5})
	b.Emit(vm.OpLoad, b.String("math"), []any{[]any{b.String("pi"), pi}})
	b.Emit(vm.OpNewFunction, b.Object(inner), vm.InlineList(), []any{}, f)
	b.SetLocation(vm.Location{File: "main.star", Line: 3}, vm.Location{File: "lib.star", Line: 9})
	b.Emit(vm.OpCall, f, b.Sig(0), vm.InlineList(), r)
	b.Emit(vm.OpList, b.ConstList(vm.Tuple{vm.Int(1), vm.String("a"), vm.Tuple{}}), r)
	b.Emit(vm.OpMov, b.Const(vm.Float(2.5)), vm.GlobalReg(0))
	b.Emit(vm.OpReturn, b.Const(vm.Tuple{vm.True, vm.None, vm.Int(-7)}))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return fn
}

func TestFunctionRoundTrip(t *testing.T) {
	fn := sampleFunction(t)

	data, err := MarshalFunction(fn)
	if err != nil {
		t.Fatalf("MarshalFunction: %v", err)
	}
	got, err := UnmarshalFunction(data, nil)
	if err != nil {
		t.Fatalf("UnmarshalFunction: %v", err)
	}

	if got.Disassemble() != fn.Disassemble() {
		t.Errorf("disassembly changed:\n%s\nwant:\n%s", got.Disassemble(), fn.Disassemble())
	}
	if got.Name() != fn.Name() || got.Position() != fn.Position() {
		t.Errorf("got %s at %v, want %s at %v", got.Name(), got.Position(), fn.Name(), fn.Position())
	}
	if got.Module() == nil || got.Module().Name != "main" {
		t.Fatal("module not restored")
	}
	if names := got.Module().Names(); len(names) != 2 || names[1] != "_private" {
		t.Errorf("globals = %v", names)
	}
	if len(got.Locals()) != 2 || got.Locals()[1].Name != "f" {
		t.Errorf("locals = %v", got.Locals())
	}

	callIP := fn.InstructionLengthAt(0)
	callIP += fn.InstructionLengthAt(callIP)
	stack := got.LocationAt(callIP)
	if len(stack) != 2 || stack[1].String() != "lib.star:9" {
		t.Errorf("location stack = %v", stack)
	}

	h1, err := Hash(fn)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(got)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash changed across round trip: %x != %x", h1, h2)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := MarshalFunction(sampleFunction(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalFunction(sampleFunction(t))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("equal functions encoded differently")
	}
}

func TestHashDistinguishesFunctions(t *testing.T) {
	build := func(v vm.Value) *vm.Function {
		b := vm.NewBuilder("f")
		b.Emit(vm.OpReturn, b.Const(v))
		fn, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		return fn
	}
	h1, _ := Hash(build(vm.Int(1)))
	h2, _ := Hash(build(vm.Int(2)))
	h3, _ := Hash(build(vm.Float(1)))
	if h1 == h2 || h1 == h3 {
		t.Error("different constants produced the same hash")
	}
}

func TestDecodedFunctionRuns(t *testing.T) {
	b := vm.NewBuilder("pair")
	b.SetParams(vm.Params{NumParams: 1})
	x := b.Local("x")
	out := b.Temp()
	b.Emit(vm.OpTuple, vm.InlineList(x, b.Const(vm.Float(2.5))), out)
	b.Emit(vm.OpReturn, out)
	b.SetResultType("tuple")
	fn, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalFunction(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Module() != nil {
		t.Error("function without a module decoded with one")
	}
	if decoded.ResultType() != "tuple" {
		t.Errorf("ResultType = %q", decoded.ResultType())
	}

	c, err := vm.NewClosure(decoded, nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := vm.Call(vm.NewThread("test"), c, vm.Tuple{vm.String("a")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if vm.Repr(v) != `("a", 2.5)` {
		t.Errorf("result = %s", vm.Repr(v))
	}
}

func TestConstantResultSurvives(t *testing.T) {
	b := vm.NewBuilder("k")
	b.Emit(vm.OpReturn, b.Const(vm.String("k")))
	b.SetConstResult(vm.String("k"))
	fn, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := MarshalFunction(fn)
	got, err := UnmarshalFunction(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConstantResult() != vm.String("k") {
		t.Errorf("ConstantResult = %v", got.ConstantResult())
	}
}

func TestMarshalRejectsMutableConstant(t *testing.T) {
	b := vm.NewBuilder("bad")
	b.Emit(vm.OpReturn, b.Const(vm.None))
	b.SetConstResult(vm.NewList(vm.NewMutability(), nil))
	fn, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	_, err = MarshalFunction(fn)
	if err == nil || !strings.Contains(err.Error(), "cannot encode list constant") {
		t.Errorf("error = %v", err)
	}
}

func TestUnmarshalRejectsVersionMismatch(t *testing.T) {
	u, err := NewUnit(sampleFunction(t))
	if err != nil {
		t.Fatal(err)
	}
	u.Version = Version + 1
	data, err := cborEncMode.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	_, err = UnmarshalFunction(data, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported wire version") {
		t.Errorf("error = %v", err)
	}
}

func TestUnmarshalRejectsMalformedInput(t *testing.T) {
	if _, err := UnmarshalFunction([]byte{0xff, 0x00}, nil); err == nil {
		t.Error("Expected error for garbage input")
	}

	u, _ := NewUnit(sampleFunction(t))
	u.Func.Code = append(u.Func.Code, int32(vm.OpReturn))
	data, _ := cborEncMode.Marshal(u)
	if _, err := UnmarshalFunction(data, nil); err == nil {
		t.Error("Expected validation error for truncated instruction")
	}
}

func TestNegativeZeroSurvives(t *testing.T) {
	b := vm.NewBuilder("negzero")
	b.Emit(vm.OpReturn, b.Const(vm.Float(math.Copysign(0, -1))))
	fn, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalFunction(fn)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalFunction(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Disassemble() != fn.Disassemble() {
		t.Errorf("disassembly = %q, want %q", got.Disassemble(), fn.Disassemble())
	}
	h1, _ := Hash(fn)
	h2, _ := Hash(got)
	if h1 != h2 {
		t.Errorf("hash changed across round trip: %x != %x", h1, h2)
	}
}

func TestUnmarshalRejectsHugeLengthQuickly(t *testing.T) {
	b := vm.NewBuilder("evil")
	x := b.Local("x")
	b.Emit(vm.OpReturn, x)
	u, err := NewUnit(mustBuild(t, b))
	if err != nil {
		t.Fatal(err)
	}
	u.Func.Code = []int32{int32(vm.OpUnpack), int32(x), math.MaxInt32}
	data, err := cborEncMode.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = UnmarshalFunction(data, nil)
	if err == nil || !strings.Contains(err.Error(), "runs past end of code") {
		t.Errorf("error = %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("rejection took %v", d)
	}
}

func TestPredeclaredReachDecodedModule(t *testing.T) {
	m := vm.NewModule("cfg", []string{"limit"}, nil)
	b := vm.NewBuilder("<toplevel>")
	b.SetModule(m)
	b.Emit(vm.OpReturn, vm.GlobalReg(0))
	fn, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := MarshalFunction(fn)
	got, err := UnmarshalFunction(data, map[string]vm.Value{"limit": vm.Int(10)})
	if err != nil {
		t.Fatal(err)
	}
	v, err := vm.NewThread("test").ExecFunction(got, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != vm.Int(10) {
		t.Errorf("limit = %v, want 10", v)
	}
}
