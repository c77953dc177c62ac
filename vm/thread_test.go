package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStepLimit(t *testing.T) {
	fn := sumFunc(t)
	xs := Tuple{Int(1), Int(2), Int(3)}
	// LOAD_INT, FOR_INIT, three BINARY and three CONTINUE, RETURN
	const steps = 9

	th := NewThread("test", WithStepLimit(steps))
	if _, err := Call(th, mustClosure(t, fn), Tuple{xs}, nil); err != nil {
		t.Fatalf("limit %d: %v", steps, err)
	}
	if th.Steps() != steps {
		t.Errorf("Steps() = %d, want %d", th.Steps(), steps)
	}

	th = NewThread("test", WithStepLimit(steps-1))
	_, err := Call(th, mustClosure(t, fn), Tuple{xs}, nil)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("limit %d: error = %v, want ErrStepLimit", steps-1, err)
	}
	var ee *EvalError
	if !errors.As(err, &ee) {
		t.Errorf("step limit error is %T, want *EvalError", err)
	}

	th = NewThread("test")
	if _, err := Call(th, mustClosure(t, fn), Tuple{xs}, nil); err != nil {
		t.Fatalf("unlimited: %v", err)
	}
	if th.StepLimit() != 0 {
		t.Errorf("StepLimit() = %d, want 0", th.StepLimit())
	}
}

func TestSideEffectPropagation(t *testing.T) {
	var observed []bool
	observer := func(name string) *Builtin {
		return NewBuiltin(name, func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
			observed = append(observed, th.HadSideEffect())
			return None, nil
		})
	}
	effect := NewBuiltin("effect", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		th.RecordSideEffect()
		return None, nil
	})
	middle := NewBuiltin("middle", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		observed = append(observed, th.HadSideEffect())
		if _, err := Call(th, effect, nil, nil); err != nil {
			return nil, err
		}
		observed = append(observed, th.HadSideEffect())
		return None, nil
	})
	outer := NewBuiltin("outer", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		if _, err := Call(th, observer("pure"), nil, nil); err != nil {
			return nil, err
		}
		observed = append(observed, th.HadSideEffect())
		if _, err := Call(th, middle, nil, nil); err != nil {
			return nil, err
		}
		observed = append(observed, th.HadSideEffect())
		// A nested call starts with a clear flag even after an effect.
		if _, err := Call(th, observer("after"), nil, nil); err != nil {
			return nil, err
		}
		observed = append(observed, th.HadSideEffect())
		return None, nil
	})

	th := NewThread("test")
	if _, err := Call(th, outer, nil, nil); err != nil {
		t.Fatal(err)
	}
	want := []bool{
		false, // pure: nothing recorded
		false, // outer after pure
		false, // middle on entry
		true,  // middle after effect
		true,  // outer after middle
		false, // observer on entry
		true,  // outer after observer
	}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("observation %d = %v, want %v", i, observed[i], want[i])
		}
	}
	if !th.HadSideEffect() {
		t.Error("top-level call should report a side effect")
	}

	th = NewThread("pure")
	if _, err := Call(th, observer("pure"), nil, nil); err != nil {
		t.Fatal(err)
	}
	if th.HadSideEffect() {
		t.Error("pure call reported a side effect")
	}
}

func TestSetIndexRecordsSideEffect(t *testing.T) {
	b := NewBuilder("f")
	b.SetParams(Params{NumParams: 1})
	d := b.Local("d")
	b.Emit(OpSetIndex, d, b.Const(String("k")), b.Const(Int(1)))
	b.Emit(OpReturn, d)
	fn := mustBuild(t, b)

	th := NewThread("test")
	if _, err := Call(th, mustClosure(t, fn), Tuple{NewDict(th.Mutability(), 0)}, nil); err != nil {
		t.Fatal(err)
	}
	if !th.HadSideEffect() {
		t.Error("SET_INDEX did not record a side effect")
	}

	th = NewThread("test")
	if _, err := Call(th, mustClosure(t, sumFunc(t)), Tuple{Tuple{Int(1)}}, nil); err != nil {
		t.Fatal(err)
	}
	if th.HadSideEffect() {
		t.Error("pure loop recorded a side effect")
	}
}

func TestListAppendRecordsSideEffect(t *testing.T) {
	b := NewBuilder("f")
	b.SetParams(Params{NumParams: 1})
	xs := b.Local("xs")
	b.Emit(OpListAppend, xs, b.Const(Int(1)))
	b.Emit(OpReturn, b.Const(None))
	fn := mustBuild(t, b)

	th := NewThread("test")
	l := NewList(th.Mutability(), nil)
	if _, err := Call(th, mustClosure(t, fn), Tuple{l}, nil); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 1 || l.Index(0) != Int(1) {
		t.Errorf("caller's list = %s, want [1]", Repr(l))
	}
	if !th.HadSideEffect() {
		t.Error("LIST_APPEND did not record a side effect")
	}
}

// countdown(n) returns 0 after recursing n times through global "countdown".
func countdown(t *testing.T) *Closure {
	mod := NewModule("m", []string{"countdown"}, nil)
	b := NewBuilder("countdown")
	b.SetModule(mod)
	b.SetParams(Params{NumParams: 1})
	n := b.Local("n")
	zero := b.Temp()
	m := b.Temp()
	r := b.Temp()
	rec := b.NewLabel()
	b.Emit(OpBinary, EQL, n, b.Const(Int(0)), zero)
	b.Emit(OpIfNotBr, zero, rec)
	b.Emit(OpReturn, b.Const(Int(0)))
	b.Mark(rec)
	b.Emit(OpBinary, MINUS, n, b.Const(Int(1)), m)
	b.Emit(OpCall, GlobalReg(0), b.Sig(1), InlineList(m), r)
	b.Emit(OpReturn, r)
	c := mustClosure(t, mustBuild(t, b))
	if err := mod.Set("countdown", c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRecursionGuard(t *testing.T) {
	c := countdown(t)

	if _, err := Call(NewThread("test"), c, Tuple{Int(0)}, nil); err != nil {
		t.Errorf("base case without recursion: %v", err)
	}

	_, err := Call(NewThread("test"), c, Tuple{Int(3)}, nil)
	if !errors.Is(err, ErrRecursion) {
		t.Fatalf("error = %v, want ErrRecursion", err)
	}
	if !strings.Contains(err.Error(), "function countdown called recursively") {
		t.Errorf("error = %q", err)
	}

	v, err := Call(NewThread("test", WithRecursion(true)), c, Tuple{Int(3)}, nil)
	if err != nil {
		t.Fatalf("with recursion: %v", err)
	}
	if v != Int(0) {
		t.Errorf("countdown(3) = %v, want 0", v)
	}
}

func TestMaxDepth(t *testing.T) {
	c := countdown(t)
	th := NewThread("test", WithRecursion(true), WithMaxDepth(5))
	if _, err := Call(th, c, Tuple{Int(4)}, nil); err != nil {
		t.Errorf("depth 5: %v", err)
	}
	_, err := Call(th, c, Tuple{Int(5)}, nil)
	if err == nil || !strings.Contains(err.Error(), "call stack depth exceeds 5") {
		t.Errorf("error = %v, want depth error", err)
	}
	if th.Depth() != 0 {
		t.Errorf("Depth() = %d after error, want 0", th.Depth())
	}
}

// spin loops forever after calling hook once.
func spin(t *testing.T, hook *Builtin) *Closure {
	mod := NewModule("m", []string{"hook"}, map[string]Value{"hook": hook})
	b := NewBuilder("spin")
	b.SetModule(mod)
	tmp := b.Temp()
	b.Emit(OpCall, GlobalReg(0), b.Sig(0), InlineList(), tmp)
	loop := b.Len()
	b.Emit(OpBr, loop)
	return mustClosure(t, mustBuild(t, b))
}

func TestCancelInterruptsLoop(t *testing.T) {
	hook := NewBuiltin("hook", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		th.Cancel("stop requested")
		return None, nil
	})
	_, err := Call(NewThread("test"), spin(t, hook), nil, nil)
	if !IsInterrupted(err) {
		t.Fatalf("error = %v, want interruption", err)
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		t.Error("interruption must not be wrapped in an EvalError")
	}
	if got := err.Error(); got != "evaluation interrupted: stop requested" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCancelBeforeCall(t *testing.T) {
	th := NewThread("test")
	th.Cancel("")
	_, err := Call(th, NewBuiltin("f", nil), nil, nil)
	if !IsInterrupted(err) {
		t.Errorf("error = %v, want interruption", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(errors.New("deadline reached"))

	b := NewBuilder("f")
	b.Emit(OpReturn, b.Const(Int(1)))
	c := mustClosure(t, mustBuild(t, b))

	_, err := Call(NewThread("test", WithContext(ctx)), c, nil, nil)
	var ie *InterruptedError
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *InterruptedError", err)
	}
	if ie.Reason != "deadline reached" {
		t.Errorf("Reason = %q", ie.Reason)
	}

	th := NewThread("test", WithInterruptPolling(false))
	th.SetContext(ctx)
	th.Cancel("ignored")
	if _, err := Call(th, c, nil, nil); err != nil {
		t.Errorf("with polling disabled: %v", err)
	}
}

func TestThreadLocals(t *testing.T) {
	user := NewLocalKey[string]("user")
	count := NewLocalKey[int]("count")
	th := NewThread("test")

	if _, ok := GetLocal(th, user); ok {
		t.Error("unset key reported present")
	}
	SetLocal(th, user, "ada")
	SetLocal(th, count, 3)
	if v, ok := GetLocal(th, user); !ok || v != "ada" {
		t.Errorf("GetLocal(user) = %q, %v", v, ok)
	}
	if v, _ := GetLocal(th, count); v != 3 {
		t.Errorf("GetLocal(count) = %d, want 3", v)
	}
	other := NewLocalKey[string]("user")
	if _, ok := GetLocal(th, other); ok {
		t.Error("keys with equal names must be distinct")
	}
	DeleteLocal(th, user)
	if _, ok := GetLocal(th, user); ok {
		t.Error("deleted key reported present")
	}
}

func TestPrintAndCallerLocation(t *testing.T) {
	loc := Location{File: "hello.star", Line: 2, Col: 1}
	mod := NewModule("m", []string{"print"}, nil)
	b := NewBuilder("main")
	b.SetModule(mod)
	tmp := b.Temp()
	b.SetLocation(loc)
	b.Emit(OpCall, GlobalReg(0), b.Sig(1), InlineList(b.Const(String("hi"))), tmp)
	b.Emit(OpReturn, tmp)
	c := mustClosure(t, mustBuild(t, b))

	var got []string
	var where Location
	th := NewThread("test", WithPrint(func(th *Thread, msg string) {
		got = append(got, msg)
		where = th.CallerLocation()
	}))
	if _, err := Call(th, c, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "hi" {
		t.Errorf("printed %q, want [hi]", got)
	}
	if where != loc {
		t.Errorf("CallerLocation() = %v, want %v", where, loc)
	}
	if !th.HadSideEffect() {
		t.Error("print did not record a side effect")
	}

	var buf bytes.Buffer
	th = NewThread("test", WithDiagnostics(&buf))
	if _, err := Call(th, c, nil, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello.star:2:1: hi\n" {
		t.Errorf("diagnostics = %q", buf.String())
	}
}

func TestCallStackAndTopLevel(t *testing.T) {
	var stack CallStack
	var top []bool
	inner := NewBuiltin("inner", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		stack = th.CallStack()
		top = append(top, th.IsTopLevel())
		return None, nil
	})
	if _, err := Call(NewThread("test"), inner, nil, nil); err != nil {
		t.Fatal(err)
	}

	mod := NewModule("m", []string{"inner"}, map[string]Value{"inner": inner})
	b := NewBuilder("main")
	b.SetPosition(Location{File: "main.star", Line: 1})
	b.SetModule(mod)
	tmp := b.Temp()
	b.SetLocation(Location{File: "main.star", Line: 3})
	b.Emit(OpCall, GlobalReg(0), b.Sig(0), InlineList(), tmp)
	b.Emit(OpReturn, tmp)
	if _, err := Call(NewThread("test"), mustClosure(t, mustBuild(t, b)), nil, nil); err != nil {
		t.Fatal(err)
	}

	if len(top) != 2 || !top[0] || top[1] {
		t.Errorf("IsTopLevel observations = %v, want [true false]", top)
	}
	if got, want := stack.String(), "main.star:3: in main\n<builtin>: in inner\n"; got != want {
		t.Errorf("CallStack() = %q, want %q", got, want)
	}
}

func TestFrozenDomain(t *testing.T) {
	th := NewThread("test")
	l := NewList(th.Mutability(), []Value{Int(1)})
	d := NewDict(th.Mutability(), 0)
	th.Freeze()

	if err := l.Append(Int(2)); err == nil || err.Error() != "cannot append to frozen list" {
		t.Errorf("Append error = %v", err)
	}
	if err := d.SetKey(String("k"), Int(1)); err == nil || !strings.Contains(err.Error(), "frozen dict") {
		t.Errorf("SetKey error = %v", err)
	}
	// Iterating a frozen list takes no lock.
	it, err := Iterate(l)
	if err != nil {
		t.Fatal(err)
	}
	it.Done()
	if !th.Mutability().Frozen() {
		t.Error("Frozen() = false")
	}
}

func TestMutationDuringIteration(t *testing.T) {
	l := NewList(NewMutability(), []Value{Int(1)})
	it, err := Iterate(l)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(Int(2)); err == nil || err.Error() != "cannot append to list during iteration" {
		t.Errorf("Append error = %v", err)
	}
	it.Done()
	it.Done() // idempotent
	if err := l.Append(Int(2)); err != nil {
		t.Errorf("Append after Done: %v", err)
	}
}
