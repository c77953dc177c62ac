package host

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/larkvm/vm"
)

func failFunction(t *testing.T, msg string) *vm.Function {
	b := vm.NewBuilder("failing")
	b.SetModule(vm.NewModule("failing", []string{"fail"}, nil))
	r := b.Temp()
	b.Emit(vm.OpCall, vm.GlobalReg(0), b.Sig(1), vm.InlineList(b.Const(vm.String(msg))), r)
	b.Emit(vm.OpReturn, r)
	return build(t, b)
}

func TestEvalAllIndependentJobs(t *testing.T) {
	jobs := []Job{
		{Name: "one", Fn: constFunction(t, vm.Int(1))},
		{Name: "bad", Fn: failFunction(t, "broken config")},
		{Name: "two", Fn: constFunction(t, vm.Int(2))},
	}
	results, err := EvalAll(context.Background(), jobs, nil, 2)
	if err != nil {
		t.Fatalf("EvalAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Value != vm.Int(1) || results[2].Value != vm.Int(2) {
		t.Errorf("values = %v, %v", results[0].Value, results[2].Value)
	}
	if results[0].Steps == 0 {
		t.Error("step count missing")
	}
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "fail: broken config") {
		t.Errorf("bad job error = %v", results[1].Err)
	}
	for i, want := range []string{"one", "bad", "two"} {
		if results[i].Name != want {
			t.Errorf("result %d is %s, want %s", i, results[i].Name, want)
		}
	}
}

func TestEvalAllThreadOptions(t *testing.T) {
	jobs := []Job{{Name: "spin", Fn: spinFunction(t)}}
	results, err := EvalAll(context.Background(), jobs, []vm.ThreadOption{vm.WithStepLimit(100)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(results[0].Err, vm.ErrStepLimit) {
		t.Errorf("error = %v, want ErrStepLimit", results[0].Err)
	}
}

func TestEvalAllCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	jobs := []Job{
		{Name: "a", Fn: spinFunction(t)},
		{Name: "b", Fn: spinFunction(t)},
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results, err := EvalAll(ctx, jobs, nil, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("EvalAll error = %v, want context.Canceled", err)
	}
	for _, r := range results {
		if !vm.IsInterrupted(r.Err) && !errors.Is(r.Err, context.Canceled) {
			t.Errorf("job %s error = %v, want interruption", r.Name, r.Err)
		}
	}
}

func TestEvalAllSharedModule(t *testing.T) {
	m := vm.NewModule("shared", []string{"x"}, nil)
	writer := func(v vm.Value) *vm.Function {
		b := vm.NewBuilder("<toplevel>")
		b.SetModule(m)
		b.Emit(vm.OpMov, b.Const(v), vm.GlobalReg(0))
		b.Emit(vm.OpReturn, b.Const(v))
		return build(t, b)
	}
	jobs := []Job{
		{Name: "a", Fn: writer(vm.Int(1))},
		{Name: "b", Fn: writer(vm.Int(2))},
	}
	results, err := EvalAll(context.Background(), jobs, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	var ok []Result
	for _, r := range results {
		if r.Err == nil {
			ok = append(ok, r)
		}
	}
	if len(ok) != 1 {
		t.Fatalf("Expected exactly one job to succeed, got %+v", results)
	}
	if x, _ := m.Get("x"); x != ok[0].Value {
		t.Errorf("x = %v, want %v", x, ok[0].Value)
	}
	if !m.Frozen() {
		t.Error("shared module not frozen after EvalAll")
	}
	if err := m.Set("x", vm.Int(3)); err == nil {
		t.Error("Expected error assigning a global after EvalAll")
	}
}

func TestEvalAllFreezesResults(t *testing.T) {
	b := vm.NewBuilder("<toplevel>")
	b.SetModule(vm.NewModule("lists", nil, nil))
	r := b.Temp()
	b.Emit(vm.OpList, vm.InlineList(b.Const(vm.Int(1))), r)
	b.Emit(vm.OpReturn, r)
	results, err := EvalAll(context.Background(), []Job{{Name: "list", Fn: build(t, b)}}, nil, 0)
	if err != nil || results[0].Err != nil {
		t.Fatalf("EvalAll: %v, %v", err, results[0].Err)
	}
	l, ok := results[0].Value.(*vm.List)
	if !ok {
		t.Fatalf("result is %T, want *vm.List", results[0].Value)
	}
	if err := l.Append(vm.Int(2)); err == nil {
		t.Error("Expected error appending to a published list")
	}
}
