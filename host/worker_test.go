package host

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/larkvm/vm"
)

// spinFunction loops forever; only an interrupt or a step limit ends it.
func spinFunction(t *testing.T) *vm.Function {
	b := vm.NewBuilder("spin")
	top := b.NewLabel()
	b.Mark(top)
	b.Emit(vm.OpBr, top)
	return build(t, b)
}

func constFunction(t *testing.T, v vm.Value) *vm.Function {
	b := vm.NewBuilder("const")
	b.Emit(vm.OpReturn, b.Const(v))
	return build(t, b)
}

func TestWorkerSerialisesRequests(t *testing.T) {
	w := NewWorker(vm.NewThread("worker"))
	defer w.Stop()

	counter := vm.NewLocalKey[int]("counter")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Do(func(th *vm.Thread) (vm.Value, error) {
				n, _ := vm.GetLocal(th, counter)
				vm.SetLocal(th, counter, n+1)
				return vm.None, nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	v, err := w.Do(func(th *vm.Thread) (vm.Value, error) {
		n, _ := vm.GetLocal(th, counter)
		return vm.Int(n), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != vm.Int(50) {
		t.Errorf("counter = %v, want 50", v)
	}
}

func TestWorkerExecAndCall(t *testing.T) {
	w := NewWorker(vm.NewThread("worker"))
	defer w.Stop()

	v, err := w.Exec(constFunction(t, vm.String("ok")))
	if err != nil {
		t.Fatal(err)
	}
	if v != vm.String("ok") {
		t.Errorf("Exec = %v", v)
	}

	v, err = w.Call(vm.Universe["len"], vm.Tuple{vm.String("abc")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != vm.Int(3) {
		t.Errorf("len = %v", v)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewWorker(vm.NewThread("worker"))
	defer w.Stop()

	_, err := w.Do(func(th *vm.Thread) (vm.Value, error) {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panic in worker: boom") {
		t.Errorf("error = %v", err)
	}

	// The worker keeps serving requests.
	if _, err := w.Exec(constFunction(t, vm.None)); err != nil {
		t.Errorf("worker unusable after panic: %v", err)
	}
}

func TestWorkerCancel(t *testing.T) {
	w := NewWorker(vm.NewThread("worker"))
	defer w.Stop()

	spin := spinFunction(t)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := w.Do(func(th *vm.Thread) (vm.Value, error) {
			close(started)
			return th.ExecFunction(spin, nil, nil)
		})
		done <- err
	}()

	<-started
	w.Cancel("shutting down")
	err := <-done
	if !vm.IsInterrupted(err) {
		t.Fatalf("error = %v, want interruption", err)
	}
	if !strings.Contains(err.Error(), "shutting down") {
		t.Errorf("error = %v, want reason", err)
	}
}

func TestWorkerStop(t *testing.T) {
	w := NewWorker(vm.NewThread("worker"))
	w.Stop()
	w.Stop()
	_, err := w.Exec(constFunction(t, vm.None))
	if !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("error = %v, want ErrWorkerStopped", err)
	}
}
