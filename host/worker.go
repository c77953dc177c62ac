package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/larkvm/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// request represents a unit of work to be executed on the worker goroutine.
type request struct {
	fn   func(*vm.Thread) (vm.Value, error)
	done chan result
}

type result struct {
	value vm.Value
	err   error
}

// Worker serializes all access to one thread through a single goroutine.
// A thread is not safe for concurrent use; callers on other goroutines go
// through Do.
type Worker struct {
	th       *vm.Thread
	requests chan request
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker owning th and starts its goroutine.
func NewWorker(th *vm.Thread) *Worker {
	w := &Worker{
		th:       th,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the thread. Internal invariant violations are
// re-raised; any other panic becomes an error.
func (w *Worker) execute(fn func(*vm.Thread) (vm.Value, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*vm.InternalError); ok {
				panic(ie)
			}
			res = result{err: fmt.Errorf("panic in worker: %v", r)}
		}
	}()
	v, err := fn(w.th)
	return result{value: v, err: err}
}

// Do runs fn on the worker goroutine and blocks until it completes.
func (w *Worker) Do(fn func(*vm.Thread) (vm.Value, error)) (vm.Value, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Exec runs a module-level function on the worker's thread.
func (w *Worker) Exec(fn *vm.Function) (vm.Value, error) {
	return w.Do(func(th *vm.Thread) (vm.Value, error) {
		return th.ExecFunction(fn, nil, nil)
	})
}

// Call calls c on the worker's thread.
func (w *Worker) Call(c vm.Value, args vm.Tuple, kwargs []vm.Tuple) (vm.Value, error) {
	return w.Do(func(th *vm.Thread) (vm.Value, error) {
		return vm.Call(th, c, args, kwargs)
	})
}

// Cancel interrupts the running evaluation. The thread stays cancelled, so
// later requests fail too.
func (w *Worker) Cancel(reason string) {
	w.th.Cancel(reason)
}

// Stop shuts down the worker goroutine. Requests still queued are
// abandoned.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}
