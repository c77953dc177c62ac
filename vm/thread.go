package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// DefaultMaxDepth bounds the call stack of a thread.
const DefaultMaxDepth = 10000

// PrintFunc handles the print builtin.
type PrintFunc func(th *Thread, msg string)

// Thread executes calls for one logical evaluation. It owns a mutability
// domain and a call stack and is not safe for concurrent use; run
// independent evaluations on separate threads.
type Thread struct {
	Name string

	stack []*Frame
	mu    *Mutability

	sideEffect bool

	steps     uint64
	stepLimit uint64

	pollInterrupts bool
	cancelReason   atomic.Pointer[string]
	ctx            context.Context

	allowRecursion bool
	maxDepth       int

	print    PrintFunc
	loader   Loader
	profiler CallProfiler
	diag     io.Writer

	locals map[any]any
}

// ThreadOption configures a Thread.
type ThreadOption func(*Thread)

// WithStepLimit fails evaluation once more than n steps have run. Zero
// means unlimited.
func WithStepLimit(n uint64) ThreadOption {
	return func(th *Thread) { th.stepLimit = n }
}

// WithInterruptPolling enables or disables interrupt checks. Polling is on
// by default; deterministic replays turn it off.
func WithInterruptPolling(on bool) ThreadOption {
	return func(th *Thread) { th.pollInterrupts = on }
}

// WithRecursion permits a function to be re-entered while active.
func WithRecursion(allow bool) ThreadOption {
	return func(th *Thread) { th.allowRecursion = allow }
}

// WithMaxDepth bounds the call stack depth.
func WithMaxDepth(n int) ThreadOption {
	return func(th *Thread) { th.maxDepth = n }
}

// WithPrint replaces the print handler.
func WithPrint(p PrintFunc) ThreadOption {
	return func(th *Thread) { th.print = p }
}

// WithLoader sets the module loader.
func WithLoader(l Loader) ThreadOption {
	return func(th *Thread) { th.loader = l }
}

// WithProfiler attaches a profiler to this thread only. It runs in addition
// to any process-wide profiler.
func WithProfiler(p CallProfiler) ThreadOption {
	return func(th *Thread) { th.profiler = p }
}

// WithDiagnostics sets the stream written by the default print handler.
func WithDiagnostics(w io.Writer) ThreadOption {
	return func(th *Thread) { th.diag = w }
}

// WithMutability makes the thread create values in an existing domain.
func WithMutability(mu *Mutability) ThreadOption {
	return func(th *Thread) { th.mu = mu }
}

// WithContext forwards ctx cancellation as an interrupt.
func WithContext(ctx context.Context) ThreadOption {
	return func(th *Thread) { th.ctx = ctx }
}

// NewThread creates an idle thread.
func NewThread(name string, opts ...ThreadOption) *Thread {
	th := &Thread{
		Name:           name,
		pollInterrupts: true,
		maxDepth:       DefaultMaxDepth,
		print:          defaultPrint,
		diag:           os.Stderr,
	}
	for _, opt := range opts {
		opt(th)
	}
	if th.mu == nil {
		th.mu = NewMutability()
	}
	return th
}

func defaultPrint(th *Thread, msg string) {
	fmt.Fprintf(th.diag, "%s: %s\n", th.CallerLocation(), msg)
}

// Mutability returns the domain of values created on this thread.
func (th *Thread) Mutability() *Mutability { return th.mu }

// Freeze freezes the thread's domain, after which its values may be shared.
func (th *Thread) Freeze() { th.mu.Freeze() }

// ---------------------------------------------------------------------------
// Call stack
// ---------------------------------------------------------------------------

// Depth returns the number of active frames.
func (th *Thread) Depth() int { return len(th.stack) }

// IsTopLevel reports whether exactly one frame, the outermost, is active.
func (th *Thread) IsTopLevel() bool { return len(th.stack) == 1 }

// Frame returns the frame at depth, 0 being innermost, or nil. The frame
// must not be retained.
func (th *Thread) Frame(depth int) *Frame {
	i := len(th.stack) - 1 - depth
	if i < 0 || depth < 0 {
		return nil
	}
	return th.stack[i]
}

// CallerLocation returns the position of the caller of the innermost
// frame, e.g. the script line that called the running builtin.
func (th *Thread) CallerLocation() Location {
	if fr := th.Frame(1); fr != nil {
		return fr.Position()
	}
	return Location{}
}

// CallStack returns a snapshot of the active frames, outermost first.
func (th *Thread) CallStack() CallStack {
	cs := make(CallStack, 0, len(th.stack))
	for _, fr := range th.stack {
		cs = fr.appendFrames(cs)
	}
	return cs
}

func (th *Thread) push(c Callable, fn *Function) *Frame {
	n := len(th.stack)
	if n < cap(th.stack) {
		th.stack = th.stack[:n+1]
		if fr := th.stack[n]; fr != nil {
			fr.callable, fr.fn, fr.ip = c, fn, 0
			return fr
		}
	} else {
		th.stack = append(th.stack, nil)
	}
	fr := &Frame{callable: c, fn: fn}
	th.stack[n] = fr
	return fr
}

func (th *Thread) pop(fr *Frame) {
	n := len(th.stack) - 1
	if n < 0 || th.stack[n] != fr {
		invariant("unbalanced call stack: pop of a frame that is not innermost")
	}
	fr.callable, fr.fn = nil, nil
	th.stack = th.stack[:n]
}

// frameFor returns the innermost frame, which must belong to c.
func (th *Thread) frameFor(c Callable) *Frame {
	fr := th.Frame(0)
	if fr == nil || fr.callable != Callable(c) {
		invariant("%s invoked without its frame; call through Thread.Fastcall", c.Name())
	}
	return fr
}

// ---------------------------------------------------------------------------
// Side effects
// ---------------------------------------------------------------------------

// RecordSideEffect marks the running call as having an externally visible
// effect. The mark propagates to every enclosing call.
func (th *Thread) RecordSideEffect() { th.sideEffect = true }

// HadSideEffect reports whether the running call, or any call it made, has
// recorded a side effect. After a top-level call returns it reports that
// call's result.
func (th *Thread) HadSideEffect() bool { return th.sideEffect }

// ---------------------------------------------------------------------------
// Steps and interrupts
// ---------------------------------------------------------------------------

// Steps returns the number of steps executed so far.
func (th *Thread) Steps() uint64 { return th.steps }

// StepLimit returns the configured limit, zero meaning unlimited.
func (th *Thread) StepLimit() uint64 { return th.stepLimit }

// Cancel asks the thread to stop at its next safe point. It may be called
// from any goroutine. It has no effect if interrupt polling is disabled.
func (th *Thread) Cancel(reason string) {
	th.cancelReason.Store(&reason)
}

// SetContext forwards ctx cancellation as an interrupt. It must not be
// called while the thread is executing.
func (th *Thread) SetContext(ctx context.Context) { th.ctx = ctx }

func (th *Thread) checkInterrupt() error {
	if !th.pollInterrupts {
		return nil
	}
	if r := th.cancelReason.Load(); r != nil {
		return &InterruptedError{Reason: *r}
	}
	if th.ctx != nil {
		if err := th.ctx.Err(); err != nil {
			return &InterruptedError{Reason: context.Cause(th.ctx).Error()}
		}
	}
	return nil
}

// step accounts for one instruction and polls for interrupts.
func (th *Thread) step() error {
	th.steps++
	if th.stepLimit > 0 && th.steps > th.stepLimit {
		return fmt.Errorf("%w (limit %d)", ErrStepLimit, th.stepLimit)
	}
	return th.checkInterrupt()
}

// ---------------------------------------------------------------------------
// Thread-local slots
// ---------------------------------------------------------------------------

// LocalKey is a typed key for host data attached to a thread. Keys compare
// by identity.
type LocalKey[T any] struct {
	name string
}

// NewLocalKey creates a key; name is used only in diagnostics.
func NewLocalKey[T any](name string) *LocalKey[T] {
	return &LocalKey[T]{name: name}
}

func (k *LocalKey[T]) String() string { return k.name }

// SetLocal attaches v to th under key.
func SetLocal[T any](th *Thread, key *LocalKey[T], v T) {
	if th.locals == nil {
		th.locals = make(map[any]any)
	}
	th.locals[key] = v
}

// GetLocal returns the value attached under key.
func GetLocal[T any](th *Thread, key *LocalKey[T]) (T, bool) {
	v, ok := th.locals[key]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// DeleteLocal removes the value attached under key.
func DeleteLocal[T any](th *Thread, key *LocalKey[T]) {
	delete(th.locals, key)
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

// Print sends msg to the print handler and records a side effect.
func (th *Thread) Print(msg string) {
	th.RecordSideEffect()
	th.print(th, msg)
}

// Load resolves a module through the thread's loader.
func (th *Thread) Load(module string) (*Module, error) {
	if th.loader == nil {
		return nil, fmt.Errorf("cannot load %s: %w", module, ErrModuleNotFound)
	}
	return th.loader.Load(th, module)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Fastcall invokes c with flat positional and alternating name/value
// buffers, whose ownership passes to the callee.
func (th *Thread) Fastcall(c Callable, pos, named *Args) (Value, error) {
	return th.invoke(c, func() (Value, error) {
		return fastcall(th, c, pos, named)
	})
}

// ExecFunction calls a function without free variables, typically a
// module body.
func (th *Thread) ExecFunction(fn *Function, args Tuple, kwargs []Tuple) (Value, error) {
	release, err := th.claimModule(fn)
	if err != nil {
		return nil, err
	}
	defer release()
	return th.execFunction(fn, args, kwargs)
}

// ExecModule runs a module body and then freezes the thread's domain and
// the module, even on failure, so that the result may be handed to other
// goroutines. No other thread can run the module until it is frozen.
func (th *Thread) ExecModule(fn *Function) (Value, error) {
	release, err := th.claimModule(fn)
	if err != nil {
		return nil, err
	}
	defer release()
	v, err := th.execFunction(fn, nil, nil)
	th.Freeze()
	if m := fn.module; m != nil {
		m.Freeze()
	}
	return v, err
}

func (th *Thread) claimModule(fn *Function) (func(), error) {
	if fn.module == nil {
		return func() {}, nil
	}
	return fn.module.claim(th)
}

func (th *Thread) execFunction(fn *Function, args Tuple, kwargs []Tuple) (Value, error) {
	c, err := NewClosure(fn, nil)
	if err != nil {
		return nil, err
	}
	return Call(th, c, args, kwargs)
}

func (th *Thread) callLinked(c Callable, lc LinkedCall, args *Args) (Value, error) {
	return th.invoke(c, func() (Value, error) {
		return lc.CallLinked(th, args)
	})
}

// invoke runs body inside a new frame for c. It enforces the interrupt,
// depth and recursion policies, brackets the call for profilers, and
// propagates the side-effect flag outwards.
func (th *Thread) invoke(c Callable, body func() (Value, error)) (Value, error) {
	if err := th.checkInterrupt(); err != nil {
		return nil, err
	}
	if len(th.stack) >= th.maxDepth {
		return nil, th.evalError(fmt.Errorf("%s: call stack depth exceeds %d", c.Name(), th.maxDepth))
	}
	var fn *Function
	if cl, ok := c.(*Closure); ok {
		fn = cl.fn
		if !th.allowRecursion {
			for _, fr := range th.stack {
				if fr.fn == fn {
					return nil, th.evalError(fmt.Errorf("function %s called recursively: %w", fn.name, ErrRecursion))
				}
			}
		}
	}

	fr := th.push(c, fn)
	saved := th.sideEffect
	th.sideEffect = false

	global, local := globalProfiler(), th.profiler
	var gtok, ltok any
	if global != nil {
		gtok = global.Start(c)
	}
	if local != nil {
		ltok = local.Start(c)
	}
	defer func() {
		if local != nil {
			local.End(ltok)
		}
		if global != nil {
			global.End(gtok)
		}
		th.sideEffect = saved || th.sideEffect
		th.pop(fr)
	}()

	v, err := body()
	if err != nil {
		return nil, th.wrapError(err)
	}
	if v == nil {
		invariant("%s returned no value and no error", c.Name())
	}
	return v, nil
}

// wrapError attaches the current call stack to err unless it already
// carries one. Interruptions are never wrapped.
func (th *Thread) wrapError(err error) error {
	var ie *InterruptedError
	if errors.As(err, &ie) {
		return err
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		return err
	}
	return th.evalError(err)
}

func (th *Thread) evalError(err error) *EvalError {
	return &EvalError{Msg: err.Error(), CallStack: th.CallStack(), cause: err}
}
