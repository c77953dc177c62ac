package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// InternalError is panicked when an invariant between the code producer and
// the interpreter is broken: an operand decode that disagrees with its
// measured size, an unassigned addressing mode, a write to a constant
// register. It is never recovered by this package.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "larkvm internal error: " + e.Msg
}

func invariant(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// EvalError is a recoverable evaluation failure. CallStack is captured at the
// point where the failure first crossed an instruction boundary.
type EvalError struct {
	Msg       string
	CallStack CallStack
	cause     error
}

func (e *EvalError) Error() string { return e.Msg }

// Unwrap returns the underlying cause, if any.
func (e *EvalError) Unwrap() error { return e.cause }

// Backtrace renders the call stack followed by the message, innermost last.
func (e *EvalError) Backtrace() string {
	var sb strings.Builder
	sb.WriteString("Traceback (most recent call last):\n")
	for _, fr := range e.CallStack {
		fmt.Fprintf(&sb, "  %s: in %s\n", fr.Pos, fr.Name)
	}
	sb.WriteString("Error: ")
	sb.WriteString(e.Msg)
	return sb.String()
}

// InterruptedError is returned when the host cancels a thread that polls for
// interrupts. It is not an evaluation error and is never wrapped in one.
type InterruptedError struct {
	Reason string
}

func (e *InterruptedError) Error() string {
	if e.Reason == "" {
		return "evaluation interrupted"
	}
	return "evaluation interrupted: " + e.Reason
}

// ErrModuleNotFound is wrapped by loaders that cannot resolve a module name.
var ErrModuleNotFound = errors.New("module not found")

// ErrModuleBusy is wrapped when a thread tries to execute a module body
// that another thread is running.
var ErrModuleBusy = errors.New("module is being executed by another thread")

// ErrStepLimit is wrapped by the evaluation error raised when a thread
// exceeds its step limit.
var ErrStepLimit = errors.New("step limit exceeded")

// ErrRecursion is wrapped when a function re-enters itself and recursion is
// not permitted.
var ErrRecursion = errors.New("recursion not permitted")

// IsInterrupted reports whether err is, or wraps, an interruption.
func IsInterrupted(err error) bool {
	var ie *InterruptedError
	return errors.As(err, &ie)
}
