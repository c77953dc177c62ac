package vm

import (
	"fmt"
	"strings"
)

// Frame is the record of one active call. Frames are reused by the thread
// once their call returns, so callers must not retain them.
type Frame struct {
	callable Callable
	fn       *Function // set for closures
	ip       int       // current instruction of fn
}

// Callable returns the callable being executed.
func (fr *Frame) Callable() Callable { return fr.callable }

// Position returns the innermost source location of the call: the current
// instruction for compiled functions, the declaration otherwise.
func (fr *Frame) Position() Location {
	if fr.fn != nil {
		if stack := fr.fn.locationAt(fr.ip); len(stack) > 0 {
			return stack[len(stack)-1]
		}
		return fr.fn.pos
	}
	return fr.callable.Location()
}

// CallFrame is an immutable snapshot of a Frame.
type CallFrame struct {
	Name string
	Pos  Location
}

func (fr CallFrame) String() string {
	return fmt.Sprintf("%s: in %s", fr.Pos, fr.Name)
}

// CallStack is a snapshot of a thread's frames, outermost first.
type CallStack []CallFrame

// Innermost returns the innermost frame, or the zero CallFrame.
func (cs CallStack) Innermost() CallFrame {
	if len(cs) == 0 {
		return CallFrame{}
	}
	return cs[len(cs)-1]
}

func (cs CallStack) String() string {
	var sb strings.Builder
	for _, fr := range cs {
		sb.WriteString(fr.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// appendFrames adds the snapshot of fr. Compiled frames whose current
// instruction was inlined contribute one entry per location, outermost
// first.
func (fr *Frame) appendFrames(cs CallStack) CallStack {
	if fr.fn == nil {
		return append(cs, CallFrame{Name: fr.callable.Name(), Pos: fr.callable.Location()})
	}
	stack := fr.fn.locationAt(fr.ip)
	if len(stack) == 0 {
		return append(cs, CallFrame{Name: fr.callable.Name(), Pos: fr.fn.pos})
	}
	for _, loc := range stack {
		cs = append(cs, CallFrame{Name: fr.callable.Name(), Pos: loc})
	}
	return cs
}
