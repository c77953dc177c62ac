package vm

import (
	"fmt"
	"strings"
)

// Closure is a compiled function together with its parameter defaults and
// captured cells.
type Closure struct {
	fn       *Function
	defaults Tuple // trailing parameters; nil entries are mandatory
	freevars Tuple // *cell values, one per free variable
}

// NewClosure wraps a function that has no free variables, such as a module
// body, so it can be called.
func NewClosure(fn *Function, defaults Tuple) (*Closure, error) {
	if len(fn.freevars) > 0 {
		return nil, fmt.Errorf("%s: function has %d free variables", fn.name, len(fn.freevars))
	}
	if len(defaults) > fn.params.NumParams {
		return nil, fmt.Errorf("%s: %d defaults for %d parameters", fn.name, len(defaults), fn.params.NumParams)
	}
	return &Closure{fn: fn, defaults: defaults}, nil
}

func (c *Closure) Name() string       { return c.fn.name }
func (c *Closure) Location() Location { return c.fn.pos }
func (c *Closure) Type() *Type        { return functionType }
func (c *Closure) Truth() bool        { return true }
func (c *Closure) String() string     { return "<function " + c.fn.name + ">" }
func (c *Closure) value()             {}

// Function returns the compiled function.
func (c *Closure) Function() *Function { return c.fn }

// Fastcall binds the arguments and runs the body. It must be reached
// through Thread.Fastcall, which pushes the frame.
func (c *Closure) Fastcall(th *Thread, pos, named *Args) (Value, error) {
	fr := th.frameFor(c)
	p := pos.Take()
	n := named.Take()
	if len(n)%2 != 0 {
		invariant("%s: odd-length keyword buffer", c.fn.name)
	}
	names := make([]string, len(n)/2)
	vals := make([]Value, len(n)/2)
	for j := range names {
		s, ok := n[2*j].(String)
		if !ok {
			invariant("%s: keyword name is %s, not string", c.fn.name, n[2*j].Type().Name)
		}
		names[j] = string(s)
		vals[j] = n[2*j+1]
		for _, prev := range names[:j] {
			if prev == names[j] {
				return nil, errMultipleValues(c.fn.name, prev)
			}
		}
	}
	locals := make([]Value, c.fn.regCount)
	if err := c.bind(th, locals, p, names, vals, nil); err != nil {
		return nil, err
	}
	return c.run(th, fr, locals)
}

// Link precomputes the parameter slot of each keyword in sig.
func (c *Closure) Link(sig *CallSig) (LinkedCall, error) {
	slots := make([]int, len(sig.Names))
	for j, name := range sig.Names {
		for _, prev := range sig.Names[:j] {
			if prev == name {
				return nil, errMultipleValues(c.fn.name, name)
			}
		}
		i, ok := c.fn.paramIndex[name]
		switch {
		case ok:
			slots[j] = i
		case c.fn.params.HasKwargs:
			slots[j] = -1
		default:
			return nil, c.unexpectedKeyword(name)
		}
	}
	return &linkedClosure{c: c, sig: sig, slots: slots}, nil
}

type linkedClosure struct {
	c     *Closure
	sig   *CallSig
	slots []int
}

func (l *linkedClosure) CallLinked(th *Thread, args *Args) (Value, error) {
	fr := th.frameFor(l.c)
	vals := args.Take()
	np := l.sig.NumPositional
	locals := make([]Value, l.c.fn.regCount)
	if err := l.c.bind(th, locals, vals[:np], l.sig.Names, vals[np:], l.slots); err != nil {
		return nil, err
	}
	return l.c.run(th, fr, locals)
}

func (c *Closure) unexpectedKeyword(name string) error {
	params := make([]string, c.fn.params.NumParams)
	for i := range params {
		params[i] = c.fn.locals[i].Name
	}
	return fmt.Errorf("%s: unexpected keyword argument '%s'%s", c.fn.name, name, didYouMean(name, params, ""))
}

// bind fills the parameter registers. slots, when non-nil, gives the
// precomputed parameter index of each name (-1 for **kwargs).
func (c *Closure) bind(th *Thread, locals, pos []Value, names []string, vals []Value, slots []int) error {
	fn := c.fn
	p := fn.params
	npos := p.NumParams - p.NumKwonly

	var extra Tuple
	if len(pos) > npos {
		if !p.HasVarargs {
			return fmt.Errorf("%s: got %d arguments, want at most %d", fn.name, len(pos), npos)
		}
		extra = Tuple(pos[npos:])
		pos = pos[:npos]
	}
	copy(locals, pos)

	var kwargs *Dict
	if p.HasKwargs {
		kwargs = NewDict(th.Mutability(), 0)
	}
	for j, name := range names {
		slot := -1
		if slots != nil {
			slot = slots[j]
		} else if i, ok := fn.paramIndex[name]; ok {
			slot = i
		}
		if slot >= 0 {
			if locals[slot] != nil {
				return errMultipleValues(fn.name, name)
			}
			locals[slot] = vals[j]
			continue
		}
		if kwargs == nil {
			return c.unexpectedKeyword(name)
		}
		if _, found, _ := kwargs.Get(String(name)); found {
			return errMultipleValues(fn.name, name)
		}
		if err := kwargs.SetKey(String(name), vals[j]); err != nil {
			return err
		}
	}

	firstDefault := p.NumParams - len(c.defaults)
	var missing []string
	for i := 0; i < p.NumParams; i++ {
		if locals[i] != nil {
			continue
		}
		if i >= firstDefault {
			if d := c.defaults[i-firstDefault]; d != nil {
				locals[i] = d
				continue
			}
		}
		missing = append(missing, fn.locals[i].Name)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing argument for %s", fn.name, strings.Join(missing, ", "))
	}

	i := p.NumParams
	if p.HasVarargs {
		if extra == nil {
			extra = Tuple{}
		}
		locals[i] = extra
		i++
	}
	if p.HasKwargs {
		locals[i] = kwargs
	}
	return nil
}

// run executes the body, or short-circuits on a proven constant result.
func (c *Closure) run(th *Thread, fr *Frame, locals []Value) (Value, error) {
	fn := c.fn
	if fn.constResult != nil {
		return fn.constResult, nil
	}
	v, err := th.interpret(fr, c, locals)
	if err != nil {
		return nil, err
	}
	if fn.resultType != "" && v.Type().Name != fn.resultType {
		invariant("%s returned %s, proven to return %s", fn.name, v.Type().Name, fn.resultType)
	}
	return v, nil
}
