package vm

import (
	"strings"
	"testing"
)

func identityFunc(t *testing.T) *Closure {
	b := NewBuilder("ident")
	b.SetParams(Params{NumParams: 2})
	a := b.Local("a")
	b.Local("b")
	b.Emit(OpReturn, a)
	return mustClosure(t, mustBuild(t, b))
}

func TestFastcallRejectsDuplicateKeywords(t *testing.T) {
	calls := 0
	builtin := NewBuiltin("bi", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		calls++
		return None, nil
	})
	for _, c := range []Callable{builtin, identityFunc(t)} {
		named := MoveArgs(String("a"), Int(1), String("a"), Int(2))
		_, err := NewThread("test").Fastcall(c, nil, named)
		if err == nil || !strings.Contains(err.Error(), "got multiple values for parameter 'a'") {
			t.Errorf("%s: error = %v, want multiple values", c.Name(), err)
		}
	}
	if calls != 0 {
		t.Errorf("builtin ran %d times despite duplicate keywords", calls)
	}
}

func TestFastcallTransfersOwnership(t *testing.T) {
	var seen []Value
	builtin := NewBuiltin("bi", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		seen = args
		return Int(len(args)), nil
	})
	pos := MoveArgs(Int(1), Int(2))
	v, err := NewThread("test").Fastcall(builtin, pos, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v != Int(2) || len(seen) != 2 {
		t.Errorf("result = %v, seen %v", v, seen)
	}
	defer func() {
		if _, ok := recover().(*InternalError); !ok {
			t.Error("reading a moved buffer should panic")
		}
	}()
	pos.Len()
}

func TestCallSiteLinkCache(t *testing.T) {
	target := identityFunc(t)
	other := identityFunc(t)

	site := &callSite{}
	sig := &CallSig{NumPositional: 1, Names: []string{"b"}}
	l1, err := site.lookup(target, sig)
	if err != nil {
		t.Fatal(err)
	}
	l2, _ := site.lookup(target, sig)
	if l1 != l2 {
		t.Error("same callee should reuse the linked call")
	}
	l3, _ := site.lookup(other, sig)
	if l3 == l1 {
		t.Error("different callee must relink")
	}
	if site.links.Load() != 2 || site.reuses.Load() != 1 {
		t.Errorf("links = %d, reuses = %d, want 2 and 1", site.links.Load(), site.reuses.Load())
	}

	// Bound methods are fresh values per lookup and never cached.
	m, err := GetAttr(NewList(NewMutability(), nil), "append")
	if err != nil {
		t.Fatal(err)
	}
	site = &callSite{}
	site.lookup(m.(Callable), sig)
	site.lookup(m.(Callable), sig)
	if site.entry.Load() != nil || site.reuses.Load() != 0 {
		t.Error("bound method was cached")
	}

	if _, err := site.lookup(target, &CallSig{Names: []string{"c"}}); err == nil {
		t.Error("linking an unknown keyword should fail")
	}
}

func TestLinkedCallsMatchFastcall(t *testing.T) {
	c := identityFunc(t)
	th := NewThread("test")
	lc, err := c.Link(&CallSig{NumPositional: 0, Names: []string{"b", "a"}})
	if err != nil {
		t.Fatal(err)
	}
	v, err := th.callLinked(c, lc, MoveArgs(Int(2), Int(1)))
	if err != nil {
		t.Fatal(err)
	}
	if v != Int(1) {
		t.Errorf("linked call = %v, want 1", v)
	}

	v, err = Call(th, c, nil, []Tuple{{String("b"), Int(2)}, {String("a"), Int(1)}})
	if err != nil {
		t.Fatal(err)
	}
	if v != Int(1) {
		t.Errorf("Call = %v, want 1", v)
	}
}

func TestBuiltinThroughFastcallLink(t *testing.T) {
	var gotArgs Tuple
	var gotKwargs []Tuple
	bi := NewBuiltin("bi", func(th *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
		gotArgs, gotKwargs = args, kwargs
		return None, nil
	})
	lc, err := link(bi, &CallSig{NumPositional: 1, Names: []string{"k"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewThread("test").callLinked(bi, lc, MoveArgs(Int(1), Int(2))); err != nil {
		t.Fatal(err)
	}
	if Repr(gotArgs) != "(1,)" || len(gotKwargs) != 1 || Repr(gotKwargs[0]) != `("k", 2)` {
		t.Errorf("args = %v, kwargs = %v", gotArgs, gotKwargs)
	}
}

func TestUnpackArgs(t *testing.T) {
	var (
		x    Value
		name string
		n    int = 7
		flag bool
	)
	err := UnpackArgs("f", Tuple{Int(1), String("s")}, []Tuple{{String("flag"), True}},
		"x", &x, "name", &name, "n?", &n, "flag?", &flag)
	if err != nil {
		t.Fatal(err)
	}
	if x != Int(1) || name != "s" || n != 7 || !flag {
		t.Errorf("x=%v name=%q n=%d flag=%v", x, name, n, flag)
	}

	tests := []struct {
		args   Tuple
		kwargs []Tuple
		want   string
	}{
		{nil, nil, "missing argument for x"},
		{Tuple{Int(1), Int(2)}, nil, "for parameter name: got int, want string"},
		{Tuple{Int(1), String("s"), Int(3), True, Int(5)}, nil, "got 5 arguments, want at most 4"},
		{Tuple{Int(1), String("s")}, []Tuple{{String("nme"), Int(1)}}, "unexpected keyword argument 'nme' (did you mean 'name'?)"},
	}
	for _, tt := range tests {
		err := UnpackArgs("f", tt.args, tt.kwargs, "x", &x, "name", &name, "n?", &n, "flag?", &flag)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("UnpackArgs(%v, %v) error = %v, want %q", tt.args, tt.kwargs, err, tt.want)
		}
	}
}
