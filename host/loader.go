// Package host embeds the runtime: it resolves LOAD statements against
// module sources, serialises access to long-lived threads, and runs
// independent evaluations concurrently.
package host

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/larkvm/vm"
	"github.com/chazu/larkvm/vm/dist"
)

var log = commonlog.GetLogger("larkvm.host")

// loadChain records the modules being loaded on behalf of a thread,
// outermost first.
var loadChain = vm.NewLocalKey[[]string]("load chain")

type loadEntry struct {
	ready  chan struct{}
	module *vm.Module
	err    error
}

// Loader implements vm.Loader. Each module is executed once, on a fresh
// thread built from the loader's options, and frozen before any other
// thread can see it.
type Loader struct {
	src         Source
	opts        []vm.ThreadOption
	predeclared map[string]vm.Value
	policy      *dist.LoadPolicy

	mu    sync.Mutex
	cache map[string]*loadEntry
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithThreadOptions sets the options of module threads.
func WithThreadOptions(opts ...vm.ThreadOption) LoaderOption {
	return func(l *Loader) { l.opts = append(l.opts, opts...) }
}

// WithPredeclared sets the environment unset module globals fall back to.
func WithPredeclared(env map[string]vm.Value) LoaderOption {
	return func(l *Loader) { l.predeclared = env }
}

// WithPolicy rejects modules that load anything p does not allow.
func WithPolicy(p *dist.LoadPolicy) LoaderOption {
	return func(l *Loader) { l.policy = p }
}

// NewLoader creates a loader over src.
func NewLoader(src Source, opts ...LoaderOption) *Loader {
	l := &Loader{src: src, cache: make(map[string]*loadEntry)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ThreadOptions returns the options for a thread that loads through l.
func (l *Loader) ThreadOptions() []vm.ThreadOption {
	return append(slices.Clip(l.opts), vm.WithLoader(l))
}

// Load implements vm.Loader. th may be nil for a load requested by the host
// itself.
func (l *Loader) Load(th *vm.Thread, name string) (*vm.Module, error) {
	var chain []string
	if th != nil {
		chain, _ = vm.GetLocal(th, loadChain)
	}
	if slices.Contains(chain, name) {
		return nil, fmt.Errorf("cycle in load graph: %s -> %s", strings.Join(chain, " -> "), name)
	}

	l.mu.Lock()
	e, ok := l.cache[name]
	if ok {
		l.mu.Unlock()
		<-e.ready
		return e.module, e.err
	}
	e = &loadEntry{ready: make(chan struct{})}
	l.cache[name] = e
	l.mu.Unlock()

	e.module, e.err = l.exec(name, append(slices.Clip(chain), name))
	close(e.ready)
	if e.err != nil {
		log.Debugf("load %s failed: %s", name, e.err)
	} else {
		log.Infof("loaded module %s", name)
	}
	return e.module, e.err
}

func (l *Loader) exec(name string, chain []string) (*vm.Module, error) {
	data, err := l.src.Fetch(name)
	if err != nil {
		return nil, err
	}
	fn, err := dist.UnmarshalFunction(data, l.predeclared)
	if err != nil {
		return nil, err
	}
	if fn.Module() == nil {
		return nil, fmt.Errorf("module %s: top-level function has no globals", name)
	}
	if l.policy != nil {
		if err := l.policy.Check(fn); err != nil {
			return nil, err
		}
	}

	th := vm.NewThread("load "+name, l.ThreadOptions()...)
	vm.SetLocal(th, loadChain, chain)
	if _, err := th.ExecModule(fn); err != nil {
		return nil, err
	}
	return fn.Module(), nil
}

// Cached returns the names of modules whose load has completed, in no
// particular order.
func (l *Loader) Cached() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var names []string
	for name, e := range l.cache {
		select {
		case <-e.ready:
			names = append(names, name)
		default:
		}
	}
	return names
}

// Forget drops name from the cache so the next load re-executes it.
func (l *Loader) Forget(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, name)
}
