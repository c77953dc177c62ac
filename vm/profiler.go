package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var profileLog = commonlog.GetLogger("larkvm.profiler")

// CallProfiler receives a span around every call. Start returns a token
// that is handed back to End when the call returns, error or not.
type CallProfiler interface {
	Start(c Callable) any
	End(token any)
}

// ---------------------------------------------------------------------------
// Process-wide registration
// ---------------------------------------------------------------------------
//
// At most one global profiler is active. Installation is reference counted
// so that nested enable/disable pairs compose; the active profiler is read
// on every call through an atomic pointer, and only the registration path
// takes the mutex.

type profilerBox struct {
	p CallProfiler
}

var (
	profilerMu     sync.Mutex
	profilerRefs   int
	activeProfiler atomic.Pointer[profilerBox]
)

// InstallCallProfiler enables p for every thread in the process. Installing
// the already-active profiler again increments its reference count;
// installing a different one while p is active fails.
func InstallCallProfiler(p CallProfiler) error {
	if p == nil {
		return fmt.Errorf("install call profiler: nil profiler")
	}
	profilerMu.Lock()
	defer profilerMu.Unlock()

	if cur := activeProfiler.Load(); cur != nil {
		if cur.p != p {
			return fmt.Errorf("install call profiler: a different profiler is already installed")
		}
		profilerRefs++
		return nil
	}
	activeProfiler.Store(&profilerBox{p: p})
	profilerRefs = 1
	profileLog.Debugf("call profiler installed: %T", p)
	return nil
}

// RemoveCallProfiler releases one reference to p, disabling it when the
// count drops to zero.
func RemoveCallProfiler(p CallProfiler) error {
	profilerMu.Lock()
	defer profilerMu.Unlock()

	cur := activeProfiler.Load()
	if cur == nil || cur.p != p {
		return fmt.Errorf("remove call profiler: profiler is not installed")
	}
	profilerRefs--
	if profilerRefs == 0 {
		activeProfiler.Store(nil)
		profileLog.Debugf("call profiler removed: %T", p)
	}
	return nil
}

// globalProfiler returns the active process-wide profiler, or nil.
func globalProfiler() CallProfiler {
	if b := activeProfiler.Load(); b != nil {
		return b.p
	}
	return nil
}

// ---------------------------------------------------------------------------
// CountingProfiler
// ---------------------------------------------------------------------------

// CallProfile holds profiling data for a single callable name.
type CallProfile struct {
	Name  string
	Calls uint64        // invocations
	Total time.Duration // Cumulative wall time, nested calls included
}

type callCounters struct {
	calls atomic.Uint64
	nanos atomic.Int64
}

type countingToken struct {
	counters *callCounters
	start    time.Time
}

// CountingProfiler counts invocations and cumulative time per callable
// name. It is safe for concurrent use by many threads.
type CountingProfiler struct {
	profiles sync.Map // string -> *callCounters
}

// NewCountingProfiler creates an empty profiler.
func NewCountingProfiler() *CountingProfiler {
	return &CountingProfiler{}
}

// Start implements CallProfiler.
func (p *CountingProfiler) Start(c Callable) any {
	val, _ := p.profiles.LoadOrStore(c.Name(), &callCounters{})
	counters := val.(*callCounters)
	counters.calls.Add(1)
	return countingToken{counters: counters, start: time.Now()}
}

// End implements CallProfiler.
func (p *CountingProfiler) End(token any) {
	t := token.(countingToken)
	t.counters.nanos.Add(int64(time.Since(t.start)))
}

// Profile returns the profile for name, or false if it was never called.
func (p *CountingProfiler) Profile(name string) (CallProfile, bool) {
	val, ok := p.profiles.Load(name)
	if !ok {
		return CallProfile{}, false
	}
	c := val.(*callCounters)
	return CallProfile{Name: name, Calls: c.calls.Load(), Total: time.Duration(c.nanos.Load())}, true
}

// Top returns the n most frequently called profiles, most calls first.
// Ties are broken by name.
func (p *CountingProfiler) Top(n int) []CallProfile {
	var all []CallProfile
	p.profiles.Range(func(key, value any) bool {
		c := value.(*callCounters)
		all = append(all, CallProfile{
			Name:  key.(string),
			Calls: c.calls.Load(),
			Total: time.Duration(c.nanos.Load()),
		})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Calls != all[j].Calls {
			return all[i].Calls > all[j].Calls
		}
		return all[i].Name < all[j].Name
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset discards all profiles.
func (p *CountingProfiler) Reset() {
	p.profiles.Range(func(key, _ any) bool {
		p.profiles.Delete(key)
		return true
	})
}
