package vm

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Inline caching for attribute lookup
//
// Every DOT instruction owns one AttrCache, allocated when the function is
// built. The cache is monomorphic: it remembers the descriptor resolved for
// the last receiver type and is replaced whenever a different type shows
// up. Functions are shared across threads, so the entry is published with
// an atomic pointer swap; a racing replacement only costs a re-resolve.

// attrEntry is one resolved (type, descriptor) pair. A nil method means the
// attribute is a structural field read through HasAttrs.
type attrEntry struct {
	typ    *Type
	method *Method
}

func (e *attrEntry) apply(recv Value, name string) (Value, error) {
	if e.method == nil {
		return structField(recv, name)
	}
	if e.method.Kind == KindField {
		return e.method.Get(recv)
	}
	return bindMethod(recv, e.method), nil
}

// AttrCache is the inline cache of one attribute-lookup site.
type AttrCache struct {
	entry atomic.Pointer[attrEntry]

	// Statistics for profiling
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Lookup evaluates recv.name, reusing the cached descriptor when recv has
// the cached type.
func (ic *AttrCache) Lookup(recv Value, name string) (Value, error) {
	t := recv.Type()
	if e := ic.entry.Load(); e != nil && e.typ == t {
		ic.hits.Add(1)
		return e.apply(recv, name)
	}
	ic.misses.Add(1)
	e, err := resolveAttr(recv, name)
	if err != nil {
		return nil, err
	}
	ic.entry.Store(e)
	return e.apply(recv, name)
}

// CachedType returns the receiver type currently cached, or nil.
func (ic *AttrCache) CachedType() *Type {
	if e := ic.entry.Load(); e != nil {
		return e.typ
	}
	return nil
}

// Hits returns the number of lookups served from the cache.
func (ic *AttrCache) Hits() uint64 { return ic.hits.Load() }

// Misses returns the number of lookups that re-resolved.
func (ic *AttrCache) Misses() uint64 { return ic.misses.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *AttrCache) HitRate() float64 {
	hits, misses := ic.hits.Load(), ic.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears the cache back to empty state.
func (ic *AttrCache) Reset() {
	ic.entry.Store(nil)
	ic.hits.Store(0)
	ic.misses.Store(0)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// resolveAttr finds the descriptor for recv.name: first the type's
// registered table, then a structural field.
func resolveAttr(recv Value, name string) (*attrEntry, error) {
	t := recv.Type()
	if m := t.Method(name); m != nil {
		return &attrEntry{typ: t, method: m}, nil
	}
	if ha, ok := recv.(HasAttrs); ok {
		v, err := ha.Attr(name)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return &attrEntry{typ: t}, nil
		}
	}
	return nil, noSuchAttr(recv, name)
}

func structField(recv Value, name string) (Value, error) {
	if ha, ok := recv.(HasAttrs); ok {
		v, err := ha.Attr(name)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, noSuchAttr(recv, name)
}

func noSuchAttr(recv Value, name string) error {
	return fmt.Errorf("'%s' value has no field or method '%s'%s",
		recv.Type().Name, name, didYouMean(name, AttrNames(recv), "."))
}

// GetAttr evaluates recv.name without a cache.
func GetAttr(recv Value, name string) (Value, error) {
	e, err := resolveAttr(recv, name)
	if err != nil {
		return nil, err
	}
	return e.apply(recv, name)
}

// AttrNames returns the sorted attribute names of v: registered methods and
// fields plus structural fields.
func AttrNames(v Value) []string {
	names := append([]string(nil), v.Type().AttrNames()...)
	if ha, ok := v.(HasAttrs); ok {
		names = append(names, ha.AttrNames()...)
		sort.Strings(names)
	}
	return names
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// CacheStats holds aggregate per-site cache statistics for a function.
type CacheStats struct {
	AttrSites  int     // DOT instructions
	AttrEmpty  int     // DOT sites never executed
	AttrHits   uint64  // Total attribute cache hits
	AttrMisses uint64  // Total attribute cache misses
	HitRate    float64 // Attribute hit rate percentage
	CallSites  int     // CALL instructions
	Links      uint64  // Calls that linked the callee
	LinkReuses uint64  // Calls served by a cached link
}

// CollectCacheStats gathers the inline cache statistics of fn.
func CollectCacheStats(fn *Function) CacheStats {
	var stats CacheStats
	for _, ic := range fn.attrCaches {
		stats.AttrSites++
		if ic.CachedType() == nil && ic.Hits()+ic.Misses() == 0 {
			stats.AttrEmpty++
		}
		stats.AttrHits += ic.Hits()
		stats.AttrMisses += ic.Misses()
	}
	if total := stats.AttrHits + stats.AttrMisses; total > 0 {
		stats.HitRate = float64(stats.AttrHits) * 100 / float64(total)
	}
	for _, site := range fn.callSites {
		stats.CallSites++
		stats.Links += site.links.Load()
		stats.LinkReuses += site.reuses.Load()
	}
	return stats
}

// AttrCacheAt returns the cache of the DOT instruction at ip, or nil.
func (fn *Function) AttrCacheAt(ip int) *AttrCache {
	return fn.attrCaches[ip]
}
