package dist

import (
	"fmt"
	"sort"

	"github.com/chazu/larkvm/vm"
)

// LoadPolicy controls which modules a received function may load. A nil
// Allowed set means "allow all".
type LoadPolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows every module.
func NewPermissivePolicy() *LoadPolicy {
	return &LoadPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the named modules.
func NewRestrictedPolicy(allowed []string) *LoadPolicy {
	m := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		m[name] = true
	}
	return &LoadPolicy{Allowed: m}
}

// Deny adds a module to the deny list.
func (p *LoadPolicy) Deny(module string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[module] = true
}

// Check verifies that every module fn or its nested functions load is
// allowed.
func (p *LoadPolicy) Check(fn *vm.Function) error {
	for _, name := range Requires(fn) {
		if p.Denied[name] {
			return fmt.Errorf("dist: function %s: module %q is explicitly denied", fn.Name(), name)
		}
		if p.Allowed != nil && !p.Allowed[name] {
			return fmt.Errorf("dist: function %s: module %q is not allowed", fn.Name(), name)
		}
	}
	return nil
}

// Requires returns the sorted names of the modules loaded by fn and by every
// function reachable through its object pool.
func Requires(fn *vm.Function) []string {
	seen := make(map[*vm.Function]bool)
	mods := make(map[string]bool)
	var walk func(*vm.Function)

	walk = func(f *vm.Function) {
		if seen[f] {
			return
		}
		seen[f] = true
		spec := f.Spec()
		for ip := 0; ip < len(spec.Code); {
			op := vm.Opcode(spec.Code[ip])
			vals, next := op.Operands().Decode(spec.Code, ip+1)
			if op == vm.OpLoad {
				mods[spec.Strings[vals.([]any)[0].(int32)]] = true
			}
			ip = next
		}
		for _, obj := range spec.Objects {
			if nested, ok := obj.(*vm.Function); ok {
				walk(nested)
			}
		}
	}

	walk(fn)
	out := make([]string, 0, len(mods))
	for name := range mods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
