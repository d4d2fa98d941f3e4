package step

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is the process-wide catalog of step implementations. The
// lifecycle is: Register at engine init, Freeze, then lock-free Lookup
// during execution.
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool
	impls  atomic.Pointer[map[string]Interface]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Interface)
	r.impls.Store(&empty)
	return r
}

// Register adds an implementation. Duplicate names and post-freeze
// registration are errors.
func (r *Registry) Register(impl Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("registry is frozen; register steps at engine init")
	}

	current := *r.impls.Load()
	if _, exists := current[impl.Name()]; exists {
		return fmt.Errorf("step %q already registered", impl.Name())
	}

	next := make(map[string]Interface, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[impl.Name()] = impl
	r.impls.Store(&next)
	return nil
}

// Freeze closes the registry for writes. Reads are lock-free afterwards.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Lookup resolves a step implementation by name.
func (r *Registry) Lookup(name string) (Interface, bool) {
	impl, ok := (*r.impls.Load())[name]
	return impl, ok
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	current := *r.impls.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
