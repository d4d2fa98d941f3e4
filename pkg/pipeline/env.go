package pipeline

import (
	"fmt"
	"regexp"

	"github.com/conveyor-ci/conveyor/pkg/errors"
)

var expansionRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvVars is an ordered environment scope. Child scopes overlay their
// parent: reads walk up the chain, writes stay local, so mutations inside a
// stage are invisible to sibling stages unless explicitly merged.
//
// EnvVars is not safe for concurrent mutation; parallel branches must work
// on a Snapshot and publish through Merge.
type EnvVars struct {
	parent *EnvVars
	keys   []string
	vals   map[string]string
}

// NewEnvVars creates an empty root scope.
func NewEnvVars() *EnvVars {
	return &EnvVars{vals: make(map[string]string)}
}

// Child creates an empty scope overlaying this one.
func (e *EnvVars) Child() *EnvVars {
	return &EnvVars{parent: e, vals: make(map[string]string)}
}

// Set binds a variable in this scope, shadowing any parent binding.
// First writes keep declaration order; rewrites keep the original position.
func (e *EnvVars) Set(name, value string) {
	if _, exists := e.vals[name]; !exists {
		e.keys = append(e.keys, name)
	}
	e.vals[name] = value
}

// Get resolves a variable through the scope chain.
func (e *EnvVars) Get(name string) (string, bool) {
	for scope := e; scope != nil; scope = scope.parent {
		if v, ok := scope.vals[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Keys returns the names visible from this scope in declaration order,
// parent scopes first, shadowed names reported once at their first position.
func (e *EnvVars) Keys() []string {
	var chain []*EnvVars
	for scope := e; scope != nil; scope = scope.parent {
		chain = append(chain, scope)
	}
	seen := make(map[string]bool)
	var out []string
	for i := len(chain) - 1; i >= 0; i-- {
		for _, k := range chain[i].keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// Snapshot flattens the scope chain into a detached root scope. Parallel
// branches fork from a snapshot so sibling mutations cannot interleave.
func (e *EnvVars) Snapshot() *EnvVars {
	snap := NewEnvVars()
	for _, k := range e.Keys() {
		v, _ := e.Get(k)
		snap.Set(k, v)
	}
	return snap
}

// Merge publishes every binding of other into this scope. Conflicting keys
// resolve last-writer-wins in merge order.
func (e *EnvVars) Merge(other *EnvVars) {
	if other == nil {
		return
	}
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		e.Set(k, v)
	}
}

// Expand substitutes every ${NAME} occurrence in s. A reference to a name
// not visible from this scope fails with UnknownEnvVarError.
func (e *EnvVars) Expand(s string) (string, error) {
	var missing string
	out := expansionRe.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := e.Get(name); ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", &errors.UnknownEnvVarError{Name: missing}
	}
	return out, nil
}

// Environ renders the visible bindings as "KEY=value" pairs for os/exec.
func (e *EnvVars) Environ() []string {
	keys := e.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v, _ := e.Get(k)
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
