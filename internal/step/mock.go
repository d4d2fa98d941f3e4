package step

import (
	"reflect"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// anyArg is the wildcard sentinel type.
type anyArg struct{}

// Any matches any value when used inside a mock's expected arguments.
var Any = anyArg{}

// mockRule is one canned response for a step name.
type mockRule struct {
	args   *pipeline.Args // nil matches every argument set
	result *pipeline.StepResult
	err    error
}

// MockRegistry overrides step implementations with canned results. Lookup
// order in the dispatcher: mock overrides first, then the real registry.
// Matching uses exact argument equality, with Any as a wildcard.
type MockRegistry struct {
	mu    sync.Mutex
	rules map[string][]mockRule
}

// NewMockRegistry creates an empty mock registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{rules: make(map[string][]mockRule)}
}

// Override cans a response for every invocation of name.
func (m *MockRegistry) Override(name string, result *pipeline.StepResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[name] = append(m.rules[name], mockRule{result: result, err: err})
}

// OverrideMatching cans a response for invocations of name whose arguments
// equal args. Use Any as a value to wildcard a position or key.
func (m *MockRegistry) OverrideMatching(name string, args pipeline.Args, result *pipeline.StepResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[name] = append(m.rules[name], mockRule{args: &args, result: result, err: err})
}

// Resolve finds the first canned response matching the invocation.
// Rules are checked in registration order; specific rules should therefore
// be registered before catch-alls.
func (m *MockRegistry) Resolve(name string, args pipeline.Args) (*pipeline.StepResult, error, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules[name] {
		if rule.args == nil || argsMatch(*rule.args, args) {
			return rule.result, rule.err, true
		}
	}
	return nil, nil, false
}

// argsMatch compares an expected argument set against an actual one.
func argsMatch(expected, actual pipeline.Args) bool {
	if expected.Named != nil {
		if actual.Named == nil || len(expected.Named) != len(actual.Named) {
			return false
		}
		for k, want := range expected.Named {
			got, ok := actual.Named[k]
			if !ok || !valueMatch(want, got) {
				return false
			}
		}
		return true
	}
	if len(expected.Positional) != len(actual.Positional) {
		return false
	}
	for i, want := range expected.Positional {
		if !valueMatch(want, actual.Positional[i]) {
			return false
		}
	}
	return true
}

func valueMatch(want, got any) bool {
	if _, isAny := want.(anyArg); isAny {
		return true
	}
	return reflect.DeepEqual(want, got)
}
