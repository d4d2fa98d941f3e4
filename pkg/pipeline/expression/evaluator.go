package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/conveyor-ci/conveyor/pkg/errors"
)

// Evaluator evaluates stage guard expressions against the pipeline context.
// It caches compiled expressions for repeated evaluations across stages.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates a guard expression against the given context.
// Returns the boolean result or an error if evaluation fails.
//
// The executor passes a context with one key:
//   - env: map of visible environment variables
//
// Example:
//
//	ok, err := eval.Evaluate(`env.BRANCH == "main"`, map[string]interface{}{
//	    "env": map[string]string{"BRANCH": "main"},
//	})
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil // Empty guard defaults to true
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &errors.DefinitionError{
			Path:       "when",
			Message:    fmt.Sprintf("failed to compile guard expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced variables exist",
		}
	}

	result, err := expr.Run(program, ctx)
	if err != nil {
		return false, &errors.DefinitionError{
			Path:       "when",
			Message:    fmt.Sprintf("guard evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced variables exist in the pipeline context",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.DefinitionError{
			Path:       "when",
			Message:    fmt.Sprintf("guard must return boolean, got %T", result),
			Suggestion: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}

	return boolResult, nil
}

// Compile validates an expression without evaluating it and caches the
// compiled program. The definition loader does not call it; guards are first
// compiled when the executor evaluates them.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.compile(expression)
	return err
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}
