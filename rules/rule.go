package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator decides whether a stage guard condition holds against a draft's
// content. An empty condition is the caller's concern; Evaluate always gets a
// non-empty expression.
type Evaluator interface {
	Evaluate(condition string, content map[string]interface{}) (bool, error)
}

// ExprEvaluator evaluates guard conditions with expr-lang/expr, caching
// compiled programs per expression.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates an ExprEvaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses) the condition and runs it against the draft
// content. The condition must yield a boolean; anything else is an error.
func (e *ExprEvaluator) Evaluate(condition string, content map[string]interface{}) (bool, error) {
	if content == nil {
		content = map[string]interface{}{}
	}

	e.mu.RLock()
	program, ok := e.cache[condition]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[condition]; !ok {
			var err error
			program, err = expr.Compile(condition, expr.Env(content), expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[condition] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, content)
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", condition, result)
	}
	return b, nil
}
