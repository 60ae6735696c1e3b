package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rgthelen/alp/pkg/schema"
)

// ExprEngine evaluates Expr-language expressions against the environment.
// Compiled programs are cached and reused across invocations.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or retrieves from cache) an expression and runs it
// against the provided data map.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrSyntax, "empty expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, err := expr.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrOp, "expr evaluation failed for %q: %s", expression, err.Error()).WithCause(err)
	}
	return out, nil
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrSyntax, "invalid expression %q: %s", expression, err.Error()).WithCause(err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()
	return prg, nil
}
