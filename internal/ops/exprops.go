package ops

import (
	"context"
	"sync"

	"github.com/rgthelen/alp/internal/expressions"
	"github.com/rgthelen/alp/pkg/schema"
)

// The expression engines are stateless beyond their program caches and are
// shared process-wide.
var (
	celOnce   sync.Once
	celEngine *expressions.CELEngine

	exprEngine = expressions.NewExprEngine()
	jqEngine   = expressions.NewJQEngine()
)

func sharedCEL() *expressions.CELEngine {
	celOnce.Do(func() {
		celEngine, _ = expressions.NewCELEngine()
	})
	return celEngine
}

// ExprOps returns the expression-engine pack: expr_eval, cel_eval, jq.
func ExprOps() []Op {
	return []Op{
		NewHandler("expr_eval", "evaluate an Expr expression over the environment", opExprEval),
		NewHandler("cel_eval", "evaluate a CEL expression over value/env", opCELEval),
		NewHandler("jq", "run a jq query over a JSON value", opJQ),
	}
}

func opExprEval(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	expression := stringParam(a, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrSyntax, "expr_eval requires non-empty 'expression'")
	}

	scope := map[string]any{}
	if rt.Env != nil {
		scope = rt.Env.Values()
	}
	if data, ok := a["data"]; ok {
		scope["data"] = data
	}

	result, err := exprEngine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func opCELEval(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	expression := stringParam(a, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrSyntax, "cel_eval requires non-empty 'expression'")
	}
	eng := sharedCEL()
	if eng == nil {
		return nil, schema.NewError(schema.ErrOp, "CEL engine unavailable")
	}

	vars := map[string]any{}
	if rt.Env != nil {
		if v, ok := rt.Env.Lookup("value"); ok {
			vars["value"] = v
		}
		vars["env"] = rt.Env.Values()
	}
	result, err := eng.Evaluate(ctx, expression, vars)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func opJQ(ctx context.Context, a map[string]any, _ *Runtime) (any, error) {
	query := stringParam(a, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrSyntax, "jq requires non-empty 'query'")
	}
	result, err := jqEngine.Evaluate(ctx, query, a["input"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}
