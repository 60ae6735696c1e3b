package ops

import (
	"context"
	"errors"

	"github.com/rgthelen/alp/internal/expressions"
	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/internal/vocab"
	"github.com/rgthelen/alp/pkg/schema"
)

// ControlOps returns the control-flow pack: if, switch, try.
func ControlOps() []Op {
	return []Op{
		NewHandler("if", "execute then/else based on a condition", opIf).WithLazyArgs("then", "else"),
		NewHandler("switch", "multi-branch dispatch on a value", opSwitch).WithLazyArgs("cases", "default"),
		NewHandler("try", "run steps, routing errors to a catch branch", opTry).WithLazyArgs("do", "catch", "finally"),
	}
}

func (rt *Runtime) evalCondition(ctx context.Context, cond any) (bool, error) {
	celVars := map[string]any{}
	if rt.Env != nil {
		if v, ok := rt.Env.Lookup("value"); ok {
			celVars["value"] = v
		}
		celVars["env"] = rt.Env.Values()
	}
	// Operands were already resolved with the op arguments, so no further
	// $-resolution happens here.
	return expressions.EvalCondition(ctx, cond, nil, sharedCEL(), celVars)
}

// branchArg fetches a branch in its unresolved form so inline steps
// resolve against the live environment as they run, not eagerly.
func (rt *Runtime) branchArg(resolved map[string]any, key string) (any, bool) {
	if rt.RawArgs != nil {
		if v, ok := rt.RawArgs[key]; ok {
			return v, true
		}
	}
	v, ok := resolved[key]
	return v, ok
}

// evalBranch executes a then/else/do/catch branch: a list of op steps, a
// single [name, args] step, or a plain value resolved and returned as-is.
func (rt *Runtime) evalBranch(ctx context.Context, branch any) (any, error) {
	steps, ok := branchSteps(branch)
	if !ok {
		if rt.Env != nil {
			return resolve.ResolveValue(rt.Env, branch)
		}
		return branch, nil
	}
	if rt.ExecInline == nil {
		return nil, schema.NewError(schema.ErrOp, "inline step execution unavailable")
	}
	return rt.ExecInline(ctx, steps)
}

func branchSteps(branch any) ([]schema.OpStep, bool) {
	list, ok := branch.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	// Single-step form: ["add", {...}]
	if _, isName := list[0].(string); isName {
		step, err := vocab.ParseOpStep(list)
		if err != nil {
			return nil, false
		}
		return []schema.OpStep{step}, true
	}
	// Step-list form: [["add", {...}], ["mul", {...}]]
	var steps []schema.OpStep
	for _, raw := range list {
		step, err := vocab.ParseOpStep(raw)
		if err != nil {
			return nil, false
		}
		steps = append(steps, step)
	}
	return steps, true
}

func opIf(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	cond, err := rt.evalCondition(ctx, a["condition"])
	if err != nil {
		return nil, err
	}
	if cond {
		branch, _ := rt.branchArg(a, "then")
		return rt.evalBranch(ctx, branch)
	}
	if elseBranch, ok := rt.branchArg(a, "else"); ok {
		return rt.evalBranch(ctx, elseBranch)
	}
	return nil, nil
}

func opSwitch(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	value := a["value"]
	var cases map[string]any
	if raw, ok := rt.branchArg(a, "cases"); ok {
		cases, _ = raw.(map[string]any)
	}
	branch, ok := cases[stringify(value)]
	if !ok {
		branch, ok = rt.branchArg(a, "default")
		if !ok {
			return nil, nil
		}
	}
	return rt.evalBranch(ctx, branch)
}

func opTry(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	doBranch, _ := rt.branchArg(a, "do")
	result, doErr := rt.evalBranch(ctx, doBranch)

	var errText any
	if doErr != nil {
		errText = doErr.Error()
		result = nil
		if catchBranch, ok := rt.branchArg(a, "catch"); ok {
			// Bind the error for the catch scope.
			rt.Env.Set("error", doErr.Error())
			var catchErr error
			result, catchErr = rt.evalBranch(ctx, catchBranch)
			if catchErr != nil {
				// A failing catch branch falls back to its literal value.
				if _, isSteps := branchSteps(catchBranch); !isSteps {
					result = catchBranch
				} else {
					result = nil
				}
			}
		}
	}

	var finallyResult any
	if finallyBranch, ok := rt.branchArg(a, "finally"); ok {
		// Finally always runs; its errors are suppressed.
		if v, err := rt.evalBranch(ctx, finallyBranch); err == nil {
			finallyResult = v
		}
	}

	if ctx.Err() != nil && doErr != nil && errors.Is(doErr, context.Canceled) {
		return nil, schema.NewError(schema.ErrCancelled, "try cancelled").WithCause(doErr)
	}

	return map[string]any{
		"result":  result,
		"error":   errText,
		"success": doErr == nil,
		"finally": finallyResult,
	}, nil
}
