package expressions

import (
	"context"
	"reflect"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// RefResolver resolves a $-reference for condition operands. A missing
// reference resolves to nil rather than failing, so conditions can probe
// optional fields.
type RefResolver func(ref string) (any, bool)

// EvalCondition evaluates a structured condition expression: nil is true,
// scalars follow the usual truthiness rules, and a mapping carries exactly
// one of eq/ne/gt/gte/lt/lte/and/or/not/cel.
func EvalCondition(ctx context.Context, cond any, resolve RefResolver, cel *CELEngine, celVars map[string]any) (bool, error) {
	switch c := cond.(type) {
	case nil:
		return true, nil
	case bool:
		return c, nil
	case string:
		return Truthy(resolveOperand(c, resolve)), nil
	case float64, int, int64:
		return Truthy(c), nil
	case map[string]any:
		if len(c) != 1 {
			return false, schema.NewErrorf(schema.ErrSyntax, "condition must carry exactly one operator, got %d", len(c))
		}
		for opName, arg := range c {
			return evalConditionOp(ctx, opName, arg, resolve, cel, celVars)
		}
	}
	return false, schema.NewErrorf(schema.ErrSyntax, "unsupported condition expression of type %T", cond)
}

func evalConditionOp(ctx context.Context, opName string, arg any, resolve RefResolver, cel *CELEngine, celVars map[string]any) (bool, error) {
	switch opName {
	case "and", "or":
		subs, ok := arg.([]any)
		if !ok {
			return false, schema.NewErrorf(schema.ErrSyntax, "%q requires a list of sub-conditions", opName)
		}
		for _, sub := range subs {
			v, err := EvalCondition(ctx, sub, resolve, cel, celVars)
			if err != nil {
				return false, err
			}
			if opName == "and" && !v {
				return false, nil
			}
			if opName == "or" && v {
				return true, nil
			}
		}
		return opName == "and", nil

	case "not":
		v, err := EvalCondition(ctx, arg, resolve, cel, celVars)
		if err != nil {
			return false, err
		}
		return !v, nil

	case "cel":
		exprStr, ok := arg.(string)
		if !ok {
			return false, schema.NewError(schema.ErrSyntax, "\"cel\" condition requires an expression string")
		}
		if cel == nil {
			return false, schema.NewError(schema.ErrOp, "CEL engine unavailable")
		}
		out, err := cel.Evaluate(ctx, exprStr, celVars)
		if err != nil {
			return false, err
		}
		return Truthy(out), nil

	case "eq", "ne", "gt", "gte", "lt", "lte":
		pair, ok := arg.([]any)
		if !ok || len(pair) != 2 {
			return false, schema.NewErrorf(schema.ErrSyntax, "%q requires exactly two operands", opName)
		}
		left := resolveOperand(pair[0], resolve)
		right := resolveOperand(pair[1], resolve)
		return compare(opName, left, right)
	}
	return false, schema.NewErrorf(schema.ErrSyntax, "unknown condition operator %q", opName)
}

func resolveOperand(v any, resolve RefResolver) any {
	s, ok := v.(string)
	if !ok || resolve == nil {
		return v
	}
	if strings.HasPrefix(s, "$$") {
		return s[1:]
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		resolved, _ := resolve(s)
		return resolved
	}
	return v
}

func compare(op string, left, right any) (bool, error) {
	switch op {
	case "eq":
		return condEqual(left, right), nil
	case "ne":
		return !condEqual(left, right), nil
	}

	if lf, lok := condNumeric(left); lok {
		if rf, rok := condNumeric(right); rok {
			return ordered(op, lf < rf, lf > rf), nil
		}
	}
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			return ordered(op, ls < rs, ls > rs), nil
		}
	}
	return false, schema.NewErrorf(schema.ErrType, "operands of %q are not comparable (%T vs %T)", op, left, right)
}

func ordered(op string, lt, gt bool) bool {
	switch op {
	case "gt":
		return gt
	case "gte":
		return !lt
	case "lt":
		return lt
	case "lte":
		return !gt
	}
	return false
}

func condEqual(a, b any) bool {
	if fa, ok := condNumeric(a); ok {
		if fb, ok := condNumeric(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func condNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Truthy applies the usual rules: nonempty string, nonzero number,
// nonempty container, true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
