package ops

import (
	"context"
	"math"

	"github.com/rgthelen/alp/internal/expressions"
	"github.com/rgthelen/alp/pkg/schema"
)

// MathOps returns the arithmetic operation pack.
func MathOps() []Op {
	return []Op{
		NewHandler("add", "a + b", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return numParam(a, "a", 0) + numParam(a, "b", 0), nil
		}),
		NewHandler("sub", "a - b", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return numParam(a, "a", 0) - numParam(a, "b", 0), nil
		}),
		NewHandler("mul", "a * b", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return numParam(a, "a", 0) * numParam(a, "b", 0), nil
		}),
		NewHandler("div", "a / b, failing on division by zero", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			b := numParam(a, "b", 0)
			if b == 0 {
				return nil, schema.NewError(schema.ErrMath, "division by zero in div op")
			}
			return numParam(a, "a", 0) / b, nil
		}),
		NewHandler("pow", "a raised to b", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return math.Pow(numParam(a, "a", 0), numParam(a, "b", 0)), nil
		}),
		NewHandler("neg", "negate x", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return -numParam(a, "x", 0), nil
		}),
		NewHandler("abs", "absolute value of x", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return math.Abs(numParam(a, "x", 0)), nil
		}),
		NewHandler("round", "round x, optionally to ndigits; halves round away from zero", opRound),
		NewHandler("min", "minimum of a/b or an items list", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return opMinMax(a, false)
		}),
		NewHandler("max", "maximum of a/b or an items list", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return opMinMax(a, true)
		}),
		NewHandler("sum", "sum of a numeric items list", opSum),
		NewHandler("avg", "mean of a numeric items list", opAvg),
		NewHandler("calc_eval", "evaluate a restricted arithmetic expression", opCalcEval),
		NewHandler("to_calc_result", "wrap a number as {value}", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			return map[string]any{"value": numParam(a, "value", 0)}, nil
		}),
	}
}

func opRound(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	x := numParam(a, "x", 0)
	if nd, ok := a["ndigits"]; ok && nd != nil {
		digits := intParam(a, "ndigits", 0)
		shift := math.Pow(10, float64(digits))
		return math.Round(x*shift) / shift, nil
	}
	return math.Round(x), nil
}

func opMinMax(a map[string]any, wantMax bool) (any, error) {
	if items, ok := listParam(a, "items"); ok {
		if len(items) == 0 {
			return float64(0), nil
		}
		best, ok := toNumber(items[0])
		if !ok {
			return nil, schema.NewError(schema.ErrType, "items must be numeric")
		}
		for _, it := range items[1:] {
			f, ok := toNumber(it)
			if !ok {
				return nil, schema.NewError(schema.ErrType, "items must be numeric")
			}
			if wantMax == (f > best) {
				best = f
			}
		}
		return best, nil
	}
	x, y := numParam(a, "a", 0), numParam(a, "b", 0)
	if wantMax {
		return math.Max(x, y), nil
	}
	return math.Min(x, y), nil
}

func opSum(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	items, ok := listParam(a, "items")
	if !ok {
		if _, present := a["items"]; present {
			return nil, schema.NewError(schema.ErrOp, "sum expects list 'items'")
		}
		items = nil
	}
	total := 0.0
	for _, it := range items {
		f, ok := toNumber(it)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrType, "sum: non-numeric item %v", it)
		}
		total += f
	}
	return total, nil
}

func opAvg(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	items, _ := listParam(a, "items")
	if len(items) == 0 {
		return 0.0, nil
	}
	total, err := opSum(ctx, a, rt)
	if err != nil {
		return nil, err
	}
	return total.(float64) / float64(len(items)), nil
}

func opCalcEval(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	exprArg := a["expr"]
	if wrapped, ok := exprArg.(map[string]any); ok {
		exprArg = wrapped["expr"]
	}
	exprStr, ok := exprArg.(string)
	if !ok {
		return nil, schema.NewError(schema.ErrSyntax, "calc_eval requires 'expr' string")
	}
	v, err := expressions.Calc(exprStr)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": v}, nil
}
