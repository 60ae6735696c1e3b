package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/pkg/schema"
)

func invoke(t *testing.T, name string, args map[string]any) (any, error) {
	t.Helper()
	reg := NewBuiltinRegistry()
	op, err := reg.Get(name)
	require.NoError(t, err)
	rt := &Runtime{Env: resolve.NewEnv()}
	return op.Invoke(context.Background(), args, rt)
}

func mustInvoke(t *testing.T, name string, args map[string]any) any {
	t.Helper()
	out, err := invoke(t, name, args)
	require.NoError(t, err)
	return out
}

func TestMathOps_Basics(t *testing.T) {
	assert.Equal(t, float64(3), mustInvoke(t, "add", map[string]any{"a": float64(1), "b": float64(2)}))
	assert.Equal(t, float64(-1), mustInvoke(t, "sub", map[string]any{"a": float64(1), "b": float64(2)}))
	assert.Equal(t, float64(6), mustInvoke(t, "mul", map[string]any{"a": float64(2), "b": float64(3)}))
	assert.Equal(t, float64(2.5), mustInvoke(t, "div", map[string]any{"a": float64(5), "b": float64(2)}))
	assert.Equal(t, float64(8), mustInvoke(t, "pow", map[string]any{"a": float64(2), "b": float64(3)}))
	assert.Equal(t, float64(-4), mustInvoke(t, "neg", map[string]any{"x": float64(4)}))
	assert.Equal(t, float64(4), mustInvoke(t, "abs", map[string]any{"x": float64(-4)}))

	// Absent operands coerce to zero.
	assert.Equal(t, float64(5), mustInvoke(t, "add", map[string]any{"a": float64(5)}))
	assert.Equal(t, float64(2), mustInvoke(t, "add", map[string]any{"a": nil, "b": float64(2)}))
}

func TestMathOps_DivByZero(t *testing.T) {
	_, err := invoke(t, "div", map[string]any{"a": float64(1), "b": float64(0)})
	require.Error(t, err)
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrMath, ae.Kind)
}

func TestMathOps_Round(t *testing.T) {
	// Away-from-zero at the .5 boundary.
	assert.Equal(t, float64(3), mustInvoke(t, "round", map[string]any{"x": 2.5}))
	assert.Equal(t, float64(-3), mustInvoke(t, "round", map[string]any{"x": -2.5}))
	assert.Equal(t, float64(2.68), mustInvoke(t, "round", map[string]any{"x": 2.675001, "ndigits": float64(2)}))
	assert.Equal(t, float64(2), mustInvoke(t, "round", map[string]any{"x": 2.4}))
}

func TestMathOps_Aggregates(t *testing.T) {
	items := []any{float64(1), float64(2), float64(3)}
	assert.Equal(t, float64(1), mustInvoke(t, "min", map[string]any{"items": items}))
	assert.Equal(t, float64(3), mustInvoke(t, "max", map[string]any{"items": items}))
	assert.Equal(t, float64(6), mustInvoke(t, "sum", map[string]any{"items": items}))
	assert.Equal(t, float64(2), mustInvoke(t, "avg", map[string]any{"items": items}))
	assert.Equal(t, float64(0), mustInvoke(t, "avg", map[string]any{"items": []any{}}))
	assert.Equal(t, float64(2), mustInvoke(t, "min", map[string]any{"a": float64(2), "b": float64(7)}))

	_, err := invoke(t, "sum", map[string]any{"items": "nope"})
	require.Error(t, err)
}

func TestCalcEvalOp(t *testing.T) {
	out := mustInvoke(t, "calc_eval", map[string]any{"expr": "2+2*3"})
	assert.Equal(t, map[string]any{"value": float64(8)}, out)

	// The original accepted a wrapped {expr: ...} argument.
	out = mustInvoke(t, "calc_eval", map[string]any{"expr": map[string]any{"expr": "1+1"}})
	assert.Equal(t, map[string]any{"value": float64(2)}, out)

	_, err := invoke(t, "calc_eval", map[string]any{"expr": "1/0"})
	require.Error(t, err)
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrMath, ae.Kind)

	_, err = invoke(t, "calc_eval", map[string]any{"expr": "os.system('x')"})
	require.Error(t, err)
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrSyntax, ae.Kind)

	out = mustInvoke(t, "to_calc_result", map[string]any{"value": float64(3)})
	assert.Equal(t, map[string]any{"value": float64(3)}, out)
}
