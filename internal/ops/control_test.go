package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/pkg/schema"
)

// inlineRuntime wires ExecInline to run steps directly against the
// registry, standing in for the executor's hook.
func inlineRuntime(t *testing.T) *Runtime {
	t.Helper()
	reg := NewBuiltinRegistry()
	rt := &Runtime{Env: resolve.NewEnv()}
	rt.ExecInline = func(ctx context.Context, steps []schema.OpStep) (any, error) {
		var result any
		for _, step := range steps {
			op, err := reg.Get(step.Name)
			if err != nil {
				return nil, err
			}
			args, err := resolve.ResolveArgs(rt.Env, step.Args)
			if err != nil {
				return nil, err
			}
			result, err = op.Invoke(ctx, args, rt)
			if err != nil {
				return nil, err
			}
			rt.Env.Set(resolve.NameResult, result)
			rt.Env.Set(resolve.NameValue, result)
		}
		return result, nil
	}
	return rt
}

func controlInvoke(t *testing.T, rt *Runtime, name string, args map[string]any) (any, error) {
	t.Helper()
	op, err := NewBuiltinRegistry().Get(name)
	require.NoError(t, err)
	return op.Invoke(context.Background(), args, rt)
}

func TestIfOp(t *testing.T) {
	rt := inlineRuntime(t)

	out, err := controlInvoke(t, rt, "if", map[string]any{
		"condition": map[string]any{"gt": []any{float64(5), float64(0)}},
		"then":      "positive",
		"else":      "negative",
	})
	require.NoError(t, err)
	assert.Equal(t, "positive", out)

	out, err = controlInvoke(t, rt, "if", map[string]any{
		"condition": false,
		"then":      "positive",
		"else":      []any{"add", map[string]any{"a": float64(1), "b": float64(2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)

	// Step-list branch.
	out, err = controlInvoke(t, rt, "if", map[string]any{
		"condition": true,
		"then": []any{
			[]any{"add", map[string]any{"a": float64(1), "b": float64(1)}},
			[]any{"mul", map[string]any{"a": "$value", "b": float64(10)}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(20), out)

	// Missing else yields nil.
	out, err = controlInvoke(t, rt, "if", map[string]any{"condition": false, "then": "x"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSwitchOp(t *testing.T) {
	rt := inlineRuntime(t)

	out, err := controlInvoke(t, rt, "switch", map[string]any{
		"value": "b",
		"cases": map[string]any{"a": "alpha", "b": "beta"},
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", out)

	out, err = controlInvoke(t, rt, "switch", map[string]any{
		"value":   "z",
		"cases":   map[string]any{"a": "alpha"},
		"default": "fallback",
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)

	// Numeric case keys match by string form.
	out, err = controlInvoke(t, rt, "switch", map[string]any{
		"value": float64(2),
		"cases": map[string]any{"2": "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, "two", out)
}

func TestTryOp(t *testing.T) {
	rt := inlineRuntime(t)

	out, err := controlInvoke(t, rt, "try", map[string]any{
		"do": []any{"add", map[string]any{"a": float64(1), "b": float64(2)}},
	})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, float64(3), m["result"])
	assert.Equal(t, true, m["success"])
	assert.Nil(t, m["error"])

	out, err = controlInvoke(t, rt, "try", map[string]any{
		"do":      []any{"div", map[string]any{"a": float64(1), "b": float64(0)}},
		"catch":   "recovered",
		"finally": []any{"add", map[string]any{"a": float64(1), "b": float64(1)}},
	})
	require.NoError(t, err)
	m = out.(map[string]any)
	assert.Equal(t, "recovered", m["result"])
	assert.Equal(t, false, m["success"])
	assert.NotNil(t, m["error"])
	assert.Equal(t, float64(2), m["finally"])

	// The catch scope sees the bound error.
	errVal, ok := rt.Env.Lookup("error")
	assert.True(t, ok)
	assert.NotEmpty(t, errVal)
}
