package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/types"
	"github.com/rgthelen/alp/pkg/schema"
)

func replyRegistry(t *testing.T) *types.Registry {
	t.Helper()
	reg := types.NewRegistry()
	require.NoError(t, reg.RegisterShape(&schema.Shape{
		ID:     "Reply",
		Strict: true,
		Fields: []schema.Field{
			{Name: "text", Type: "str"},
			{Name: "n", Type: "int"},
		},
	}))
	return reg
}

func TestMock_SynthesizesValidValue(t *testing.T) {
	reg := replyRegistry(t)
	caller := NewCaller(&Mock{}, reg, "")

	out, err := caller.Call(context.Background(), "summarize", map[string]any{"text": "hi there"}, "Reply", 3)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "hi there", m["text"])
	assert.Equal(t, float64(0), m["n"])

	// Deterministic for identical input.
	again, err := caller.Call(context.Background(), "summarize", map[string]any{"text": "hi there"}, "Reply", 3)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

// brokenAdapter returns values that never validate.
type brokenAdapter struct {
	calls int
}

func (b *brokenAdapter) Provider() string { return "broken" }

func (b *brokenAdapter) Call(context.Context, string, any, map[string]any) (any, error) {
	b.calls++
	return map[string]any{"unexpected": true}, nil
}

func TestCaller_RetriesThenFails(t *testing.T) {
	reg := replyRegistry(t)
	broken := &brokenAdapter{}
	caller := NewCaller(broken, reg, "")

	_, err := caller.Call(context.Background(), "t", map[string]any{}, "Reply", 4)
	require.Error(t, err)
	assert.Equal(t, 4, broken.calls)

	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrLLM, ae.Kind)
	assert.Equal(t, schema.ErrType, schema.KindOf(ae.Cause))
}

func TestSelect_Providers(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "mock", Select(cfg).Provider())

	cfg.ModelProvider = "openai"
	adapter := Select(cfg)
	assert.Equal(t, "openai", adapter.Provider())
	_, err := adapter.Call(context.Background(), "t", nil, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrLLM, schema.KindOf(err))
}

func TestCaller_Batch(t *testing.T) {
	reg := replyRegistry(t)
	caller := NewCaller(&Mock{}, reg, "")

	out, err := caller.CallBatch(context.Background(), "t", []any{
		map[string]any{"text": "a"},
		map[string]any{"text": "b"},
	}, "Reply", 3)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].(map[string]any)["text"])
	assert.Equal(t, "b", out[1].(map[string]any)["text"])
}
