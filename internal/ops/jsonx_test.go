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

func TestJSONParseGet(t *testing.T) {
	parsed := mustInvoke(t, "json_parse", map[string]any{"text": `{"a":{"b":[10,20]}}`})

	got := mustInvoke(t, "json_get", map[string]any{"obj": parsed, "path": "a.b.1"})
	assert.Equal(t, float64(20), got)

	// Empty path returns the whole value.
	got = mustInvoke(t, "json_get", map[string]any{"obj": parsed, "path": ""})
	assert.Equal(t, parsed, got)

	_, err := invoke(t, "json_get", map[string]any{"obj": parsed, "path": "a.b.x"})
	require.Error(t, err)
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrType, ae.Kind)

	_, err = invoke(t, "json_get", map[string]any{"obj": parsed, "path": "a.b.9"})
	require.Error(t, err)

	_, err = invoke(t, "json_parse", map[string]any{"text": "{broken"})
	require.Error(t, err)
}

func TestJSONSet(t *testing.T) {
	base := map[string]any{"a": map[string]any{"b": float64(1)}}

	out := mustInvoke(t, "json_set", map[string]any{"obj": base, "path": "a.c", "value": float64(2)}).(map[string]any)
	assert.Equal(t, true, out["modified"])
	result := out["result"].(map[string]any)
	assert.Equal(t, float64(2), result["a"].(map[string]any)["c"])
	// Copy-on-write: the input object is untouched.
	_, touched := base["a"].(map[string]any)["c"]
	assert.False(t, touched)

	out = mustInvoke(t, "json_set", map[string]any{"obj": map[string]any{}, "path": "x.y.z", "value": "deep"}).(map[string]any)
	assert.Equal(t, true, out["modified"])

	out = mustInvoke(t, "json_set", map[string]any{"obj": map[string]any{}, "path": "x.y", "value": "v", "create": false}).(map[string]any)
	assert.Equal(t, false, out["modified"])
	assert.Contains(t, out, "error")
}

func TestJSONMerge(t *testing.T) {
	objects := []any{
		map[string]any{"a": map[string]any{"b": float64(1)}},
		map[string]any{"a": map[string]any{"c": float64(2)}},
	}

	deep := mustInvoke(t, "json_merge", map[string]any{"objects": objects, "deep": true}).(map[string]any)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": float64(1), "c": float64(2)}}, deep["result"])

	shallow := mustInvoke(t, "json_merge", map[string]any{"objects": objects, "deep": false}).(map[string]any)
	assert.Equal(t, map[string]any{"a": map[string]any{"c": float64(2)}}, shallow["result"])

	empty := mustInvoke(t, "json_merge", map[string]any{"objects": []any{}}).(map[string]any)
	assert.Equal(t, map[string]any{}, empty["result"])
}

func TestJSONFilter(t *testing.T) {
	array := []any{
		map[string]any{"name": "a", "n": float64(1)},
		map[string]any{"name": "b", "n": float64(5)},
	}

	out := mustInvoke(t, "json_filter", map[string]any{"array": array, "field": "name", "value": "b"}).(map[string]any)
	assert.Equal(t, float64(1), out["count"])

	out = mustInvoke(t, "json_filter", map[string]any{"array": array, "condition": map[string]any{"gt": []any{"n", float64(2)}}}).(map[string]any)
	assert.Equal(t, float64(1), out["count"])

	out = mustInvoke(t, "json_filter", map[string]any{"array": array}).(map[string]any)
	assert.Equal(t, float64(2), out["count"])
}

func TestJSONMap(t *testing.T) {
	array := []any{
		map[string]any{"name": "a", "meta": map[string]any{"id": float64(1)}},
		map[string]any{"name": "b", "meta": map[string]any{"id": float64(2)}},
	}

	out := mustInvoke(t, "json_map", map[string]any{"array": array, "field": "name"}).(map[string]any)
	assert.Equal(t, []any{"a", "b"}, out["result"])

	// Template references extract from each item, not from the env; the
	// unresolved template arrives via RawArgs.
	reg := NewBuiltinRegistry()
	op, err := reg.Get("json_map")
	require.NoError(t, err)
	rawTemplate := map[string]any{"label": "$name", "id": "$meta.id", "fixed": float64(9)}
	rt := &Runtime{Env: resolve.NewEnv(), RawArgs: map[string]any{"template": rawTemplate}}
	got, err := op.Invoke(context.Background(), map[string]any{"array": array, "template": rawTemplate}, rt)
	require.NoError(t, err)
	result := got.(map[string]any)["result"].([]any)
	assert.Equal(t, map[string]any{"label": "a", "id": float64(1), "fixed": float64(9)}, result[0])
	assert.Equal(t, map[string]any{"label": "b", "id": float64(2), "fixed": float64(9)}, result[1])
}

func TestJSONDelete(t *testing.T) {
	obj := map[string]any{"a": map[string]any{"b": float64(1), "keep": true}}
	out := mustInvoke(t, "json_delete", map[string]any{"obj": obj, "path": "a.b"}).(map[string]any)
	assert.Equal(t, true, out["deleted"])
	result := out["result"].(map[string]any)
	_, has := result["a"].(map[string]any)["b"]
	assert.False(t, has)
	// Original untouched.
	_, has = obj["a"].(map[string]any)["b"]
	assert.True(t, has)

	out = mustInvoke(t, "json_delete", map[string]any{"obj": obj, "path": "a.nope"}).(map[string]any)
	assert.Equal(t, false, out["deleted"])
}
