package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/pkg/schema"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterShape(&schema.Shape{
		ID:     "Person",
		Strict: true,
		Fields: []schema.Field{
			{Name: "name", Type: "str"},
			{Name: "age", Type: "int"},
			{Name: "nick", Type: "str", Optional: true},
		},
	}))
	return r
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	return ae.Kind
}

func TestValidate_ShapeRequiredAndOptional(t *testing.T) {
	r := newTestRegistry(t)

	out, err := r.Validate("Person", map[string]any{"name": "ada", "age": float64(36)})
	require.NoError(t, err)
	assert.Equal(t, "ada", out.(map[string]any)["name"])

	_, err = r.Validate("Person", map[string]any{"name": "ada"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))

	_, err = r.Validate("Person", "not an object")
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))
}

func TestValidate_StrictRejectsExtras(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Validate("Person", map[string]any{"name": "ada", "age": float64(1), "extra": true})
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))

	require.NoError(t, r.RegisterShape(&schema.Shape{
		ID:     "Open",
		Strict: false,
		Fields: []schema.Field{{Name: "a", Type: "int"}},
	}))
	_, err = r.Validate("Open", map[string]any{"a": float64(1), "extra": true})
	require.NoError(t, err)
}

func TestValidate_IntRejectsFractional(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Validate("int", float64(3))
	require.NoError(t, err)

	_, err = r.Validate("int", 3.5)
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))

	_, err = r.Validate("int", "3")
	require.Error(t, err)
}

func TestValidate_Defaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterShape(&schema.Shape{
		ID:       "Cfg",
		Strict:   true,
		Fields:   []schema.Field{{Name: "mode", Type: "str"}, {Name: "n", Type: "int"}},
		Defaults: map[string]any{"mode": "fast"},
	}))

	out, err := r.Validate("Cfg", map[string]any{"n": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "fast", out.(map[string]any)["mode"])
}

func TestValidate_Collections(t *testing.T) {
	r := NewRegistry()

	_, err := r.Validate("list<int>", []any{float64(1), float64(2)})
	require.NoError(t, err)

	_, err = r.Validate("list<int>", []any{float64(1), "two"})
	require.Error(t, err)

	_, err = r.Validate("map<str>", map[string]any{"a": "x"})
	require.NoError(t, err)

	_, err = r.Validate("map<str>", map[string]any{"a": float64(1)})
	require.Error(t, err)

	_, err = r.Validate("enum<red,green,blue>", "green")
	require.NoError(t, err)

	_, err = r.Validate("enum<red,green,blue>", "purple")
	require.Error(t, err)
}

func TestValidate_Defs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterDef(&schema.TypeDef{ID: "ID", Variant: schema.DefAlias, Alias: "str"}))
	require.NoError(t, r.RegisterDef(&schema.TypeDef{ID: "NumOrStr", Variant: schema.DefUnion, Union: []string{"int", "str"}}))
	require.NoError(t, r.RegisterDef(&schema.TypeDef{ID: "Done", Variant: schema.DefLiteral, Literal: "done"}))
	require.NoError(t, r.RegisterDef(&schema.TypeDef{ID: "Status", Variant: schema.DefEnum, Enum: []any{"ok", "err"}}))

	minLen := 3
	maxVal := 100.0
	require.NoError(t, r.RegisterDef(&schema.TypeDef{
		ID: "Code", Variant: schema.DefConstrained, Base: "str",
		Constraint: schema.Constraint{MinLength: &minLen, Pattern: "^[A-Z]+$"},
	}))
	require.NoError(t, r.RegisterDef(&schema.TypeDef{
		ID: "Pct", Variant: schema.DefConstrained, Base: "float",
		Constraint: schema.Constraint{Max: &maxVal},
	}))

	_, err := r.Validate("ID", "abc")
	require.NoError(t, err)
	_, err = r.Validate("ID", float64(1))
	require.Error(t, err)

	_, err = r.Validate("NumOrStr", float64(3))
	require.NoError(t, err)
	_, err = r.Validate("NumOrStr", "x")
	require.NoError(t, err)
	_, err = r.Validate("NumOrStr", true)
	require.Error(t, err)

	_, err = r.Validate("Done", "done")
	require.NoError(t, err)
	_, err = r.Validate("Done", "pending")
	require.Error(t, err)

	_, err = r.Validate("Status", "ok")
	require.NoError(t, err)
	_, err = r.Validate("Status", "meh")
	require.Error(t, err)

	_, err = r.Validate("Code", "ABC")
	require.NoError(t, err)
	_, err = r.Validate("Code", "AB")
	require.Error(t, err)
	_, err = r.Validate("Code", "abc")
	require.Error(t, err)

	_, err = r.Validate("Pct", float64(50))
	require.NoError(t, err)
	_, err = r.Validate("Pct", float64(101))
	require.Error(t, err)
}

func TestRegister_DuplicateRules(t *testing.T) {
	r := newTestRegistry(t)

	// Identical re-registration is idempotent.
	require.NoError(t, r.RegisterShape(&schema.Shape{
		ID:     "Person",
		Strict: true,
		Fields: []schema.Field{
			{Name: "name", Type: "str"},
			{Name: "age", Type: "int"},
			{Name: "nick", Type: "str", Optional: true},
		},
	}))

	// A different body conflicts.
	err := r.RegisterShape(&schema.Shape{ID: "Person", Strict: true, Fields: []schema.Field{{Name: "other", Type: "str"}}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrDuplicate, kindOf(t, err))

	err = r.RegisterDef(&schema.TypeDef{ID: "Person", Variant: schema.DefAlias, Alias: "str"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrDuplicate, kindOf(t, err))
}

func TestJSONSchema_Export(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterShape(&schema.Shape{
		ID:     "Out",
		Strict: true,
		Fields: []schema.Field{
			{Name: "text", Type: "str"},
			{Name: "n", Type: "int"},
			{Name: "tags", Type: "list<str>"},
			{Name: "when", Type: "ts"},
			{Name: "mood", Type: "enum<happy,sad>"},
			{Name: "extra", Type: "str", Optional: true},
		},
	}))

	doc, err := r.JSONSchema("Out")
	require.NoError(t, err)

	assert.Equal(t, "Out", doc["title"])
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, []string{"text", "n", "tags", "when", "mood"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])

	props := doc["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, props["text"])
	assert.Equal(t, map[string]any{"type": "number"}, props["n"])
	assert.Equal(t, map[string]any{"type": "array", "items": map[string]any{"type": "string"}}, props["tags"])
	assert.Equal(t, map[string]any{"type": "string", "format": "date-time"}, props["when"])
	assert.Equal(t, map[string]any{"enum": []any{"happy", "sad"}}, props["mood"])
}
