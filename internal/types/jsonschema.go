package types

import (
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

var primitiveSchemaTypes = map[string]string{
	"str":   "string",
	"int":   "number",
	"float": "number",
	"bool":  "boolean",
	"ts":    "string",
}

// JSONSchema exports a registered shape as a draft-07 JSON Schema document.
// The LLM adapter ships this to providers so structured output matches the
// declared shape.
func (r *Registry) JSONSchema(ref string) (map[string]any, error) {
	s, ok := r.Shape(ref)
	if !ok {
		if d, defOK := r.Def(ref); defOK && d.Variant == schema.DefAlias {
			return r.JSONSchema(d.Alias)
		}
		return nil, schema.NewErrorf(schema.ErrUnresolved, "no shape registered for %q", ref)
	}

	props := map[string]any{}
	var required []string
	for _, f := range s.Fields {
		if !f.Optional {
			required = append(required, f.Name)
		}
		props[f.Name] = fieldSchema(f.Type)
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                s.ID,
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}, nil
}

func fieldSchema(expr string) map[string]any {
	switch {
	case strings.HasPrefix(expr, "enum<") && strings.HasSuffix(expr, ">"):
		vals := enumValues(expr)
		anyVals := make([]any, len(vals))
		for i, v := range vals {
			anyVals[i] = v
		}
		return map[string]any{"enum": anyVals}

	case expr == "list" || strings.HasPrefix(expr, "list<"):
		if elem := innerType(expr); elem != "" {
			return map[string]any{"type": "array", "items": map[string]any{"type": scalarSchemaType(elem)}}
		}
		return map[string]any{"type": "array"}

	case expr == "map" || strings.HasPrefix(expr, "map<"):
		if elem := innerType(expr); elem != "" {
			return map[string]any{"type": "object", "additionalProperties": map[string]any{"type": scalarSchemaType(elem)}}
		}
		return map[string]any{"type": "object"}

	case expr == "ts":
		return map[string]any{"type": "string", "format": "date-time"}
	}
	if t, ok := primitiveSchemaTypes[expr]; ok {
		return map[string]any{"type": t}
	}
	return map[string]any{"type": "object"}
}

func scalarSchemaType(expr string) string {
	if t, ok := primitiveSchemaTypes[expr]; ok {
		return t
	}
	return "string"
}
