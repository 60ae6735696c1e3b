package llm

import (
	"context"
)

// Mock synthesizes a schema-valid value deterministically from the task
// and input: required string fields echo obvious input text when present,
// numbers become 0, booleans false, containers empty.
type Mock struct{}

func (m *Mock) Provider() string { return "mock" }

func (m *Mock) Call(_ context.Context, _ string, input any, jsonSchema map[string]any) (any, error) {
	props, _ := jsonSchema["properties"].(map[string]any)
	required, _ := jsonSchema["required"].([]string)
	if required == nil {
		if rawRequired, ok := jsonSchema["required"].([]any); ok {
			for _, r := range rawRequired {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}

	inputMap, _ := input.(map[string]any)
	cand := map[string]any{}
	for _, key := range required {
		prop, _ := props[key].(map[string]any)
		cand[key] = m.defaultFor(key, prop, inputMap)
	}
	return cand, nil
}

func (m *Mock) defaultFor(key string, prop map[string]any, input map[string]any) any {
	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	t, _ := prop["type"].(string)
	switch t {
	case "string":
		// Echo obvious input text so the synthesized value reflects the call.
		if s, ok := input[key].(string); ok {
			return s
		}
		if s, ok := input["text"].(string); ok {
			return s
		}
		return ""
	case "number", "integer":
		return float64(0)
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	}
	return nil
}
