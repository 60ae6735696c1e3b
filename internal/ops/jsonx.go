package ops

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// JSONOps returns the JSON manipulation pack.
func JSONOps() []Op {
	return []Op{
		NewHandler("json_parse", "parse a JSON text into a value", opJSONParse),
		NewHandler("json_get", "read a dotted path from a value", opJSONGet),
		NewHandler("json_set", "set a value at a dotted path (copy-on-write)", opJSONSet),
		NewHandler("json_merge", "merge objects shallowly or deeply", opJSONMerge),
		NewHandler("json_filter", "filter array elements by field, condition, or fn", opJSONFilter),
		NewHandler("json_map", "transform array elements by field, fn, or template", opJSONMap).WithLazyArgs("template"),
		NewHandler("json_delete", "delete a dotted path (copy-on-write)", opJSONDelete),
	}
}

func opJSONParse(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text, ok := a["text"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrOp, "json_parse requires 'text' string")
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrOp, "json_parse failed: %v", err).WithCause(err)
	}
	return v, nil
}

func opJSONGet(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	obj := a["obj"]
	path, ok := a["path"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrOp, "json_get requires 'path'")
	}
	if path == "" {
		return obj, nil
	}
	cur := obj
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrOp, "json_get path not found at %q", part)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil {
				return nil, schema.NewError(schema.ErrType, "json_get index must be integer when traversing lists")
			}
			if idx < 0 || idx >= len(v) {
				return nil, schema.NewError(schema.ErrOp, "json_get index out of range")
			}
			cur = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrOp, "json_get path not found at %q", part)
		}
	}
	return cur, nil
}

func opJSONSet(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	obj := deepCopy(a["obj"])
	if obj == nil {
		obj = map[string]any{}
	}
	path := stringParam(a, "path", "")
	value := a["value"]
	create := boolParam(a, "create", true)

	if path == "" {
		return map[string]any{"result": value, "modified": true}, nil
	}

	parts := strings.Split(path, ".")
	cur := obj
	for i, part := range parts[:len(parts)-1] {
		m, ok := cur.(map[string]any)
		if !ok {
			return map[string]any{"result": obj, "modified": false, "error": "path not found: " + strings.Join(parts[:i+1], ".")}, nil
		}
		next, exists := m[part]
		if !exists || next == nil {
			if !create {
				return map[string]any{"result": obj, "modified": false, "error": "path not found: " + strings.Join(parts[:i+1], ".")}, nil
			}
			child := map[string]any{}
			m[part] = child
			next = child
		}
		cur = next
	}

	final := parts[len(parts)-1]
	switch container := cur.(type) {
	case map[string]any:
		container[final] = value
	case []any:
		idx, err := strconv.Atoi(final)
		if err != nil || idx < 0 || idx >= len(container) {
			return map[string]any{"result": obj, "modified": false, "error": "invalid list index: " + final}, nil
		}
		container[idx] = value
	default:
		return map[string]any{"result": obj, "modified": false, "error": "cannot set into non-container"}, nil
	}
	return map[string]any{"result": obj, "modified": true}, nil
}

func opJSONMerge(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	objects, _ := listParam(a, "objects")
	deep := boolParam(a, "deep", true)

	if len(objects) == 0 {
		return map[string]any{"result": map[string]any{}}, nil
	}

	result, _ := deepCopy(objects[0]).(map[string]any)
	if result == nil {
		result = map[string]any{}
	}
	for _, obj := range objects[1:] {
		src, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		mergeInto(result, src, deep)
	}
	return map[string]any{"result": result}, nil
}

// mergeInto merges src into dst. With deep set, mapping-into-mapping
// recurses; any other type overwrites.
func mergeInto(dst, src map[string]any, deep bool) {
	for key, value := range src {
		if deep {
			if dstMap, ok := dst[key].(map[string]any); ok {
				if srcMap, ok := value.(map[string]any); ok {
					mergeInto(dstMap, srcMap, deep)
					continue
				}
			}
			dst[key] = deepCopy(value)
		} else {
			dst[key] = value
		}
	}
}

func opJSONFilter(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	array, ok := listParam(a, "array")
	if !ok {
		return map[string]any{"result": []any{}, "count": float64(0)}, nil
	}
	field := stringParam(a, "field", "")
	value, hasValue := a["value"]
	condition, _ := a["condition"].(map[string]any)
	fnID := stringParam(a, "fn", "")

	filtered := []any{}
	for _, item := range array {
		include := false
		switch {
		case fnID != "" && rt.CallFn != nil:
			out, err := rt.CallFn(ctx, fnID, item)
			if err != nil {
				return nil, err
			}
			if m, ok := out.(map[string]any); ok {
				if v, has := m["value"]; has {
					out = v
				}
			}
			include = truthyValue(out)
		case field != "" && hasValue:
			if m, ok := item.(map[string]any); ok {
				include = looseEq(m[field], value)
			}
		case condition != nil:
			include = filterCondition(condition, item)
		default:
			include = true
		}
		if include {
			filtered = append(filtered, item)
		}
	}
	return map[string]any{"result": filtered, "count": float64(len(filtered))}, nil
}

// filterCondition applies a [field, value] comparison against an item.
func filterCondition(condition map[string]any, item any) bool {
	m, ok := item.(map[string]any)
	if !ok {
		return false
	}
	for opName, raw := range condition {
		pair, ok := raw.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		fieldName, _ := pair[0].(string)
		expected := pair[1]
		actual := m[fieldName]
		switch opName {
		case "eq":
			return looseEq(actual, expected)
		case "ne":
			return !looseEq(actual, expected)
		case "gt":
			af, aok := toNumber(actual)
			bf, bok := toNumber(expected)
			return aok && bok && af > bf
		case "contains":
			return strings.Contains(stringify(actual), stringify(expected))
		}
	}
	return false
}

func opJSONMap(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	array, ok := listParam(a, "array")
	if !ok {
		return map[string]any{"result": []any{}, "count": float64(0)}, nil
	}
	field := stringParam(a, "field", "")
	fnID := stringParam(a, "fn", "")

	// The template keeps its $-references unresolved so they extract from
	// each item rather than from the environment.
	var template map[string]any
	if rt.RawArgs != nil {
		template, _ = rt.RawArgs["template"].(map[string]any)
	}
	if template == nil {
		template, _ = a["template"].(map[string]any)
	}

	mapped := make([]any, 0, len(array))
	for _, item := range array {
		switch {
		case field != "":
			if m, ok := item.(map[string]any); ok {
				mapped = append(mapped, m[field])
			} else {
				mapped = append(mapped, nil)
			}
		case fnID != "" && rt.CallFn != nil:
			out, err := rt.CallFn(ctx, fnID, item)
			if err != nil {
				return nil, err
			}
			mapped = append(mapped, out)
		case template != nil:
			mapped = append(mapped, applyTemplate(template, item))
		default:
			mapped = append(mapped, item)
		}
	}
	return map[string]any{"result": mapped, "count": float64(len(mapped))}, nil
}

func applyTemplate(template map[string]any, item any) map[string]any {
	out := make(map[string]any, len(template))
	for key, value := range template {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, "$") {
			out[key] = value
			continue
		}
		path := ref[1:]
		cur := item
		found := true
		for _, part := range strings.Split(path, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				found = false
				break
			}
			cur, ok = m[part]
			if !ok {
				found = false
				break
			}
		}
		if found {
			out[key] = cur
		} else {
			out[key] = nil
		}
	}
	return out
}

func opJSONDelete(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	obj := deepCopy(a["obj"])
	path := stringParam(a, "path", "")
	if path == "" {
		return map[string]any{"result": obj, "deleted": false}, nil
	}

	parts := strings.Split(path, ".")
	cur := obj
	for _, part := range parts[:len(parts)-1] {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return map[string]any{"result": obj, "deleted": false, "error": "path not found"}, nil
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return map[string]any{"result": obj, "deleted": false, "error": "path not found"}, nil
			}
			cur = v[idx]
		default:
			return map[string]any{"result": obj, "deleted": false, "error": "path not found"}, nil
		}
	}

	final := parts[len(parts)-1]
	if m, ok := cur.(map[string]any); ok {
		if _, exists := m[final]; exists {
			delete(m, final)
			return map[string]any{"result": obj, "deleted": true}, nil
		}
	}
	return map[string]any{"result": obj, "deleted": false}, nil
}

func looseEq(a, b any) bool {
	if af, ok := toNumber(a); ok {
		if bf, ok := toNumber(b); ok {
			return af == bf
		}
		return false
	}
	return stringify(a) == stringify(b) && (a == nil) == (b == nil)
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
