package resolve

import (
	"strconv"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// Resolve evaluates a single $-reference against the environment. The form
// is $name or $name.dotted.path. The "$$" escape is handled by ResolveValue,
// not here.
func Resolve(env *Env, ref string) (any, error) {
	key := ref[1:]

	// Whole-key lookup first, so names containing dots win over traversal.
	if v, ok := env.Lookup(key); ok {
		return v, nil
	}

	parts := strings.Split(key, ".")
	root, ok := env.Lookup(parts[0])
	if !ok {
		return nil, schema.NewErrorf(schema.ErrUnresolved, "unresolved reference %q", ref)
	}
	return Traverse(root, parts[1:], ref)
}

// Traverse follows dotted path segments through mappings and sequences.
// Sequence segments must be integer indices.
func Traverse(root any, segments []string, ref string) (any, error) {
	cur := root
	for _, seg := range segments {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrUnresolved, "reference %q: missing key %q", ref, seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrType, "reference %q: index %q is not an integer", ref, seg)
			}
			if idx < 0 || idx >= len(v) {
				return nil, schema.NewErrorf(schema.ErrUnresolved, "reference %q: index %d out of range", ref, idx)
			}
			cur = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrUnresolved, "reference %q: cannot traverse into %q", ref, seg)
		}
	}
	return cur, nil
}

// ResolveValue substitutes $-references recursively inside a value:
// sequences and mappings are walked, scalar strings starting with "$" are
// resolved, and "$$" produces a literal "$".
func ResolveValue(env *Env, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$$") {
			return val[1:], nil
		}
		if strings.HasPrefix(val, "$") && len(val) > 1 {
			return Resolve(env, val)
		}
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := ResolveValue(env, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := ResolveValue(env, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	}
	return v, nil
}

// ResolveArgs resolves every value of an argument object.
func ResolveArgs(env *Env, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := ResolveValue(env, v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}
