package ops

import (
	"context"
	"strings"
)

// StringOps returns the basic string pack.
func StringOps() []Op {
	return []Op{
		NewHandler("concat", "concatenate two operands or an items list", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			if items, ok := listParam(a, "items"); ok {
				var b strings.Builder
				for _, it := range items {
					b.WriteString(stringify(it))
				}
				return b.String(), nil
			}
			return stringify(a["a"]) + stringify(a["b"]), nil
		}),
		NewHandler("join", "join items with a separator", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			items, _ := listParam(a, "items")
			sep := stringParam(a, "sep", "")
			parts := make([]string, len(items))
			for i, it := range items {
				parts[i] = stringify(it)
			}
			return strings.Join(parts, sep), nil
		}),
		NewHandler("split", "split text on a separator", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			text := stringParam(a, "text", "")
			sep := stringParam(a, "sep", ",")
			parts := strings.Split(text, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		}),
		NewHandler("filter_nonempty_strings", "keep trimmed non-empty strings from a list", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			items, _ := listParam(a, "items")
			out := []any{}
			for _, it := range items {
				if s, ok := it.(string); ok {
					if trimmed := strings.TrimSpace(s); trimmed != "" {
						out = append(out, trimmed)
					}
				}
			}
			return out, nil
		}),
		NewHandler("coalesce_str", "first non-blank string operand", func(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
			candidates, ok := listParam(a, "items")
			if !ok {
				candidates = []any{a["a"], a["b"], a["c"], a["d"]}
			}
			for _, c := range candidates {
				if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
					return s, nil
				}
			}
			return "", nil
		}),
	}
}
