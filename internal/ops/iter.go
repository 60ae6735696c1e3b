package ops

import (
	"context"

	"github.com/rgthelen/alp/pkg/schema"
)

// IterOps returns the collection iteration pack.
func IterOps() []Op {
	return []Op{
		NewHandler("map_each", "call a registered fn per item, collecting results in order", opMapEach),
	}
}

func opMapEach(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	items, _ := listParam(a, "items")
	fnID := stringParam(a, "fn", "")
	if fnID == "" || rt.CallFn == nil {
		return nil, schema.NewError(schema.ErrOp, "map_each requires valid 'fn' id")
	}
	param, hasParam := a["param"].(string)

	results := make([]any, 0, len(items))
	for _, item := range items {
		inbound := item
		if hasParam && param != "" {
			inbound = map[string]any{param: item}
		}
		out, err := rt.CallFn(ctx, fnID, inbound)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}
