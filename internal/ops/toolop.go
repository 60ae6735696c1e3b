package ops

import (
	"context"

	"github.com/rgthelen/alp/pkg/schema"
)

// ToolOps returns the external-tool pack.
func ToolOps() []Op {
	return []Op{
		NewHandler("tool_call", "invoke a @tool declared in the program", opToolCall),
	}
}

func opToolCall(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	toolID := stringParam(a, "tool", "")
	if toolID == "" {
		return nil, schema.NewError(schema.ErrOp, "tool_call requires 'tool' parameter")
	}
	if rt.Tools == nil {
		return nil, schema.NewError(schema.ErrTool, "tool invocation unavailable")
	}
	args, _ := a["args"].(map[string]any)
	return rt.Tools.Invoke(ctx, toolID, args)
}
