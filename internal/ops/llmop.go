package ops

import (
	"context"

	"github.com/rgthelen/alp/pkg/schema"
)

// LLMOps returns the model-call pack.
func LLMOps() []Op {
	return []Op{
		NewHandler("llm", "call the model adapter with a task, input, and output schema", opLLM),
		NewHandler("llm_batch", "call the model adapter once per input item", opLLMBatch),
	}
}

func opLLM(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	task := stringParam(a, "task", "")
	schemaRef := stringParam(a, "schema", "")
	if task == "" || schemaRef == "" {
		return nil, schema.NewError(schema.ErrOp, "llm requires 'task' and 'schema'")
	}
	if rt.LLM == nil {
		return nil, schema.NewError(schema.ErrLLM, "no model adapter configured")
	}
	if provider := stringParam(a, "provider", ""); provider != "" && provider != rt.LLM.Provider() {
		return nil, schema.NewErrorf(schema.ErrLLM, "provider %q not available; active provider is %q", provider, rt.LLM.Provider())
	}

	input := a["input"]
	if input == nil {
		input = map[string]any{}
	}
	return rt.LLM.Call(ctx, task, input, schemaRef, intParam(a, "retries", 3))
}

func opLLMBatch(ctx context.Context, a map[string]any, rt *Runtime) (any, error) {
	task := stringParam(a, "task", "")
	schemaRef := stringParam(a, "schema", "")
	if task == "" || schemaRef == "" {
		return nil, schema.NewError(schema.ErrOp, "llm_batch requires 'task' and 'schema'")
	}
	if rt.LLM == nil {
		return nil, schema.NewError(schema.ErrLLM, "no model adapter configured")
	}
	items, _ := listParam(a, "items")
	out, err := rt.LLM.CallBatch(ctx, task, items, schemaRef, intParam(a, "retries", 3))
	if err != nil {
		return nil, err
	}
	return out, nil
}
