// Package llm defines the model adapter contract and the schema-checked
// call loop around it. Real provider clients are supplied by the embedder;
// the core ships a deterministic mock.
package llm

import (
	"context"
	"fmt"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/types"
	"github.com/rgthelen/alp/pkg/schema"
)

// Adapter is the narrow interface to a model provider. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Call asks the provider to produce a JSON value for the task and input
	// matching the supplied JSON Schema document. The returned value is not
	// yet validated; the Caller validates against the declared shape.
	Call(ctx context.Context, task string, input any, jsonSchema map[string]any) (any, error)
	Provider() string
}

// Select picks an adapter for the configured provider. Providers other
// than mock need an embedder-supplied client; selecting them yields an
// adapter whose calls fail with ErrLLM until one is registered.
func Select(cfg config.Config) Adapter {
	switch cfg.ModelProvider {
	case "", "mock":
		return &Mock{}
	default:
		return &unavailable{provider: cfg.ModelProvider, model: cfg.ModelName}
	}
}

type unavailable struct {
	provider string
	model    string
}

func (u *unavailable) Provider() string { return u.provider }

func (u *unavailable) Call(context.Context, string, any, map[string]any) (any, error) {
	return nil, schema.NewErrorf(schema.ErrLLM, "provider %q requires an embedder-supplied adapter", u.provider)
}

// Caller wraps an Adapter with the validate-and-retry loop: each failed
// attempt feeds the error back into the input so the provider can correct
// itself, and the final value is strictly validated against the shape.
type Caller struct {
	adapter Adapter
	reg     *types.Registry
	model   string
}

// NewCaller builds a Caller over the adapter and type registry. The model
// name is informational and recorded in provenance.
func NewCaller(adapter Adapter, reg *types.Registry, model string) *Caller {
	return &Caller{adapter: adapter, reg: reg, model: model}
}

// Provider reports the active provider name.
func (c *Caller) Provider() string {
	return c.adapter.Provider()
}

// Model reports the configured model name, or "" for the default.
func (c *Caller) Model() string {
	return c.model
}

// Call invokes the adapter up to attempts times until the result validates
// against the schema reference.
func (c *Caller) Call(ctx context.Context, task string, input any, schemaRef string, attempts int) (any, error) {
	if attempts <= 0 {
		attempts = 3
	}
	jsonSchema, err := c.reg.JSONSchema(schemaRef)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCancelled, "llm call cancelled").WithCause(err)
		}
		cand, err := c.adapter.Call(ctx, task, input, jsonSchema)
		if err == nil {
			cand, err = c.reg.Validate(schemaRef, cand)
			if err == nil {
				return cand, nil
			}
		}
		lastErr = err
		input = map[string]any{"original": input, "error": err.Error()}
	}
	return nil, schema.NewErrorf(schema.ErrLLM, "model failed schema validation after %d attempts", attempts).WithCause(lastErr)
}

// CallBatch validates one output per input item.
func (c *Caller) CallBatch(ctx context.Context, task string, items []any, schemaRef string, attempts int) ([]any, error) {
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := c.Call(ctx, task, item, schemaRef, attempts)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrLLM, "batch item %d: %s", i, errMessage(err)).WithCause(err)
		}
		out = append(out, v)
	}
	return out, nil
}

func errMessage(err error) string {
	if ae, ok := err.(*schema.ALPError); ok {
		return ae.Message
	}
	return fmt.Sprintf("%v", err)
}
