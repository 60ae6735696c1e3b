package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rgthelen/alp/pkg/schema"
)

// JQEngine runs jq queries over JSON values via gojq. Parsed queries are
// cached; gojq queries are safe for concurrent Run calls.
type JQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Query
}

// NewJQEngine creates a new jq engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{cache: make(map[string]*gojq.Query)}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string {
	return "jq"
}

// Evaluate runs the query over the input value. A single output is returned
// as-is; multiple outputs are collected into a list.
func (e *JQEngine) Evaluate(ctx context.Context, query string, input any) (any, error) {
	if query == "" {
		return nil, schema.NewError(schema.ErrSyntax, "empty jq query")
	}

	q, err := e.getOrParse(query)
	if err != nil {
		return nil, err
	}

	var outputs []any
	iter := q.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if runErr, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return nil, schema.NewError(schema.ErrCancelled, "jq evaluation cancelled").WithCause(ctx.Err())
			}
			return nil, schema.NewErrorf(schema.ErrOp, "jq evaluation failed for %q: %s", query, runErr.Error()).WithCause(runErr)
		}
		outputs = append(outputs, v)
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	}
	return outputs, nil
}

func (e *JQEngine) getOrParse(query string) (*gojq.Query, error) {
	e.mu.RLock()
	q, ok := e.cache[query]
	e.mu.RUnlock()
	if ok {
		return q, nil
	}

	q, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrSyntax, "invalid jq query %q: %s", query, err.Error()).WithCause(err)
	}

	e.mu.Lock()
	e.cache[query] = q
	e.mu.Unlock()
	return q, nil
}
