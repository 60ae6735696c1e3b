package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/rgthelen/alp/internal/expressions"
	"github.com/rgthelen/alp/internal/logging"
	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/pkg/schema"
)

// Run traverses the program's flow graph with the inbound value. Edges are
// followed depth-first in declaration order; the program's result is the
// output of the last function reached.
func (e *Engine) Run(ctx context.Context, inbound any) (*RunResult, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	res := &RunResult{RunID: runID}

	edges := e.prog.Flow
	if len(edges) == 0 {
		// Fallback: run the lexicographically-first fn without declared
		// input as a single terminal node.
		var candidates []string
		for _, id := range e.prog.FnOrder {
			if fn := e.prog.Fns[id]; fn.In == nil {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) == 0 {
			return nil, schema.NewError(schema.ErrUnresolved, "no runnable nodes")
		}
		sort.Strings(candidates)
		edges = []schema.Edge{{Src: candidates[0]}}
	}

	entry := entryNode(edges)
	if err := e.visit(ctx, res, edges, entry, inbound, 1); err != nil {
		return nil, err
	}
	return res, nil
}

// entryNode picks the first declared source that never appears as a
// destination. A fully cyclic graph falls back to the first edge's source.
func entryNode(edges []schema.Edge) string {
	dests := make(map[string]bool)
	for _, e := range edges {
		if !e.Terminal() {
			dests[e.Dst] = true
		}
	}
	for _, e := range edges {
		if !dests[e.Src] {
			return e.Src
		}
	}
	return edges[0].Src
}

func (e *Engine) visit(ctx context.Context, res *RunResult, edges []schema.Edge, fnID string, inbound any, depth int) error {
	if depth > e.cfg.FlowMaxDepth {
		return schema.NewErrorf(schema.ErrFlowDepth, "flow traversal exceeded depth limit %d", e.cfg.FlowMaxDepth)
	}

	out, trace, err := e.ExecFn(ctx, fnID, inbound)
	if err != nil {
		return err
	}
	res.Result = out
	res.Traces = append(res.Traces, trace)
	if e.sink != nil {
		if sinkErr := e.sink.Append(ctx, res.RunID, trace); sinkErr != nil {
			e.log.WarnContext(ctx, "trace sink append failed", "error", sinkErr.Error())
		}
	}

	for _, edge := range edges {
		if edge.Src != fnID {
			continue
		}
		active, condErr := e.evalEdgeCondition(ctx, edge.When, out)
		if condErr != nil {
			return condErr
		}
		if !active {
			continue
		}
		if edge.Terminal() {
			continue // branch complete
		}
		if err := e.visit(ctx, res, edges, edge.Dst, out, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// evalEdgeCondition evaluates an edge's when clause against the source's
// output, binding $value to it.
func (e *Engine) evalEdgeCondition(ctx context.Context, when any, out any) (bool, error) {
	lookup := func(ref string) (any, bool) {
		v, err := resolveFromValue(ref, out)
		return v, err == nil
	}
	return expressions.EvalCondition(ctx, when, lookup, e.cel, map[string]any{"value": out})
}

// resolveFromValue resolves a $-reference against a bare output value:
// $value is the value itself; other names and dotted suffixes traverse
// mapping fields.
func resolveFromValue(ref string, out any) (any, error) {
	key := ref[1:]
	if key == resolve.NameValue {
		return out, nil
	}
	segments := splitPath(key)
	if segments[0] == resolve.NameValue {
		segments = segments[1:]
	}
	return resolve.Traverse(out, segments, ref)
}

func splitPath(key string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '.' {
			segments = append(segments, key[start:i])
			start = i + 1
		}
	}
	return segments
}
