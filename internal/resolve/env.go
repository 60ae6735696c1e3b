// Package resolve implements the per-invocation environment and the
// $-reference resolution applied to op arguments.
package resolve

import (
	"github.com/rgthelen/alp/pkg/schema"
)

// Reserved names managed by the executor. Op metadata bindings may not
// shadow them.
const (
	NameIn     = "in"
	NameOut    = "out"
	NameValue  = "value"
	NameResult = "result"
)

// Env is a per-invocation name scope. Not safe for concurrent use; each
// invocation owns its environment exclusively.
type Env struct {
	vars map[string]any
}

// NewEnv creates an empty environment.
func NewEnv() *Env {
	return &Env{vars: make(map[string]any)}
}

// Set stores a value under a name. Used by the executor for reserved and
// constant bindings.
func (e *Env) Set(name string, v any) {
	e.vars[name] = v
}

// BindName stores a user binding (op-step "as" metadata). Reserved names
// are rejected.
func (e *Env) BindName(name string, v any) error {
	switch name {
	case NameIn, NameOut, NameValue, NameResult:
		return schema.NewErrorf(schema.ErrOp, "binding may not shadow reserved name %q", name)
	}
	e.vars[name] = v
	return nil
}

// Lookup retrieves a value by name.
func (e *Env) Lookup(name string) (any, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Snapshot returns a copy of the environment with non-scalar values
// replaced by their type names, for explain output.
func (e *Env) Snapshot() map[string]any {
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		switch v.(type) {
		case nil, bool, string, int, int64, float64:
			out[k] = v
		case []any:
			out[k] = "list"
		case map[string]any:
			out[k] = "map"
		default:
			out[k] = "value"
		}
	}
	return out
}

// Values returns a shallow copy of the full environment, used as the
// evaluation scope for expression engines.
func (e *Env) Values() map[string]any {
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}
