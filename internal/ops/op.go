// Package ops holds the operation registry and the built-in operation
// packs dispatched by the function executor.
package ops

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rgthelen/alp/internal/llm"
	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/internal/types"
	"github.com/rgthelen/alp/pkg/schema"
)

// Op is an executable named operation.
type Op interface {
	Name() string
	Doc() string
	Invoke(ctx context.Context, args map[string]any, rt *Runtime) (any, error)
}

// LazyArgs marks argument keys the executor must hand over unresolved.
// Control-flow branches and per-item templates resolve their own
// references when they actually run.
type LazyArgs interface {
	LazyArgKeys() []string
}

// Handler adapts a plain function into an Op.
type Handler struct {
	name string
	doc  string
	lazy []string
	fn   func(ctx context.Context, args map[string]any, rt *Runtime) (any, error)
}

// NewHandler wraps a function as an Op.
func NewHandler(name, doc string, fn func(ctx context.Context, args map[string]any, rt *Runtime) (any, error)) *Handler {
	return &Handler{name: name, doc: doc, fn: fn}
}

// WithLazyArgs marks keys to skip during argument resolution.
func (h *Handler) WithLazyArgs(keys ...string) *Handler {
	h.lazy = keys
	return h
}

func (h *Handler) Name() string          { return h.name }
func (h *Handler) Doc() string           { return h.doc }
func (h *Handler) LazyArgKeys() []string { return h.lazy }

func (h *Handler) Invoke(ctx context.Context, args map[string]any, rt *Runtime) (any, error) {
	return h.fn(ctx, args, rt)
}

// ToolInvoker abstracts @tool execution so the toolop pack does not depend
// on the tools package directly.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolID string, args map[string]any) (any, error)
}

// Runtime is the context handed to every op invocation. The environment is
// read-mostly from the op's perspective; only the control-flow ops bind
// names through the executor hooks.
type Runtime struct {
	Env   *resolve.Env
	Gate  *sandbox.Gate
	Types *types.Registry
	LLM   *llm.Caller
	Tools ToolInvoker
	Log   *slog.Logger

	// RawArgs carries the step's unresolved argument object for ops that
	// re-resolve templates per item (json_map).
	RawArgs map[string]any

	// CallFn re-enters the executor to run another registered function.
	CallFn func(ctx context.Context, fnID string, inbound any) (any, error)
	// ExecInline runs a list of op steps against the current environment,
	// used by the control-flow ops.
	ExecInline func(ctx context.Context, steps []schema.OpStep) (any, error)

	HTTPTimeout  time.Duration
	HTTPMaxBytes int64
	Stdin        io.Reader
}

// Registry is the thread-safe operation registry. Immutable after startup;
// shared between concurrent invocations.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Op
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Op)}
}

// Register adds an op. Duplicate names fail with ErrDuplicate.
func (r *Registry) Register(op Op) error {
	if op == nil {
		return schema.NewError(schema.ErrOp, "op is nil")
	}
	name := op.Name()
	if name == "" {
		return schema.NewError(schema.ErrOp, "op name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[name]; exists {
		return schema.NewErrorf(schema.ErrDuplicate, "op %q already registered", name)
	}
	r.ops[name] = op
	return nil
}

// MustRegister panics on a duplicate; used for the built-in packs at
// startup where a collision is a programming error.
func (r *Registry) MustRegister(ops ...Op) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Get retrieves an op by name.
func (r *Registry) Get(name string) (Op, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrUnresolved, "unknown op %q", name)
	}
	return op, nil
}

// Has checks if an op is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Count returns the number of registered ops.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// List returns the registered op names and docs, sorted by name.
type OpInfo struct {
	Name string `json:"name"`
	Doc  string `json:"doc,omitempty"`
}

func (r *Registry) List() []OpInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]OpInfo, 0, len(r.ops))
	for _, op := range r.ops {
		infos = append(infos, OpInfo{Name: op.Name(), Doc: op.Doc()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
