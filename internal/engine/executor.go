package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/expressions"
	"github.com/rgthelen/alp/internal/llm"
	"github.com/rgthelen/alp/internal/loader"
	"github.com/rgthelen/alp/internal/logging"
	"github.com/rgthelen/alp/internal/ops"
	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/pkg/schema"
)

// TraceSink receives per-function traces. The engine tolerates a nil sink.
type TraceSink interface {
	Append(ctx context.Context, runID string, t *Trace) error
}

// Engine executes a loaded program. The program, registries, and gate are
// immutable; an Engine may serve concurrent Run calls.
type Engine struct {
	prog    *loader.Program
	ops     *ops.Registry
	gate    *sandbox.Gate
	caller  *llm.Caller
	tools   ops.ToolInvoker
	cfg     config.Config
	log     *slog.Logger
	explain *slog.Logger
	sink    TraceSink
	cel     *expressions.CELEngine
}

// New assembles an Engine. logger and sink may be nil.
func New(prog *loader.Program, opsReg *ops.Registry, gate *sandbox.Gate, caller *llm.Caller, toolInvoker ops.ToolInvoker, cfg config.Config, logger *slog.Logger, sink TraceSink) *Engine {
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	}
	e := &Engine{
		prog:   prog,
		ops:    opsReg,
		gate:   gate,
		caller: caller,
		tools:  toolInvoker,
		cfg:    cfg,
		log:    logger,
		sink:   sink,
	}
	if cfg.Explain {
		e.explain = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	// CEL engine is optional — condition evaluation checks nil before use.
	e.cel, _ = expressions.NewCELEngine()
	return e
}

// ExecFn runs one function with the inbound value, honoring its retry
// policy. The returned trace covers the final (successful) attempt.
func (e *Engine) ExecFn(ctx context.Context, fnID string, inbound any) (any, *Trace, error) {
	fn, ok := e.prog.Fns[fnID]
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrUnresolved, "unknown fn %q", fnID)
	}
	ctx = logging.WithFnID(ctx, fnID)

	policy := fn.Retry
	attempts := 1
	if policy != nil && policy.MaxAttempts > 1 {
		attempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, trace, err := e.execOnce(ctx, fn, inbound)
		if err == nil {
			return out, trace, nil
		}
		lastErr = err
		if attempt == attempts || !shouldRetry(policy, err) {
			break
		}
		delay := backoffDelay(policy, attempt)
		e.log.WarnContext(ctx, "retrying fn after error",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if waitErr := waitForBackoff(ctx, delay); waitErr != nil {
			return nil, nil, waitErr
		}
	}

	if policy != nil && policy.MaxAttempts > 1 && shouldRetry(policy, lastErr) {
		return nil, nil, schema.NewErrorf(schema.ErrRetryExhausted, "fn %q failed after %d attempts", fnID, attempts).
			WithNode(fnID).WithCause(lastErr)
	}
	return nil, nil, lastErr
}

func (e *Engine) execOnce(ctx context.Context, fn *schema.Fn, inbound any) (any, *Trace, error) {
	env := resolve.NewEnv()

	// Constants bind first, with no caller scope.
	for k, v := range fn.Const {
		env.Set(k, v)
	}

	if err := e.bindInbound(env, fn, inbound); err != nil {
		return nil, nil, err
	}

	var provenance []Provenance
	result, err := e.runSteps(ctx, fn, env, fn.Ops, inbound, &provenance)
	if err != nil {
		return nil, nil, err
	}

	if fn.LLM != nil {
		result, err = e.runLLM(ctx, fn, env, inbound, &provenance)
		if err != nil {
			return nil, nil, err
		}
	}

	result, err = e.project(fn, env, result)
	if err != nil {
		return nil, nil, err
	}

	if fn.Out != "" {
		validated, valErr := e.prog.Types.Validate(fn.Out, result)
		if valErr != nil {
			return nil, nil, attachNode(valErr, fn.ID)
		}
		result = validated
	}

	trace := &Trace{
		Node:       fn.ID,
		TS:         timestamp(),
		Status:     "ok",
		Provenance: provenance,
	}
	if !e.cfg.ProvenanceMinimal {
		trace.OutputsHash = hashObj(result)
	}
	return result, trace, nil
}

// bindInbound seeds the environment from the inbound value. A type
// reference binds "in" after validation; the legacy named-inputs object
// follows the original single/multi binding rules.
func (e *Engine) bindInbound(env *resolve.Env, fn *schema.Fn, inbound any) error {
	if inbound == nil {
		return nil
	}
	if ref := fn.InRef(); ref != "" {
		validated, err := e.prog.Types.Validate(ref, inbound)
		if err != nil {
			return attachNode(err, fn.ID)
		}
		env.Set(resolve.NameIn, validated)
		return nil
	}
	if named, ok := fn.In.(map[string]any); ok && len(named) > 0 {
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		if len(names) == 1 {
			name := names[0]
			if m, ok := inbound.(map[string]any); ok {
				if v, present := m[name]; present {
					env.Set(name, v)
					return nil
				}
			}
			env.Set(name, inbound)
			return nil
		}
		for _, name := range names {
			env.Set(name, inbound)
		}
		return nil
	}
	env.Set(resolve.NameIn, inbound)
	return nil
}

// runSteps executes op steps sequentially against the environment. Used
// for the main @op list and for inline control-flow branches.
func (e *Engine) runSteps(ctx context.Context, fn *schema.Fn, env *resolve.Env, steps []schema.OpStep, inbound any, provenance *[]Provenance) (any, error) {
	var result any
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCancelled, "execution cancelled").WithNode(fn.ID).WithOp(i).WithCause(err)
		}

		op, err := e.ops.Get(step.Name)
		if err != nil {
			return nil, attachStep(err, fn.ID, i)
		}
		args, err := resolveStepArgs(env, op, step.Args)
		if err != nil {
			return nil, attachStep(err, fn.ID, i)
		}

		rt := e.runtime(env, step.Args, fn, inbound, provenance)
		result, err = op.Invoke(ctx, args, rt)
		if err != nil {
			return nil, attachStep(err, fn.ID, i)
		}

		env.Set(resolve.NameResult, result)
		env.Set(resolve.NameValue, stepValue(result))
		if as := step.BindAs(); as != "" {
			if err := env.BindName(as, result); err != nil {
				return nil, attachStep(err, fn.ID, i)
			}
		}

		if e.explain != nil {
			e.explain.LogAttrs(ctx, slog.LevelInfo, "step",
				slog.String("node", fn.ID),
				slog.Int("op_index", i),
				slog.String("op", step.Name),
				slog.Any("env_snapshot", env.Snapshot()))
		}
	}
	return result, nil
}

// resolveStepArgs resolves a step's arguments, leaving any keys the op
// declares lazy (inline branches, per-item templates) untouched.
func resolveStepArgs(env *resolve.Env, op ops.Op, rawArgs map[string]any) (map[string]any, error) {
	lazy, ok := op.(ops.LazyArgs)
	if !ok || len(lazy.LazyArgKeys()) == 0 {
		return resolve.ResolveArgs(env, rawArgs)
	}
	skip := make(map[string]bool, len(lazy.LazyArgKeys()))
	for _, k := range lazy.LazyArgKeys() {
		skip[k] = true
	}
	out := make(map[string]any, len(rawArgs))
	for k, v := range rawArgs {
		if skip[k] {
			out[k] = v
			continue
		}
		resolved, err := resolve.ResolveValue(env, v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// stepValue is what $value sees after a step: maps carrying "value"
// unwrap, everything else passes through.
func stepValue(result any) any {
	if m, ok := result.(map[string]any); ok {
		if v, has := m["value"]; has {
			return v
		}
	}
	return result
}

func (e *Engine) runtime(env *resolve.Env, rawArgs map[string]any, fn *schema.Fn, inbound any, provenance *[]Provenance) *ops.Runtime {
	return &ops.Runtime{
		Env:          env,
		Gate:         e.gate,
		Types:        e.prog.Types,
		LLM:          e.caller,
		Tools:        e.tools,
		Log:          e.log,
		RawArgs:      rawArgs,
		HTTPTimeout:  e.cfg.HTTPTimeout,
		HTTPMaxBytes: e.cfg.HTTPMaxBytes,
		CallFn: func(ctx context.Context, fnID string, in any) (any, error) {
			out, _, err := e.ExecFn(ctx, fnID, in)
			return out, err
		},
		ExecInline: func(ctx context.Context, steps []schema.OpStep) (any, error) {
			return e.runSteps(ctx, fn, env, steps, inbound, provenance)
		},
	}
}

func (e *Engine) runLLM(ctx context.Context, fn *schema.Fn, env *resolve.Env, inbound any, provenance *[]Provenance) (any, error) {
	if e.caller == nil {
		return nil, schema.NewError(schema.ErrLLM, "no model adapter configured").WithNode(fn.ID)
	}
	spec := fn.LLM

	input, err := resolve.ResolveArgs(env, spec.Input)
	if err != nil {
		return nil, attachNode(err, fn.ID)
	}
	var inputVal any = input
	if len(input) == 0 && inbound != nil {
		inputVal = inbound
	}

	attempts := 3
	if fn.Retry != nil && fn.Retry.Max > 0 {
		attempts = fn.Retry.Max
	}

	start := time.Now()
	result, err := e.caller.Call(ctx, spec.Task, inputVal, spec.Schema, attempts)
	if err != nil {
		return nil, attachNode(err, fn.ID)
	}

	*provenance = append(*provenance, Provenance{
		Kind:       "llm",
		Provider:   e.caller.Provider(),
		Model:      e.caller.Model(),
		InputHash:  hashObj(inputVal),
		OutputHash: hashObj(result),
		Ms:         time.Since(start).Milliseconds(),
	})

	env.Set(resolve.NameResult, result)
	env.Set(resolve.NameValue, stepValue(result))
	if spec.As != "" {
		if err := env.BindName(spec.As, result); err != nil {
			return nil, attachNode(err, fn.ID)
		}
	}
	return result, nil
}

// project applies the @expect section: mapping-form fields assemble the
// output object from references; type-form synthesizes from the
// environment, applies defaults, and validates (unless the value already
// passed the model adapter's schema check).
func (e *Engine) project(fn *schema.Fn, env *resolve.Env, result any) (any, error) {
	exp := fn.Expect
	if exp == nil {
		return result, nil
	}

	if len(exp.Fields) > 0 {
		built := make(map[string]any, len(exp.Fields))
		for name, ref := range exp.Fields {
			v, err := resolve.ResolveValue(env, ref)
			if err != nil {
				return nil, attachNode(err, fn.ID)
			}
			built[name] = v
		}
		result = built
	}

	if exp.Type == "" {
		return result, nil
	}

	if exp.Synthesize {
		if _, isMap := result.(map[string]any); !isMap {
			if shape, ok := e.prog.Types.Shape(exp.Type); ok {
				synthesized := map[string]any{}
				for _, f := range shape.Fields {
					if v, present := env.Lookup(f.Name); present {
						synthesized[f.Name] = v
					}
				}
				if len(synthesized) > 0 {
					result = synthesized
				}
			}
		}
	}

	if m, ok := result.(map[string]any); ok {
		if shape, found := e.prog.Types.Shape(exp.Type); found && len(shape.Defaults) > 0 {
			for k, v := range shape.Defaults {
				if _, present := m[k]; !present {
					m[k] = v
				}
			}
		}
	}

	if fn.LLM == nil {
		validated, err := e.prog.Types.Validate(exp.Type, result)
		if err != nil {
			return nil, attachNode(err, fn.ID)
		}
		result = validated
	}
	return result, nil
}

func attachNode(err error, fnID string) error {
	var ae *schema.ALPError
	if errors.As(err, &ae) && ae.Node == "" {
		ae.Node = fnID
	}
	return err
}

func attachStep(err error, fnID string, opIndex int) error {
	var ae *schema.ALPError
	if errors.As(err, &ae) {
		if ae.Node == "" {
			ae.Node = fnID
		}
		if ae.OpIndex == 0 {
			ae.OpIndex = opIndex + 1
		}
	}
	return err
}
