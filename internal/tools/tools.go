// Package tools executes @tool bindings: command lines, HTTP endpoints,
// and embedder-registered python-callable shims. Every variant is gated.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/internal/types"
	"github.com/rgthelen/alp/pkg/schema"
)

// PythonRunner is an embedder-supplied Go callback standing in for a
// python-callable tool function. The core never embeds an interpreter.
type PythonRunner func(ctx context.Context, args map[string]any) (any, error)

// Invoker resolves and executes the program's @tool declarations.
type Invoker struct {
	tools       map[string]*schema.Tool
	gate        *sandbox.Gate
	types       *types.Registry
	timeout     time.Duration
	httpTimeout time.Duration
	maxBytes    int64
	python      map[string]PythonRunner // "module.function" -> runner
}

// NewInvoker builds an Invoker over the loaded tool table.
func NewInvoker(toolTable map[string]*schema.Tool, gate *sandbox.Gate, reg *types.Registry, cfg config.Config) *Invoker {
	return &Invoker{
		tools:       toolTable,
		gate:        gate,
		types:       reg,
		timeout:     cfg.ToolTimeout,
		httpTimeout: cfg.HTTPTimeout,
		maxBytes:    cfg.HTTPMaxBytes,
		python:      make(map[string]PythonRunner),
	}
}

// RegisterPython installs the runner backing a python-callable tool. The
// module must still pass the gate's allowlist at invocation time.
func (inv *Invoker) RegisterPython(module, function string, fn PythonRunner) {
	inv.python[module+"."+function] = fn
}

// Invoke validates the arguments against the tool's input schema and
// dispatches on the implementation variant.
func (inv *Invoker) Invoke(ctx context.Context, toolID string, args map[string]any) (any, error) {
	tool, ok := inv.tools[toolID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrTool, "unknown tool %q", toolID)
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := inv.validateInput(tool, args); err != nil {
		return nil, err
	}

	switch tool.Impl.Type {
	case "command":
		return inv.runCommand(ctx, tool, args)
	case "http":
		return inv.runHTTP(ctx, tool, args)
	case "python":
		return inv.runPython(ctx, tool, args)
	}
	return nil, schema.NewErrorf(schema.ErrTool, "tool %q: unsupported implementation type %q", toolID, tool.Impl.Type)
}

func (inv *Invoker) validateInput(tool *schema.Tool, args map[string]any) error {
	switch spec := tool.InputSchema.(type) {
	case nil:
		return nil
	case string:
		if spec == "" || !inv.types.Has(spec) {
			return nil
		}
		if _, err := inv.types.Validate(spec, map[string]any(args)); err != nil {
			return schema.NewErrorf(schema.ErrTool, "tool %q: input validation failed: %v", tool.ID, err).WithCause(err)
		}
		return nil
	case map[string]any:
		compiler := jsonschema.NewCompiler()
		url := "alp://tool/" + tool.ID + "/input.json"
		if err := compiler.AddResource(url, spec); err != nil {
			return schema.NewErrorf(schema.ErrTool, "tool %q: invalid input schema: %v", tool.ID, err).WithCause(err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return schema.NewErrorf(schema.ErrTool, "tool %q: invalid input schema: %v", tool.ID, err).WithCause(err)
		}
		if err := compiled.Validate(map[string]any(args)); err != nil {
			return schema.NewErrorf(schema.ErrTool, "tool %q: input validation failed: %v", tool.ID, err).WithCause(err)
		}
		return nil
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// substitute renders {arg} placeholders from the argument map. A
// placeholder without a matching argument is an error.
func substitute(template string, args map[string]any) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := args[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return m
		}
		return stringifyArg(v)
	})
	if missing != "" {
		return "", fmt.Errorf("missing argument for placeholder %q", missing)
	}
	return out, nil
}

func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (inv *Invoker) runCommand(ctx context.Context, tool *schema.Tool, args map[string]any) (any, error) {
	cmdline, err := substitute(tool.Impl.Command, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: %v", tool.ID, err)
	}
	if err := inv.gate.AllowToolCommand(cmdline); err != nil {
		return nil, err
	}

	timeout := inv.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", cmdline)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return nil, schema.NewErrorf(schema.ErrTimeout, "tool %q: command timed out after %s", tool.ID, timeout)
	}
	if ctx.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCancelled, "tool %q: command cancelled", tool.ID).WithCause(ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			return nil, schema.NewErrorf(schema.ErrTool, "tool %q: command failed with code %d: %s", tool.ID, exitCode, strings.TrimSpace(stderr.String())).WithCause(runErr)
		}
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: command execution failed: %v", tool.ID, runErr).WithCause(runErr)
	}

	return map[string]any{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": float64(exitCode),
	}, nil
}

func (inv *Invoker) runHTTP(ctx context.Context, tool *schema.Tool, args map[string]any) (any, error) {
	rawURL, err := substitute(tool.Impl.URL, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: %v", tool.ID, err)
	}
	if err := inv.gate.AllowHTTP(rawURL); err != nil {
		return nil, err
	}

	var body io.Reader
	if tool.Impl.JSONBody {
		payload, marshalErr := json.Marshal(args)
		if marshalErr != nil {
			return nil, schema.NewErrorf(schema.ErrTool, "tool %q: cannot marshal args: %v", tool.ID, marshalErr).WithCause(marshalErr)
		}
		body = bytes.NewReader(payload)
	}

	timeout := inv.httpTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(tool.Impl.Method), rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: cannot build request: %v", tool.ID, err).WithCause(err)
	}
	for k, v := range tool.Impl.Headers {
		req.Header.Set(k, v)
	}
	if tool.Impl.JSONBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrTimeout, "tool %q: http request timed out", tool.ID).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCancelled, "tool %q: http request cancelled", tool.ID).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrHTTP, "tool %q: http request failed: %v", tool.ID, err).WithCause(err)
	}
	defer resp.Body.Close()

	maxBytes := inv.maxBytes
	if maxBytes <= 0 {
		maxBytes = 1_000_000
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrHTTP, "tool %q: failed to read response: %v", tool.ID, err).WithCause(err)
	}

	var data any
	if jsonErr := json.Unmarshal(bodyBytes, &data); jsonErr != nil {
		data = string(bodyBytes)
	}
	headers := map[string]any{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status":  float64(resp.StatusCode),
		"data":    data,
		"headers": headers,
	}, nil
}

func (inv *Invoker) runPython(ctx context.Context, tool *schema.Tool, args map[string]any) (any, error) {
	if err := inv.gate.AllowToolPython(tool.Impl.Module); err != nil {
		return nil, err
	}
	runner, ok := inv.python[tool.Impl.Module+"."+tool.Impl.Function]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: no runner registered for %s.%s", tool.ID, tool.Impl.Module, tool.Impl.Function)
	}
	out, err := runner(ctx, args)
	if err != nil {
		var ae *schema.ALPError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrTool, "tool %q: execution failed: %v", tool.ID, err).WithCause(err)
	}
	return out, nil
}
