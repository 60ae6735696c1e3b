package ops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/resolve"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/pkg/schema"
)

func httpRuntime(t *testing.T, allowLocal bool) *Runtime {
	t.Helper()
	cfg := config.Default()
	if allowLocal {
		cfg.HTTPAllowlist = []string{"127.0.0.1"}
	}
	return &Runtime{
		Env:          resolve.NewEnv(),
		Gate:         sandbox.NewGate(cfg),
		HTTPTimeout:  cfg.HTTPTimeout,
		HTTPMaxBytes: cfg.HTTPMaxBytes,
	}
}

func TestHTTPOp_DeniedWithoutSocket(t *testing.T) {
	rt := httpRuntime(t, false)
	op, err := NewBuiltinRegistry().Get("http")
	require.NoError(t, err)

	_, err = op.Invoke(context.Background(), map[string]any{"url": "https://api.example.com/x"}, rt)
	require.Error(t, err)
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCapability, ae.Kind)
}

func TestHTTPOp_StatusSurfacedNotRaised(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	rt := httpRuntime(t, true)
	op, err := NewBuiltinRegistry().Get("http")
	require.NoError(t, err)

	out, err := op.Invoke(context.Background(), map[string]any{"url": srv.URL + "/ping"}, rt)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, float64(200), m["status"])
	assert.Equal(t, "pong", m["text"])

	// Non-2xx is surfaced to the caller, not raised.
	out, err = op.Invoke(context.Background(), map[string]any{"url": srv.URL + "/missing"}, rt)
	require.NoError(t, err)
	m = out.(map[string]any)
	assert.Equal(t, float64(404), m["status"])
}

func TestHTTPOp_JSONBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rt := httpRuntime(t, true)
	op, err := NewBuiltinRegistry().Get("http")
	require.NoError(t, err)

	_, err = op.Invoke(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "post",
		"json":   map[string]any{"k": "v"},
	}, rt)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"k":"v"}`, string(gotBody))
}

func TestRegistry_Duplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("x", "", nil)))
	err := reg.Register(NewHandler("x", "", nil))
	require.Error(t, err)
	assert.Equal(t, schema.ErrDuplicate, schema.KindOf(err))

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrUnresolved, schema.KindOf(err))

	assert.True(t, reg.Has("x"))
	assert.Equal(t, 1, reg.Count())
}

func TestBuiltinRegistry_SpecOpsPresent(t *testing.T) {
	reg := NewBuiltinRegistry()
	for _, name := range []string{
		"add", "sub", "mul", "div", "pow", "neg", "abs", "round", "min", "max", "sum", "avg",
		"calc_eval", "to_calc_result",
		"concat", "join", "split", "replace", "regex_match", "regex_replace", "format",
		"trim", "case", "substring", "encode_decode", "hash",
		"filter_nonempty_strings", "coalesce_str",
		"json_parse", "json_get", "json_set", "json_merge", "json_filter", "json_map", "json_delete",
		"if", "switch", "try", "map_each",
		"read_file", "write_file", "list_files", "file_exists", "glob", "file_info",
		"mkdir", "copy_file", "move_file", "delete_file", "path_join", "path_split", "path_basename",
		"http", "read_stdin", "tool_call", "llm", "llm_batch",
		"expr_eval", "cel_eval", "jq",
	} {
		assert.True(t, reg.Has(name), name)
	}
}
