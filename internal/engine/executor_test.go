package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/llm"
	"github.com/rgthelen/alp/internal/loader"
	"github.com/rgthelen/alp/internal/ops"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/internal/tools"
	"github.com/rgthelen/alp/pkg/schema"
)

func buildEngine(t *testing.T, src string, mutate func(*config.Config, *ops.Registry)) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.IORoot = t.TempDir()
	opsReg := ops.NewBuiltinRegistry()
	if mutate != nil {
		mutate(&cfg, opsReg)
	}

	gate := sandbox.NewGate(cfg)
	prog, err := loader.New(gate).LoadReader(strings.NewReader(src), "")
	require.NoError(t, err)
	require.NoError(t, prog.Check(opsReg))

	caller := llm.NewCaller(llm.Select(cfg), prog.Types, cfg.ModelName)
	invoker := tools.NewInvoker(prog.Tools, gate, prog.Types, cfg)
	return New(prog, opsReg, gate, caller, invoker, cfg, nil, nil)
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae), "expected ALPError, got %v", err)
	return ae.Kind
}

func TestRun_AddOneProjection(t *testing.T) {
	src := `{"kind":"@shape","id":"I","fields":{"x":"int"}}
{"kind":"@shape","id":"O","fields":{"y":"int"}}
{"kind":"@fn","id":"f","in":"I","out":"O","@op":[["add",{"a":"$in.x","b":1},{"as":"y"}]],"@expect":{"y":"$y"}}
{"kind":"@flow","edges":[["f",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), map[string]any{"x": float64(41)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": float64(42)}, res.Result)
	require.Len(t, res.Traces, 1)
	assert.Equal(t, "f", res.Traces[0].Node)
	assert.Equal(t, "ok", res.Traces[0].Status)
	assert.NotEmpty(t, res.Traces[0].OutputsHash)
}

func TestRun_CalcThenValueChaining(t *testing.T) {
	src := `{"kind":"@fn","id":"calc","@op":[["calc_eval",{"expr":"2+2*3"}],["mul",{"a":"$value","b":2}]]}
{"kind":"@flow","edges":[["calc",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(16), res.Result)
}

func TestRun_ConditionalFanOut(t *testing.T) {
	src := `{"kind":"@fn","id":"start","@op":[["add",{"a":"$in","b":0}]]}
{"kind":"@fn","id":"pos","@op":[["concat",{"a":"pos:","b":"$in"}]]}
{"kind":"@fn","id":"neg","@op":[["concat",{"a":"neg:","b":"$in"}]]}
{"kind":"@flow","edges":[["start","pos",{"when":{"gt":["$value",0]}}],["start","neg",{"when":{"lte":["$value",0]}}]]}
`
	eng := buildEngine(t, src, nil)

	res, err := eng.Run(context.Background(), float64(5))
	require.NoError(t, err)
	assert.Equal(t, "pos:5", res.Result)
	nodes := tracedNodes(res)
	assert.Contains(t, nodes, "pos")
	assert.NotContains(t, nodes, "neg")

	res, err = eng.Run(context.Background(), float64(-3))
	require.NoError(t, err)
	assert.Equal(t, "neg:-3", res.Result)
	nodes = tracedNodes(res)
	assert.Contains(t, nodes, "neg")
	assert.NotContains(t, nodes, "pos")
}

func tracedNodes(res *RunResult) []string {
	var out []string
	for _, tr := range res.Traces {
		out = append(out, tr.Node)
	}
	return out
}

type flakyOp struct {
	calls int
}

func (f *flakyOp) Name() string { return "flaky_http" }
func (f *flakyOp) Doc() string  { return "always fails with ErrHTTP" }

func (f *flakyOp) Invoke(context.Context, map[string]any, *ops.Runtime) (any, error) {
	f.calls++
	return nil, schema.NewError(schema.ErrHTTP, "connection refused")
}

func TestRun_RetryExhausted(t *testing.T) {
	src := `{"kind":"@fn","id":"fetch","@op":[["flaky_http",{}]],"@retry":{"max_attempts":3,"on":["ErrHTTP"]}}
{"kind":"@flow","edges":[["fetch",null,{}]]}
`
	flaky := &flakyOp{}
	eng := buildEngine(t, src, func(_ *config.Config, reg *ops.Registry) {
		require.NoError(t, reg.Register(flaky))
	})

	_, err := eng.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrRetryExhausted, kindOf(t, err))
	assert.Equal(t, 3, flaky.calls)

	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrHTTP, schema.KindOf(ae.Cause))
}

func TestRun_RetryDoesNotCoverTypeErrors(t *testing.T) {
	src := `{"kind":"@shape","id":"O","fields":{"y":"int"}}
{"kind":"@fn","id":"f","out":"O","@op":[["add",{"a":1,"b":1}]],"@retry":{"max_attempts":5}}
{"kind":"@flow","edges":[["f",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	_, err := eng.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))
}

func TestRun_MapEach(t *testing.T) {
	src := `{"kind":"@fn","id":"square","@op":[["mul",{"a":"$in","b":"$in"}]]}
{"kind":"@fn","id":"all","@op":[["map_each",{"items":[1,2,3],"fn":"square"}]]}
{"kind":"@flow","edges":[["all",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(4), float64(9)}, res.Result)
}

func TestRun_MapEachWithParam(t *testing.T) {
	src := `{"kind":"@fn","id":"double","@op":[["mul",{"a":"$n","b":2}]],"in":{"n":"int"}}
{"kind":"@fn","id":"all","@op":[["map_each",{"items":[2,5],"fn":"double","param":"n"}]]}
{"kind":"@flow","edges":[["all",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(4), float64(10)}, res.Result)
}

func TestRun_ExpectSynthesize(t *testing.T) {
	src := `{"kind":"@shape","id":"O","fields":{"y":"int"}}
{"kind":"@fn","id":"f","@op":[["add",{"a":20,"b":22},{"as":"y"}]],"@expect":{"type":"O","synthesize":true}}
{"kind":"@flow","edges":[["f",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": float64(42)}, res.Result)
}

func TestRun_ExpectDefaults(t *testing.T) {
	src := `{"kind":"@shape","id":"O","fields":{"y":"int","tag":"str"},"defaults":{"tag":"none"}}
{"kind":"@fn","id":"f","@op":[["add",{"a":1,"b":1},{"as":"y"}]],"@expect":{"type":"O","synthesize":true}}
{"kind":"@flow","edges":[["f",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"y": float64(2), "tag": "none"}, res.Result)
}

func TestRun_LLMMock(t *testing.T) {
	src := `{"kind":"@shape","id":"Reply","fields":{"text":"str","score":"int"}}
{"kind":"@fn","id":"ask","@llm":{"task":"summarize","schema":"Reply","input":{"text":"$in.msg"}}}
{"kind":"@flow","edges":[["ask",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), map[string]any{"msg": "hello"})
	require.NoError(t, err)

	out := res.Result.(map[string]any)
	assert.Equal(t, "hello", out["text"])
	assert.Equal(t, float64(0), out["score"])

	require.Len(t, res.Traces, 1)
	require.Len(t, res.Traces[0].Provenance, 1)
	prov := res.Traces[0].Provenance[0]
	assert.Equal(t, "llm", prov.Kind)
	assert.Equal(t, "mock", prov.Provider)
	assert.NotEmpty(t, prov.InputHash)
	assert.NotEmpty(t, prov.OutputHash)
}

func TestRun_FlowDepthLimit(t *testing.T) {
	src := `{"kind":"@fn","id":"loop","@op":[["add",{"a":"$in","b":1}]]}
{"kind":"@flow","edges":[["loop","loop",{}]]}
`
	eng := buildEngine(t, src, func(cfg *config.Config, _ *ops.Registry) {
		cfg.FlowMaxDepth = 8
	})
	_, err := eng.Run(context.Background(), float64(0))
	require.Error(t, err)
	assert.Equal(t, schema.ErrFlowDepth, kindOf(t, err))
}

func TestRun_FallbackEntryWithoutFlow(t *testing.T) {
	src := `{"kind":"@fn","id":"zeta","@op":[["add",{"a":1,"b":1}]]}
{"kind":"@fn","id":"alpha","@op":[["add",{"a":2,"b":2}]]}
`
	eng := buildEngine(t, src, nil)
	res, err := eng.Run(context.Background(), nil)
	require.NoError(t, err)
	// Deterministic fallback: lexicographically-first fn without input.
	assert.Equal(t, float64(4), res.Result)
}

func TestRun_InputValidationFailure(t *testing.T) {
	src := `{"kind":"@shape","id":"I","fields":{"x":"int"}}
{"kind":"@fn","id":"f","in":"I","@op":[["add",{"a":"$in.x","b":1}]]}
{"kind":"@flow","edges":[["f",null,{}]]}
`
	eng := buildEngine(t, src, nil)
	_, err := eng.Run(context.Background(), map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Equal(t, schema.ErrType, kindOf(t, err))
}

func TestRun_ControlFlowInline(t *testing.T) {
	src := `{"kind":"@fn","id":"route","@op":[["add",{"a":"$in","b":0},{"as":"n"}],["if",{"condition":{"gt":["$n",10]},"then":[["concat",{"a":"big:","b":"$n"}]],"else":[["concat",{"a":"small:","b":"$n"}]]}]]}
{"kind":"@flow","edges":[["route",null,{}]]}
`
	eng := buildEngine(t, src, nil)

	res, err := eng.Run(context.Background(), float64(25))
	require.NoError(t, err)
	assert.Equal(t, "big:25", res.Result)

	res, err = eng.Run(context.Background(), float64(5))
	require.NoError(t, err)
	assert.Equal(t, "small:5", res.Result)
}

func TestRun_UnknownFnInFlow(t *testing.T) {
	cfg := config.Default()
	cfg.IORoot = t.TempDir()
	gate := sandbox.NewGate(cfg)
	opsReg := ops.NewBuiltinRegistry()
	src := `{"kind":"@fn","id":"a","@op":[["add",{"a":1,"b":1}]]}
{"kind":"@flow","edges":[["a","ghost",{}]]}
`
	prog, err := loader.New(gate).LoadReader(strings.NewReader(src), "")
	require.NoError(t, err)
	err = prog.Check(opsReg)
	require.Error(t, err)
	assert.Equal(t, schema.ErrUnresolved, kindOf(t, err))
}
