// Command alp runs an ALP program: load, check, execute the flow, and
// print the result with its trace.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/internal/engine"
	"github.com/rgthelen/alp/internal/llm"
	"github.com/rgthelen/alp/internal/loader"
	"github.com/rgthelen/alp/internal/logging"
	"github.com/rgthelen/alp/internal/ops"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/internal/store"
	"github.com/rgthelen/alp/internal/tools"
	"github.com/rgthelen/alp/internal/vocab"
	"github.com/rgthelen/alp/pkg/schema"
)

// Exit codes by error kind. Anything unlisted exits 1.
var exitCodes = map[string]int{
	schema.ErrSyntax:         2,
	schema.ErrType:           3,
	schema.ErrUnresolved:     4,
	schema.ErrCapability:     5,
	schema.ErrFlowDepth:      6,
	schema.ErrRetryExhausted: 7,
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var inputJSON string
	flag.StringVar(&inputJSON, "input", "", "inbound value as JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: alp [-input JSON] <program.alp> | alp vocab | alp ops")
		return 1
	}

	cfg := config.FromEnv()
	logger := slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	switch args[0] {
	case "vocab":
		return printJSON(vocab.Export())
	case "ops":
		return printJSON(ops.NewBuiltinRegistry().List())
	}

	var inbound any
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &inbound); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -input JSON: %v\n", err)
			return exitCodes[schema.ErrSyntax]
		}
	}

	gate := sandbox.NewGate(cfg)
	prog, err := loader.New(gate).LoadFile(args[0])
	if err != nil {
		return fail(err)
	}

	opsReg := ops.NewBuiltinRegistry()
	if err := prog.Check(opsReg); err != nil {
		return fail(err)
	}

	caller := llm.NewCaller(llm.Select(cfg), prog.Types, cfg.ModelName)
	invoker := tools.NewInvoker(prog.Tools, gate, prog.Types, cfg)

	var sink engine.TraceSink
	if cfg.TraceDB != "" {
		traceLog, openErr := store.Open(cfg.TraceDB)
		if openErr != nil {
			return fail(openErr)
		}
		defer traceLog.Close()
		sink = traceLog
	}

	eng := engine.New(prog, opsReg, gate, caller, invoker, cfg, logger, sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.Run(ctx, inbound)
	if err != nil {
		return fail(err)
	}
	return printJSON(result)
}

func printJSON(v any) int {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func fail(err error) int {
	var ae *schema.ALPError
	if errors.As(err, &ae) {
		fmt.Fprintln(os.Stderr, ae.Error())
		for cause := ae.Cause; cause != nil; {
			fmt.Fprintf(os.Stderr, "  caused by: %v\n", cause)
			var next *schema.ALPError
			if errors.As(cause, &next) && next.Cause != nil {
				cause = next.Cause
			} else {
				break
			}
		}
		if code, ok := exitCodes[ae.Kind]; ok {
			return code
		}
		return 1
	}
	fmt.Fprintln(os.Stderr, err.Error())
	return 1
}
