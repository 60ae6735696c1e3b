// Package config materializes process-wide configuration into an immutable
// value built once at startup. No package reads the environment after load.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every recognized runtime option.
// Priority: ALP_* env vars > defaults.
type Config struct {
	IORoot            string
	IOAllowWrite      bool
	HTTPAllowlist     []string
	HTTPBlockLocal    bool
	HTTPTimeout       time.Duration
	HTTPMaxBytes      int64
	StdinAllow        bool
	StdinMaxBytes     int64
	ToolAllowCommands []string
	ToolPythonModules []string
	ToolTimeout       time.Duration
	ModelProvider     string
	ModelName         string
	Explain           bool
	FlowMaxDepth      int
	TraceDB           string
	ProvenanceMinimal bool
}

// Default returns the built-in configuration: sandbox closed for writes,
// HTTP and stdin denied, mock model provider.
func Default() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		IORoot:         cwd,
		HTTPBlockLocal: true,
		HTTPTimeout:    30 * time.Second,
		HTTPMaxBytes:   1_000_000,
		StdinMaxBytes:  1_000_000,
		ToolTimeout:    30 * time.Second,
		ModelProvider:  "mock",
		FlowMaxDepth:   1024,
	}
}

// FromEnv layers ALP_* environment variables over the defaults.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("ALP_IO_ROOT"); v != "" {
		cfg.IORoot = v
	}
	cfg.IOAllowWrite = envBool("ALP_IO_ALLOW_WRITE", cfg.IOAllowWrite)
	if v := os.Getenv("ALP_HTTP_ALLOWLIST"); v != "" {
		cfg.HTTPAllowlist = splitList(v)
	}
	if v := os.Getenv("ALP_HTTP_BLOCK_LOCAL"); v != "" {
		cfg.HTTPBlockLocal = v != "0"
	}
	if v := os.Getenv("ALP_HTTP_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.HTTPTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	if n, ok := envInt64("ALP_HTTP_MAX_BYTES"); ok {
		cfg.HTTPMaxBytes = n
	}
	cfg.StdinAllow = envBool("ALP_STDIN_ALLOW", cfg.StdinAllow)
	if n, ok := envInt64("ALP_STDIN_MAX_BYTES"); ok {
		cfg.StdinMaxBytes = n
	}
	if v := os.Getenv("ALP_TOOL_ALLOW_COMMANDS"); v != "" {
		cfg.ToolAllowCommands = splitList(v)
	}
	if v := os.Getenv("ALP_TOOL_PYTHON_MODULES"); v != "" {
		cfg.ToolPythonModules = splitList(v)
	}
	if v := os.Getenv("ALP_MODEL_PROVIDER"); v != "" {
		cfg.ModelProvider = strings.ToLower(v)
	}
	if v := os.Getenv("ALP_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	cfg.Explain = envBool("ALP_EXPLAIN", cfg.Explain)
	if n, ok := envInt64("ALP_FLOW_MAX_DEPTH"); ok && n > 0 {
		cfg.FlowMaxDepth = int(n)
	}
	cfg.TraceDB = os.Getenv("ALP_TRACE_DB")
	cfg.ProvenanceMinimal = envBool("ALP_PROVENANCE_MINIMAL", cfg.ProvenanceMinimal)

	return cfg
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
