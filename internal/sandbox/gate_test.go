package sandbox

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/pkg/schema"
)

func requireCapability(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var ae *schema.ALPError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCapability, ae.Kind)
}

func TestGate_PathChecks(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.IORoot = root
	cfg.IOAllowWrite = true
	g := NewGate(cfg)

	abs, err := g.AllowRead("data/input.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data", "input.json"), abs)

	_, err = g.AllowRead("../escape.txt")
	requireCapability(t, err)

	// Sibling directory sharing the root as a string prefix.
	_, err = g.AllowRead(root + "evil/file.txt")
	requireCapability(t, err)

	_, err = g.AllowWrite("out/result.json")
	require.NoError(t, err)
}

func TestGate_WriteFlag(t *testing.T) {
	cfg := config.Default()
	cfg.IORoot = t.TempDir()
	g := NewGate(cfg)

	_, err := g.AllowWrite("anything.txt")
	requireCapability(t, err)

	_, err = g.AllowRead("anything.txt")
	require.NoError(t, err)
}

func TestGate_HTTP(t *testing.T) {
	cfg := config.Default()
	cfg.HTTPAllowlist = []string{"api.example.com", "localhost"}
	g := NewGate(cfg)

	require.NoError(t, g.AllowHTTP("https://api.example.com/v1"))
	requireCapability(t, g.AllowHTTP("https://other.example.com/"))
	requireCapability(t, g.AllowHTTP("https://127.0.0.1/"))
	requireCapability(t, g.AllowHTTP("https://10.0.0.8/internal"))
	requireCapability(t, g.AllowHTTP("not a url ::"))

	// Explicit allow-listing overrides the local block.
	require.NoError(t, g.AllowHTTP("http://localhost:8080/dev"))

	empty := NewGate(config.Default())
	requireCapability(t, empty.AllowHTTP("https://api.example.com/"))
}

func TestGate_ToolCommand(t *testing.T) {
	cfg := config.Default()
	cfg.ToolAllowCommands = []string{"echo", "git status"}
	g := NewGate(cfg)

	require.NoError(t, g.AllowToolCommand("echo hello"))
	require.NoError(t, g.AllowToolCommand("git status --short"))
	requireCapability(t, g.AllowToolCommand("curl http://x"))
	requireCapability(t, g.AllowToolCommand("echo a && sudo reboot"))

	none := NewGate(config.Default())
	requireCapability(t, none.AllowToolCommand("echo hi"))
}

func TestGate_PythonAndStdin(t *testing.T) {
	cfg := config.Default()
	cfg.ToolPythonModules = []string{"math_helpers"}
	cfg.StdinAllow = true
	cfg.StdinMaxBytes = 128
	g := NewGate(cfg)

	require.NoError(t, g.AllowToolPython("math_helpers"))
	requireCapability(t, g.AllowToolPython("os"))

	limit, err := g.AllowStdin()
	require.NoError(t, err)
	assert.EqualValues(t, 128, limit)

	closed := NewGate(config.Default())
	_, err = closed.AllowStdin()
	requireCapability(t, err)
}
