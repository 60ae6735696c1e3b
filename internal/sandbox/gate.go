// Package sandbox is the single authority deciding whether a privileged
// operation may proceed. Every capability-gated op consults the Gate before
// touching the filesystem, network, process table, or stdin.
package sandbox

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rgthelen/alp/internal/config"
	"github.com/rgthelen/alp/pkg/schema"
)

// Gate holds immutable capability configuration derived from the process
// configuration. Safe to share across concurrent program invocations.
type Gate struct {
	ioRoot        string
	allowWrite    bool
	httpHosts     map[string]bool
	blockLocal    bool
	stdinAllow    bool
	stdinMax      int64
	commandHeads  []string
	pythonModules map[string]bool
}

// NewGate builds a Gate from the loaded configuration. The I/O root is
// canonicalized once at construction.
func NewGate(cfg config.Config) *Gate {
	root, err := filepath.Abs(cfg.IORoot)
	if err != nil {
		root = cfg.IORoot
	}
	g := &Gate{
		ioRoot:        filepath.Clean(root),
		allowWrite:    cfg.IOAllowWrite,
		httpHosts:     make(map[string]bool, len(cfg.HTTPAllowlist)),
		blockLocal:    cfg.HTTPBlockLocal,
		stdinAllow:    cfg.StdinAllow,
		stdinMax:      cfg.StdinMaxBytes,
		commandHeads:  cfg.ToolAllowCommands,
		pythonModules: make(map[string]bool, len(cfg.ToolPythonModules)),
	}
	for _, h := range cfg.HTTPAllowlist {
		g.httpHosts[strings.ToLower(h)] = true
	}
	for _, m := range cfg.ToolPythonModules {
		g.pythonModules[m] = true
	}
	return g
}

// IORoot returns the canonical sandbox root.
func (g *Gate) IORoot() string {
	return g.ioRoot
}

// AllowRead resolves a path relative to the I/O root and permits it when
// the canonical form stays inside the root. Returns the absolute path.
func (g *Gate) AllowRead(path string) (string, error) {
	return g.resolveUnderRoot(path)
}

// AllowWrite additionally requires the write flag.
func (g *Gate) AllowWrite(path string) (string, error) {
	if !g.allowWrite {
		return "", schema.NewError(schema.ErrCapability, "writes disabled; set ALP_IO_ALLOW_WRITE=1 to enable")
	}
	return g.resolveUnderRoot(path)
}

func (g *Gate) resolveUnderRoot(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", schema.NewErrorf(schema.ErrCapability, "invalid path %q", path)
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(g.ioRoot, target)
	}
	target = filepath.Clean(target)
	if !isUnderPath(target, g.ioRoot) {
		return "", schema.NewErrorf(schema.ErrCapability, "path %q escapes the I/O root", path)
	}
	return target, nil
}

// isUnderPath reports whether path is under (or equal to) base. Uses
// filepath.Rel to avoid string-prefix false positives (/tmp vs /tmpevil).
func isUnderPath(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AllowHTTP parses the URL without resolving DNS and permits the request
// when the hostname is allow-listed. Loopback and private destinations are
// rejected while blockLocal is set, unless the host itself is allow-listed.
func (g *Gate) AllowHTTP(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return schema.NewErrorf(schema.ErrCapability, "invalid url %q", rawURL).WithCause(err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return schema.NewErrorf(schema.ErrCapability, "url %q has no host", rawURL)
	}
	if !g.httpHosts[host] {
		if g.blockLocal && isPrivateHost(host) {
			return schema.NewErrorf(schema.ErrCapability, "host %q is a local/private destination", host)
		}
		return schema.NewErrorf(schema.ErrCapability, "host %q not on the HTTP allowlist; set ALP_HTTP_ALLOWLIST", host)
	}
	if g.blockLocal && isPrivateHost(host) {
		// Explicit allow-listing overrides the local block.
		return nil
	}
	return nil
}

func isPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// Substrings that disqualify a command regardless of the allowlist.
var dangerousCommandPatterns = []string{
	"rm ", "del ", "format", "sudo", "su ", "chmod +x",
}

// AllowToolCommand checks a rendered command line against the deny
// patterns and the configured command-head allowlist.
func (g *Gate) AllowToolCommand(cmdline string) error {
	lower := strings.ToLower(cmdline)
	for _, pattern := range dangerousCommandPatterns {
		if strings.Contains(lower, pattern) {
			return schema.NewErrorf(schema.ErrCapability, "command rejected by security policy: %s", firstWord(cmdline))
		}
	}
	if len(g.commandHeads) == 0 {
		return schema.NewError(schema.ErrCapability, "no commands allow-listed; set ALP_TOOL_ALLOW_COMMANDS")
	}
	for _, head := range g.commandHeads {
		if strings.HasPrefix(cmdline, head) {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCapability, "command %q not on the allowlist", firstWord(cmdline))
}

// AllowToolPython checks the module allowlist for python-callable tools.
func (g *Gate) AllowToolPython(module string) error {
	if !g.pythonModules[module] {
		return schema.NewErrorf(schema.ErrCapability, "python module %q not on the allowlist", module)
	}
	return nil
}

// AllowStdin returns the byte cap for stdin reads when permitted.
func (g *Gate) AllowStdin() (int64, error) {
	if !g.stdinAllow {
		return 0, schema.NewError(schema.ErrCapability, "stdin reads disabled; set ALP_STDIN_ALLOW=1 to enable")
	}
	return g.stdinMax, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fmt.Sprintf("%.64s", fields[0])
}
