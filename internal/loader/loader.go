// Package loader reads ALP sources: newline-delimited JSON nodes with
// blank lines, // comments, and @import expansion.
package loader

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rgthelen/alp/internal/ops"
	"github.com/rgthelen/alp/internal/sandbox"
	"github.com/rgthelen/alp/internal/types"
	"github.com/rgthelen/alp/internal/vocab"
	"github.com/rgthelen/alp/pkg/schema"
)

// Program is the loaded, registered form of an ALP source: registries plus
// the function/tool tables and the concatenated flow.
type Program struct {
	Types   *types.Registry
	Fns     map[string]*schema.Fn
	FnOrder []string
	Flow    []schema.Edge
	Tools   map[string]*schema.Tool
}

// Loader reads programs. Import paths are resolved relative to the
// importing file, subject to the I/O root.
type Loader struct {
	gate *sandbox.Gate
}

// New creates a Loader using the gate for import path checks.
func New(gate *sandbox.Gate) *Loader {
	return &Loader{gate: gate}
}

// LoadFile loads a program from a file, expanding imports.
func (l *Loader) LoadFile(path string) (*Program, error) {
	prog := &Program{
		Types: types.NewRegistry(),
		Fns:   make(map[string]*schema.Fn),
		Tools: make(map[string]*schema.Tool),
	}
	visited := make(map[string]bool)
	loading := make(map[string]bool)
	if err := l.loadFile(prog, path, visited, loading); err != nil {
		return nil, err
	}
	return prog, nil
}

// LoadReader loads a program from a stream. Imports resolve relative to
// the given source path's directory (or the I/O root when empty).
func (l *Loader) LoadReader(r io.Reader, sourcePath string) (*Program, error) {
	prog := &Program{
		Types: types.NewRegistry(),
		Fns:   make(map[string]*schema.Fn),
		Tools: make(map[string]*schema.Tool),
	}
	if sourcePath == "" {
		sourcePath = filepath.Join(l.gate.IORoot(), "<stream>")
	}
	if err := l.loadStream(prog, r, sourcePath, make(map[string]bool), make(map[string]bool)); err != nil {
		return nil, err
	}
	return prog, nil
}

func (l *Loader) loadFile(prog *Program, path string, visited, loading map[string]bool) error {
	abs, err := l.gate.AllowRead(path)
	if err != nil {
		return err
	}
	if loading[abs] {
		return schema.NewErrorf(schema.ErrSyntax, "import cycle detected at %q", path)
	}
	if visited[abs] {
		return nil
	}
	visited[abs] = true
	loading[abs] = true
	defer delete(loading, abs)

	f, err := os.Open(abs)
	if err != nil {
		return schema.NewErrorf(schema.ErrIO, "cannot open %q: %v", path, err).WithCause(err)
	}
	defer f.Close()

	return l.loadStream(prog, f, abs, visited, loading)
}

func (l *Loader) loadStream(prog *Program, r io.Reader, sourcePath string, visited, loading map[string]bool) error {
	baseDir := filepath.Dir(sourcePath)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		node, err := vocab.ParseNode([]byte(line), lineNo)
		if err != nil {
			return err
		}
		if err := l.registerNode(prog, node, baseDir, visited, loading); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return schema.NewErrorf(schema.ErrIO, "reading %q: %v", sourcePath, err).WithCause(err)
	}
	return nil
}

func (l *Loader) registerNode(prog *Program, node *schema.Node, baseDir string, visited, loading map[string]bool) error {
	switch node.Kind {
	case schema.KindShape:
		if err := prog.Types.RegisterShape(node.Shape); err != nil {
			return attachLine(err, node.Line)
		}
	case schema.KindDef:
		if err := prog.Types.RegisterDef(node.Def); err != nil {
			return attachLine(err, node.Line)
		}
	case schema.KindTool:
		if existing, ok := prog.Tools[node.Tool.ID]; ok {
			if reflect.DeepEqual(existing, node.Tool) {
				return nil
			}
			return schema.NewErrorf(schema.ErrDuplicate, "tool %q already registered with a different body", node.Tool.ID).WithLine(node.Line)
		}
		prog.Tools[node.Tool.ID] = node.Tool
	case schema.KindFn:
		if existing, ok := prog.Fns[node.Fn.ID]; ok {
			if reflect.DeepEqual(existing, node.Fn) {
				return nil
			}
			return schema.NewErrorf(schema.ErrDuplicate, "fn %q already registered with a different body", node.Fn.ID).WithLine(node.Line)
		}
		prog.Fns[node.Fn.ID] = node.Fn
		prog.FnOrder = append(prog.FnOrder, node.Fn.ID)
	case schema.KindFlow:
		prog.Flow = append(prog.Flow, node.Flow.Edges...)
	case schema.KindImport:
		child := node.Import.Path
		if !filepath.IsAbs(child) {
			child = filepath.Join(baseDir, child)
		}
		return l.loadFile(prog, child, visited, loading)
	}
	return nil
}

func attachLine(err error, line int) error {
	if ae, ok := err.(*schema.ALPError); ok && ae.Line == 0 {
		return ae.WithLine(line)
	}
	return err
}

// Check verifies every cross-reference after a complete load: op names,
// fn in/out types, llm schemas, expect types, and flow edge endpoints.
// Forward references inside a load are legal; dangling ones are not.
func (p *Program) Check(opsReg *ops.Registry) error {
	for _, id := range p.FnOrder {
		fn := p.Fns[id]
		if ref := fn.InRef(); ref != "" && !p.Types.Has(ref) {
			return schema.NewErrorf(schema.ErrUnresolved, "fn %q: input type %q is not registered", id, ref)
		}
		if fn.Out != "" && !p.Types.Has(fn.Out) {
			return schema.NewErrorf(schema.ErrUnresolved, "fn %q: output type %q is not registered", id, fn.Out)
		}
		for i, step := range fn.Ops {
			if !opsReg.Has(step.Name) {
				return schema.NewErrorf(schema.ErrUnresolved, "unknown op %q", step.Name).WithNode(id).WithOp(i)
			}
		}
		if fn.LLM != nil && !p.Types.Has(fn.LLM.Schema) {
			return schema.NewErrorf(schema.ErrUnresolved, "fn %q: @llm schema %q is not registered", id, fn.LLM.Schema)
		}
		if fn.Expect != nil && fn.Expect.Type != "" && !p.Types.Has(fn.Expect.Type) {
			return schema.NewErrorf(schema.ErrUnresolved, "fn %q: @expect type %q is not registered", id, fn.Expect.Type)
		}
	}
	for i, edge := range p.Flow {
		if _, ok := p.Fns[edge.Src]; !ok {
			return schema.NewErrorf(schema.ErrUnresolved, "flow edge %d: unknown source fn %q", i, edge.Src)
		}
		if !edge.Terminal() {
			if _, ok := p.Fns[edge.Dst]; !ok {
				return schema.NewErrorf(schema.ErrUnresolved, "flow edge %d: unknown destination fn %q", i, edge.Dst)
			}
		}
	}
	for id, tool := range p.Tools {
		if ref, ok := tool.InputSchema.(string); ok && ref != "" && !p.Types.Has(ref) {
			return schema.NewErrorf(schema.ErrUnresolved, "tool %q: input schema %q is not registered", id, ref)
		}
		if ref, ok := tool.OutputSchema.(string); ok && ref != "" && !p.Types.Has(ref) {
			return schema.NewErrorf(schema.ErrUnresolved, "tool %q: output schema %q is not registered", id, ref)
		}
	}
	return nil
}
