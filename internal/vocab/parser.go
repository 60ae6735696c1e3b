package vocab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// ParseNode decodes one source line into a typed node. The line number is
// attached to any syntax error for reporting.
func ParseNode(line []byte, lineNo int) (*schema.Node, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrSyntax, "malformed node: %v", err).WithLine(lineNo).WithCause(err)
	}
	raw = NormalizeNode(raw)

	kind, _ := raw["kind"].(string)
	switch kind {
	case "@shape":
		return parseShape(line, raw, lineNo)
	case "@def":
		return parseDef(raw, lineNo)
	case "@tool":
		return parseTool(raw, lineNo)
	case "@fn":
		return parseFn(raw, lineNo)
	case "@flow":
		return parseFlow(raw, lineNo)
	case "@import":
		return parseImport(raw, lineNo)
	case "":
		return nil, schema.NewError(schema.ErrSyntax, "node is missing 'kind'").WithLine(lineNo)
	default:
		return nil, schema.NewErrorf(schema.ErrSyntax, "unknown node kind %q", kind).WithLine(lineNo)
	}
}

func requireID(raw map[string]any, kind string, lineNo int) (string, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return "", schema.NewErrorf(schema.ErrSyntax, "%s node is missing 'id'", kind).WithLine(lineNo)
	}
	return id, nil
}

func parseShape(line []byte, raw map[string]any, lineNo int) (*schema.Node, error) {
	id, err := requireID(raw, "@shape", lineNo)
	if err != nil {
		return nil, err
	}
	fieldsRaw, _ := raw["fields"].(map[string]any)
	order, err := objectFieldOrder(line, "fields")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrSyntax, "shape %q: %v", id, err).WithLine(lineNo)
	}

	sh := &schema.Shape{ID: id, Strict: true}
	sh.Doc, _ = raw["doc"].(string)
	if strict, ok := raw["strict"].(bool); ok {
		sh.Strict = strict
	}
	if defaults, ok := raw["defaults"].(map[string]any); ok {
		sh.Defaults = defaults
	}
	for _, name := range order {
		typ, ok := fieldsRaw[name].(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrSyntax, "shape %q field %q: type must be a string expression", id, name).WithLine(lineNo)
		}
		f := schema.Field{Name: name, Type: typ}
		if strings.HasSuffix(name, "?") {
			f.Name = strings.TrimSuffix(name, "?")
			f.Optional = true
		}
		sh.Fields = append(sh.Fields, f)
	}
	return &schema.Node{Kind: schema.KindShape, Line: lineNo, Shape: sh}, nil
}

func parseDef(raw map[string]any, lineNo int) (*schema.Node, error) {
	id, err := requireID(raw, "@def", lineNo)
	if err != nil {
		return nil, err
	}
	def := &schema.TypeDef{ID: id}
	def.Doc, _ = raw["doc"].(string)

	constraint, hasConstraint := raw["constraint"].(map[string]any)

	switch typ := raw["type"].(type) {
	case []any:
		def.Variant = schema.DefEnum
		def.Enum = typ
	case string:
		switch {
		case strings.Contains(typ, " | "):
			def.Variant = schema.DefUnion
			for _, part := range strings.Split(typ, " | ") {
				if p := strings.TrimSpace(part); p != "" {
					def.Union = append(def.Union, p)
				}
			}
		case strings.HasPrefix(typ, `"`) && strings.HasSuffix(typ, `"`) && len(typ) >= 2:
			def.Variant = schema.DefLiteral
			def.Literal = typ[1 : len(typ)-1]
		case hasConstraint:
			def.Variant = schema.DefConstrained
			def.Base = typ
			c, err := parseConstraint(constraint)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrSyntax, "def %q: %v", id, err).WithLine(lineNo)
			}
			def.Constraint = c
		default:
			def.Variant = schema.DefAlias
			def.Alias = typ
		}
	case nil:
		return nil, schema.NewErrorf(schema.ErrSyntax, "def %q is missing 'type'", id).WithLine(lineNo)
	default:
		return nil, schema.NewErrorf(schema.ErrSyntax, "def %q: unsupported type expression", id).WithLine(lineNo)
	}
	return &schema.Node{Kind: schema.KindDef, Line: lineNo, Def: def}, nil
}

func parseConstraint(m map[string]any) (schema.Constraint, error) {
	var c schema.Constraint
	for key, v := range m {
		switch key {
		case "minLength":
			n, ok := asInt(v)
			if !ok {
				return c, fmt.Errorf("minLength must be an integer")
			}
			c.MinLength = &n
		case "maxLength":
			n, ok := asInt(v)
			if !ok {
				return c, fmt.Errorf("maxLength must be an integer")
			}
			c.MaxLength = &n
		case "pattern":
			s, ok := v.(string)
			if !ok {
				return c, fmt.Errorf("pattern must be a string")
			}
			c.Pattern = s
		case "min":
			f, ok := asFloat(v)
			if !ok {
				return c, fmt.Errorf("min must be numeric")
			}
			c.Min = &f
		case "max":
			f, ok := asFloat(v)
			if !ok {
				return c, fmt.Errorf("max must be numeric")
			}
			c.Max = &f
		default:
			return c, fmt.Errorf("unknown constraint %q", key)
		}
	}
	return c, nil
}

func parseTool(raw map[string]any, lineNo int) (*schema.Node, error) {
	id, err := requireID(raw, "@tool", lineNo)
	if err != nil {
		return nil, err
	}
	t := &schema.Tool{ID: id}
	t.Name, _ = raw["name"].(string)
	t.Description, _ = raw["description"].(string)
	t.InputSchema = raw["input_schema"]
	t.OutputSchema = raw["output_schema"]

	impl, _ := raw["implementation"].(map[string]any)
	t.Impl.Type, _ = impl["type"].(string)
	switch t.Impl.Type {
	case "command":
		t.Impl.Command, _ = impl["command"].(string)
		if t.Impl.Command == "" {
			return nil, schema.NewErrorf(schema.ErrSyntax, "tool %q: command implementation requires 'command'", id).WithLine(lineNo)
		}
	case "http":
		t.Impl.URL, _ = impl["url"].(string)
		if t.Impl.URL == "" {
			return nil, schema.NewErrorf(schema.ErrSyntax, "tool %q: http implementation requires 'url'", id).WithLine(lineNo)
		}
		t.Impl.Method, _ = impl["method"].(string)
		if t.Impl.Method == "" {
			t.Impl.Method = "GET"
		}
		t.Impl.JSONBody = truthyKey(impl, "json_body")
		if hdrs, ok := impl["headers"].(map[string]any); ok {
			t.Impl.Headers = make(map[string]string, len(hdrs))
			for k, v := range hdrs {
				t.Impl.Headers[k] = fmt.Sprintf("%v", v)
			}
		}
	case "python":
		t.Impl.Module, _ = impl["module"].(string)
		t.Impl.Function, _ = impl["function"].(string)
		if t.Impl.Module == "" || t.Impl.Function == "" {
			return nil, schema.NewErrorf(schema.ErrSyntax, "tool %q: python implementation requires 'module' and 'function'", id).WithLine(lineNo)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrSyntax, "tool %q: unsupported implementation type %q", id, t.Impl.Type).WithLine(lineNo)
	}
	return &schema.Node{Kind: schema.KindTool, Line: lineNo, Tool: t}, nil
}

func parseFn(raw map[string]any, lineNo int) (*schema.Node, error) {
	id, err := requireID(raw, "@fn", lineNo)
	if err != nil {
		return nil, err
	}
	fn := &schema.Fn{ID: id}
	fn.Doc, _ = raw["doc"].(string)
	fn.In = raw["in"]
	fn.Out, _ = raw["out"].(string)
	if consts, ok := raw["@const"].(map[string]any); ok {
		fn.Const = consts
	}

	if opsRaw, ok := raw["@op"]; ok {
		list, ok := opsRaw.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrSyntax, "fn %q: @op must be a list of steps", id).WithLine(lineNo)
		}
		for i, stepRaw := range list {
			step, err := ParseOpStep(stepRaw)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrSyntax, "fn %q step %d: %v", id, i, err).WithLine(lineNo)
			}
			fn.Ops = append(fn.Ops, step)
		}
	}

	if llmRaw, ok := raw["@llm"].(map[string]any); ok {
		spec := &schema.LLMSpec{}
		spec.Task, _ = llmRaw["task"].(string)
		spec.Schema, _ = llmRaw["schema"].(string)
		spec.As, _ = llmRaw["as"].(string)
		spec.Provider, _ = llmRaw["provider"].(string)
		spec.Model, _ = llmRaw["model"].(string)
		if input, ok := llmRaw["input"].(map[string]any); ok {
			spec.Input = input
		}
		if spec.Schema == "" {
			return nil, schema.NewErrorf(schema.ErrSyntax, "fn %q: @llm requires 'schema'", id).WithLine(lineNo)
		}
		fn.LLM = spec
	}

	if expRaw, ok := raw["@expect"].(map[string]any); ok {
		exp := &schema.Expect{}
		for k, v := range expRaw {
			switch k {
			case "type":
				exp.Type, _ = v.(string)
			case "synthesize":
				exp.Synthesize, _ = v.(bool)
			default:
				ref, ok := v.(string)
				if !ok {
					return nil, schema.NewErrorf(schema.ErrSyntax, "fn %q: @expect field %q must be a reference string", id, k).WithLine(lineNo)
				}
				if exp.Fields == nil {
					exp.Fields = map[string]string{}
				}
				exp.Fields[k] = ref
			}
		}
		fn.Expect = exp
	}

	if retryRaw, ok := raw["@retry"].(map[string]any); ok {
		r := &schema.Retry{}
		if n, ok := asInt(retryRaw["max_attempts"]); ok {
			r.MaxAttempts = n
		}
		if n, ok := asInt(retryRaw["backoff_ms"]); ok {
			r.BackoffMS = n
		}
		if n, ok := asInt(retryRaw["max"]); ok {
			r.Max = n
		}
		if on, ok := retryRaw["on"].([]any); ok {
			for _, kind := range on {
				if s, ok := kind.(string); ok {
					r.On = append(r.On, s)
				}
			}
		}
		fn.Retry = r
	}

	return &schema.Node{Kind: schema.KindFn, Line: lineNo, Fn: fn}, nil
}

// ParseOpStep decodes one [op_name, args?, meta?] triple. Also used by the
// control-flow ops for inline step lists.
func ParseOpStep(raw any) (schema.OpStep, error) {
	triple, ok := raw.([]any)
	if !ok || len(triple) == 0 {
		return schema.OpStep{}, fmt.Errorf("step must be [name, args, meta]")
	}
	name, ok := triple[0].(string)
	if !ok || name == "" {
		return schema.OpStep{}, fmt.Errorf("step name must be a non-empty string")
	}
	step := schema.OpStep{Name: name}
	if len(triple) > 1 && triple[1] != nil {
		args, ok := triple[1].(map[string]any)
		if !ok {
			return schema.OpStep{}, fmt.Errorf("step args must be an object")
		}
		step.Args = args
	}
	if len(triple) > 2 {
		if meta, ok := triple[2].(map[string]any); ok {
			step.Meta = meta
		}
	}
	return step, nil
}

func parseFlow(raw map[string]any, lineNo int) (*schema.Node, error) {
	edgesRaw, _ := raw["edges"].([]any)
	fl := &schema.Flow{}
	for i, edgeRaw := range edgesRaw {
		triple, ok := edgeRaw.([]any)
		if !ok || len(triple) < 2 {
			return nil, schema.NewErrorf(schema.ErrSyntax, "flow edge %d must be [src, dst, meta]", i).WithLine(lineNo)
		}
		src, ok := triple[0].(string)
		if !ok || src == "" {
			return nil, schema.NewErrorf(schema.ErrSyntax, "flow edge %d: source must be a fn id", i).WithLine(lineNo)
		}
		e := schema.Edge{Src: src}
		if triple[1] != nil {
			dst, ok := triple[1].(string)
			if !ok || dst == "" {
				return nil, schema.NewErrorf(schema.ErrSyntax, "flow edge %d: destination must be a fn id or null", i).WithLine(lineNo)
			}
			e.Dst = dst
		}
		if len(triple) > 2 {
			if meta, ok := triple[2].(map[string]any); ok {
				e.Meta = meta
				e.When = meta["when"]
			}
		}
		fl.Edges = append(fl.Edges, e)
	}
	return &schema.Node{Kind: schema.KindFlow, Line: lineNo, Flow: fl}, nil
}

func parseImport(raw map[string]any, lineNo int) (*schema.Node, error) {
	path, _ := raw["path"].(string)
	if path == "" {
		return nil, schema.NewError(schema.ErrSyntax, "@import node is missing 'path'").WithLine(lineNo)
	}
	return &schema.Node{Kind: schema.KindImport, Line: lineNo, Import: &schema.Import{Path: path}}, nil
}

// objectFieldOrder extracts the declaration order of the keys of a nested
// object (e.g. "fields") from the raw line. JSON maps lose ordering on
// decode, but shape fields are an ordered mapping.
func objectFieldOrder(line []byte, key string) ([]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(line, &top); err != nil {
		return nil, err
	}
	raw, ok := top[key]
	if !ok {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%q must be an object", key)
	}
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := keyTok.(string)
		order = append(order, name)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func truthyKey(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "1" || b == "true" || b == "yes"
	}
	return v != nil
}
