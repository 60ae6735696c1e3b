package schema

// NodeKind identifies the top-level variant of a parsed node.
type NodeKind string

const (
	KindDef    NodeKind = "@def"
	KindShape  NodeKind = "@shape"
	KindTool   NodeKind = "@tool"
	KindFn     NodeKind = "@fn"
	KindFlow   NodeKind = "@flow"
	KindImport NodeKind = "@import"
)

// Node is the discriminated result of parsing one source line. Exactly one
// of the variant pointers is non-nil, matching Kind.
type Node struct {
	Kind NodeKind
	Line int

	Shape  *Shape
	Def    *TypeDef
	Tool   *Tool
	Fn     *Fn
	Flow   *Flow
	Import *Import
}

// ID returns the node's stable identifier, or "" for anonymous nodes.
func (n *Node) ID() string {
	switch n.Kind {
	case KindShape:
		return n.Shape.ID
	case KindDef:
		return n.Def.ID
	case KindTool:
		return n.Tool.ID
	case KindFn:
		return n.Fn.ID
	}
	return ""
}

// Field is a single named field of a shape, in declaration order.
type Field struct {
	Name     string // without the trailing "?"
	Type     string // type expression: primitive, list<T>, map<T>, enum<...>, or a registered ref
	Optional bool
}

// Shape is a named record type.
type Shape struct {
	ID       string
	Doc      string
	Fields   []Field
	Defaults map[string]any
	// Strict rejects unknown extra fields during validation. Shapes default
	// to strict; a node may opt out with "strict": false.
	Strict bool
}

// FieldByName looks up a field by its base name.
func (s *Shape) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DefVariant classifies a @def type definition.
type DefVariant string

const (
	DefAlias       DefVariant = "alias"
	DefUnion       DefVariant = "union"
	DefLiteral     DefVariant = "literal"
	DefEnum        DefVariant = "enum"
	DefConstrained DefVariant = "constrained"
)

// Constraint holds the optional constraints of a constrained scalar @def.
type Constraint struct {
	MinLength *int
	MaxLength *int
	Pattern   string
	Min       *float64
	Max       *float64
}

// TypeDef is a named alias, union, literal, enum, or constrained scalar.
type TypeDef struct {
	ID      string
	Doc     string
	Variant DefVariant

	Alias      string     // DefAlias: single type expression
	Union      []string   // DefUnion: accepted branch expressions
	Literal    any        // DefLiteral: the exact literal value
	Enum       []any      // DefEnum: allowed literal values
	Base       string     // DefConstrained: base primitive
	Constraint Constraint // DefConstrained
}

// ToolImpl describes how a tool is executed.
type ToolImpl struct {
	Type     string // "command", "http", or "python"
	Command  string // command: cmdline template with {arg} placeholders
	URL      string // http: URL template
	Method   string // http
	Headers  map[string]string
	JSONBody bool   // http: post args as a JSON body
	Module   string // python
	Function string // python
}

// Tool is a named external capability binding.
type Tool struct {
	ID          string
	Name        string
	Description string
	// InputSchema / OutputSchema are either a registered shape/def reference
	// (string) or an inline JSON Schema document (map).
	InputSchema  any
	OutputSchema any
	Impl         ToolImpl
}

// OpStep is one [op_name, args, meta] entry of an @op list.
type OpStep struct {
	Name string
	Args map[string]any
	Meta map[string]any
}

// BindAs returns the environment name this step's result binds to, if any.
func (s OpStep) BindAs() string {
	if s.Meta == nil {
		return ""
	}
	as, _ := s.Meta["as"].(string)
	return as
}

// LLMSpec is the optional @llm section of a function.
type LLMSpec struct {
	Task     string
	Input    map[string]any
	Schema   string // shape reference describing the expected JSON structure
	As       string // environment binding for the result
	Provider string
	Model    string
}

// Expect is the optional @expect projection of a function.
type Expect struct {
	Type       string
	Synthesize bool
	// Fields maps output field names to reference expressions; when present
	// the output object is assembled by resolving each reference.
	Fields map[string]string
}

// Retry is the optional @retry policy of a function.
type Retry struct {
	MaxAttempts int
	BackoffMS   int
	On          []string // error kinds to retry; empty retries all but ErrType
	// Max is the legacy attempt count consumed by the LLM adapter loop.
	Max int
}

// Fn is a function node.
type Fn struct {
	ID  string
	Doc string
	// In is either a type reference (string) or a legacy named-inputs
	// object (map of name to declared type).
	In     any
	Out    string
	Const  map[string]any
	Ops    []OpStep
	LLM    *LLMSpec
	Expect *Expect
	Retry  *Retry
}

// InRef returns the input type reference, or "" when In is absent or a
// legacy named-inputs object.
func (f *Fn) InRef() string {
	ref, _ := f.In.(string)
	return ref
}

// Edge is one directed flow edge. A terminal edge has Dst == "".
type Edge struct {
	Src  string
	Dst  string
	When any // condition expression, nil = unconditional
	Meta map[string]any
}

// Terminal reports whether the edge marks a sink for its source.
func (e Edge) Terminal() bool {
	return e.Dst == ""
}

// Flow is the anonymous, concatenated edge list of a program.
type Flow struct {
	Edges []Edge
}

// Import references another source file to load before continuing.
type Import struct {
	Path string
}
