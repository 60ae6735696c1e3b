package ops

// NewBuiltinRegistry creates a Registry populated with every built-in pack.
func NewBuiltinRegistry() *Registry {
	reg := NewRegistry()
	reg.MustRegister(MathOps()...)
	reg.MustRegister(StringOps()...)
	reg.MustRegister(StringXOps()...)
	reg.MustRegister(JSONOps()...)
	reg.MustRegister(ControlOps()...)
	reg.MustRegister(IterOps()...)
	reg.MustRegister(FSOps()...)
	reg.MustRegister(HTTPOps()...)
	reg.MustRegister(StdinOps()...)
	reg.MustRegister(LLMOps()...)
	reg.MustRegister(ToolOps()...)
	reg.MustRegister(ExprOps()...)
	return reg
}
