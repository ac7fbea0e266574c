package ndl

// NodeEvaluator turns script nodes into the objects they describe. The
// script drives it statement by statement, once per Pass, and stores what
// it builds in each node's Eval slot.
type NodeEvaluator interface {
	// Evaluate handles one statement. baseName is the dotted path of the
	// macro calls the statement is nested in.
	Evaluate(node *Node, baseName string, pass Pass) error

	// EvaluateParameter returns the node whose Eval holds what param
	// stands for, evaluating nested calls as needed. The result may be
	// nil before the Resolve pass when param is a forward reference.
	EvaluateParameter(node, param *Node, baseName string, pass Pass) (*Node, error)

	// EvaluateParameters evaluates the positional parameters of node.
	EvaluateParameters(node *Node, baseName string, pass Pass) ([]*Node, error)

	// FindSymbol returns the object already built under a full name, or nil.
	FindSymbol(name string) any

	// ProcessOptionalParameters applies the name=value parameters of a
	// macro call to the object its result built.
	ProcessOptionalParameters(node *Node) error
}
