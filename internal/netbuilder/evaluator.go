package netbuilder

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
)

// Evaluator builds graph nodes for the function calls of an NDL script.
//
// The Initial pass creates one node per call, named after the call's
// symbol qualified by the names of the macro calls it was expanded in.
// The Resolve pass connects inputs, forward references included. The
// Final pass runs after validation and only rebinds script nodes to
// their graph nodes; ProcessScript then initializes parameter values.
type Evaluator struct {
	net    *graph.Network
	logger *slog.Logger
}

var _ ndl.NodeEvaluator = (*Evaluator)(nil)

// NewEvaluator returns an evaluator that builds into net.
func NewEvaluator(net *graph.Network) *Evaluator {
	return &Evaluator{net: net, logger: net.Logger()}
}

// Network returns the network being built.
func (e *Evaluator) Network() *graph.Network { return e.net }

// Evaluate builds, connects or finishes the node of a function call.
// Other statements describe no node and are ignored.
func (e *Evaluator) Evaluate(n *ndl.Node, baseName string, pass ndl.Pass) error {
	if n.Type() != ndl.Function {
		return nil
	}
	c, ok := constructors[n.Value()]
	if !ok {
		return nodeErrorf(n, ndl.ErrUnknownFunction, "no node type for %s", n.Value())
	}
	name := qualify(baseName, n.Name())

	var gn graph.Node
	if pass == ndl.PassInitial {
		built, err := c.construct(name, n)
		if err != nil {
			return err
		}
		if gn, err = e.net.AddNode(built); err != nil {
			return errors.Wrapf(err, "line %d", n.Line())
		}
		n.SetEval(gn)
		if err := e.applyOptions(n, gn); err != nil {
			return err
		}
		e.logger.Debug("created node", "node", name, "op", gn.OperationName())
	} else {
		var err error
		if gn, err = e.net.Node(name); err != nil {
			return errors.Wrapf(err, "%s pass", pass)
		}
		n.SetEval(gn)
	}

	if c.inputs > 0 {
		params, err := e.EvaluateParameters(n, baseName, pass)
		if err != nil {
			return err
		}
		if pass == ndl.PassResolve {
			return e.attach(n, gn, params)
		}
	}
	return nil
}

func (e *Evaluator) attach(n *ndl.Node, gn graph.Node, params []*ndl.Node) error {
	inputs := make([]graph.Node, len(params))
	for i, p := range params {
		var in graph.Node
		if p != nil {
			in, _ = p.Eval().(graph.Node)
		}
		if in == nil {
			return nodeErrorf(n, ndl.ErrUndefinedSymbol, "input %d of %s does not name a node", i+1, n.Value())
		}
		inputs[i] = in
	}
	return e.net.AttachInputs(gn, inputs...)
}

// EvaluateParameters evaluates the node inputs of a function call.
func (e *Evaluator) EvaluateParameters(n *ndl.Node, baseName string, pass ndl.Pass) ([]*ndl.Node, error) {
	c, ok := constructors[n.Value()]
	if !ok {
		return nil, nodeErrorf(n, ndl.ErrUnknownFunction, "no node type for %s", n.Value())
	}
	pos := n.Positional()
	if len(pos) < c.inputs {
		return nil, nodeErrorf(n, ndl.ErrParameterCount, "%s takes %d inputs, got %d", n.Value(), c.inputs, len(pos))
	}
	out := make([]*ndl.Node, c.inputs)
	for i, p := range pos[:c.inputs] {
		res, err := e.EvaluateParameter(n, p, baseName, pass)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d of %s", i+1, qualify(baseName, n.Name()))
		}
		out[i] = res
	}
	return out, nil
}

// EvaluateParameter evaluates one parameter and returns the script node
// whose Eval is the graph node it stands for. Calls written inline are
// built under baseName. Names that the script does not define, and dotted
// names that point into macro expansions, are looked up in the network.
// During the Initial pass a reference that cannot be bound yet yields nil.
func (e *Evaluator) EvaluateParameter(_, param *ndl.Node, baseName string, pass ndl.Pass) (*ndl.Node, error) {
	if param.Inline() {
		if param.Type() == ndl.MacroCall {
			if _, err := param.EvaluateMacro(e, baseName, pass); err != nil {
				return nil, err
			}
			return param, e.ProcessOptionalParameters(param)
		}
		return param, e.Evaluate(param, baseName, pass)
	}

	res, err := param.Resolve()
	if err != nil {
		if gn := e.lookup(baseName, param.Name()); gn != nil {
			param.SetEval(gn)
			return param, nil
		}
		if pass == ndl.PassInitial {
			return nil, nil
		}
		return nil, err
	}
	switch res.Type() {
	case ndl.DotParameter:
		return e.bindByName(res, res.Name(), baseName, pass)
	case ndl.Variable:
		return e.bindByName(res, res.Value(), baseName, pass)
	case ndl.Constant:
		return e.literal(res, baseName)
	case ndl.Function, ndl.MacroCall:
		if res.Eval() == nil {
			// Defined further down a macro body that was reset for this call.
			name := res.Name()
			if res.Type() == ndl.MacroCall {
				name = qualify(name, res.Value())
			}
			if gn := e.lookup(baseName, name); gn != nil {
				res.SetEval(gn)
			}
		}
	}
	return res, nil
}

func (e *Evaluator) bindByName(n *ndl.Node, name, baseName string, pass ndl.Pass) (*ndl.Node, error) {
	if gn := e.lookup(baseName, name); gn != nil {
		n.SetEval(gn)
		return n, nil
	}
	if pass == ndl.PassInitial {
		return nil, nil
	}
	return nil, nodeErrorf(n, ndl.ErrUndefinedSymbol, "%q does not name a node", name)
}

// literal turns a number used as a node input into a 1x1 constant node.
func (e *Evaluator) literal(n *ndl.Node, baseName string) (*ndl.Node, error) {
	name := qualify(baseName, n.Name())
	if gn, err := e.net.Node(name); err == nil {
		n.SetEval(gn)
		return n, nil
	}
	v, err := n.Float()
	if err != nil {
		return nil, err
	}
	gn, err := e.net.AddNode(graph.NewConstant(name, v, 1, 1))
	if err != nil {
		return nil, err
	}
	n.SetEval(gn)
	return n, nil
}

// lookup finds name in the network, trying it qualified by baseName and
// then by each enclosing scope of baseName.
func (e *Evaluator) lookup(baseName, name string) graph.Node {
	for {
		if gn, err := e.net.Node(qualify(baseName, name)); err == nil {
			return gn
		}
		if baseName == "" {
			return nil
		}
		i := strings.LastIndexByte(baseName, '.')
		if i < 0 {
			baseName = ""
		} else {
			baseName = baseName[:i]
		}
	}
}

// FindSymbol returns the network node called name, or nil.
func (e *Evaluator) FindSymbol(name string) any {
	if gn, err := e.net.Node(name); err == nil {
		return gn
	}
	return nil
}

// ProcessOptionalParameters applies the tag and gradient options of a
// macro call to the node the call evaluated to.
func (e *Evaluator) ProcessOptionalParameters(n *ndl.Node) error {
	gn, ok := n.Eval().(graph.Node)
	if !ok {
		return nil
	}
	return e.applyOptions(n, gn)
}

// applyOptions handles tag= and needGradient= on any call.
func (e *Evaluator) applyOptions(n *ndl.Node, gn graph.Node) error {
	tag, err := n.OptionalParameter("tag", "")
	if err != nil {
		return err
	}
	if tag != "" {
		role, err := ParseTag(tag)
		if err != nil {
			return nodeErrorf(n, nil, "%v", err)
		}
		if err := e.net.AddRole(role, gn); err != nil {
			return err
		}
	}
	for _, key := range []string{"needGradient", "computeGradient"} {
		v := n.FindOptional(key)
		if v == nil {
			continue
		}
		need, err := v.Bool()
		if err != nil {
			return err
		}
		gn.SetNeedsGradient(need)
	}
	return nil
}

// ParseTag maps a tag= value to a role. Besides role names it accepts
// the short forms criteria and eval.
func ParseTag(tag string) (graph.Role, error) {
	switch strings.ToLower(tag) {
	case "criteria", "finalcriterion":
		return graph.RoleCriterion, nil
	case "eval":
		return graph.RoleEvaluation, nil
	}
	return graph.ParseRole(tag)
}

func qualify(baseName, name string) string {
	if baseName == "" {
		return name
	}
	return baseName + "." + name
}
