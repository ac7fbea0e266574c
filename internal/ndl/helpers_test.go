package ndl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// testFunctions is a small function table in the shape the network
// builder uses.
var testFunctions = Functions{
	{Name: "InputValue", Alternate: "Input"},
	{Name: "LearnableParameter", Alternate: "Parameter"},
	{Name: "Plus", AllowUndetermined: true},
	{Name: "Minus", AllowUndetermined: true},
	{Name: "Times", AllowUndetermined: true},
	{Name: "Scale", AllowUndetermined: true},
	{Name: "Sigmoid", AllowUndetermined: true},
	{Name: "SquareError", Alternate: "SE", AllowUndetermined: true},
}

// object is what the recorder builds for a function call.
type object struct {
	name   string
	fn     string
	inputs []string
}

// recorder is a NodeEvaluator that records the objects it would build.
type recorder struct {
	objects map[string]*object
	order   []string
}

func newRecorder() *recorder { return &recorder{objects: make(map[string]*object)} }

func (r *recorder) Evaluate(n *Node, baseName string, pass Pass) error {
	if n.Type() != Function {
		return nil
	}
	name := qualify(baseName, n.Name())
	obj, ok := r.objects[name]
	if pass == PassInitial {
		if ok {
			return fmt.Errorf("%s built twice", name)
		}
		obj = &object{name: name, fn: n.Value()}
		r.objects[name] = obj
		r.order = append(r.order, name)
	} else if !ok {
		return fmt.Errorf("%s was not built", name)
	}
	n.SetEval(obj)
	if pass != PassResolve {
		return nil
	}
	params, err := r.EvaluateParameters(n, baseName, pass)
	if err != nil {
		return err
	}
	obj.inputs = obj.inputs[:0]
	for _, p := range params {
		if o, ok := p.Eval().(*object); ok {
			obj.inputs = append(obj.inputs, o.name)
			continue
		}
		v, err := p.Scalar()
		if err != nil {
			return err
		}
		obj.inputs = append(obj.inputs, v)
	}
	return nil
}

func (r *recorder) EvaluateParameter(_, param *Node, baseName string, pass Pass) (*Node, error) {
	if param.Inline() {
		if param.Type() == MacroCall {
			return param.EvaluateMacro(r, baseName, pass)
		}
		return param, r.Evaluate(param, baseName, pass)
	}
	res, err := param.Resolve()
	if err != nil {
		if pass == PassInitial {
			return nil, nil
		}
		return nil, err
	}
	if res.Eval() == nil && (res.Type() == Function || res.Type() == MacroCall) {
		if o, ok := r.objects[qualify(baseName, res.Name())]; ok {
			res.SetEval(o)
		}
	}
	return res, nil
}

func (r *recorder) EvaluateParameters(n *Node, baseName string, pass Pass) ([]*Node, error) {
	var out []*Node
	for _, p := range n.Positional() {
		res, err := r.EvaluateParameter(n, p, baseName, pass)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *recorder) FindSymbol(name string) any {
	if o, ok := r.objects[name]; ok {
		return o
	}
	return nil
}

func (r *recorder) ProcessOptionalParameters(*Node) error { return nil }

// run evaluates s through the Initial and Resolve passes.
func run(t *testing.T, s *Script) *recorder {
	t.Helper()
	r := newRecorder()
	for _, pass := range []Pass{PassInitial, PassResolve} {
		_, err := s.Evaluate(r, "", pass, nil)
		require.NoError(t, err, "%s pass", pass)
	}
	return r
}

// parse parses text with the test function table and a private registry.
func parse(t *testing.T, text string, opts ...Option) *Script {
	t.Helper()
	opts = append([]Option{WithFunctions(testFunctions), WithMacros(NewMacroRegistry())}, opts...)
	s, err := Parse(text, opts...)
	require.NoError(t, err)
	return s
}
