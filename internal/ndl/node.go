package ndl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// maxIndirections bounds how many aliases Resolve follows.
const maxIndirections = 64

// Node is one element of a parsed script: a call, a constant, a name that
// refers to another node, or a macro.
type Node struct {
	name   string
	value  string
	typ    Type
	parent *Script
	line   int

	params      []*Node
	macroParams []string // formal parameters of a Macro or MacroCall
	script      *Script  // body of a Macro or MacroCall

	eval any
}

// Name returns the node's symbol name.
func (n *Node) Name() string { return n.name }

// SetName renames the node. The symbol table is not updated.
func (n *Node) SetName(name string) { n.name = name }

// Value returns the node's raw text: the function name of a call, the
// literal of a constant or the referenced name of a variable.
func (n *Node) Value() string { return n.value }

// Type returns the node's type.
func (n *Node) Type() Type { return n.typ }

// Parent returns the script that owns the node.
func (n *Node) Parent() *Script { return n.parent }

// Line is the source line the node was parsed from, or 0.
func (n *Node) Line() int { return n.line }

// Params returns every parameter in call order, optional ones included.
func (n *Node) Params() []*Node { return n.params }

// Positional returns the parameters that are not name=value pairs.
func (n *Node) Positional() []*Node {
	out := make([]*Node, 0, len(n.params))
	for _, p := range n.params {
		if p.typ != OptionalParameter {
			out = append(out, p)
		}
	}
	return out
}

// Optional returns the name=value parameters.
func (n *Node) Optional() []*Node {
	var out []*Node
	for _, p := range n.params {
		if p.typ == OptionalParameter {
			out = append(out, p)
		}
	}
	return out
}

// MacroParams returns the formal parameter names of a macro.
func (n *Node) MacroParams() []string { return n.macroParams }

// Script returns the body of a Macro or MacroCall.
func (n *Node) Script() *Script { return n.script }

// Eval returns the object the evaluator associated with the node.
func (n *Node) Eval() any { return n.eval }

// SetEval associates an evaluator object with the node.
func (n *Node) SetEval(v any) { n.eval = v }

// FindOptional returns the value node of the optional parameter called
// name, ignoring case, or nil.
func (n *Node) FindOptional(name string) *Node {
	for _, p := range n.params {
		if p.typ == OptionalParameter && strings.EqualFold(p.name, name) {
			if len(p.params) == 0 {
				return nil
			}
			return p.params[0]
		}
	}
	return nil
}

// OptionalParameter returns the scalar value of the optional parameter
// called name, or def when the call does not set it.
func (n *Node) OptionalParameter(name, def string) (string, error) {
	v := n.FindOptional(name)
	if v == nil {
		return def, nil
	}
	return v.Scalar()
}

// Resolve follows variables and parameters to the node that defines them.
// Nodes that define something themselves are returned unchanged, and so
// are dotted names that point into a macro expansion: several calls share
// one macro body, so only the evaluator knows which expansion is meant.
func (n *Node) Resolve() (*Node, error) {
	cur := n
	for range maxIndirections {
		var next *Node
		switch cur.typ {
		case OptionalParameter:
			if len(cur.params) == 0 {
				return nil, scriptErrorf(ErrUndefinedSymbol, cur.name, "optional parameter has no value")
			}
			next = cur.params[0]
		case Parameter:
			next = cur.parent.FindSymbol(cur.name, false)
		case Undetermined:
			next = cur.parent.FindSymbol(cur.name, true)
		case DotParameter:
			// Names inside a macro expansion are left to the evaluator.
			if next = cur.parent.FindSymbol(cur.name, false); next == nil || next == cur {
				return cur, nil
			}
		case Variable:
			next = cur.parent.FindSymbol(cur.value, false)
			if next == nil {
				// A word that names nothing stands for itself.
				return cur, nil
			}
		default:
			return cur, nil
		}
		if next == nil || next == cur {
			return nil, scriptErrorf(ErrUndefinedSymbol, cur.name, "%s %q is not defined", cur.typ, cur.name)
		}
		cur = next
	}
	return nil, scriptErrorf(ErrUndefinedSymbol, n.name, "too many indirections resolving %q", n.name)
}

// Scalar returns the literal a node stands for after following aliases.
func (n *Node) Scalar() (string, error) {
	r, err := n.Resolve()
	if err != nil {
		return "", err
	}
	switch r.typ {
	case Constant:
		return r.value, nil
	case Variable:
		if t := r.parent.FindSymbol(r.value, true); t != nil && t != r && strings.Contains(r.value, ".") {
			return t.Scalar()
		}
		return r.value, nil
	case DotParameter:
		t := r.parent.FindSymbol(r.name, true)
		if t == nil {
			return "", scriptErrorf(ErrUndefinedSymbol, n.name, "%q is not defined", r.name)
		}
		return t.Scalar()
	}
	return "", scriptErrorf(ErrNotScalar, n.name, "%s %q is not a scalar", r.typ, r.name)
}

// Float returns the node's scalar value as a number.
func (n *Node) Float() (float64, error) {
	s, err := n.Scalar()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, scriptErrorf(ErrNotScalar, n.name, "%q is not a number", s)
	}
	return f, nil
}

// Int returns the node's scalar value as an integer.
func (n *Node) Int() (int, error) {
	f, err := n.Float()
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, scriptErrorf(ErrNotScalar, n.name, "%v is not an integer", f)
	}
	return int(f), nil
}

// Bool returns the node's scalar value as a boolean.
func (n *Node) Bool() (bool, error) {
	s, err := n.Scalar()
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, scriptErrorf(ErrNotScalar, n.name, "%q is not a boolean", s)
	}
	return b, nil
}

// EvaluateMacro binds the actual parameters of a macro call to the
// macro's formal parameters and evaluates the macro body under the base
// name baseName.callName. The body's symbol named after the macro, or
// else its last statement, is the result; its evaluator object becomes
// the call's.
func (n *Node) EvaluateMacro(eval NodeEvaluator, baseName string, pass Pass) (*Node, error) {
	if n.typ != MacroCall {
		return nil, scriptErrorf(nil, n.name, "%s is not a macro call", n.typ)
	}
	body := n.script
	if len(n.params) < len(n.macroParams) {
		return nil, scriptErrorf(ErrParameterCount, n.name, "macro %s expects %d parameters, got %d",
			n.value, len(n.macroParams), len(n.params))
	}
	body.ClearEvalValues()
	body.resetDefaults()

	for i, formal := range n.macroParams {
		actual := n.params[i]
		if actual.typ == OptionalParameter {
			return nil, scriptErrorf(ErrParameterCount, n.name, "optional parameter %q given where %q is required",
				actual.name, formal)
		}
		if actual.typ == Parameter {
			// A formal of the enclosing macro: pass on what it is bound to.
			bound := actual.parent.FindSymbol(actual.name, false)
			if bound == nil || bound == actual {
				return nil, scriptErrorf(ErrUndefinedSymbol, n.name, "parameter %q is not bound", actual.name)
			}
			actual = bound
		}
		if actual.Inline() {
			// A call written inline as an argument: build it in the caller's scope.
			if _, err := eval.EvaluateParameter(n, actual, baseName, pass); err != nil {
				return nil, errors.Wrapf(err, "parameter %d of %s", i+1, n.name)
			}
		}
		if actual.eval == nil {
			if v := eval.FindSymbol(qualify(baseName, actual.name)); v != nil {
				actual.eval = v
			}
		}
		if err := body.AssignSymbol(formal, actual); err != nil {
			return nil, errors.Wrapf(err, "binding %s of %s", formal, n.name)
		}
	}
	for _, p := range n.params[len(n.macroParams):] {
		if p.typ != OptionalParameter {
			return nil, scriptErrorf(ErrParameterCount, n.name, "macro %s expects %d parameters, got %d",
				n.value, len(n.macroParams), len(n.Positional()))
		}
		if len(p.params) == 0 {
			continue
		}
		val := p.params[0]
		if (val.typ == Constant || val.typ == Variable) && val.name == "" {
			val.name = p.name
		}
		var err error
		if body.ExistsSymbol(p.name) {
			err = body.AssignSymbol(p.name, val)
		} else {
			err = body.AddSymbol(p.name, val)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "binding %s of %s", p.name, n.name)
		}
	}

	last, err := body.Evaluate(eval, qualify(baseName, n.name), pass, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "in macro %s called as %s", n.value, n.name)
	}
	result := last
	if r := body.FindSymbol(n.value, false); r != nil && r.typ != Parameter {
		result = r
	}
	if result == nil {
		return nil, scriptErrorf(nil, n.name, "macro %s has an empty body", n.value)
	}
	n.eval = result.eval
	return result, nil
}

// Inline reports whether the node is a call written as an argument of
// another call rather than a statement of its own.
func (n *Node) Inline() bool {
	if n.typ != Function && n.typ != MacroCall {
		return false
	}
	return n.parent == nil || !n.parent.isStatement(n)
}

// qualify joins a base name and a symbol with a dot.
func qualify(baseName, name string) string {
	if baseName == "" {
		return name
	}
	return baseName + "." + name
}

// String renders the node roughly as it was written.
func (n *Node) String() string {
	switch n.typ {
	case Function, MacroCall:
		parts := make([]string, len(n.params))
		for i, p := range n.params {
			parts[i] = p.String()
		}
		return fmt.Sprintf("%s(%s)", n.value, strings.Join(parts, ", "))
	case OptionalParameter:
		if len(n.params) == 0 {
			return n.name + "="
		}
		return n.name + "=" + n.params[0].String()
	case Array:
		parts := make([]string, len(n.params))
		for i, p := range n.params {
			parts[i] = p.String()
		}
		return strings.Join(parts, ":")
	case Macro:
		return fmt.Sprintf("%s(%s)", n.name, strings.Join(n.macroParams, ", "))
	case Constant, Variable:
		return n.value
	}
	return n.name
}
