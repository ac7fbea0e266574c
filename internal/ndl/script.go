package ndl

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Option configures a Script.
type Option func(*Script)

// WithFunctions sets the table of built-in function names.
func WithFunctions(t FunctionTable) Option {
	return func(s *Script) {
		if t != nil {
			s.functions = t
		}
	}
}

// WithMacros sets the registry macro definitions are stored in and looked
// up from. The default is Macros().
func WithMacros(r *MacroRegistry) Option {
	return func(s *Script) {
		if r != nil {
			s.macros = r
		}
	}
}

// WithoutDefinitions makes the script reject macro definitions. Every
// name(...) statement is then a call.
func WithoutDefinitions() Option {
	return func(s *Script) { s.noDefinitions = true }
}

type symbol struct {
	name string // spelling of the first definition
	node *Node
}

// Script is a sequence of statements with its own symbol table. Symbol
// lookups ignore case.
type Script struct {
	name          string
	symbols       map[string]symbol
	statements    []*Node
	children      []*Node
	macros        *MacroRegistry
	functions     FunctionTable
	noDefinitions bool
	defaults      map[string]*Node // optional formals of a macro body
}

// NewScript returns an empty script.
func NewScript(opts ...Option) *Script {
	s := &Script{
		symbols:   make(map[string]symbol),
		macros:    Macros(),
		functions: Functions(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sub returns an empty script sharing s's registry and function table.
func (s *Script) sub(name string) *Script {
	return &Script{
		name:          name,
		symbols:       make(map[string]symbol),
		macros:        s.macros,
		functions:     s.functions,
		noDefinitions: true,
	}
}

// Name is the macro name for a macro body and empty otherwise.
func (s *Script) Name() string { return s.name }

// Macros returns the registry the script uses.
func (s *Script) Macros() *MacroRegistry { return s.macros }

// Functions returns the script's function table.
func (s *Script) Functions() FunctionTable { return s.functions }

// Statements returns the statements in source order.
func (s *Script) Statements() []*Node { return s.statements }

// Symbols returns the defined symbol names, sorted.
func (s *Script) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, sym.name)
	}
	sort.Strings(out)
	return out
}

// newNode creates a node owned by s. An empty name is replaced by a
// generated unique one.
func (s *Script) newNode(typ Type, name, value string, line int) *Node {
	if name == "" {
		name = s.macros.nextName()
	}
	n := &Node{name: name, value: value, typ: typ, parent: s, line: line}
	s.children = append(s.children, n)
	return n
}

func (s *Script) addStatement(n *Node) { s.statements = append(s.statements, n) }

func (s *Script) isStatement(n *Node) bool {
	for _, st := range s.statements {
		if st == n {
			return true
		}
	}
	return false
}

// FindSymbol looks name up in the script and then among the registry's
// globals. With dotted set, "a.b" finds a in this script and b in the
// body of the macro call a stands for; a name defined with its dots
// takes precedence.
func (s *Script) FindSymbol(name string, dotted bool) *Node {
	// A dotted placeholder stands for the name it carries; with dotted set
	// the name itself is looked up.
	if sym, ok := s.symbols[strings.ToLower(name)]; ok && !(dotted && sym.node.typ == DotParameter) {
		return sym.node
	}
	if dotted {
		if head, rest, found := strings.Cut(name, "."); found {
			n := s.FindSymbol(head, false)
			if n != nil && n.typ == MacroCall && n.script != nil {
				return n.script.FindSymbol(rest, true)
			}
			return nil
		}
	}
	if g := s.macros.global; g != s {
		if sym, ok := g.symbols[strings.ToLower(name)]; ok && sym.node.typ != Macro {
			return sym.node
		}
	}
	return nil
}

// ExistsSymbol reports whether name is defined in this script.
func (s *Script) ExistsSymbol(name string) bool {
	_, ok := s.symbols[strings.ToLower(name)]
	return ok
}

// AddSymbol defines name. Redefining a name is only allowed when the
// existing definition is an undetermined forward reference.
func (s *Script) AddSymbol(name string, n *Node) error {
	key := strings.ToLower(name)
	if sym, ok := s.symbols[key]; ok {
		if sym.node.typ != Undetermined && sym.node.typ != DotParameter {
			return scriptErrorf(ErrDuplicateSymbol, name, "symbol defined twice (first as %s)", sym.node.typ)
		}
		s.symbols[key] = symbol{name: sym.name, node: n}
		return nil
	}
	s.symbols[key] = symbol{name: name, node: n}
	return nil
}

// AssignSymbol rebinds an existing name to n.
func (s *Script) AssignSymbol(name string, n *Node) error {
	key := strings.ToLower(name)
	sym, ok := s.symbols[key]
	if !ok {
		return scriptErrorf(ErrUndefinedSymbol, name, "cannot assign to an undefined symbol")
	}
	s.symbols[key] = symbol{name: sym.name, node: n}
	return nil
}

// ClearEvalValues forgets the evaluator objects of every node the script
// owns, so that a macro body can be evaluated again for another call.
func (s *Script) ClearEvalValues() {
	for _, n := range s.children {
		n.eval = nil
	}
}

// resetDefaults rebinds the optional formals of a macro body to their
// default values.
func (s *Script) resetDefaults() {
	for key, def := range s.defaults {
		s.symbols[key] = symbol{name: s.symbols[key].name, node: def}
	}
}

// CheckName finds what a called name refers to: a symbol of this script,
// a new call of a registered macro, or a new call of a built-in function
// with the abbreviation expanded. It returns nil when nothing matches.
func (s *Script) CheckName(name string) *Node {
	if sym, ok := s.symbols[strings.ToLower(name)]; ok {
		return sym.node
	}
	if m := s.macros.Lookup(name); m != nil {
		call := s.newNode(MacroCall, "", m.name, 0)
		call.script = m.script
		call.macroParams = m.macroParams
		return call
	}
	if full, _, ok := s.functions.LookupFunction(name); ok {
		return s.newNode(Function, "", full, 0)
	}
	return nil
}

// DefineConstants defines each name as a constant, overriding constants
// and unresolved references of the same name.
func (s *Script) DefineConstants(vars map[string]string) error {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if sym, ok := s.symbols[strings.ToLower(name)]; ok {
			existing := sym.node
			switch existing.typ {
			case Constant, Variable:
				existing.typ = Constant
				existing.value = vars[name]
				continue
			case Undetermined:
			default:
				return scriptErrorf(ErrDuplicateSymbol, name, "cannot redefine %s as a constant", existing.typ)
			}
		}
		if err := s.AddSymbol(name, s.newNode(Constant, name, vars[name], 0)); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs eval over the statements in order for one pass and
// returns the last statement evaluated. Macro calls are expanded in
// place. When skipThrough is set, statements up to and including it are
// skipped.
func (s *Script) Evaluate(eval NodeEvaluator, baseName string, pass Pass, skipThrough *Node) (*Node, error) {
	skipping := skipThrough != nil
	var last *Node
	for _, n := range s.statements {
		if skipping {
			if n == skipThrough {
				skipping = false
			}
			continue
		}
		if n.typ == MacroCall {
			if _, err := n.EvaluateMacro(eval, baseName, pass); err != nil {
				return nil, err
			}
			if err := eval.ProcessOptionalParameters(n); err != nil {
				return nil, errors.Wrapf(err, "%s", qualify(baseName, n.name))
			}
		} else if err := eval.Evaluate(n, baseName, pass); err != nil {
			return nil, err
		}
		last = n
	}
	return last, nil
}
