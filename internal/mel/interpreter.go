// Package mel interprets edit scripts that create, load, change and save
// computation networks.
//
// An edit script is a sequence of statements in NDL syntax. A statement
// is either an editor command such as
//
//	m = LoadModel("model.dnn")
//	SetNodeInputs(m.L2.t, m.L2.W, m.features)
//	Rename(m.L1.*, m.H1.*)
//	SaveModel(m, "edited.dnn")
//
// or a network description call, which is added to the default model as
// if it had been part of the model's description:
//
//	y = Plus(L1.W, bias)
//
// Symbols name nodes as model.node or, for the default model, node. A
// pattern part may use * to select several nodes.
package mel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/ctxlog"
	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
	"github.com/born-ml/cngraph/internal/netbuilder"
)

// Interpreter runs edit scripts against a set of named models. It is not
// safe for concurrent use.
type Interpreter struct {
	models  map[string]*netbuilder.NetNDL
	def     string
	macros  *ndl.MacroRegistry
	netOpts []graph.Option
	out     io.Writer
	table   ndl.FunctionTable
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithMacros resolves macro calls against r instead of the process-wide
// registry.
func WithMacros(r *ndl.MacroRegistry) Option {
	return func(in *Interpreter) { in.macros = r }
}

// WithNetworkOptions configures every network the interpreter creates or
// loads.
func WithNetworkOptions(opts ...graph.Option) Option {
	return func(in *Interpreter) { in.netOpts = append(in.netOpts, opts...) }
}

// WithOutput sets where dumps to the file "-" go. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) { in.out = w }
}

// New returns an interpreter with no models.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		models: make(map[string]*netbuilder.NetNDL),
		macros: ndl.Macros(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(in)
	}
	in.table = tables{Commands, netbuilder.Functions}
	return in
}

// tables looks a name up in each table in turn.
type tables []ndl.FunctionTable

func (t tables) LookupFunction(name string) (string, bool, bool) {
	for _, ft := range t {
		if full, allow, ok := ft.LookupFunction(name); ok {
			return full, allow, true
		}
	}
	return "", false, false
}

// Run parses and executes an edit script. Execution stops at the first
// failing statement; earlier statements keep their effect.
func (in *Interpreter) Run(ctx context.Context, text string) error {
	logger := ctxlog.FromContext(ctx)
	script, err := ndl.Parse(text, ndl.WithFunctions(in.table), ndl.WithMacros(in.macros), ndl.WithoutDefinitions())
	if err != nil {
		return errors.Wrap(err, "parsing edit script")
	}
	for _, n := range script.Statements() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.execute(ctx, n); err != nil {
			return errors.Wrapf(err, "line %d: %s", n.Line(), n.Value())
		}
	}
	logger.Debug("edit script done", "statements", len(script.Statements()), "models", len(in.models))
	return nil
}

// RunFile executes the edit script in path.
func (in *Interpreter) RunFile(ctx context.Context, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading edit script")
	}
	if err := in.Run(ctx, string(text)); err != nil {
		return errors.Wrapf(err, "%s", path)
	}
	return nil
}

func (in *Interpreter) execute(ctx context.Context, n *ndl.Node) error {
	switch n.Type() {
	case ndl.Function:
		if cmd, ok := commands[n.Value()]; ok {
			c := &call{node: n, params: n.Params(), logger: ctxlog.FromContext(ctx)}
			if err := cmd.checkArity(c); err != nil {
				return err
			}
			return cmd.run(ctx, in, c)
		}
		if _, _, ok := netbuilder.Functions.LookupFunction(n.Value()); ok {
			return in.addDescription(n)
		}
		return errors.Wrapf(ErrUnknownCommand, "%s", n.Value())
	case ndl.MacroCall:
		return in.addDescription(n)
	}
	// Constants and aliases only matter as parameters of later statements.
	return nil
}

// addDescription appends a network description statement to the model
// its name selects, or to the default model.
func (in *Interpreter) addDescription(n *ndl.Node) error {
	model, name, err := in.split(n.Name())
	if err != nil {
		return err
	}
	nn := in.models[model]
	text := name + " = " + render(n, model, true)
	if err := nn.Script.Parse(text); err != nil {
		return errors.Wrapf(err, "adding %q to model %s", text, model)
	}
	return nil
}

// render writes a parsed call back as description text. Symbols of model
// lose their model prefix.
func render(n *ndl.Node, model string, top bool) string {
	switch n.Type() {
	case ndl.Function, ndl.MacroCall:
		if !top && !n.Inline() {
			return stripModel(n.Name(), model)
		}
		parts := make([]string, len(n.Params()))
		for i, p := range n.Params() {
			parts[i] = render(p, model, false)
		}
		return n.Value() + "(" + strings.Join(parts, ", ") + ")"
	case ndl.OptionalParameter:
		if len(n.Params()) == 0 {
			return n.Name() + "="
		}
		return n.Name() + "=" + render(n.Params()[0], model, false)
	case ndl.Array:
		parts := make([]string, len(n.Params()))
		for i, p := range n.Params() {
			parts[i] = render(p, model, false)
		}
		return strings.Join(parts, ":")
	case ndl.Constant:
		if isNumber(n.Value()) {
			return n.Value()
		}
		return `"` + n.Value() + `"`
	case ndl.Variable:
		return stripModel(n.Value(), model)
	}
	return stripModel(n.Name(), model)
}

func stripModel(name, model string) string {
	if rest, ok := strings.CutPrefix(name, model+"."); ok {
		return rest
	}
	return name
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	return strings.Trim(s, "+-.0123456789eE") == "" && strings.ContainsAny(s, "0123456789")
}

// Model returns the model called name.
func (in *Interpreter) Model(name string) (*netbuilder.NetNDL, bool) {
	nn, ok := in.models[name]
	return nn, ok
}

// DefaultModel returns the default model and its name, or nil.
func (in *Interpreter) DefaultModel() (string, *netbuilder.NetNDL) {
	if in.def == "" {
		return "", nil
	}
	return in.def, in.models[in.def]
}

// Models returns the model names in sorted order.
func (in *Interpreter) Models() []string {
	names := make([]string, 0, len(in.models))
	for name := range in.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AddModel registers net under name and makes it the default model.
func (in *Interpreter) AddModel(name string, net *graph.Network) *netbuilder.NetNDL {
	nn := netbuilder.NewNetNDL(net, in.newScript())
	in.setModel(name, nn, net.Logger())
	return nn
}

// newModel pairs a new network with script, or with an empty script.
func (in *Interpreter) newModel(logger *slog.Logger, script *ndl.Script) *netbuilder.NetNDL {
	if script == nil {
		script = in.newScript()
	}
	opts := append([]graph.Option{graph.WithLogger(logger)}, in.netOpts...)
	return netbuilder.NewNetNDL(graph.New(opts...), script)
}

func (in *Interpreter) setModel(name string, nn *netbuilder.NetNDL, logger *slog.Logger) {
	if _, ok := in.models[name]; ok {
		logger.Warn("replacing model", "model", name)
	}
	in.models[name] = nn
	in.def = name
}

func (in *Interpreter) newScript() *ndl.Script {
	return ndl.NewScript(ndl.WithFunctions(netbuilder.Functions), ndl.WithMacros(in.macros))
}

// model returns the model called name.
func (in *Interpreter) model(name string) (*netbuilder.NetNDL, error) {
	nn, ok := in.models[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
	return nn, nil
}

// process runs the outstanding passes of the model's script.
func (in *Interpreter) process(model string, until ndl.Pass, fullValidate bool) error {
	return netbuilder.ProcessScript(in.models[model], until, fullValidate)
}

// split separates a symbol into a model name and the rest. Symbols whose
// first part is not a model name belong to the default model.
func (in *Interpreter) split(symbol string) (string, string, error) {
	if head, rest, ok := strings.Cut(symbol, "."); ok {
		if _, isModel := in.models[head]; isModel {
			return head, rest, nil
		}
	}
	if in.def == "" {
		return "", "", errors.Wrapf(ErrNoDefaultModel, "resolving %q", symbol)
	}
	return in.def, symbol, nil
}

// findSymbols returns the nodes a symbol selects and the model they
// belong to. Description statements added so far are created first so
// that their nodes can be selected.
func (in *Interpreter) findSymbols(symbol string) ([]graph.Node, string, error) {
	model, pattern, err := in.split(symbol)
	if err != nil {
		return nil, "", err
	}
	if err := in.process(model, ndl.PassInitial, false); err != nil {
		return nil, "", err
	}
	nodes, err := in.models[model].Net.FindNodes(pattern)
	if err != nil {
		return nil, "", err
	}
	return nodes, model, nil
}

// findNode is findSymbols for a symbol that must select one node.
func (in *Interpreter) findNode(symbol string) (graph.Node, string, error) {
	nodes, model, err := in.findSymbols(symbol)
	if err != nil {
		return nil, "", err
	}
	switch len(nodes) {
	case 0:
		return nil, "", errors.Wrapf(ErrNoMatch, "%q", symbol)
	case 1:
		return nodes[0], model, nil
	}
	return nil, "", errors.Wrapf(ErrNotSingle, "%q selects %d nodes", symbol, len(nodes))
}

// renaming pairs a selected node with the name generated for it.
type renaming struct {
	node graph.Node
	name string
}

// generateNames selects the nodes of from and derives a target name for
// each from to. When to contains a *, it is replaced by the text the * of
// from matched; otherwise from must select a single node.
func (in *Interpreter) generateNames(from, to string) ([]renaming, string, string, error) {
	nodes, fromModel, err := in.findSymbols(from)
	if err != nil {
		return nil, "", "", err
	}
	if len(nodes) == 0 {
		return nil, "", "", errors.Wrapf(ErrNoMatch, "%q", from)
	}
	toModel, toPattern, err := in.split(to)
	if err != nil {
		return nil, "", "", err
	}
	_, fromPattern, _ := in.split(from)

	if !strings.Contains(toPattern, "*") {
		if len(nodes) != 1 {
			return nil, "", "", errors.Wrapf(ErrNotSingle, "%q selects %d nodes but %q names one", from, len(nodes), to)
		}
		return []renaming{{node: nodes[0], name: toPattern}}, fromModel, toModel, nil
	}
	if strings.Count(toPattern, "*") != 1 || strings.Count(fromPattern, "*") != 1 || strings.ContainsAny(fromPattern, "?[") {
		return nil, "", "", errors.Wrapf(ErrWildcard, "%q and %q must each contain one *", from, to)
	}
	prefix, suffix, _ := strings.Cut(fromPattern, "*")
	out := make([]renaming, len(nodes))
	for i, n := range nodes {
		middle := n.Name()[len(prefix) : len(n.Name())-len(suffix)]
		out[i] = renaming{node: n, name: strings.Replace(toPattern, "*", middle, 1)}
	}
	return out, fromModel, toModel, nil
}
