package netbuilder

import (
	"os"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
)

// NetNDL ties a network to the script that describes it. Statements can
// be appended to the script after it has been processed; the next
// ProcessScript only evaluates what is new.
type NetNDL struct {
	Net    *graph.Network
	Script *ndl.Script

	eval      *Evaluator
	last      [ndl.PassAll + 1]*ndl.Node
	completed ndl.Pass
	started   bool
}

// NewNetNDL pairs net with script. Either may be nil: a nil script is
// replaced by an empty one using the network description functions.
func NewNetNDL(net *graph.Network, script *ndl.Script) *NetNDL {
	if net == nil {
		net = graph.New()
	}
	if script == nil {
		script = ndl.NewScript(ndl.WithFunctions(Functions))
	}
	return &NetNDL{Net: net, Script: script, eval: NewEvaluator(net)}
}

// Evaluator returns the evaluator that builds into the network.
func (nn *NetNDL) Evaluator() *Evaluator { return nn.eval }

// Completed returns the last pass that has run over the script, and
// false when none has.
func (nn *NetNDL) Completed() (ndl.Pass, bool) { return nn.completed, nn.started }

// ProcessScript runs every pass up to until over the statements each pass
// has not seen yet. Before the Final pass the network is validated. With
// fullValidate a validation error is returned; otherwise the network may
// be a fragment, and only the parts that validate are sized.
func ProcessScript(nn *NetNDL, until ndl.Pass, fullValidate bool) error {
	if nn.Script == nil {
		return nil
	}
	for pass := ndl.PassInitial; pass <= until; pass++ {
		if pass == ndl.PassFinal {
			if err := validate(nn, fullValidate); err != nil {
				return err
			}
		}
		last, err := nn.Script.Evaluate(nn.eval, "", pass, nn.last[pass])
		if err != nil {
			return errors.Wrapf(err, "%s pass", pass)
		}
		if last != nil {
			nn.last[pass] = last
		}
		if pass == ndl.PassFinal {
			if err := initialize(nn); err != nil {
				return err
			}
		}
		if !nn.started || pass > nn.completed {
			nn.completed, nn.started = pass, true
		}
	}
	return nil
}

// initialize fills the parameters that validation has given a size and
// that were neither initialized nor loaded before.
func initialize(nn *NetNDL) error {
	for _, n := range nn.Net.Nodes() {
		p, ok := n.(*graph.LearnableParameter)
		if !ok || p.Initialized() {
			continue
		}
		if p.Value().IsEmpty() {
			nn.eval.logger.Debug("parameter left uninitialized", "node", p.Name())
			continue
		}
		if err := p.Initialize(false); err != nil {
			return err
		}
	}
	return nil
}

func validate(nn *NetNDL, full bool) error {
	if full {
		return nn.Net.Validate()
	}
	for _, root := range roots(nn.Net) {
		if err := nn.Net.Validate(root); err != nil {
			nn.eval.logger.Debug("fragment does not validate yet", "root", root.Name(), "err", err)
		}
	}
	return nil
}

// roots returns the nodes that no other node of net consumes.
func roots(net *graph.Network) []graph.Node {
	consumed := make(map[graph.Node]bool)
	nodes := net.Nodes()
	for _, n := range nodes {
		for _, in := range n.Inputs() {
			if in != nil {
				consumed[in] = true
			}
		}
	}
	var out []graph.Node
	for _, n := range nodes {
		if !consumed[n] {
			out = append(out, n)
		}
	}
	return out
}

// Option configures BuildFromText and BuildFromFile.
type Option func(*buildOptions)

type buildOptions struct {
	vars     map[string]string
	macros   *ndl.MacroRegistry
	section  string
	netOpts  []graph.Option
	until    ndl.Pass
	validate bool
}

// WithVariables defines constants before evaluation, overriding
// constants of the same name in the description.
func WithVariables(vars map[string]string) Option {
	return func(o *buildOptions) { o.vars = vars }
}

// WithMacros parses against r instead of the process-wide registry.
func WithMacros(r *ndl.MacroRegistry) Option {
	return func(o *buildOptions) { o.macros = r }
}

// WithSection builds only the named section of the description.
func WithSection(name string) Option {
	return func(o *buildOptions) { o.section = name }
}

// WithNetworkOptions configures the network being built.
func WithNetworkOptions(opts ...graph.Option) Option {
	return func(o *buildOptions) { o.netOpts = append(o.netOpts, opts...) }
}

// WithPasses stops after pass until. A build that stops before the Final
// pass is not validated.
func WithPasses(until ndl.Pass, fullValidate bool) Option {
	return func(o *buildOptions) { o.until, o.validate = until, fullValidate }
}

// Parse parses a network description with the network description
// functions. With a section name only that section is parsed.
func Parse(text, section string, macros *ndl.MacroRegistry) (*ndl.Script, error) {
	opts := []ndl.Option{ndl.WithFunctions(Functions)}
	if macros != nil {
		opts = append(opts, ndl.WithMacros(macros))
	}
	if section != "" {
		return ndl.ParseSection(text, section, opts...)
	}
	return ndl.ParseFile(text, opts...)
}

// BuildFromText builds a network from a description.
func BuildFromText(text string, opts ...Option) (*NetNDL, error) {
	o := buildOptions{until: ndl.PassAll, validate: true}
	for _, opt := range opts {
		opt(&o)
	}
	script, err := Parse(text, o.section, o.macros)
	if err != nil {
		return nil, err
	}
	if len(o.vars) > 0 {
		if err := script.DefineConstants(o.vars); err != nil {
			return nil, err
		}
	}
	nn := NewNetNDL(graph.New(o.netOpts...), script)
	if err := ProcessScript(nn, o.until, o.validate); err != nil {
		return nil, err
	}
	nn.eval.logger.Info("built network", "nodes", nn.Net.Len())
	return nn, nil
}

// BuildFromFile builds a network from the description in path.
func BuildFromFile(path string, opts ...Option) (*NetNDL, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading network description")
	}
	nn, err := BuildFromText(string(text), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return nn, nil
}
