package mel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
	"github.com/born-ml/cngraph/internal/netbuilder"
)

// Commands lists the editor commands. Names match case-insensitively and
// may be abbreviated to half their length.
var Commands = ndl.Functions{
	{Name: "CreateModel"},
	{Name: "CreateModelWithName"},
	{Name: "LoadModel"},
	{Name: "LoadModelWithName"},
	{Name: "LoadNDLSnippet"},
	{Name: "SaveDefaultModel"},
	{Name: "SaveModel"},
	{Name: "SetDefaultModel"},
	{Name: "UnloadModel"},
	{Name: "DumpModel", Alternate: "Dump"},
	{Name: "DumpNode"},
	{Name: "CopyNode", Alternate: "Copy"},
	{Name: "CopySubTree"},
	{Name: "CopyNodeInputs", Alternate: "CopyInputs"},
	{Name: "SetNodeInput", Alternate: "SetInput"},
	{Name: "SetNodeInputs", Alternate: "SetInputs"},
	{Name: "SetProperty"},
	{Name: "SetPropertyForSubTree"},
	{Name: "RemoveNode", Alternate: "Remove"},
	{Name: "DeleteNode", Alternate: "Delete"},
	{Name: "Rename"},
}

// variadic marks a command that takes any number of parameters after the
// fixed ones.
const variadic = -1

type command struct {
	fixed, optional int
	usage           string
	run             func(ctx context.Context, in *Interpreter, c *call) error
}

var commands = map[string]command{
	"CreateModel":           {0, 0, "CreateModel()", createModel},
	"CreateModelWithName":   {1, 0, "CreateModelWithName(modelName)", createModelWithName},
	"LoadModel":             {1, 1, "LoadModel(modelFileName, [format=cntk])", loadModel},
	"LoadModelWithName":     {2, 1, "LoadModelWithName(modelName, modelFileName, [format=cntk])", loadModelWithName},
	"LoadNDLSnippet":        {2, 1, "LoadNDLSnippet(modelName, ndlFileName, [section])", loadNDLSnippet},
	"SaveDefaultModel":      {1, 1, "SaveDefaultModel(modelFileName, [format=cntk])", saveDefaultModel},
	"SaveModel":             {2, 1, "SaveModel(modelName, modelFileName, [format=cntk])", saveModel},
	"SetDefaultModel":       {1, 0, "SetDefaultModel(modelName)", setDefaultModel},
	"UnloadModel":           {1, variadic, "UnloadModel(modelName, ...)", unloadModel},
	"DumpModel":             {2, 1, "DumpModel(modelName, fileName, [includeData=false|true])", dumpModel},
	"DumpNode":              {2, 1, "DumpNode(nodeName, fileName, [includeData=false|true])", dumpNode},
	"CopyNode":              {2, 1, "CopyNode(fromNode, toNode, [copy=all|value])", copyNode},
	"CopySubTree":           {3, 1, "CopySubTree(fromNode, toNetwork, toNodeNamePrefix, [copy=all|value])", copySubTree},
	"CopyNodeInputs":        {2, 0, "CopyNodeInputs(fromNode, toNode)", copyNodeInputs},
	"SetNodeInput":          {3, 0, "SetNodeInput(toNode, inputIndex, inputNode)", setNodeInput},
	"SetNodeInputs":         {2, 2, "SetNodeInputs(toNode, inputNode1, [inputNode2, inputNode3])", setNodeInputs},
	"SetProperty":           {3, 0, "SetProperty(toNode, propertyName, propertyValue)", setProperty},
	"SetPropertyForSubTree": {3, 0, "SetPropertyForSubTree(rootNode, propertyName, propertyValue)", setPropertyForSubTree},
	"RemoveNode":            {1, variadic, "RemoveNode(nodeName, ...)", removeNodes},
	"DeleteNode":            {1, variadic, "DeleteNode(nodeName, ...)", removeNodes},
	"Rename":                {2, 0, "Rename(oldNodeName, newNodeName)", rename},
}

func (cmd command) checkArity(c *call) error {
	n := len(c.params)
	if n < cmd.fixed || (cmd.optional != variadic && n > cmd.fixed+cmd.optional) {
		return errors.Wrapf(ErrArity, "%s: got %d, valid parameters are %s", c.node.Value(), n, cmd.usage)
	}
	return nil
}

// call is one command statement being executed.
type call struct {
	node   *ndl.Node
	params []*ndl.Node
	logger *slog.Logger
}

// word returns parameter i as text. Names that the edit script defines
// stand for the value or the name they were given.
func (c *call) word(i int) (string, error) {
	return word(c.params[i])
}

func word(p *ndl.Node) (string, error) {
	switch p.Type() {
	case ndl.OptionalParameter:
		if len(p.Params()) == 0 {
			return "", nil
		}
		return word(p.Params()[0])
	case ndl.Constant, ndl.Variable:
		if s, err := p.Scalar(); err == nil {
			return s, nil
		}
		return p.Value(), nil
	case ndl.Function, ndl.MacroCall:
		if p.Inline() {
			return "", errors.Errorf("%s(...) cannot be used as a name", p.Value())
		}
	case ndl.Array:
		return "", errors.Errorf("%s cannot be used as a name", p)
	}
	return p.Name(), nil
}

// option returns the optional parameter key, given either as key=value
// or positionally at index pos, or def when it is absent.
func (c *call) option(key string, pos int, def string) (string, error) {
	for _, p := range c.node.Optional() {
		if strings.EqualFold(p.Name(), key) {
			return word(p)
		}
	}
	if positional := c.node.Positional(); pos < len(positional) {
		return word(positional[pos])
	}
	return def, nil
}

func (c *call) flag(key string, pos int) (bool, error) {
	s, err := c.option(key, pos, "false")
	if err != nil {
		return false, err
	}
	return parseBool(s)
}

func parseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, errors.Errorf("%q is not a boolean", s)
	}
	return b, nil
}

func (c *call) format(pos int) error {
	format, err := c.option("format", pos, "cntk")
	if err != nil {
		return err
	}
	if !strings.EqualFold(format, "cntk") {
		return errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	return nil
}

func (c *call) copyFlags(pos int) (graph.CopyFlags, error) {
	v, err := c.option("copy", pos, "all")
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(v) {
	case "all":
		return graph.CopyAll, nil
	case "value":
		return graph.CopyValue, nil
	}
	return 0, errors.Wrapf(ErrInvalidCopyOptions, "%q", v)
}

func createModel(_ context.Context, in *Interpreter, c *call) error {
	in.setModel(c.node.Name(), in.newModel(c.logger, nil), c.logger)
	return nil
}

func createModelWithName(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	in.setModel(name, in.newModel(c.logger, nil), c.logger)
	return nil
}

func loadModel(_ context.Context, in *Interpreter, c *call) error {
	file, err := c.word(0)
	if err != nil {
		return err
	}
	return in.load(c, c.node.Name(), file, 1)
}

func loadModelWithName(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	file, err := c.word(1)
	if err != nil {
		return err
	}
	return in.load(c, name, file, 2)
}

func (in *Interpreter) load(c *call, name, file string, formatPos int) error {
	if err := c.format(formatPos); err != nil {
		return err
	}
	nn := in.newModel(c.logger, nil)
	if err := nn.Net.Load(file); err != nil {
		return err
	}
	in.setModel(name, nn, c.logger)
	c.logger.Info("loaded model", "model", name, "path", file, "nodes", nn.Net.Len())
	return nil
}

func loadNDLSnippet(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	file, err := c.word(1)
	if err != nil {
		return err
	}
	section, err := c.option("section", 2, "")
	if err != nil {
		return err
	}
	text, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "reading network description")
	}
	script, err := netbuilder.Parse(string(text), section, in.macros)
	if err != nil {
		return errors.Wrapf(err, "%s", file)
	}
	nn := in.newModel(c.logger, script)
	if err := netbuilder.ProcessScript(nn, ndl.PassInitial, false); err != nil {
		return errors.Wrapf(err, "%s", file)
	}
	in.setModel(name, nn, c.logger)
	return nil
}

func saveDefaultModel(_ context.Context, in *Interpreter, c *call) error {
	file, err := c.word(0)
	if err != nil {
		return err
	}
	if err := c.format(1); err != nil {
		return err
	}
	name, nn := in.DefaultModel()
	if nn == nil {
		return errors.Wrap(ErrNoDefaultModel, "SaveDefaultModel needs a loaded model")
	}
	return in.save(c, name, nn, file)
}

func saveModel(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	file, err := c.word(1)
	if err != nil {
		return err
	}
	if err := c.format(2); err != nil {
		return err
	}
	nn, err := in.model(name)
	if err != nil {
		return err
	}
	return in.save(c, name, nn, file)
}

func (in *Interpreter) save(c *call, name string, nn *netbuilder.NetNDL, file string) error {
	if err := netbuilder.ProcessScript(nn, ndl.PassAll, true); err != nil {
		return err
	}
	if err := nn.Net.Save(file); err != nil {
		return err
	}
	c.logger.Info("saved model", "model", name, "path", file, "nodes", nn.Net.Len())
	return nil
}

func setDefaultModel(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	if _, err := in.model(name); err != nil {
		return err
	}
	in.def = name
	return nil
}

func unloadModel(_ context.Context, in *Interpreter, c *call) error {
	for i := range c.params {
		name, err := c.word(i)
		if err != nil {
			return err
		}
		if _, ok := in.models[name]; !ok {
			c.logger.Warn("model does not exist", "model", name)
			continue
		}
		delete(in.models, name)
		if in.def == name {
			in.def = ""
		}
	}
	return nil
}

func dumpModel(_ context.Context, in *Interpreter, c *call) error {
	name, err := c.word(0)
	if err != nil {
		return err
	}
	file, err := c.word(1)
	if err != nil {
		return err
	}
	includeData, err := c.flag("includeData", 2)
	if err != nil {
		return err
	}
	nn, err := in.model(name)
	if err != nil {
		return err
	}
	if err := netbuilder.ProcessScript(nn, ndl.PassAll, true); err != nil {
		return err
	}
	return in.writeTo(file, func(w io.Writer) error { return nn.Net.DumpAllNodes(w, includeData) })
}

func dumpNode(_ context.Context, in *Interpreter, c *call) error {
	symbol, err := c.word(0)
	if err != nil {
		return err
	}
	file, err := c.word(1)
	if err != nil {
		return err
	}
	includeData, err := c.flag("includeData", 2)
	if err != nil {
		return err
	}
	nodes, model, err := in.findSymbols(symbol)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return errors.Wrapf(ErrNoMatch, "%q", symbol)
	}
	if err := in.process(model, ndl.PassAll, false); err != nil {
		return err
	}
	return in.writeTo(file, func(w io.Writer) error { return graph.DumpNodes(w, nodes, includeData) })
}

// writeTo runs write against file, or against the interpreter's output
// when file is "-".
func (in *Interpreter) writeTo(file string, write func(io.Writer) error) (err error) {
	if file == "-" {
		return write(in.out)
	}
	//nolint:gosec // G304: dump paths come from edit scripts
	f, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, "creating dump file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing dump file")
		}
	}()
	return write(f)
}

func copyNode(_ context.Context, in *Interpreter, c *call) error {
	flags, err := c.copyFlags(2)
	if err != nil {
		return err
	}
	names, nn, err := in.sameNetworkNames(c)
	if err != nil {
		return err
	}
	for _, r := range names {
		if _, err := nn.Net.CopyNode(nn.Net, r.node.Name(), r.name, flags); err != nil {
			return err
		}
	}
	return nil
}

func copySubTree(_ context.Context, in *Interpreter, c *call) error {
	from, err := c.word(0)
	if err != nil {
		return err
	}
	toName, err := c.word(1)
	if err != nil {
		return err
	}
	prefix, err := c.word(2)
	if err != nil {
		return err
	}
	flags, err := c.copyFlags(3)
	if err != nil {
		return err
	}
	to, err := in.model(toName)
	if err != nil {
		return err
	}
	roots, model, err := in.findSymbols(from)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return errors.Wrapf(ErrNoMatch, "%q", from)
	}
	if err := in.process(model, ndl.PassAll, false); err != nil {
		return err
	}
	for _, root := range roots {
		copied, err := to.Net.CopySubTree(in.models[model].Net, root.Name(), prefix, flags)
		if err != nil {
			return err
		}
		c.logger.Debug("copied subtree", "root", root.Name(), "to", toName, "nodes", len(copied))
	}
	return nil
}

// copyNodeInputs gives the target the inputs of the source. A target that
// does not exist yet is created as a copy of the source without its value.
func copyNodeInputs(_ context.Context, in *Interpreter, c *call) error {
	names, nn, err := in.sameNetworkNames(c)
	if err != nil {
		return err
	}
	for _, r := range names {
		target, err := nn.Net.Node(r.name)
		if err != nil {
			if _, err := nn.Net.CopyNode(nn.Net, r.node.Name(), r.name, graph.CopyChildren); err != nil {
				return err
			}
			continue
		}
		if target.OperationName() != r.node.OperationName() {
			return errors.Errorf("cannot copy inputs of %s %q to %s %q",
				r.node.OperationName(), r.node.Name(), target.OperationName(), target.Name())
		}
		if err := nn.Net.AttachInputs(target, r.node.Inputs()...); err != nil {
			return err
		}
	}
	return nil
}

// sameNetworkNames generates target names for the first two parameters,
// which must address the same model, and completes that model's script.
func (in *Interpreter) sameNetworkNames(c *call) ([]renaming, *netbuilder.NetNDL, error) {
	from, err := c.word(0)
	if err != nil {
		return nil, nil, err
	}
	to, err := c.word(1)
	if err != nil {
		return nil, nil, err
	}
	names, fromModel, toModel, err := in.generateNames(from, to)
	if err != nil {
		return nil, nil, err
	}
	if fromModel != toModel {
		return nil, nil, errors.Wrapf(ErrDifferentNetworks, "%s and %s", from, to)
	}
	if err := in.process(fromModel, ndl.PassAll, false); err != nil {
		return nil, nil, err
	}
	return names, in.models[fromModel], nil
}

func setNodeInput(_ context.Context, in *Interpreter, c *call) error {
	toSym, err := c.word(0)
	if err != nil {
		return err
	}
	index, err := c.word(1)
	if err != nil {
		return err
	}
	i, err := strconv.Atoi(index)
	if err != nil {
		return errors.Errorf("input index %q is not an integer", index)
	}
	fromSym, err := c.word(2)
	if err != nil {
		return err
	}
	to, toModel, err := in.findNode(toSym)
	if err != nil {
		return err
	}
	from, fromModel, err := in.findNode(fromSym)
	if err != nil {
		return err
	}
	if toModel != fromModel {
		return errors.Wrapf(ErrDifferentNetworks, "%s and %s", toSym, fromSym)
	}
	if err := in.process(toModel, ndl.PassResolve, false); err != nil {
		return err
	}
	return in.models[toModel].Net.SetNodeInput(to, i, from)
}

func setNodeInputs(_ context.Context, in *Interpreter, c *call) error {
	toSym, err := c.word(0)
	if err != nil {
		return err
	}
	to, model, err := in.findNode(toSym)
	if err != nil {
		return err
	}
	inputs := make([]graph.Node, 0, len(c.params)-1)
	for i := 1; i < len(c.params); i++ {
		sym, err := c.word(i)
		if err != nil {
			return err
		}
		n, m, err := in.findNode(sym)
		if err != nil {
			return err
		}
		if m != model {
			return errors.Wrapf(ErrDifferentNetworks, "%s and %s", toSym, sym)
		}
		inputs = append(inputs, n)
	}
	if err := in.process(model, ndl.PassResolve, false); err != nil {
		return err
	}
	return in.models[model].Net.AttachInputs(to, inputs...)
}

// property is a node property SetProperty can change: the gradient flag
// or membership of a role set.
type property struct {
	gradient bool
	role     graph.Role
}

func parseProperty(name string) (property, error) {
	match := func(full, alternate string) bool {
		_, ok := ndl.EqualInsensitive(name, full, alternate)
		return ok
	}
	switch {
	case match("ComputeGradient", "NeedsGradient"):
		return property{gradient: true}, nil
	case match("Feature", ""):
		return property{role: graph.RoleFeature}, nil
	case match("Label", ""):
		return property{role: graph.RoleLabel}, nil
	case match("FinalCriterion", "Criteria"):
		return property{role: graph.RoleCriterion}, nil
	case match("Evaluation", "Eval"):
		return property{role: graph.RoleEvaluation}, nil
	case match("Output", ""):
		return property{role: graph.RoleOutput}, nil
	case match("Recurrent", ""):
		return property{role: graph.RoleRecurrent}, nil
	}
	return property{}, errors.Wrapf(ErrUnknownProperty, "%q", name)
}

func setProperty(_ context.Context, in *Interpreter, c *call) error {
	prop, value, err := propertyParams(c)
	if err != nil {
		return err
	}
	symbol, _ := c.word(0)
	nodes, model, err := in.findSymbols(symbol)
	if err != nil {
		return err
	}
	if err := in.process(model, ndl.PassInitial, false); err != nil {
		return err
	}
	net := in.models[model].Net
	for _, n := range nodes {
		if prop.gradient {
			n.SetNeedsGradient(value)
			continue
		}
		if err := net.SetRole(prop.role, n, value); err != nil {
			return err
		}
	}
	return nil
}

func setPropertyForSubTree(_ context.Context, in *Interpreter, c *call) error {
	prop, value, err := propertyParams(c)
	if err != nil {
		return err
	}
	if !prop.gradient {
		name, _ := c.word(1)
		return errors.Wrapf(ErrUnknownProperty, "%q applies to single nodes only", name)
	}
	symbol, _ := c.word(0)
	nodes, model, err := in.findSymbols(symbol)
	if err != nil {
		return err
	}
	if err := in.process(model, ndl.PassResolve, false); err != nil {
		return err
	}
	net := in.models[model].Net
	for _, n := range nodes {
		if err := net.SetLearnableNodesBelowNeedGradient(value, n); err != nil {
			return err
		}
	}
	return nil
}

func propertyParams(c *call) (property, bool, error) {
	if _, err := c.word(0); err != nil {
		return property{}, false, err
	}
	name, err := c.word(1)
	if err != nil {
		return property{}, false, err
	}
	prop, err := parseProperty(name)
	if err != nil {
		return property{}, false, err
	}
	v, err := c.word(2)
	if err != nil {
		return property{}, false, err
	}
	value, err := parseBool(v)
	if err != nil {
		return property{}, false, err
	}
	return prop, value, nil
}

// removeNodes deletes every node each parameter selects. Each model's
// script is completed once, before its first deletion.
func removeNodes(_ context.Context, in *Interpreter, c *call) error {
	processed := make(map[string]bool)
	for i := range c.params {
		symbol, err := c.word(i)
		if err != nil {
			return err
		}
		nodes, model, err := in.findSymbols(symbol)
		if err != nil {
			return err
		}
		if !processed[model] {
			if err := in.process(model, ndl.PassAll, false); err != nil {
				return err
			}
			processed[model] = true
		}
		if len(nodes) == 0 {
			return errors.Wrapf(ErrNoMatch, "%q", symbol)
		}
		net := in.models[model].Net
		for _, n := range nodes {
			if err := net.DeleteNode(n.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

func rename(_ context.Context, in *Interpreter, c *call) error {
	names, nn, err := in.sameNetworkNames(c)
	if err != nil {
		return err
	}
	for _, r := range names {
		if err := nn.Net.RenameNode(r.node.Name(), r.name); err != nil {
			return err
		}
	}
	return nil
}
