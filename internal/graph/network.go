package graph

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
)

// Role names a membership set of a Network.
type Role string

// Roles of a Network. Membership never implies ownership.
const (
	RoleFeature    Role = "feature"
	RoleLabel      Role = "label"
	RoleCriterion  Role = "criterion"
	RoleEvaluation Role = "evaluation"
	RoleOutput     Role = "output"
	RoleRecurrent  Role = "recurrent"
)

// AllRoles lists every role in persistence order.
var AllRoles = []Role{RoleFeature, RoleLabel, RoleCriterion, RoleEvaluation, RoleOutput, RoleRecurrent}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger used for debug records.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithRegistry sets the registry used to construct nodes on load.
func WithRegistry(r *Registry) Option {
	return func(n *Network) {
		if r != nil {
			n.registry = r
		}
	}
}

// Network owns a set of uniquely named nodes and the role sets over them.
//
// Nodes reference each other directly; a reference is only meaningful while
// the node is in the network. Every structural change marks the network as
// needing validation before the next evaluation.
type Network struct {
	nodes    map[string]Node
	order    []Node
	roles    map[Role][]Node
	logger   *slog.Logger
	registry *Registry

	samplesPerStep int
	validated      map[Node]bool // nodes checked since the last change
}

// New creates an empty network.
func New(opts ...Option) *Network {
	n := &Network{
		nodes:          make(map[string]Node),
		roles:          make(map[Role][]Node),
		logger:         slog.Default(),
		registry:       DefaultRegistry(),
		samplesPerStep: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Logger returns the network's logger.
func (net *Network) Logger() *slog.Logger { return net.logger }

// Registry returns the registry used to construct nodes.
func (net *Network) Registry() *Registry { return net.registry }

// Len returns the number of nodes.
func (net *Network) Len() int { return len(net.order) }

// Nodes returns every node in insertion order.
func (net *Network) Nodes() []Node { return slices.Clone(net.order) }

// Validated reports whether every node validated since the last change.
func (net *Network) Validated() bool {
	for _, n := range net.order {
		if !net.validated[n] {
			return false
		}
	}
	return true
}

func (net *Network) invalidate() { net.validated = nil }

// Node returns the node called name.
func (net *Network) Node(name string) (Node, error) {
	if n, ok := net.nodes[name]; ok {
		return n, nil
	}
	return nil, &ResolutionError{Node: name, Err: ErrUnknownNode}
}

// Exists reports whether a node called name is present.
func (net *Network) Exists(name string) bool {
	_, ok := net.nodes[name]
	return ok
}

// Contains reports whether n is owned by this network.
func (net *Network) Contains(n Node) bool {
	return n != nil && net.nodes[n.Name()] == n
}

func (net *Network) owned(nodes ...Node) error {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if !net.Contains(n) {
			return &ResolutionError{Node: n.Name(), Err: ErrUnknownNode, Details: "node belongs to another network"}
		}
	}
	return nil
}

// AddNode takes ownership of n.
func (net *Network) AddNode(n Node) (Node, error) {
	if _, ok := net.nodes[n.Name()]; ok {
		return nil, &ResolutionError{Node: n.Name(), Err: ErrDuplicateName}
	}
	n.SetSamplesPerStep(net.samplesPerStep)
	net.nodes[n.Name()] = n
	net.order = append(net.order, n)
	net.invalidate()
	return n, nil
}

// CreateNode constructs a node of operation op through the registry and adds it.
func (net *Network) CreateNode(op, name string) (Node, error) {
	n, err := net.registry.New(op, name)
	if err != nil {
		return nil, err
	}
	return net.AddNode(n)
}

// DeleteNode removes a node, clears every input edge that referenced it and
// drops it from all role sets.
func (net *Network) DeleteNode(name string) error {
	victim, err := net.Node(name)
	if err != nil {
		return err
	}
	for _, n := range net.order {
		for i, in := range n.Inputs() {
			if in == victim {
				if err := n.SetInput(i, nil); err != nil {
					return err
				}
			}
		}
	}
	for role := range net.roles {
		net.removeRole(role, victim)
	}
	delete(net.nodes, name)
	net.order = slices.DeleteFunc(net.order, func(n Node) bool { return n == victim })
	net.invalidate()
	net.logger.Debug("deleted node", "node", name, "op", victim.OperationName())
	return nil
}

// RenameNode changes a node's name. Edges and roles follow the node.
func (net *Network) RenameNode(oldName, newName string) error {
	n, err := net.Node(oldName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if net.Exists(newName) {
		return &ResolutionError{Node: newName, Err: ErrDuplicateName}
	}
	delete(net.nodes, oldName)
	n.SetName(newName)
	net.nodes[newName] = n
	net.invalidate()
	net.logger.Debug("renamed node", "from", oldName, "to", newName)
	return nil
}

// SetNodeInput connects input as input i of node.
func (net *Network) SetNodeInput(node Node, i int, input Node) error {
	if err := net.owned(node, input); err != nil {
		return err
	}
	if err := node.SetInput(i, input); err != nil {
		return err
	}
	net.invalidate()
	return nil
}

// AttachInputs replaces all inputs of node.
func (net *Network) AttachInputs(node Node, inputs ...Node) error {
	if err := net.owned(node); err != nil {
		return err
	}
	if err := net.owned(inputs...); err != nil {
		return err
	}
	if err := node.AttachInputs(inputs...); err != nil {
		return err
	}
	net.invalidate()
	return nil
}

// CopyNode duplicates the node called name from src into net as newName.
// With CopyChildren the copy's inputs are the nodes of net that carry the
// original inputs' names, or nil where net has no such node.
func (net *Network) CopyNode(src *Network, name, newName string, flags CopyFlags) (Node, error) {
	orig, err := src.Node(name)
	if err != nil {
		return nil, err
	}
	if net.Exists(newName) {
		return nil, &ResolutionError{Node: newName, Err: ErrDuplicateName}
	}
	dup := orig.Duplicate(newName, flags)
	if flags&CopyChildren != 0 && src != net {
		for i, in := range dup.Inputs() {
			var mapped Node
			if in != nil {
				mapped = net.nodes[in.Name()]
			}
			if err := dup.SetInput(i, mapped); err != nil {
				return nil, err
			}
		}
	}
	return net.AddNode(dup)
}

// CopySubTree copies root and everything it depends on from src into net,
// prefixing each copied name. With CopyChildren the copies are wired to
// each other the way the originals were.
func (net *Network) CopySubTree(src *Network, root, prefix string, flags CopyFlags) ([]Node, error) {
	start, err := src.Node(root)
	if err != nil {
		return nil, err
	}
	order, err := EvaluationOrder(start)
	if err != nil {
		return nil, err
	}
	for _, n := range order {
		if net.Exists(prefix + n.Name()) {
			return nil, &ResolutionError{Node: prefix + n.Name(), Err: ErrDuplicateName}
		}
	}

	copies := make(map[Node]Node, len(order))
	out := make([]Node, 0, len(order))
	for _, n := range order {
		dup := n.Duplicate(prefix+n.Name(), flags&^CopyChildren)
		if _, err := net.AddNode(dup); err != nil {
			return nil, err
		}
		copies[n] = dup
		out = append(out, dup)
	}
	if flags&CopyChildren != 0 {
		for _, n := range order {
			for i, in := range n.Inputs() {
				if in == nil {
					continue
				}
				if err := copies[n].SetInput(i, copies[in]); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// SetLearnableNodesBelowNeedGradient sets the gradient flag of every
// LearnableParameter root depends on, or of every parameter when root is nil.
func (net *Network) SetLearnableNodesBelowNeedGradient(need bool, root Node) error {
	nodes := net.order
	if root != nil {
		if err := net.owned(root); err != nil {
			return err
		}
		order, err := EvaluationOrder(root)
		if err != nil {
			return err
		}
		nodes = order
	}
	for _, n := range nodes {
		if isParameter(n) {
			n.SetNeedsGradient(need)
		}
	}
	net.invalidate()
	return nil
}

// AddRole adds n to the role set. Adding a member twice is a no-op.
func (net *Network) AddRole(role Role, n Node) error {
	if err := net.owned(n); err != nil {
		return err
	}
	if !slices.Contains(net.roles[role], n) {
		net.roles[role] = append(net.roles[role], n)
	}
	if role == RoleRecurrent {
		net.invalidate()
	}
	return nil
}

// RemoveRole drops n from the role set.
func (net *Network) RemoveRole(role Role, n Node) {
	net.removeRole(role, n)
}

func (net *Network) removeRole(role Role, n Node) {
	members := slices.DeleteFunc(net.roles[role], func(m Node) bool { return m == n })
	if len(members) == 0 {
		delete(net.roles, role)
		return
	}
	net.roles[role] = members
}

// SetRole adds n to or removes it from the role set.
func (net *Network) SetRole(role Role, n Node, member bool) error {
	if member {
		return net.AddRole(role, n)
	}
	net.RemoveRole(role, n)
	return nil
}

// InRole reports whether n is in the role set.
func (net *Network) InRole(role Role, n Node) bool {
	return slices.Contains(net.roles[role], n)
}

// RoleNodes returns the members of a role in the order they were added.
func (net *Network) RoleNodes(role Role) []Node {
	return slices.Clone(net.roles[role])
}

// ParseRole maps a role name, ignoring case, to a Role.
func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// FindNodes returns the nodes whose names match pattern in insertion order.
// Patterns use path.Match syntax; a name without wildcards is an exact lookup.
func (net *Network) FindNodes(pattern string) ([]Node, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		if n, ok := net.nodes[pattern]; ok {
			return []Node{n}, nil
		}
		return nil, nil
	}
	var out []Node
	for _, n := range net.order {
		ok, err := path.Match(pattern, n.Name())
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}
