package graph

import (
	"fmt"
	"slices"
)

// EvaluationOrder returns every node the roots depend on, inputs before
// consumers, each node once.
//
// A Delay inside a recurrent loop is emitted as soon as it is reached,
// before its input: it reads only earlier time steps, so it is the point
// where the loop is cut. Its input is visited after the rest of the graph.
// A Delay outside any loop is ordered like every other node. A cycle that
// does not pass through a Delay fails with ErrCycle.
func EvaluationOrder(roots ...Node) ([]Node, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	cut := make(map[Node]bool)
	for _, scc := range cycles(roots) {
		for _, n := range scc {
			if isDelay(n) {
				cut[n] = true
			}
		}
	}
	state := make(map[Node]int)
	var order, pending []Node

	var visit func(n Node) error
	visit = func(n Node) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return &ResolutionError{Node: n.Name(), Err: ErrCycle}
		}
		if cut[n] {
			state[n] = done
			order = append(order, n)
			if in := n.Input(0); in != nil {
				pending = append(pending, in)
			}
			return nil
		}
		state[n] = visiting
		for _, in := range n.Inputs() {
			if in == nil {
				continue
			}
			if err := visit(in); err != nil {
				return err
			}
		}
		state[n] = done
		order = append(order, n)
		return nil
	}

	for _, r := range roots {
		if r == nil {
			continue
		}
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Loops returns the recurrent loops among the nodes the roots depend on.
// A loop is a strongly connected set of nodes; its members are listed in
// evaluation order. Every loop passes through at least one Delay.
func Loops(roots ...Node) ([][]Node, error) {
	order, err := EvaluationOrder(roots...)
	if err != nil {
		return nil, err
	}
	position := make(map[Node]int, len(order))
	for i, n := range order {
		position[n] = i
	}

	loops := cycles(roots)
	for _, loop := range loops {
		if !slices.ContainsFunc(loop, isDelay) {
			return nil, &ResolutionError{Node: loop[0].Name(), Err: ErrCycle}
		}
		slices.SortFunc(loop, func(a, b Node) int { return position[a] - position[b] })
	}
	slices.SortFunc(loops, func(a, b []Node) int { return position[a[0]] - position[b[0]] })
	return loops, nil
}

// cycles returns the strongly connected sets of the nodes the roots depend
// on that contain a cycle: more than one node, or a node that is its own
// input.
func cycles(roots []Node) [][]Node {
	// Tarjan's strongly connected components over input edges.
	var (
		index   int
		stack   []Node
		onStack = make(map[Node]bool)
		indices = make(map[Node]int)
		lowlink = make(map[Node]int)
		sccs    [][]Node
	)
	var connect func(n Node)
	connect = func(n Node) {
		indices[n] = index
		lowlink[n] = index
		index++
		stack = append(stack, n)
		onStack[n] = true

		selfLoop := false
		for _, in := range n.Inputs() {
			if in == nil {
				continue
			}
			if in == n {
				selfLoop = true
			}
			if _, seen := indices[in]; !seen {
				connect(in)
				lowlink[n] = min(lowlink[n], lowlink[in])
			} else if onStack[in] {
				lowlink[n] = min(lowlink[n], indices[in])
			}
		}

		if lowlink[n] != indices[n] {
			return
		}
		var scc []Node
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			scc = append(scc, top)
			if top == n {
				break
			}
		}
		if len(scc) > 1 || selfLoop {
			sccs = append(sccs, scc)
		}
	}
	for _, r := range roots {
		if r == nil {
			continue
		}
		if _, seen := indices[r]; !seen {
			connect(r)
		}
	}
	return sccs
}

// Validate checks every node the roots depend on, inputs first. Without
// roots the whole network is validated.
//
// Besides each node's own checks it rejects unconnected inputs, cycles that
// bypass a Delay, precompute nodes below other precompute nodes, and
// precompute nodes inside recurrent loops. A node needs a gradient when any
// of its inputs does.
func (net *Network) Validate(roots ...Node) error {
	if len(roots) == 0 {
		roots = net.order
	}
	if err := net.owned(roots...); err != nil {
		return err
	}
	order, err := EvaluationOrder(roots...)
	if err != nil {
		return err
	}
	for _, n := range order {
		if !net.Contains(n) {
			return &ResolutionError{Node: n.Name(), Err: ErrUnknownNode, Details: "input belongs to another network"}
		}
		for i, in := range n.Inputs() {
			if in == nil {
				return &ResolutionError{Node: n.Name(), Err: ErrMissingInput, Details: fmt.Sprintf("input %d", i)}
			}
		}
	}

	loops, err := Loops(roots...)
	if err != nil {
		return err
	}
	for _, loop := range loops {
		for _, n := range loop {
			if IsPrecompute(n) {
				return unsupported(n, ErrRecurrentNotSupported)
			}
		}
	}
	if err := checkNestedPrecompute(order); err != nil {
		return err
	}

	// Delays validate before their inputs; give them the batch width of
	// the network's inputs so loop members agree on columns.
	if cols := inputColumns(order); cols > 0 {
		for _, n := range order {
			if d, ok := n.(*Delay); ok {
				d.value.Resize(d.Rows, cols)
			}
		}
	}
	for _, n := range order {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	propagateNeedsGradient(order)

	if net.validated == nil {
		net.validated = make(map[Node]bool, len(order))
	}
	for _, n := range order {
		net.validated[n] = true
	}
	net.logger.Debug("validated network", "nodes", len(order), "loops", len(loops))
	return nil
}

// propagateNeedsGradient sets each non-leaf node's flag to the OR of its
// inputs' flags. Delays are ordered before their inputs, so the pass is
// repeated until nothing changes.
func propagateNeedsGradient(order []Node) {
	for changed := true; changed; {
		changed = false
		for _, n := range order {
			if isLeaf(n) || IsPrecompute(n) {
				continue
			}
			need := slices.ContainsFunc(n.Inputs(), func(in Node) bool { return in.NeedsGradient() })
			if need != n.NeedsGradient() {
				n.SetNeedsGradient(need)
				changed = true
			}
		}
	}
}

// checkNestedPrecompute fails when a precompute node depends on another.
func checkNestedPrecompute(order []Node) error {
	for _, n := range order {
		if !IsPrecompute(n) {
			continue
		}
		below, err := EvaluationOrder(n.Inputs()...)
		if err != nil {
			return err
		}
		if i := slices.IndexFunc(below, IsPrecompute); i >= 0 {
			return &ResolutionError{Node: n.Name(), Err: ErrNestedPrecompute, Details: fmt.Sprintf("depends on %q", below[i].Name())}
		}
	}
	return nil
}

func isDelay(n Node) bool {
	_, ok := n.(*Delay)
	return ok
}

// inputColumns returns the widest InputValue among nodes.
func inputColumns(nodes []Node) int {
	cols := 0
	for _, n := range nodes {
		if in, ok := n.(*InputValue); ok {
			cols = max(cols, in.Value().Cols())
		}
	}
	return cols
}
