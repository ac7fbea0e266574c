package graph

import (
	"fmt"
	"slices"

	"github.com/born-ml/cngraph/internal/tensor"
)

// SetSamplesPerStep sets the number of columns that make up one time step
// on every node, current and future.
func (net *Network) SetSamplesPerStep(n int) {
	net.samplesPerStep = max(n, 1)
	for _, node := range net.order {
		node.SetSamplesPerStep(net.samplesPerStep)
	}
}

// SamplesPerStep returns the number of columns per time step.
func (net *Network) SamplesPerStep() int { return net.samplesPerStep }

// SetInput copies m into the InputValue called name.
func (net *Network) SetInput(name string, m *tensor.Matrix) error {
	n, err := net.Node(name)
	if err != nil {
		return err
	}
	in, ok := n.(*InputValue)
	if !ok {
		return fmt.Errorf("set input %q: node is a %s, not an %s", name, n.OperationName(), OpInputValue)
	}
	return in.SetData(m)
}

// plan is the schedule of one forward or backward pass.
type plan struct {
	order []Node
	loops [][]Node
	loop  map[Node]int // loop index of each loop member
}

func (net *Network) plan(roots ...Node) (*plan, error) {
	order, err := EvaluationOrder(roots...)
	if err != nil {
		return nil, err
	}
	if slices.ContainsFunc(order, func(n Node) bool { return !net.validated[n] }) {
		if err := net.Validate(roots...); err != nil {
			return nil, err
		}
	}
	loops, err := Loops(roots...)
	if err != nil {
		return nil, err
	}
	p := &plan{order: order, loops: loops, loop: make(map[Node]int)}
	for i, l := range loops {
		for _, n := range l {
			p.loop[n] = i
		}
	}
	return p, nil
}

// Evaluate runs a forward pass over everything the roots depend on. Each
// node is evaluated once. Recurrent loops run step by step, all members
// of a step before the next step begins.
func (net *Network) Evaluate(roots ...Node) error {
	if err := net.owned(roots...); err != nil {
		return err
	}
	p, err := net.plan(roots...)
	if err != nil {
		return err
	}
	ran := make(map[int]bool)
	for _, n := range p.order {
		if i, ok := p.loop[n]; ok {
			if ran[i] {
				continue
			}
			ran[i] = true
			if err := net.evaluateLoop(p.loops[i]); err != nil {
				return err
			}
			continue
		}
		if err := n.Evaluate(); err != nil {
			return err
		}
	}
	return nil
}

// loopColumns sizes every loop member to the widest input that comes from
// outside the loop and returns that width.
func loopColumns(loop []Node) int {
	cols := 0
	for _, n := range loop {
		for _, in := range n.Inputs() {
			if !slices.Contains(loop, in) && !isParameter(in) {
				cols = max(cols, in.Value().Cols())
			}
		}
	}
	for _, n := range loop {
		n.Value().Resize(n.Value().Rows(), cols)
	}
	return cols
}

func (net *Network) evaluateLoop(loop []Node) error {
	cols := loopColumns(loop)
	steps := cols / net.samplesPerStep
	for t := 0; t < steps; t++ {
		for _, n := range loop {
			if err := n.EvaluateAt(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputeGradient backpropagates from a scalar criterion. Gradients of every
// node on the way are zeroed first, so each call starts fresh; the
// criterion is seeded with 1. Inputs that do not need a gradient are skipped.
func (net *Network) ComputeGradient(criterion Node) error {
	if err := net.owned(criterion); err != nil {
		return err
	}
	v := criterion.Value()
	if v.Rows() != 1 || v.Cols() != 1 {
		return &ShapeError{Node: criterion.Name(), Op: criterion.OperationName(), Err: ErrNotCriterion,
			Details: fmt.Sprintf("value is [%d,%d]", v.Rows(), v.Cols())}
	}
	p, err := net.plan(criterion)
	if err != nil {
		return err
	}
	for _, n := range p.order {
		ensureGradient(n).SetValue(0)
	}
	criterion.Gradient().SetValue(1)

	ran := make(map[int]bool)
	for _, n := range slices.Backward(p.order) {
		if i, ok := p.loop[n]; ok {
			if ran[i] {
				continue
			}
			ran[i] = true
			if err := net.backpropLoop(p.loops[i]); err != nil {
				return err
			}
			continue
		}
		if !n.NeedsGradient() {
			continue
		}
		for i, in := range n.Inputs() {
			if !in.NeedsGradient() {
				continue
			}
			if err := n.ComputeInputGradient(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// backpropLoop walks the loop in reverse time, and within a step in
// reverse evaluation order.
func (net *Network) backpropLoop(loop []Node) error {
	steps := loop[0].Value().Cols() / net.samplesPerStep
	for t := steps - 1; t >= 0; t-- {
		for _, n := range slices.Backward(loop) {
			if !n.NeedsGradient() {
				continue
			}
			for i, in := range n.Inputs() {
				if !in.NeedsGradient() {
					continue
				}
				if err := n.ComputeInputGradientAt(i, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RequiresPrecompute reports whether any precompute node still has to
// accumulate its statistic.
func (net *Network) RequiresPrecompute() bool {
	return len(net.PrecomputeNodes(true)) > 0
}

// PrecomputeNodes returns the precompute nodes in insertion order,
// optionally only those not yet computed.
func (net *Network) PrecomputeNodes(onlyUncomputed bool) []PrecomputeNode {
	var out []PrecomputeNode
	for _, n := range net.order {
		p, ok := n.(PrecomputeNode)
		if !ok || (onlyUncomputed && p.HasComputed()) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AccumulatePrecompute feeds one batch to every uncomputed precompute node.
// feed maps InputValue names to their data for this batch.
func (net *Network) AccumulatePrecompute(feed map[string]*tensor.Matrix) error {
	for name, m := range feed {
		if err := net.SetInput(name, m); err != nil {
			return err
		}
	}
	pending := net.PrecomputeNodes(true)
	if len(pending) == 0 {
		return nil
	}
	roots := make([]Node, len(pending))
	for i, p := range pending {
		roots[i] = p
	}
	return net.Evaluate(roots...)
}

// FinishPrecompute freezes every uncomputed precompute node.
func (net *Network) FinishPrecompute() {
	for _, p := range net.PrecomputeNodes(true) {
		seen := p.SamplesSeen()
		p.MarkComputed(true)
		net.logger.Debug("precompute finished", "node", p.Name(), "op", p.OperationName(), "samples", seen)
	}
}

// ResetPrecompute returns every precompute node to the uncomputed state.
func (net *Network) ResetPrecompute() {
	for _, p := range net.PrecomputeNodes(false) {
		p.MarkComputed(false)
	}
}
