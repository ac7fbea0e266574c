package graph

import "github.com/born-ml/cngraph/internal/tensor"

// wholeBatch selects all columns instead of a single time step.
const wholeBatch = -1

func isParameter(n Node) bool {
	_, ok := n.(*LearnableParameter)
	return ok
}

// output returns the matrix a forward pass writes. In batch mode the value
// is resized to rows x cols; a time step writes into its own columns.
func (b *base) output(t, rows, cols int) *tensor.Matrix {
	if t == wholeBatch {
		b.value.Resize(rows, cols)
		return b.value
	}
	return b.frame(b.value, t)
}

// operand returns input i's value for step t. Parameters are shared by all
// steps and are never sliced.
func (b *base) operand(i, t int) *tensor.Matrix {
	in := b.inputs[i]
	if t == wholeBatch || isParameter(in) {
		return in.Value()
	}
	return b.inputFrame(i, t)
}

// operandGradient returns the gradient matrix of input i for step t.
func (b *base) operandGradient(i, t int) *tensor.Matrix {
	in := b.inputs[i]
	if t == wholeBatch || isParameter(in) {
		return ensureGradient(in)
	}
	return gradientFrame(in, t)
}

// outputGradient returns the node's own gradient for step t.
func (b *base) outputGradient(t int) *tensor.Matrix {
	g := sizedGradient(b.gradient, b.value)
	if t == wholeBatch {
		return g
	}
	return b.frame(g, t)
}

// outputValue returns the node's own value for step t, read-only.
func (b *base) outputValue(t int) *tensor.Matrix {
	if t == wholeBatch {
		return b.value
	}
	r := tensor.StepRange(t, b.samplesPerStep)
	return b.value.ReadColumns(r.Start, r.Count)
}
