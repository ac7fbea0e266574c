package graph

import (
	"math"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Operation tags of the criterion nodes.
const (
	OpSquareError             = "SquareError"
	OpCrossEntropyWithSoftmax = "CrossEntropyWithSoftmax"
)

// criterion is the shared body of the scalar training criteria. Input 0 is
// the label, input 1 the prediction; the value is 1x1.
type criterion struct {
	base
}

func (n *criterion) validateCriterion() error {
	if err := n.checkInputs(false); err != nil {
		return err
	}
	l, o := n.inputs[0].Value(), n.inputs[1].Value()
	if !l.SameShape(o) {
		return shapeErrorf(n, ErrShapeMismatch, "label and prediction differ: %s", shapePair(l, o))
	}
	n.value.Resize(1, 1)
	n.image = VectorLayout(1)
	return nil
}

// EvaluateAt fails: a criterion is taken over the whole batch.
func (n *criterion) EvaluateAt(int) error { return unsupported(n, ErrRecurrentNotSupported) }

func (n *criterion) ComputeInputGradientAt(int, int) error {
	return unsupported(n, ErrRecurrentNotSupported)
}

// SquareError computes ½·Σ(label − prediction)².
type SquareError struct {
	criterion
	diff tensor.Matrix
}

// NewSquareError creates a SquareError node.
func NewSquareError(name string) *SquareError {
	return &SquareError{criterion: criterion{newBase(OpSquareError, name, 2)}}
}

func (n *SquareError) Validate() error { return n.validateCriterion() }

// Evaluate keeps label − prediction for the gradient.
func (n *SquareError) Evaluate() error {
	n.diff.AssignDifferenceOf(n.inputs[0].Value(), n.inputs[1].Value())
	var sq tensor.Matrix
	sq.AssignSquareOf(&n.diff)
	n.value.Resize(1, 1)
	n.value.Set(0, 0, sq.Sum()/2)
	return nil
}

func (n *SquareError) ComputeInputGradient(i int) error {
	sign := 1.0
	if i == 1 {
		sign = -1
	}
	n.operandGradient(i, wholeBatch).AddScaled(sign*n.gradient.At(0, 0), &n.diff)
	return nil
}

func (n *SquareError) Duplicate(name string, flags CopyFlags) Node {
	return &SquareError{criterion: criterion{n.base.duplicate(name, flags)}}
}

// CrossEntropyWithSoftmax computes −Σ label ⊙ log(softmax(prediction)),
// with the softmax taken over each column.
type CrossEntropyWithSoftmax struct {
	criterion
	softmax tensor.Matrix
}

// NewCrossEntropyWithSoftmax creates a CrossEntropyWithSoftmax node.
func NewCrossEntropyWithSoftmax(name string) *CrossEntropyWithSoftmax {
	return &CrossEntropyWithSoftmax{criterion: criterion{newBase(OpCrossEntropyWithSoftmax, name, 2)}}
}

func (n *CrossEntropyWithSoftmax) Validate() error { return n.validateCriterion() }

func (n *CrossEntropyWithSoftmax) Evaluate() error {
	label, pred := n.inputs[0].Value(), n.inputs[1].Value()
	n.softmax.Resize(pred.Rows(), pred.Cols())
	var loss float64
	for c := 0; c < pred.Cols(); c++ {
		peak := math.Inf(-1)
		for r := 0; r < pred.Rows(); r++ {
			peak = math.Max(peak, pred.At(r, c))
		}
		var z float64
		for r := 0; r < pred.Rows(); r++ {
			z += math.Exp(pred.At(r, c) - peak)
		}
		logZ := math.Log(z) + peak
		for r := 0; r < pred.Rows(); r++ {
			logP := pred.At(r, c) - logZ
			n.softmax.Set(r, c, math.Exp(logP))
			loss -= label.At(r, c) * logP
		}
	}
	n.value.Resize(1, 1)
	n.value.Set(0, 0, loss)
	return nil
}

// ComputeInputGradient uses the softmax kept by Evaluate: softmax − label
// for the prediction, −log(softmax) for the label.
func (n *CrossEntropyWithSoftmax) ComputeInputGradient(i int) error {
	g := n.gradient.At(0, 0)
	dst := n.operandGradient(i, wholeBatch)
	if i == 1 {
		dst.AddScaled(g, &n.softmax)
		dst.AddScaled(-g, n.inputs[0].Value())
		return nil
	}
	dst.AddZipped(&n.softmax, &n.softmax, func(p, _ float64) float64 { return -g * math.Log(p) })
	return nil
}

func (n *CrossEntropyWithSoftmax) Duplicate(name string, flags CopyFlags) Node {
	return &CrossEntropyWithSoftmax{criterion: criterion{n.base.duplicate(name, flags)}}
}
