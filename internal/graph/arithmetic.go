package graph

import (
	"math"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Operation tags of the arithmetic nodes.
const (
	OpPlus            = "Plus"
	OpMinus           = "Minus"
	OpTimes           = "Times"
	OpElementTimes    = "ElementTimes"
	OpScale           = "Scale"
	OpRectifiedLinear = "RectifiedLinear"
	OpSigmoid         = "Sigmoid"
	OpTanh            = "Tanh"
)

// elementwise is the shared body of the binary element-wise nodes. The
// second operand may be a single column broadcast over every column of the first.
type elementwise struct {
	base
}

func (n *elementwise) validateElementwise(allowBroadcast bool) error {
	if err := n.checkInputs(false); err != nil {
		return err
	}
	a, b := n.inputs[0].Value(), n.inputs[1].Value()
	switch {
	case a.SameShape(b):
	case allowBroadcast && b.Cols() == 1 && b.Rows() == a.Rows():
	default:
		return &ShapeError{Node: n.name, Op: n.op, Err: ErrShapeMismatch,
			Details: shapePair(a, b)}
	}
	n.value.Resize(a.Rows(), a.Cols())
	n.image = n.inputs[0].Image()
	return nil
}

func (n *elementwise) broadcast() bool {
	return !n.inputs[0].Value().SameShape(n.inputs[1].Value())
}

// accumulateBroadcast adds g (or its row sums when broadcasting) into dst.
func (n *elementwise) accumulateBroadcast(dst, g *tensor.Matrix, sign float64) {
	if dst.SameShape(g) {
		dst.AddScaled(sign, g)
		return
	}
	dst.AddScaled(sign, g.RowSums())
}

func (n *elementwise) operandB(t int) *tensor.Matrix {
	if n.broadcast() {
		return n.inputs[1].Value()
	}
	return n.operand(1, t)
}

func (n *elementwise) operandGradientB(t int) *tensor.Matrix {
	if n.broadcast() {
		return ensureGradient(n.inputs[1])
	}
	return n.operandGradient(1, t)
}

func columnBroadcastInto(out, a, b *tensor.Matrix, sign float64) {
	for c := 0; c < a.Cols(); c++ {
		for r := 0; r < a.Rows(); r++ {
			bv := b.At(r, 0)
			if b.Cols() > 1 {
				bv = b.At(r, c)
			}
			out.Set(r, c, a.At(r, c)+sign*bv)
		}
	}
}

// Plus computes a + b.
type Plus struct{ elementwise }

// NewPlus creates a Plus node.
func NewPlus(name string) *Plus { return &Plus{elementwise{newBase(OpPlus, name, 2)}} }

// Validate accepts a b that matches a or is a single column broadcast
// across a's columns.
func (n *Plus) Validate() error { return n.validateElementwise(true) }
func (n *Plus) Evaluate() error { return n.forward(wholeBatch) }
func (n *Plus) EvaluateAt(t int) error { return n.forward(t) }
func (n *Plus) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *Plus) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *Plus) forward(t int) error {
	a := n.operand(0, t)
	columnBroadcastInto(n.output(t, a.Rows(), a.Cols()), a, n.operandB(t), 1)
	return nil
}

func (n *Plus) backward(i, t int) error {
	g := n.outputGradient(t)
	if i == 0 {
		n.operandGradient(0, t).Add(g)
		return nil
	}
	n.accumulateBroadcast(n.operandGradientB(t), g, 1)
	return nil
}

// Duplicate copies the node under name as flags select.
func (n *Plus) Duplicate(name string, flags CopyFlags) Node {
	return &Plus{elementwise{n.base.duplicate(name, flags)}}
}

// Minus computes a - b.
type Minus struct{ elementwise }

// NewMinus creates a Minus node.
func NewMinus(name string) *Minus { return &Minus{elementwise{newBase(OpMinus, name, 2)}} }

// Validate accepts the same operand shapes as Plus.
func (n *Minus) Validate() error { return n.validateElementwise(true) }
func (n *Minus) Evaluate() error { return n.forward(wholeBatch) }
func (n *Minus) EvaluateAt(t int) error { return n.forward(t) }
func (n *Minus) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *Minus) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *Minus) forward(t int) error {
	a := n.operand(0, t)
	columnBroadcastInto(n.output(t, a.Rows(), a.Cols()), a, n.operandB(t), -1)
	return nil
}

func (n *Minus) backward(i, t int) error {
	g := n.outputGradient(t)
	if i == 0 {
		n.operandGradient(0, t).Add(g)
		return nil
	}
	n.accumulateBroadcast(n.operandGradientB(t), g, -1)
	return nil
}

func (n *Minus) Duplicate(name string, flags CopyFlags) Node {
	return &Minus{elementwise{n.base.duplicate(name, flags)}}
}

// ElementTimes computes a ⊙ b.
type ElementTimes struct{ elementwise }

// NewElementTimes creates an ElementTimes node.
func NewElementTimes(name string) *ElementTimes {
	return &ElementTimes{elementwise{newBase(OpElementTimes, name, 2)}}
}

// Validate requires both operands to have the same shape.
func (n *ElementTimes) Validate() error { return n.validateElementwise(false) }
func (n *ElementTimes) Evaluate() error { return n.forward(wholeBatch) }
func (n *ElementTimes) EvaluateAt(t int) error { return n.forward(t) }
func (n *ElementTimes) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *ElementTimes) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *ElementTimes) forward(t int) error {
	a, b := n.operand(0, t), n.operand(1, t)
	n.output(t, a.Rows(), a.Cols()).AssignElementProductOf(a, b)
	return nil
}

func (n *ElementTimes) backward(i, t int) error {
	n.operandGradient(i, t).AddElementProductOf(n.outputGradient(t), n.operand(1-i, t))
	return nil
}

func (n *ElementTimes) Duplicate(name string, flags CopyFlags) Node {
	return &ElementTimes{elementwise{n.base.duplicate(name, flags)}}
}

// Times is the matrix product A·x of a weight and a batch of samples.
type Times struct{ base }

// NewTimes creates a Times node.
func NewTimes(name string) *Times { return &Times{newBase(OpTimes, name, 2)} }

// Validate sizes an empty weight to [rows, x rows] and checks the inner
// dimensions. The result has one column per sample of x.
func (n *Times) Validate() error {
	if err := n.checkInputs(true); err != nil {
		return err
	}
	a, x := n.inputs[0].Value(), n.inputs[1].Value()
	if a.Cols() == 0 && a.Rows() > 0 {
		autoSize(n.inputs[0], a.Rows(), x.Rows())
		a = n.inputs[0].Value()
	}
	if a.IsEmpty() || x.IsEmpty() {
		return shapeErrorf(n, ErrZeroElements, "%s", shapePair(a, x))
	}
	if a.Cols() != x.Rows() {
		return shapeErrorf(n, ErrShapeMismatch, "inner dimensions differ: %s", shapePair(a, x))
	}
	n.value.Resize(a.Rows(), x.Cols())
	n.image = VectorLayout(a.Rows())
	return nil
}

func (n *Times) Evaluate() error { return n.forward(wholeBatch) }
func (n *Times) EvaluateAt(t int) error { return n.forward(t) }
// ComputeInputGradient adds g·xᵀ to the weight gradient, or Aᵀ·g to the
// gradient of x.
func (n *Times) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *Times) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *Times) forward(t int) error {
	a, x := n.operand(0, t), n.operand(1, t)
	tensor.Multiply(a, false, x, false, n.output(t, a.Rows(), x.Cols()))
	return nil
}

func (n *Times) backward(i, t int) error {
	g := n.outputGradient(t)
	if i == 0 {
		tensor.MultiplyAndAdd(g, false, n.operand(1, t), true, n.operandGradient(0, t))
		return nil
	}
	tensor.MultiplyAndAdd(n.operand(0, t), true, g, false, n.operandGradient(1, t))
	return nil
}

func (n *Times) Duplicate(name string, flags CopyFlags) Node {
	return &Times{n.base.duplicate(name, flags)}
}

// Scale multiplies a matrix by a 1x1 scalar input: Scale(s, x) = s·x.
type Scale struct{ base }

// NewScale creates a Scale node.
func NewScale(name string) *Scale { return &Scale{newBase(OpScale, name, 2)} }

// Validate requires a 1x1 scale factor.
func (n *Scale) Validate() error {
	if err := n.checkInputs(false); err != nil {
		return err
	}
	s, x := n.inputs[0].Value(), n.inputs[1].Value()
	if s.Rows() != 1 || s.Cols() != 1 {
		return shapeErrorf(n, ErrShapeMismatch, "scale factor must be [1,1], got [%d,%d]", s.Rows(), s.Cols())
	}
	n.value.Resize(x.Rows(), x.Cols())
	n.image = n.inputs[1].Image()
	return nil
}

func (n *Scale) Evaluate() error { return n.forward(wholeBatch) }
func (n *Scale) EvaluateAt(t int) error { return n.forward(t) }
// ComputeInputGradient accumulates Σ g⊙x into the scalar for input 0.
func (n *Scale) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *Scale) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *Scale) forward(t int) error {
	s, x := n.inputs[0].Value().At(0, 0), n.operand(1, t)
	out := n.output(t, x.Rows(), x.Cols())
	out.AssignMapOf(x, func(v float64) float64 { return s * v })
	return nil
}

func (n *Scale) backward(i, t int) error {
	g := n.outputGradient(t)
	if i == 0 {
		var prod tensor.Matrix
		prod.AssignElementProductOf(g, n.operand(1, t))
		gs := ensureGradient(n.inputs[0])
		gs.Set(0, 0, gs.At(0, 0)+prod.Sum())
		return nil
	}
	n.operandGradient(1, t).AddScaled(n.inputs[0].Value().At(0, 0), g)
	return nil
}

func (n *Scale) Duplicate(name string, flags CopyFlags) Node {
	return &Scale{n.base.duplicate(name, flags)}
}

// unary is a one-input element-wise function whose derivative is expressed
// through the input x and output y.
type unary struct {
	base
	f     func(x float64) float64
	deriv func(x, y float64) float64
}

func newUnary(op, name string, f func(float64) float64, deriv func(x, y float64) float64) unary {
	return unary{base: newBase(op, name, 1), f: f, deriv: deriv}
}

// Validate gives the output the shape and layout of the input.
func (n *unary) Validate() error {
	if err := n.checkInputs(false); err != nil {
		return err
	}
	x := n.inputs[0].Value()
	n.value.Resize(x.Rows(), x.Cols())
	n.image = n.inputs[0].Image()
	return nil
}

func (n *unary) Evaluate() error { return n.forward(wholeBatch) }
func (n *unary) EvaluateAt(t int) error { return n.forward(t) }
func (n *unary) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }
func (n *unary) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *unary) forward(t int) error {
	x := n.operand(0, t)
	n.output(t, x.Rows(), x.Cols()).AssignMapOf(x, n.f)
	return nil
}

func (n *unary) backward(_, t int) error {
	x, y, g := n.operand(0, t), n.outputValue(t), n.outputGradient(t)
	dst := n.operandGradient(0, t)
	for c := 0; c < x.Cols(); c++ {
		for r := 0; r < x.Rows(); r++ {
			dst.Set(r, c, dst.At(r, c)+g.At(r, c)*n.deriv(x.At(r, c), y.At(r, c)))
		}
	}
	return nil
}

// RectifiedLinear computes max(0, x).
type RectifiedLinear struct{ unary }

// NewRectifiedLinear creates a RectifiedLinear node.
func NewRectifiedLinear(name string) *RectifiedLinear {
	return &RectifiedLinear{newUnary(OpRectifiedLinear, name,
		func(x float64) float64 { return math.Max(0, x) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})}
}

func (n *RectifiedLinear) Duplicate(name string, flags CopyFlags) Node {
	d := NewRectifiedLinear(name)
	d.base = n.base.duplicate(name, flags)
	return d
}

// Sigmoid computes 1/(1+exp(-x)).
type Sigmoid struct{ unary }

// NewSigmoid creates a Sigmoid node.
func NewSigmoid(name string) *Sigmoid {
	return &Sigmoid{newUnary(OpSigmoid, name,
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })}
}

func (n *Sigmoid) Duplicate(name string, flags CopyFlags) Node {
	d := NewSigmoid(name)
	d.base = n.base.duplicate(name, flags)
	return d
}

// Tanh computes the hyperbolic tangent.
type Tanh struct{ unary }

// NewTanh creates a Tanh node.
func NewTanh(name string) *Tanh {
	return &Tanh{newUnary(OpTanh, name, math.Tanh,
		func(_, y float64) float64 { return 1 - y*y })}
}

func (n *Tanh) Duplicate(name string, flags CopyFlags) Node {
	d := NewTanh(name)
	d.base = n.base.duplicate(name, flags)
	return d
}
