package graph

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Operation tags of the pooling nodes.
const (
	OpMaxPooling     = "MaxPooling"
	OpAveragePooling = "AveragePooling"
)

// PoolingParams are the static settings shared by the pooling nodes.
type PoolingParams struct {
	WindowWidth         int `json:"windowWidth"`
	WindowHeight        int `json:"windowHeight"`
	HorizontalSubsample int `json:"horizontalSubsample"`
	VerticalSubsample   int `json:"verticalSubsample"`
}

// pooling is the shared body of MaxPooling and AveragePooling. Each channel
// is pooled independently, so the output keeps the input's channel count.
type pooling struct {
	base
	PoolingParams
	geometry tensor.PoolGeometry
}

func (n *pooling) validatePooling() error {
	if err := n.checkInputs(true); err != nil {
		return err
	}
	p := n.PoolingParams
	if p.WindowWidth < 1 || p.WindowHeight < 1 || p.HorizontalSubsample < 1 || p.VerticalSubsample < 1 {
		return shapeErrorf(n, ErrShapeMismatch, "window and stride must be positive: %+v", p)
	}
	if p.HorizontalSubsample > p.WindowWidth || p.VerticalSubsample > p.WindowHeight {
		return shapeErrorf(n, ErrShapeMismatch, "horizontalSubsample must <= windowWidth and verticalSubsample must <= windowHeight")
	}

	feature := n.inputs[0]
	in := feature.Image()
	if in.Width < p.WindowWidth || in.Height < p.WindowHeight {
		return shapeErrorf(n, ErrShapeMismatch, "input %dx%d is smaller than window %dx%d",
			in.Width, in.Height, p.WindowWidth, p.WindowHeight)
	}
	g := tensor.NewPoolGeometry(in.Width, in.Height, in.Channels,
		p.WindowWidth, p.WindowHeight, p.HorizontalSubsample, p.VerticalSubsample)

	if fp, ok := feature.(*LearnableParameter); ok && fp.value.Rows() == 0 {
		fp.value.Resize(g.InputRows(), fp.value.Cols())
	}
	x := feature.Value()
	if x.Rows() != g.InputRows() {
		return shapeErrorf(n, ErrShapeMismatch,
			"each input column should have %d rows, which is inputWidth * inputHeight * inputChannels, got %d",
			g.InputRows(), x.Rows())
	}
	if x.IsEmpty() {
		return shapeErrorf(n, ErrZeroElements, "input %q", feature.Name())
	}

	n.geometry = g
	n.value.Resize(g.OutputRows(), x.Cols())
	n.image = ImageLayout{Width: g.OutWidth, Height: g.OutHeight, Channels: g.Channels}
	return nil
}

// Geometry returns the geometry derived by the last Validate.
func (n *pooling) Geometry() tensor.PoolGeometry { return n.geometry }

func (n *pooling) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(n.PoolingParams)
}

func (n *pooling) UnmarshalAttrs(raw json.RawMessage, _ int) error {
	return unmarshalAttrs(raw, &n.PoolingParams)
}

func (n *pooling) Describe(includeData bool) string {
	p := n.PoolingParams
	return n.base.Describe(includeData) + fmt.Sprintf("  window: %dx%d stride: %dx%d\n",
		p.WindowWidth, p.WindowHeight, p.HorizontalSubsample, p.VerticalSubsample)
}

// MaxPooling keeps the largest element of every window.
type MaxPooling struct{ pooling }

// NewMaxPooling creates a MaxPooling node.
func NewMaxPooling(name string, p PoolingParams) *MaxPooling {
	return &MaxPooling{pooling{base: newBase(OpMaxPooling, name, 1), PoolingParams: p}}
}

// Validate derives the output geometry from the input's image layout.
func (n *MaxPooling) Validate() error { return n.validatePooling() }

func (n *MaxPooling) Evaluate() error { return n.forward(wholeBatch) }

func (n *MaxPooling) EvaluateAt(t int) error { return n.forward(t) }

func (n *MaxPooling) forward(t int) error {
	x := n.operand(0, t)
	tensor.AssignMaxPoolingResult(n.output(t, n.geometry.OutputRows(), x.Cols()), x, n.geometry)
	return nil
}

// ComputeInputGradient routes each output gradient to the first maximum of
// its window.
func (n *MaxPooling) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }

func (n *MaxPooling) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

// backward finds the argmax again from the input and the forward output.
func (n *MaxPooling) backward(i, t int) error {
	if i != 0 {
		return shapeErrorf(n, ErrArity, "pooling has one input, got index %d", i)
	}
	tensor.AddMaxPoolingGradient(n.operandGradient(0, t), n.outputGradient(t),
		n.operand(0, t), n.outputValue(t), n.geometry)
	return nil
}

func (n *MaxPooling) Duplicate(name string, flags CopyFlags) Node {
	d := NewMaxPooling(name, n.PoolingParams)
	d.base = n.base.duplicate(name, flags)
	d.geometry = n.geometry
	return d
}

// AveragePooling replaces every window with its mean.
type AveragePooling struct{ pooling }

// NewAveragePooling creates an AveragePooling node.
func NewAveragePooling(name string, p PoolingParams) *AveragePooling {
	return &AveragePooling{pooling{base: newBase(OpAveragePooling, name, 1), PoolingParams: p}}
}

func (n *AveragePooling) Validate() error { return n.validatePooling() }

func (n *AveragePooling) Evaluate() error { return n.forward(wholeBatch) }

func (n *AveragePooling) EvaluateAt(t int) error { return n.forward(t) }

func (n *AveragePooling) forward(t int) error {
	x := n.operand(0, t)
	tensor.AssignAveragePoolingResult(n.output(t, n.geometry.OutputRows(), x.Cols()), x, n.geometry)
	return nil
}

// ComputeInputGradient spreads each output gradient evenly over its window.
func (n *AveragePooling) ComputeInputGradient(i int) error { return n.backward(i, wholeBatch) }

func (n *AveragePooling) ComputeInputGradientAt(i, t int) error { return n.backward(i, t) }

func (n *AveragePooling) backward(i, t int) error {
	if i != 0 {
		return shapeErrorf(n, ErrArity, "pooling has one input, got index %d", i)
	}
	tensor.AddAveragePoolingGradient(n.operandGradient(0, t), n.outputGradient(t), n.geometry)
	return nil
}

func (n *AveragePooling) Duplicate(name string, flags CopyFlags) Node {
	d := NewAveragePooling(name, n.PoolingParams)
	d.base = n.base.duplicate(name, flags)
	d.geometry = n.geometry
	return d
}
