package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Operation tags of the leaf nodes.
const (
	OpInputValue         = "InputValue"
	OpLearnableParameter = "LearnableParameter"
)

// InputValue holds externally supplied features or labels, one sample per column.
type InputValue struct {
	base
	rows, cols int
	isImage    bool
}

// NewInputValue creates a rows x cols input.
func NewInputValue(name string, rows, cols int) *InputValue {
	n := &InputValue{base: newBase(OpInputValue, name, 0), rows: rows, cols: cols}
	n.value.Resize(rows, cols)
	n.image = VectorLayout(rows)
	return n
}

// NewImageInput creates an input whose columns are width x height x channels images.
func NewImageInput(name string, layout ImageLayout, cols int) *InputValue {
	n := NewInputValue(name, layout.Size(), cols)
	n.image = layout
	n.isImage = true
	return n
}

// SetData replaces the input's value with a copy of m.
func (n *InputValue) SetData(m *tensor.Matrix) error {
	if m.Rows() != n.rows {
		return shapeErrorf(n, ErrShapeMismatch, "data has %d rows, input expects %d", m.Rows(), n.rows)
	}
	n.value.CopyFrom(m)
	n.cols = m.Cols()
	return nil
}

// Validate accepts any data set through SetData.
func (n *InputValue) Validate() error { return nil }
func (n *InputValue) Evaluate() error { return nil }
func (n *InputValue) EvaluateAt(int) error { return nil }
func (n *InputValue) ComputeInputGradient(int) error { return shapeErrorf(n, ErrArity, "input nodes have no inputs") }

func (n *InputValue) ComputeInputGradientAt(i, _ int) error { return n.ComputeInputGradient(i) }

// Duplicate keeps the declared shape even when the value is not copied.
func (n *InputValue) Duplicate(name string, flags CopyFlags) Node {
	d := *n
	d.base = n.base.duplicate(name, flags)
	if flags&CopyValue == 0 {
		d.value.Resize(n.rows, n.cols)
	}
	return &d
}

type inputAttrs struct {
	Rows    int  `json:"rows"`
	Cols    int  `json:"cols"`
	IsImage bool `json:"image,omitempty"`
}

func (n *InputValue) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(inputAttrs{Rows: n.rows, Cols: n.cols, IsImage: n.isImage})
}

func (n *InputValue) UnmarshalAttrs(raw json.RawMessage, _ int) error {
	var a inputAttrs
	if err := unmarshalAttrs(raw, &a); err != nil {
		return err
	}
	n.rows, n.cols, n.isImage = a.Rows, a.Cols, a.IsImage
	n.value.Resize(n.rows, n.cols)
	return nil
}

// Initialization methods for LearnableParameter.
const (
	InitUniform    = "uniform"
	InitGaussian   = "gaussian"
	InitFixedValue = "fixedValue"
	InitNone       = "none"
)

// LearnableParameter is a trainable (or, with needsGradient off, constant)
// matrix. An empty parameter is sized by the first consumer that validates.
type LearnableParameter struct {
	base
	Init           string
	InitValueScale float64
	InitValue      float64
	Seed           uint64
	initialized    bool
}

// NewLearnableParameter creates a rows x cols parameter that needs a gradient.
func NewLearnableParameter(name string, rows, cols int) *LearnableParameter {
	n := &LearnableParameter{
		base:           newBase(OpLearnableParameter, name, 0),
		Init:           InitUniform,
		InitValueScale: 1,
	}
	n.needsGradient = true
	n.value.Resize(rows, cols)
	n.image = VectorLayout(rows)
	return n
}

// NewConstant creates a parameter filled with value that never needs a gradient.
func NewConstant(name string, value float64, rows, cols int) *LearnableParameter {
	n := NewLearnableParameter(name, rows, cols)
	n.needsGradient = false
	n.Init = InitFixedValue
	n.InitValue = value
	n.value.SetValue(value)
	n.initialized = true
	return n
}

// Initialize fills the value according to Init. Parameters that were
// already initialized or loaded are left alone unless force is set.
func (n *LearnableParameter) Initialize(force bool) error {
	if n.initialized && !force {
		return nil
	}
	if n.value.IsEmpty() {
		return shapeErrorf(n, ErrZeroElements, "cannot initialize a [%d,%d] parameter", n.value.Rows(), n.value.Cols())
	}
	rng := rand.New(rand.NewPCG(n.Seed, n.Seed^0x9e3779b97f4a7c15))
	switch n.Init {
	case InitUniform:
		scale := 0.05 * n.InitValueScale
		n.fill(func() float64 { return (rng.Float64()*2 - 1) * scale })
	case InitGaussian:
		std := 0.2 * n.InitValueScale / math.Sqrt(float64(n.value.Cols()))
		n.fill(func() float64 { return rng.NormFloat64() * std })
	case InitFixedValue:
		n.value.SetValue(n.InitValue)
	case InitNone, "":
	default:
		return fmt.Errorf("%s %q: unknown init method %q", n.op, n.name, n.Init)
	}
	n.initialized = true
	return nil
}

// Initialized reports whether the parameter holds its final values.
func (n *LearnableParameter) Initialized() bool { return n.initialized }

func (n *LearnableParameter) fill(sample func() float64) {
	for c := 0; c < n.value.Cols(); c++ {
		for r := 0; r < n.value.Rows(); r++ {
			n.value.Set(r, c, sample())
		}
	}
}

// resize reshapes an auto-sized parameter and keeps the image layout in step.
func (n *LearnableParameter) resize(rows, cols int) {
	n.value.Resize(rows, cols)
	n.image = VectorLayout(rows)
}

func (n *LearnableParameter) Validate() error { return nil }
func (n *LearnableParameter) Evaluate() error { return nil }
func (n *LearnableParameter) EvaluateAt(int) error { return nil }
func (n *LearnableParameter) persistsValue() bool { return true }

// ComputeInputGradient fails: a parameter is a leaf. Its own gradient is
// filled by its consumers.
func (n *LearnableParameter) ComputeInputGradient(int) error {
	return shapeErrorf(n, ErrArity, "parameters have no inputs")
}

func (n *LearnableParameter) ComputeInputGradientAt(i, _ int) error { return n.ComputeInputGradient(i) }

// Duplicate copies the initializer. Without CopyValue the copy is
// initialized again by the next Final pass.
func (n *LearnableParameter) Duplicate(name string, flags CopyFlags) Node {
	d := *n
	d.base = n.base.duplicate(name, flags)
	if flags&CopyValue == 0 {
		d.value.Resize(n.value.Rows(), n.value.Cols())
		d.initialized = false
	}
	return &d
}

type parameterAttrs struct {
	Init           string  `json:"init"`
	InitValueScale float64 `json:"initValueScale"`
	InitValue      float64 `json:"initValue,omitempty"`
	Seed           uint64  `json:"seed,omitempty"`
}

func (n *LearnableParameter) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(parameterAttrs{Init: n.Init, InitValueScale: n.InitValueScale, InitValue: n.InitValue, Seed: n.Seed})
}

func (n *LearnableParameter) UnmarshalAttrs(raw json.RawMessage, _ int) error {
	a := parameterAttrs{Init: InitUniform, InitValueScale: 1}
	if err := unmarshalAttrs(raw, &a); err != nil {
		return err
	}
	n.Init, n.InitValueScale, n.InitValue, n.Seed = a.Init, a.InitValueScale, a.InitValue, a.Seed
	n.initialized = true
	return nil
}

func (n *LearnableParameter) Describe(includeData bool) string {
	return n.base.Describe(includeData) + fmt.Sprintf("  init: %s scale: %g\n", n.Init, n.InitValueScale)
}

// autoSize grows an empty parameter input to rows x cols. It reports whether
// n was such a parameter.
func autoSize(n Node, rows, cols int) bool {
	p, ok := n.(*LearnableParameter)
	if !ok || !p.value.IsEmpty() {
		return false
	}
	p.resize(rows, cols)
	return true
}
