// Package graph implements the computation network: typed nodes with
// forward and gradient contracts, and the Network that owns them.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/born-ml/cngraph/internal/tensor"
)

// ImageLayout is the per-sample image geometry carried through spatial ops.
// A column of Width*Height*Channels rows holds one image, channels fastest.
type ImageLayout struct {
	Width    int
	Height   int
	Channels int
}

// Size returns Width*Height*Channels.
func (l ImageLayout) Size() int { return l.Width * l.Height * l.Channels }

// VectorLayout is the layout of a non-image column of the given rows.
func VectorLayout(rows int) ImageLayout {
	return ImageLayout{Width: 1, Height: rows, Channels: 1}
}

// CopyFlags select what Duplicate carries over.
type CopyFlags int

// Copy flags.
const (
	CopyValue CopyFlags = 1 << iota
	CopyChildren
	CopyAll = CopyValue | CopyChildren
)

// Node is one unit of computation in a Network.
//
// Evaluate writes only the node's own value. ComputeInputGradient(i) adds
// into the gradient of input i; it never overwrites, since a node may feed
// several consumers. The *At variants work on the columns of one time step.
type Node interface {
	Name() string
	SetName(name string)
	OperationName() string

	Inputs() []Node
	Input(i int) Node
	AttachInputs(inputs ...Node) error
	SetInput(i int, input Node) error

	Value() *tensor.Matrix
	Gradient() *tensor.Matrix
	NeedsGradient() bool
	SetNeedsGradient(bool)
	Image() ImageLayout
	SetImage(ImageLayout)
	Device() tensor.Device

	Validate() error
	Evaluate() error
	EvaluateAt(t int) error
	ComputeInputGradient(i int) error
	ComputeInputGradientAt(i, t int) error

	SetSamplesPerStep(n int)
	SamplesPerStep() int

	Duplicate(name string, flags CopyFlags) Node

	MarshalAttrs() (json.RawMessage, error)
	UnmarshalAttrs(raw json.RawMessage, modelVersion int) error

	Describe(includeData bool) string
}

// base carries the fields every node type shares.
type base struct {
	name           string
	op             string
	arity          int
	inputs         []Node
	value          *tensor.Matrix
	gradient       *tensor.Matrix
	needsGradient  bool
	image          ImageLayout
	samplesPerStep int
}

func newBase(op, name string, arity int) base {
	return base{
		name:           name,
		op:             op,
		arity:          arity,
		inputs:         make([]Node, arity),
		value:          &tensor.Matrix{},
		gradient:       &tensor.Matrix{},
		samplesPerStep: 1,
	}
}

func (b *base) Name() string { return b.name }
func (b *base) SetName(name string) { b.name = name }
func (b *base) OperationName() string { return b.op }
func (b *base) Inputs() []Node { return b.inputs }

// Input returns input i, or nil when i is out of range.
func (b *base) Input(i int) Node {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// AttachInputs replaces every input. It needs exactly as many inputs as
// the node takes.
func (b *base) AttachInputs(inputs ...Node) error {
	if len(inputs) != b.arity {
		return &ShapeError{Node: b.name, Op: b.op, Err: ErrArity,
			Details: fmt.Sprintf("expects %d inputs, got %d", b.arity, len(inputs))}
	}
	b.inputs = append(b.inputs[:0:0], inputs...)
	return nil
}

// SetInput replaces input i.
func (b *base) SetInput(i int, input Node) error {
	if i < 0 || i >= b.arity {
		return &ShapeError{Node: b.name, Op: b.op, Err: ErrArity,
			Details: fmt.Sprintf("input index %d outside [0,%d)", i, b.arity)}
	}
	b.inputs[i] = input
	return nil
}

func (b *base) Value() *tensor.Matrix { return b.value }
func (b *base) Gradient() *tensor.Matrix { return b.gradient }
func (b *base) NeedsGradient() bool { return b.needsGradient }
func (b *base) SetNeedsGradient(v bool) { b.needsGradient = v }
func (b *base) Image() ImageLayout { return b.image }
func (b *base) SetImage(l ImageLayout) { b.image = l }
func (b *base) Device() tensor.Device { return b.value.Device() }
func (b *base) SamplesPerStep() int { return b.samplesPerStep }
func (b *base) SetSamplesPerStep(n int) { b.samplesPerStep = max(n, 1) }
func (b *base) persistsValue() bool { return false }
func (b *base) MarshalAttrs() (json.RawMessage, error) { return nil, nil }

func (b *base) UnmarshalAttrs(json.RawMessage, int) error { return nil }

// checkInputs verifies that every input slot is connected and, unless
// allowEmpty, holds at least one element.
func (b *base) checkInputs(allowEmpty bool) error {
	if len(b.inputs) != b.arity {
		return &ShapeError{Node: b.name, Op: b.op, Err: ErrArity,
			Details: fmt.Sprintf("expects %d inputs, has %d", b.arity, len(b.inputs))}
	}
	for i, in := range b.inputs {
		if in == nil {
			return &ResolutionError{Node: b.name, Err: ErrMissingInput, Details: fmt.Sprintf("input %d", i)}
		}
		if !allowEmpty && in.Value().IsEmpty() {
			return &ShapeError{Node: b.name, Op: b.op, Err: ErrZeroElements,
				Details: fmt.Sprintf("input %d %q", i, in.Name())}
		}
	}
	return nil
}

// duplicate copies the shared fields. Inputs are kept only with CopyChildren
// and the value only with CopyValue.
func (b *base) duplicate(name string, flags CopyFlags) base {
	d := *b
	d.name = name
	d.inputs = make([]Node, b.arity)
	if flags&CopyChildren != 0 {
		copy(d.inputs, b.inputs)
	}
	d.value = &tensor.Matrix{}
	if flags&CopyValue != 0 {
		d.value = b.value.Clone()
	}
	d.gradient = &tensor.Matrix{}
	return d
}

// frame returns the writable columns of step t.
func (b *base) frame(m *tensor.Matrix, t int) *tensor.Matrix {
	return m.Columns(tensor.StepRange(t, b.samplesPerStep))
}

// inputFrame returns the read-only columns of step t of input i's value.
func (b *base) inputFrame(i, t int) *tensor.Matrix {
	r := tensor.StepRange(t, b.samplesPerStep)
	return b.inputs[i].Value().ReadColumns(r.Start, r.Count)
}

// Describe renders the node as name=Op(inputs) with its shape, and its
// values when includeData is set.
func (b *base) Describe(includeData bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s=%s(", b.name, b.op)
	for i, in := range b.inputs {
		if i > 0 {
			sb.WriteString(", ")
		}
		if in == nil {
			sb.WriteString("NULL")
		} else {
			sb.WriteString(in.Name())
		}
	}
	fmt.Fprintf(&sb, ")\n  value: [%d,%d] image: %dx%dx%d needsGradient: %t\n",
		b.value.Rows(), b.value.Cols(), b.image.Width, b.image.Height, b.image.Channels, b.needsGradient)
	if includeData && !b.value.IsEmpty() {
		sb.WriteString("  ")
		sb.WriteString(b.value.Format())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ensureGradient sizes n's gradient like its value, zeroing on reshape.
func ensureGradient(n Node) *tensor.Matrix {
	return sizedGradient(n.Gradient(), n.Value())
}

func sizedGradient(g, v *tensor.Matrix) *tensor.Matrix {
	if !g.SameShape(v) {
		g.Resize(v.Rows(), v.Cols())
		g.SetValue(0)
	}
	return g
}

// gradientFrame returns the writable step-t columns of n's gradient.
func gradientFrame(n Node, t int) *tensor.Matrix {
	return ensureGradient(n).Columns(tensor.StepRange(t, n.SamplesPerStep()))
}

// isLeaf reports whether n has no inputs.
func isLeaf(n Node) bool { return len(n.Inputs()) == 0 }

// valuePersister is implemented by nodes whose value is saved with the model.
type valuePersister interface {
	persistsValue() bool
}

func persistsValue(n Node) bool {
	p, ok := n.(valuePersister)
	return ok && p.persistsValue()
}

func marshalAttrs(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return raw, nil
}

func unmarshalAttrs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal attributes: %w", err)
	}
	return nil
}
