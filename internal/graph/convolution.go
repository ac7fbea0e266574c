package graph

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/cngraph/internal/tensor"
)

// OpConvolution is the operation tag of Convolution.
const OpConvolution = "Convolution"

// ConvolutionParams are the static settings of a Convolution node.
type ConvolutionParams struct {
	KernelWidth             int  `json:"kernelWidth"`
	KernelHeight            int  `json:"kernelHeight"`
	OutputChannels          int  `json:"outputChannels"`
	HorizontalSubsample     int  `json:"horizontalSubsample"`
	VerticalSubsample       int  `json:"verticalSubsample"`
	ZeroPadding             bool `json:"zeroPadding"`
	MaxTempMemSizeInSamples int  `json:"maxTempMemSizeInSamples"`
}

// Convolution applies OutputChannels kernels to image samples.
//
// Inputs are (weight, feature). The weight is
// OutputChannels x (KernelWidth·KernelHeight·inputChannels) and the
// feature holds one width x height x channels image per column. Samples
// are processed in sub-batches of at most MaxTempMemSizeInSamples (0 means
// the whole batch) to bound the size of the packed input.
type Convolution struct {
	base
	ConvolutionParams
	geometry tensor.ConvGeometry

	packed     tensor.Matrix // packed input of the last sub-batch
	packedGrad tensor.Matrix
	product    tensor.Matrix

	// subBatches is the sub-batch count of the last forward pass over the
	// whole batch; zero after a per-step pass.
	subBatches int
}

// NewConvolution creates a Convolution node.
func NewConvolution(name string, p ConvolutionParams) *Convolution {
	return &Convolution{base: newBase(OpConvolution, name, 2), ConvolutionParams: p}
}

// Geometry returns the geometry derived by the last Validate.
func (n *Convolution) Geometry() tensor.ConvGeometry { return n.geometry }

// Validate derives the output geometry, sizes an empty weight to
// [outputChannels, kernelWidth·kernelHeight·inputChannels] and checks the
// input rows against the image layout.
func (n *Convolution) Validate() error {
	if err := n.checkInputs(true); err != nil {
		return err
	}
	p := n.ConvolutionParams
	if p.KernelWidth < 1 || p.KernelHeight < 1 || p.HorizontalSubsample < 1 || p.VerticalSubsample < 1 || p.OutputChannels < 1 {
		return shapeErrorf(n, ErrShapeMismatch, "kernel, stride and output channels must be positive: %+v", p)
	}
	if p.HorizontalSubsample > p.KernelWidth || p.VerticalSubsample > p.KernelHeight {
		return shapeErrorf(n, ErrShapeMismatch, "horizontalSubsample must <= kernelWidth and verticalSubsample must <= kernelHeight")
	}

	weight, feature := n.inputs[0], n.inputs[1]
	in := feature.Image()
	if in.Width < p.KernelWidth || in.Height < p.KernelHeight {
		return shapeErrorf(n, ErrShapeMismatch, "input %dx%d is smaller than kernel %dx%d",
			in.Width, in.Height, p.KernelWidth, p.KernelHeight)
	}
	g := tensor.NewConvGeometry(in.Width, in.Height, in.Channels,
		p.KernelWidth, p.KernelHeight, p.HorizontalSubsample, p.VerticalSubsample, p.ZeroPadding)

	autoSize(weight, p.OutputChannels, g.PackedRows())
	w := weight.Value()
	if w.Rows() != p.OutputChannels || w.Cols() != g.PackedRows() {
		return shapeErrorf(n, ErrShapeMismatch,
			"weight %q should be [%d,%d] which is [outputChannels, kernelWidth * kernelHeight * inputChannels], got [%d,%d]",
			weight.Name(), p.OutputChannels, g.PackedRows(), w.Rows(), w.Cols())
	}

	if fp, ok := feature.(*LearnableParameter); ok && fp.value.Rows() == 0 {
		fp.value.Resize(g.InputRows(), fp.value.Cols())
	}
	x := feature.Value()
	if x.Rows() != g.InputRows() {
		return shapeErrorf(n, ErrShapeMismatch,
			"each input column should have %d rows, which is inputWidth * inputHeight * inputChannels, got %d",
			g.InputRows(), x.Rows())
	}
	if w.IsEmpty() || x.IsEmpty() {
		return shapeErrorf(n, ErrZeroElements, "one of the operands has 0 elements")
	}

	n.geometry = g
	n.value.Resize(p.OutputChannels*g.OutputPositions(), x.Cols())
	n.image = ImageLayout{Width: g.OutWidth, Height: g.OutHeight, Channels: p.OutputChannels}
	return nil
}

// subBatchSize returns the number of samples packed at once.
func (n *Convolution) subBatchSize(samples int) int {
	if n.MaxTempMemSizeInSamples > 0 && n.MaxTempMemSizeInSamples < samples {
		return n.MaxTempMemSizeInSamples
	}
	return max(samples, 1)
}

// Evaluate convolves the whole batch, packing at most
// MaxTempMemSizeInSamples samples at a time.
func (n *Convolution) Evaluate() error {
	x := n.inputs[1].Value()
	out := n.output(wholeBatch, n.OutputChannels*n.geometry.OutputPositions(), x.Cols())
	n.subBatches = n.forward(out, x)
	return nil
}

func (n *Convolution) EvaluateAt(t int) error {
	n.forward(n.output(t, 0, 0), n.operand(1, t))
	n.subBatches = 0
	return nil
}

// forward convolves x into out and returns the number of sub-batches used.
func (n *Convolution) forward(out, x *tensor.Matrix) int {
	w := n.inputs[0].Value()
	samples := x.Cols()
	size := n.subBatchSize(samples)
	count := 0
	for start := 0; start < samples; start += size {
		sb := min(size, samples-start)
		tensor.AssignPackedConvolutionInput(&n.packed, x.ReadColumns(start, sb), n.geometry)
		tensor.Multiply(w, false, &n.packed, false, &n.product)
		// [outC, positions·sb] in column-major order is [outC·positions, sb].
		if err := n.product.Reshape(n.OutputChannels*n.geometry.OutputPositions(), sb); err != nil {
			panic(err)
		}
		out.ColumnSlice(start, sb).CopyFrom(&n.product)
		count++
	}
	return count
}

func (n *Convolution) ComputeInputGradient(i int) error {
	return n.backward(i, n.outputGradient(wholeBatch), n.inputs[1].Value(), n.operandGradient(i, wholeBatch), false)
}

func (n *Convolution) ComputeInputGradientAt(i, t int) error {
	return n.backward(i, n.outputGradient(t), n.operand(1, t), n.operandGradient(i, t), true)
}

// backward accumulates the gradient of input i. The packed input left by
// the forward pass is reused only when it covered the whole batch in one
// sub-batch; per-step calls always repack.
func (n *Convolution) backward(i int, g, x, dst *tensor.Matrix, perStep bool) error {
	if i != 0 && i != 1 {
		return shapeErrorf(n, ErrArity, "convolution has two inputs, got index %d", i)
	}
	w := n.inputs[0].Value()
	positions := n.geometry.OutputPositions()
	samples := g.Cols()
	size := n.subBatchSize(samples)
	reuse := n.subBatches == 1 && !perStep && size >= samples

	for start := 0; start < samples; start += size {
		sb := min(size, samples-start)
		gsub := g.ReadColumns(start, sb).Clone()
		if err := gsub.Reshape(n.OutputChannels, positions*sb); err != nil {
			return err
		}
		if i == 0 {
			if !reuse {
				tensor.AssignPackedConvolutionInput(&n.packed, x.ReadColumns(start, sb), n.geometry)
			}
			tensor.MultiplyAndAdd(gsub, false, &n.packed, true, dst)
			continue
		}
		tensor.Multiply(w, true, gsub, false, &n.packedGrad)
		tensor.UnpackConvolutionInput(dst.ColumnSlice(start, sb), &n.packedGrad, n.geometry)
	}
	return nil
}

// Duplicate copies the parameters and the derived geometry. Packing
// buffers are not shared.
func (n *Convolution) Duplicate(name string, flags CopyFlags) Node {
	d := NewConvolution(name, n.ConvolutionParams)
	d.base = n.base.duplicate(name, flags)
	d.geometry = n.geometry
	return d
}

func (n *Convolution) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(n.ConvolutionParams)
}

func (n *Convolution) UnmarshalAttrs(raw json.RawMessage, modelVersion int) error {
	var p ConvolutionParams
	if err := unmarshalAttrs(raw, &p); err != nil {
		return err
	}
	if modelVersion < 2 {
		// Version 1 models predate the sub-batch cap.
		p.MaxTempMemSizeInSamples = 0
	}
	n.ConvolutionParams = p
	return nil
}

func (n *Convolution) Describe(includeData bool) string {
	p := n.ConvolutionParams
	return n.base.Describe(includeData) + fmt.Sprintf(
		"  kernel: %dx%d stride: %dx%d outputChannels: %d zeroPadding: %t maxTempMemSizeInSamples: %d\n",
		p.KernelWidth, p.KernelHeight, p.HorizontalSubsample, p.VerticalSubsample,
		p.OutputChannels, p.ZeroPadding, p.MaxTempMemSizeInSamples)
}
