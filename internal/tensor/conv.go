package tensor

import (
	"fmt"

	"github.com/born-ml/cngraph/internal/parallel"
)

// kernelConfig drives per-sample parallelism in the image kernels.
var kernelConfig = parallel.SampleConfig()

// ImageIndex returns the row of element (x, y, c) in a column holding a
// width x height x channels image. Channels vary fastest.
func ImageIndex(x, y, c, height, channels int) int {
	return (x*height+y)*channels + c
}

// ConvOutputSize returns the number of kernel placements along one axis.
// With zero padding the kernel is centered on every stride step.
func ConvOutputSize(in, kernel, stride int, zeroPadding bool) int {
	if zeroPadding {
		return (in-kernel%2)/stride + 1
	}
	return (in-kernel)/stride + 1
}

// ConvGeometry describes one convolution in the channel-fastest layout.
type ConvGeometry struct {
	InWidth, InHeight, InChannels int
	KernelWidth, KernelHeight     int
	StrideX, StrideY              int
	OutWidth, OutHeight           int
	ZeroPadding                   bool
}

// NewConvGeometry derives the output size from the input, kernel and stride.
func NewConvGeometry(inW, inH, inC, kW, kH, sx, sy int, zeroPadding bool) ConvGeometry {
	return ConvGeometry{
		InWidth: inW, InHeight: inH, InChannels: inC,
		KernelWidth: kW, KernelHeight: kH,
		StrideX: sx, StrideY: sy,
		OutWidth:    ConvOutputSize(inW, kW, sx, zeroPadding),
		OutHeight:   ConvOutputSize(inH, kH, sy, zeroPadding),
		ZeroPadding: zeroPadding,
	}
}

// PackedRows is the row count of a packed input matrix.
func (g ConvGeometry) PackedRows() int {
	return g.KernelWidth * g.KernelHeight * g.InChannels
}

// OutputPositions is the number of kernel placements per sample.
func (g ConvGeometry) OutputPositions() int {
	return g.OutWidth * g.OutHeight
}

// InputRows is the row count of one input sample.
func (g ConvGeometry) InputRows() int {
	return g.InWidth * g.InHeight * g.InChannels
}

func (g ConvGeometry) padding() (int, int) {
	if !g.ZeroPadding {
		return 0, 0
	}
	return g.KernelWidth / 2, g.KernelHeight / 2
}

// visit calls f(packedRow, inputRow) for every kernel element of placement
// (ox, oy). inputRow is -1 where the kernel covers padding.
func (g ConvGeometry) visit(ox, oy int, f func(packedRow, inputRow int)) {
	padX, padY := g.padding()
	for kx := 0; kx < g.KernelWidth; kx++ {
		x := ox*g.StrideX + kx - padX
		for ky := 0; ky < g.KernelHeight; ky++ {
			y := oy*g.StrideY + ky - padY
			inside := x >= 0 && x < g.InWidth && y >= 0 && y < g.InHeight
			for c := 0; c < g.InChannels; c++ {
				row := (kx*g.KernelHeight+ky)*g.InChannels + c
				if inside {
					f(row, ImageIndex(x, y, c, g.InHeight, g.InChannels))
				} else {
					f(row, -1)
				}
			}
		}
	}
}

// AssignPackedConvolutionInput unfolds every kernel placement of every input
// sample into packed, which becomes PackedRows x (OutputPositions·samples).
// Column s·OutputPositions + ox·OutHeight + oy holds placement (ox, oy) of sample s.
func AssignPackedConvolutionInput(packed, input *Matrix, g ConvGeometry) {
	if input.rows != g.InputRows() {
		panic(fmt.Sprintf("tensor: convolution input has %d rows, geometry needs %d", input.rows, g.InputRows()))
	}
	positions := g.OutputPositions()
	packed.Resize(g.PackedRows(), positions*input.cols)
	packed.mustWrite()
	parallel.ForSamples(input.cols, positions, func(s, p int) {
		ox, oy := p/g.OutHeight, p%g.OutHeight
		col := s*positions + p
		g.visit(ox, oy, func(row, in int) {
			if in < 0 {
				packed.d.Set(row, col, 0)
				return
			}
			packed.d.Set(row, col, input.d.At(in, s))
		})
	}, kernelConfig)
}

// UnpackConvolutionInput scatter-adds a packed gradient back into the input
// layout. Overlapping placements accumulate.
func UnpackConvolutionInput(inputGrad, packed *Matrix, g ConvGeometry) {
	inputGrad.mustWrite()
	positions := g.OutputPositions()
	if inputGrad.rows != g.InputRows() || packed.rows != g.PackedRows() || packed.cols != positions*inputGrad.cols {
		panic(fmt.Sprintf("tensor: cannot unpack [%d,%d] into [%d,%d]", packed.rows, packed.cols, inputGrad.rows, inputGrad.cols))
	}
	parallel.ForSamples(inputGrad.cols, positions, func(s, p int) {
		ox, oy := p/g.OutHeight, p%g.OutHeight
		col := s*positions + p
		g.visit(ox, oy, func(row, in int) {
			if in < 0 {
				return
			}
			inputGrad.d.Set(in, s, inputGrad.d.At(in, s)+packed.d.At(row, col))
		})
	}, kernelConfig)
}
