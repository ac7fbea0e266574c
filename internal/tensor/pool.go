package tensor

import (
	"fmt"

	"github.com/born-ml/cngraph/internal/parallel"
)

// PoolOutputSize returns the number of windows along one axis.
func PoolOutputSize(in, window, stride int) int {
	return (in-window)/stride + 1
}

// PoolGeometry describes a pooling window sweep. Channels are pooled
// independently.
type PoolGeometry struct {
	InWidth, InHeight, Channels int
	WindowWidth, WindowHeight   int
	StrideX, StrideY            int
	OutWidth, OutHeight         int
}

// NewPoolGeometry derives the output size from input, window and stride.
func NewPoolGeometry(inW, inH, channels, winW, winH, sx, sy int) PoolGeometry {
	return PoolGeometry{
		InWidth: inW, InHeight: inH, Channels: channels,
		WindowWidth: winW, WindowHeight: winH,
		StrideX: sx, StrideY: sy,
		OutWidth:  PoolOutputSize(inW, winW, sx),
		OutHeight: PoolOutputSize(inH, winH, sy),
	}
}

// InputRows is the row count of one input sample.
func (g PoolGeometry) InputRows() int { return g.InWidth * g.InHeight * g.Channels }

// OutputRows is the row count of one output sample.
func (g PoolGeometry) OutputRows() int { return g.OutWidth * g.OutHeight * g.Channels }

// WindowSize is the number of elements covered by one window.
func (g PoolGeometry) WindowSize() int { return g.WindowWidth * g.WindowHeight }

func (g PoolGeometry) check(op string, in, out *Matrix) {
	if in.rows != g.InputRows() || out.rows != g.OutputRows() || in.cols != out.cols {
		panic(fmt.Sprintf("tensor: %s: input [%d,%d] and output [%d,%d] do not fit geometry %dx%dx%d",
			op, in.rows, in.cols, out.rows, out.cols, g.InWidth, g.InHeight, g.Channels))
	}
}

// window calls f with the input row of every element in output window
// (ox, oy) for channel c, x outer and y inner.
func (g PoolGeometry) window(ox, oy, c int, f func(inRow int) bool) {
	for wx := 0; wx < g.WindowWidth; wx++ {
		x := ox*g.StrideX + wx
		for wy := 0; wy < g.WindowHeight; wy++ {
			y := oy*g.StrideY + wy
			if !f(ImageIndex(x, y, c, g.InHeight, g.Channels)) {
				return
			}
		}
	}
}

func (g PoolGeometry) each(samples int, f func(s, ox, oy, c, outRow int)) {
	parallel.ForSamples(samples, g.OutWidth*g.OutHeight, func(s, p int) {
		ox, oy := p/g.OutHeight, p%g.OutHeight
		for c := 0; c < g.Channels; c++ {
			f(s, ox, oy, c, ImageIndex(ox, oy, c, g.OutHeight, g.Channels))
		}
	}, kernelConfig)
}

// AssignMaxPoolingResult writes the maximum of every window into out.
func AssignMaxPoolingResult(out, in *Matrix, g PoolGeometry) {
	out.mustWrite()
	g.check("AssignMaxPoolingResult", in, out)
	g.each(in.cols, func(s, ox, oy, c, outRow int) {
		first := true
		var best float64
		g.window(ox, oy, c, func(inRow int) bool {
			v := in.d.At(inRow, s)
			if first || v > best {
				best, first = v, false
			}
			return true
		})
		out.d.Set(outRow, s, best)
	})
}

// AddMaxPoolingGradient routes each output gradient to the first window
// element that equals the forward maximum.
func AddMaxPoolingGradient(inGrad, outGrad, in, out *Matrix, g PoolGeometry) {
	inGrad.mustWrite()
	g.check("AddMaxPoolingGradient", in, out)
	g.check("AddMaxPoolingGradient", inGrad, outGrad)
	g.each(in.cols, func(s, ox, oy, c, outRow int) {
		target := out.d.At(outRow, s)
		g.window(ox, oy, c, func(inRow int) bool {
			if in.d.At(inRow, s) != target {
				return true
			}
			inGrad.d.Set(inRow, s, inGrad.d.At(inRow, s)+outGrad.d.At(outRow, s))
			return false
		})
	})
}

// AssignAveragePoolingResult writes the mean of every window into out.
func AssignAveragePoolingResult(out, in *Matrix, g PoolGeometry) {
	out.mustWrite()
	g.check("AssignAveragePoolingResult", in, out)
	n := float64(g.WindowSize())
	g.each(in.cols, func(s, ox, oy, c, outRow int) {
		var sum float64
		g.window(ox, oy, c, func(inRow int) bool {
			sum += in.d.At(inRow, s)
			return true
		})
		out.d.Set(outRow, s, sum/n)
	})
}

// AddAveragePoolingGradient spreads each output gradient evenly across its
// window. Overlapping windows accumulate.
func AddAveragePoolingGradient(inGrad, outGrad *Matrix, g PoolGeometry) {
	inGrad.mustWrite()
	g.check("AddAveragePoolingGradient", inGrad, outGrad)
	n := float64(g.WindowSize())
	g.each(inGrad.cols, func(s, ox, oy, c, outRow int) {
		share := outGrad.d.At(outRow, s) / n
		g.window(ox, oy, c, func(inRow int) bool {
			inGrad.d.Set(inRow, s, inGrad.d.At(inRow, s)+share)
			return true
		})
	})
}
