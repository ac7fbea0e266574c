package graph

import (
	"testing"

	"github.com/born-ml/cngraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var window2x2 = PoolingParams{WindowWidth: 2, WindowHeight: 2, HorizontalSubsample: 1, VerticalSubsample: 1}

// pixelIndexImage returns a 3x3 single-channel sample whose pixels hold their row index.
func pixelIndexImage(t *testing.T) *InputValue {
	x := NewImageInput("x", ImageLayout{Width: 3, Height: 3, Channels: 1}, 1)
	require.NoError(t, x.SetData(rowMajor(t, 9, 1, 0, 1, 2, 3, 4, 5, 6, 7, 8)))
	return x
}

func TestAveragePoolingGradientRedistributes(t *testing.T) {
	x := pixelIndexImage(t)
	pool := attach(t, NewAveragePooling("pool", window2x2), x)
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Evaluate())
	assert.Equal(t, []float64{2, 3, 5, 6}, pool.Value().ColumnMajor())

	pool.Gradient().Resize(4, 1)
	pool.Gradient().SetValue(1)
	require.NoError(t, pool.ComputeInputGradient(0))

	// Each pixel gets 1/4 per window that covers it.
	assert.Equal(t, []float64{
		0.25, 0.5, 0.25,
		0.5, 1, 0.5,
		0.25, 0.5, 0.25,
	}, x.Gradient().ColumnMajor())
	assert.InDelta(t, 4, x.Gradient().Sum(), 1e-12)
}

func TestMaxPoolingGradientGoesToArgmax(t *testing.T) {
	x := pixelIndexImage(t)
	pool := attach(t, NewMaxPooling("pool", window2x2), x)
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Evaluate())
	assert.Equal(t, []float64{4, 5, 7, 8}, pool.Value().ColumnMajor())

	upstream := rowMajor(t, 4, 1, 1, 2, 3, 4)
	pool.Gradient().CopyFrom(upstream)
	require.NoError(t, pool.ComputeInputGradient(0))

	assert.Equal(t, []float64{0, 0, 0, 0, 1, 2, 0, 3, 4}, x.Gradient().ColumnMajor())
	assert.InDelta(t, upstream.Sum(), x.Gradient().Sum(), 1e-12)
}

func TestMaxPoolingTieGoesToFirstPosition(t *testing.T) {
	x := NewImageInput("x", ImageLayout{Width: 2, Height: 2, Channels: 1}, 1)
	require.NoError(t, x.SetData(tensor.ColumnVector(7, 7, 7, 7)))
	pool := attach(t, NewMaxPooling("pool", window2x2), x)
	require.NoError(t, pool.Validate())
	require.NoError(t, pool.Evaluate())

	pool.Gradient().Resize(1, 1)
	pool.Gradient().SetValue(1)
	require.NoError(t, pool.ComputeInputGradient(0))
	assert.Equal(t, []float64{1, 0, 0, 0}, x.Gradient().ColumnMajor())
}

func TestPoolingPreservesChannels(t *testing.T) {
	x := NewImageInput("x", ImageLayout{Width: 4, Height: 6, Channels: 3}, 2)
	pool := attach(t, NewAveragePooling("pool", PoolingParams{WindowWidth: 2, WindowHeight: 3, HorizontalSubsample: 2, VerticalSubsample: 3}), x)
	require.NoError(t, pool.Validate())
	assert.Equal(t, ImageLayout{Width: 2, Height: 2, Channels: 3}, pool.Image())
	assert.Equal(t, 12, pool.Value().Rows())
	assert.Equal(t, 2, pool.Value().Cols())
}

func TestPoolingValidation(t *testing.T) {
	image := ImageLayout{Width: 4, Height: 4, Channels: 1}
	cases := []struct {
		name string
		p    PoolingParams
		in   Node
	}{
		{"stride wider than window", PoolingParams{WindowWidth: 2, WindowHeight: 2, HorizontalSubsample: 3, VerticalSubsample: 1}, NewImageInput("x", image, 1)},
		{"stride taller than window", PoolingParams{WindowWidth: 2, WindowHeight: 2, HorizontalSubsample: 1, VerticalSubsample: 3}, NewImageInput("x", image, 1)},
		{"window larger than input", PoolingParams{WindowWidth: 5, WindowHeight: 2, HorizontalSubsample: 1, VerticalSubsample: 1}, NewImageInput("x", image, 1)},
		{"rows disagree with layout", window2x2, func() Node {
			x := NewInputValue("x", 10, 1)
			x.SetImage(image)
			return x
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, n := range []Node{NewMaxPooling("max", tc.p), NewAveragePooling("avg", tc.p)} {
				attach(t, n, tc.in)
				err := n.Validate()
				require.ErrorIs(t, err, ErrShapeMismatch)
				var shapeErr *ShapeError
				require.ErrorAs(t, err, &shapeErr)
				assert.Equal(t, n.Name(), shapeErr.Node)
			}
		})
	}
}

func TestPoolingPerStep(t *testing.T) {
	x := NewImageInput("x", ImageLayout{Width: 2, Height: 2, Channels: 1}, 2)
	require.NoError(t, x.SetData(rowMajor(t, 4, 2,
		1, 10,
		2, 20,
		3, 30,
		4, 40)))
	pool := attach(t, NewMaxPooling("pool", window2x2), x)
	require.NoError(t, pool.Validate())

	require.NoError(t, pool.EvaluateAt(1))
	assert.Equal(t, []float64{0, 40}, pool.Value().ColumnMajor())
	require.NoError(t, pool.EvaluateAt(0))
	assert.Equal(t, []float64{4, 40}, pool.Value().ColumnMajor())

	pool.Gradient().Resize(1, 2)
	pool.Gradient().SetValue(1)
	require.NoError(t, pool.ComputeInputGradientAt(0, 1))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 0, 1}, x.Gradient().ColumnMajor())
}
