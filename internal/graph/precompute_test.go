package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/born-ml/cngraph/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanIsIndependentOfChunking(t *testing.T) {
	data := rowMajor(t, 2, 5,
		1, 2, 3, 4, 5,
		2, 4, 6, 8, 10)

	whole := New()
	x := NewInputValue("x", 2, 5)
	mean := NewMean("mean")
	add(t, whole, x, attach(t, mean, x))
	require.NoError(t, whole.AccumulatePrecompute(map[string]*tensor.Matrix{"x": data}))
	whole.FinishPrecompute()

	chunked := New()
	cx := NewInputValue("x", 2, 3)
	cmean := NewMean("mean")
	add(t, chunked, cx, attach(t, cmean, cx))
	require.NoError(t, chunked.AccumulatePrecompute(map[string]*tensor.Matrix{"x": data.ReadColumns(0, 3)}))
	require.NoError(t, chunked.AccumulatePrecompute(map[string]*tensor.Matrix{"x": data.ReadColumns(3, 2)}))
	assert.Equal(t, 5, cmean.SamplesSeen())
	chunked.FinishPrecompute()

	assert.InDelta(t, 3.0, mean.Value().At(0, 0), 1e-12)
	assert.InDelta(t, 6.0, mean.Value().At(1, 0), 1e-12)
	assert.InDelta(t, 0, mean.Value().MaxAbsDiff(cmean.Value()), 1e-12)
	assert.True(t, cmean.HasComputed())
	assert.Equal(t, 0, cmean.SamplesSeen())
}

func TestMeanStopsAccumulatingOnceComputed(t *testing.T) {
	net := New()
	x := NewInputValue("x", 1, 2)
	mean := NewMean("mean")
	add(t, net, x, attach(t, mean, x))

	require.NoError(t, net.AccumulatePrecompute(map[string]*tensor.Matrix{"x": rowMajor(t, 1, 2, 2, 4)}))
	net.FinishPrecompute()
	assert.False(t, net.RequiresPrecompute())

	require.NoError(t, net.SetInput("x", rowMajor(t, 1, 2, 100, 100)))
	require.NoError(t, net.Evaluate(mean))
	assert.Equal(t, 3.0, mean.Value().At(0, 0))

	net.ResetPrecompute()
	assert.True(t, net.RequiresPrecompute())
	require.NoError(t, net.Evaluate(mean))
	assert.Equal(t, 100.0, mean.Value().At(0, 0))
}

func TestInvStdDevMatchesKnownVariance(t *testing.T) {
	net := New()
	x := NewInputValue("x", 2, 4)
	std := NewInvStdDev("std")
	add(t, net, x, attach(t, std, x))

	data := rowMajor(t, 2, 4,
		1, 2, 3, 4,
		5, 5, 5, 5)
	require.NoError(t, net.AccumulatePrecompute(map[string]*tensor.Matrix{"x": data.ReadColumns(0, 1)}))
	require.NoError(t, net.AccumulatePrecompute(map[string]*tensor.Matrix{"x": data.ReadColumns(1, 3)}))
	net.FinishPrecompute()

	// Row 0 has variance 1.25; row 1 is constant and hits the floor.
	assert.InDelta(t, 1/math.Sqrt(1.25), std.Value().At(0, 0), 1e-9)
	assert.InDelta(t, 1/math.Sqrt(varianceFloor), std.Value().At(1, 0), 1e-3)
}

func TestStatisticsRejectGradientsAndSteps(t *testing.T) {
	x := NewInputValue("x", 1, 1)
	for _, n := range []PrecomputeNode{NewMean("m"), NewInvStdDev("s")} {
		attach(t, n, x)
		require.NoError(t, n.Validate())
		assert.False(t, n.NeedsGradient())
		n.SetNeedsGradient(true)
		assert.False(t, n.NeedsGradient())

		err := n.ComputeInputGradient(0)
		require.ErrorIs(t, err, ErrGradientNotSupported)
		var unsupportedErr *UnsupportedOperationError
		require.True(t, errors.As(err, &unsupportedErr))
		assert.Equal(t, n.OperationName(), unsupportedErr.Op)

		require.ErrorIs(t, n.EvaluateAt(0), ErrRecurrentNotSupported)
	}
}

func TestStatisticRequiresNonEmptyInput(t *testing.T) {
	m := attach(t, NewMean("m"), NewInputValue("x", 0, 0))
	require.ErrorIs(t, m.Validate(), ErrZeroElements)
}

func TestNestedPrecomputeIsRejected(t *testing.T) {
	net := New()
	x := NewInputValue("x", 2, 2)
	inner := attach(t, NewMean("inner"), x)
	outer := attach(t, NewMean("outer"), inner)
	add(t, net, x, inner, outer)

	require.ErrorIs(t, net.Validate(), ErrNestedPrecompute)
}

func TestStatisticStateSurvivesDuplicate(t *testing.T) {
	net := New()
	x := NewInputValue("x", 1, 2)
	mean := NewMean("mean")
	add(t, net, x, attach(t, mean, x))
	require.NoError(t, net.AccumulatePrecompute(map[string]*tensor.Matrix{"x": rowMajor(t, 1, 2, 1, 3)}))
	net.FinishPrecompute()

	dup := mean.Duplicate("copy", CopyAll).(*Mean)
	assert.True(t, dup.HasComputed())
	assert.Equal(t, 2.0, dup.Value().At(0, 0))

	bare := mean.Duplicate("bare", CopyChildren).(*Mean)
	assert.False(t, bare.HasComputed())
	assert.Same(t, x, bare.Input(0))
}
