package graph

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/cngraph/internal/tensor"
	"github.com/stretchr/testify/require"
)

func rowMajor(t *testing.T, rows, cols int, data ...float64) *tensor.Matrix {
	t.Helper()
	m, err := tensor.FromRowMajor(rows, cols, data)
	require.NoError(t, err)
	return m
}

func randomMatrix(rng *rand.Rand, rows, cols int) *tensor.Matrix {
	m := tensor.NewMatrix(rows, cols)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			m.Set(r, c, rng.Float64()*2-1)
		}
	}
	return m
}

func parameter(t *testing.T, name string, m *tensor.Matrix) *LearnableParameter {
	t.Helper()
	p := NewLearnableParameter(name, m.Rows(), m.Cols())
	p.Value().CopyFrom(m)
	p.Init = InitNone
	require.NoError(t, p.Initialize(false))
	return p
}

func input(t *testing.T, name string, m *tensor.Matrix) *InputValue {
	t.Helper()
	in := NewInputValue(name, m.Rows(), m.Cols())
	require.NoError(t, in.SetData(m))
	return in
}

func add(t *testing.T, net *Network, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		_, err := net.AddNode(n)
		require.NoError(t, err)
	}
}

func attach(t *testing.T, n Node, inputs ...Node) Node {
	t.Helper()
	require.NoError(t, n.AttachInputs(inputs...))
	return n
}

// numericGradient differentiates f with respect to every element of m by
// central differences.
func numericGradient(m *tensor.Matrix, f func() float64) *tensor.Matrix {
	const eps = 1e-6
	g := tensor.NewMatrix(m.Rows(), m.Cols())
	for c := 0; c < m.Cols(); c++ {
		for r := 0; r < m.Rows(); r++ {
			orig := m.At(r, c)
			m.Set(r, c, orig+eps)
			up := f()
			m.Set(r, c, orig-eps)
			down := f()
			m.Set(r, c, orig)
			g.Set(r, c, (up-down)/(2*eps))
		}
	}
	return g
}

// weightedSum is Σ a ⊙ b.
func weightedSum(a, b *tensor.Matrix) float64 {
	var prod tensor.Matrix
	prod.AssignElementProductOf(a, b)
	return prod.Sum()
}
