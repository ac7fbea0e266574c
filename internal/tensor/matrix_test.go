package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRowMajor(t *testing.T, rows, cols int, data ...float64) *Matrix {
	t.Helper()
	m, err := FromRowMajor(rows, cols, data)
	require.NoError(t, err)
	return m
}

func TestNewMatrixIsZero(t *testing.T) {
	m := NewMatrix(2, 3)
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())
	assert.Equal(t, 0.0, m.Sum())
	assert.Equal(t, CPU, m.Device())
}

func TestEmptyMatrix(t *testing.T) {
	var m Matrix
	assert.True(t, m.IsEmpty())
	m.SetValue(3)
	assert.Equal(t, 0, m.NumElements())

	m.Resize(0, 4)
	assert.True(t, m.IsEmpty())
	assert.Equal(t, 4, m.Cols())
}

func TestFromRowMajorValidatesLength(t *testing.T) {
	_, err := FromRowMajor(2, 2, []float64{1, 2, 3})
	require.Error(t, err)
}

func TestReshapeKeepsColumnMajorOrder(t *testing.T) {
	// Columns: [1 2], [3 4], [5 6].
	m := mustRowMajor(t, 2, 3, 1, 3, 5, 2, 4, 6)
	require.NoError(t, m.Reshape(3, 2))

	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, m.ColumnMajor())
	assert.Equal(t, []float64{1, 2, 3}, m.Column(0))

	err := m.Reshape(4, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestColumnSliceSharesStorage(t *testing.T) {
	m := mustRowMajor(t, 2, 4, 1, 2, 3, 4, 5, 6, 7, 8)
	v := m.ColumnSlice(1, 2)
	require.True(t, v.IsView())
	assert.Equal(t, 2, v.Cols())

	v.Set(0, 0, 20)
	assert.Equal(t, 20.0, m.At(0, 1))

	v.SetValue(0)
	assert.Equal(t, []float64{1, 5, 0, 0, 0, 0, 4, 8}, m.ColumnMajor())
}

func TestReadColumnsRejectsWrites(t *testing.T) {
	m := mustRowMajor(t, 1, 3, 1, 2, 3)
	v := m.ReadColumns(0, 2)
	assert.Equal(t, 2.0, v.At(0, 1))

	assert.PanicsWithValue(t, ErrReadOnly, func() { v.Set(0, 0, 5) })
	assert.PanicsWithValue(t, ErrReadOnly, func() { v.Add(v) })
	assert.Equal(t, 1.0, m.At(0, 0))
}

func TestViewCannotResize(t *testing.T) {
	m := NewMatrix(2, 4)
	v := m.Columns(StepRange(1, 2))
	assert.Equal(t, ColumnRange{Start: 2, Count: 2}, StepRange(1, 2))
	assert.Panics(t, func() { v.Resize(2, 3) })
}

func TestCloneIsIndependent(t *testing.T) {
	m := mustRowMajor(t, 1, 2, 1, 2)
	c := m.ReadColumns(0, 2).Clone()
	assert.False(t, c.IsView())
	assert.False(t, c.IsReadOnly())

	c.Set(0, 0, 9)
	assert.Equal(t, 1.0, m.At(0, 0))
}

func TestTransferTo(t *testing.T) {
	m := NewMatrix(1, 1)
	require.NoError(t, m.TransferTo(CPU))
	assert.ErrorIs(t, m.TransferTo(CUDA), ErrUnsupportedDevice)
}

func TestElementwiseOps(t *testing.T) {
	a := mustRowMajor(t, 2, 2, 1, 2, 3, 4)
	b := mustRowMajor(t, 2, 2, 4, 3, 2, 1)

	var sum Matrix
	sum.AssignSum(a, b)
	assert.Equal(t, []float64{5, 5, 5, 5}, sum.ColumnMajor())

	var diff Matrix
	diff.AssignDifferenceOf(a, b)
	assert.Equal(t, []float64{-3, 1, -1, 3}, diff.ColumnMajor())

	var prod Matrix
	prod.AssignElementProductOf(a, b)
	assert.Equal(t, []float64{4, 6, 6, 4}, prod.ColumnMajor())

	prod.AddScaled(0.5, b)
	assert.Equal(t, []float64{6, 7, 7.5, 4.5}, prod.ColumnMajor())

	var sq Matrix
	sq.AssignSquareOf(a)
	sq.InplaceSqrt()
	assert.InDelta(t, 0, sq.MaxAbsDiff(a), 1e-12)

	sq.ElementInverse()
	assert.InDelta(t, 0.25, sq.At(1, 1), 1e-12)

	sq.TruncateBottom(0.5)
	assert.Equal(t, []float64{1, 0.5, 0.5, 0.5}, sq.ColumnMajor())
}

func TestColumnBroadcast(t *testing.T) {
	a := mustRowMajor(t, 2, 3, 1, 2, 3, 4, 5, 6)
	col := ColumnVector(1, 2)

	var out Matrix
	out.AssignColumnBroadcastDifference(a, col)
	out.ColumnElementMultiplyWith(ColumnVector(2, 10))
	assert.Equal(t, []float64{0, 20, 2, 30, 4, 40}, out.ColumnMajor())
}

func TestRowSums(t *testing.T) {
	a := mustRowMajor(t, 2, 3, 1, 2, 3, 4, 5, 6)
	s := a.RowSums()
	assert.Equal(t, []float64{6, 15}, s.ColumnMajor())
	assert.Equal(t, 21.0, a.Sum())
}
