package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ColumnRange is an offset+length window over the columns of a matrix.
// Recurrent evaluation uses one range per time step.
type ColumnRange struct {
	Start int
	Count int
}

// StepRange returns the columns belonging to time step t when every step
// holds samplesPerStep columns.
func StepRange(t, samplesPerStep int) ColumnRange {
	return ColumnRange{Start: t * samplesPerStep, Count: samplesPerStep}
}

// End returns the first column past the range.
func (r ColumnRange) End() int { return r.Start + r.Count }

// ColumnSlice returns a writable view over columns [start, start+n).
func (m *Matrix) ColumnSlice(start, n int) *Matrix {
	return m.slice(start, n, m.readOnly)
}

// ReadColumns returns a read-only view over columns [start, start+n).
func (m *Matrix) ReadColumns(start, n int) *Matrix {
	return m.slice(start, n, true)
}

// Columns returns a writable view described by r.
func (m *Matrix) Columns(r ColumnRange) *Matrix {
	return m.ColumnSlice(r.Start, r.Count)
}

func (m *Matrix) slice(start, n int, readOnly bool) *Matrix {
	if start < 0 || n < 0 || start+n > m.cols {
		panic(fmt.Sprintf("tensor: column slice [%d,%d) out of range for %d columns", start, start+n, m.cols))
	}
	v := &Matrix{rows: m.rows, cols: n, view: true, readOnly: readOnly, device: m.device}
	if m.rows > 0 && n > 0 {
		v.d = m.d.Slice(0, m.rows, start, start+n).(*mat.Dense)
	}
	return v
}
