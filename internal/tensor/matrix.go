// Package tensor is the dense numeric backend used by the computation graph.
//
// Every Matrix stores one sample per column. Storage is a gonum mat.Dense,
// so column slices are cheap views that share memory with their parent.
package tensor

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense float64 matrix. The zero value is an empty 0x0 matrix.
//
// A Matrix obtained from ColumnSlice or ReadColumns is a view: it shares
// storage with its parent and cannot be resized. Views produced by
// ReadColumns are additionally read-only.
type Matrix struct {
	d        *mat.Dense // nil while the matrix is empty
	rows     int
	cols     int
	view     bool
	readOnly bool
	device   Device
}

// NewMatrix allocates a zero-filled rows x cols matrix on the CPU.
func NewMatrix(rows, cols int) *Matrix {
	m := &Matrix{}
	m.Resize(rows, cols)
	return m
}

// FromRowMajor creates a matrix from row-major data.
func FromRowMajor(rows, cols int, data []float64) (*Matrix, error) {
	if rows*cols != len(data) {
		return nil, fmt.Errorf("shape [%d,%d] requires %d elements, but got %d", rows, cols, rows*cols, len(data))
	}
	m := NewMatrix(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.d.Set(r, c, data[r*cols+c])
		}
	}
	return m, nil
}

// FromColumns creates a matrix whose columns are the given samples.
// All columns must have the same length.
func FromColumns(columns ...[]float64) (*Matrix, error) {
	if len(columns) == 0 {
		return &Matrix{}, nil
	}
	rows := len(columns[0])
	m := NewMatrix(rows, len(columns))
	for c, col := range columns {
		if len(col) != rows {
			return nil, fmt.Errorf("column %d has %d rows, expected %d", c, len(col), rows)
		}
		for r, v := range col {
			m.d.Set(r, c, v)
		}
	}
	return m, nil
}

// ColumnVector creates a rows x 1 matrix.
func ColumnVector(values ...float64) *Matrix {
	m := NewMatrix(len(values), 1)
	for r, v := range values {
		m.d.Set(r, 0, v)
	}
	return m
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns (samples).
func (m *Matrix) Cols() int { return m.cols }

// NumElements returns rows * cols.
func (m *Matrix) NumElements() int { return m.rows * m.cols }

// IsEmpty reports whether the matrix has no elements.
func (m *Matrix) IsEmpty() bool { return m.NumElements() == 0 }

// IsView reports whether m shares storage with another matrix.
func (m *Matrix) IsView() bool { return m.view }

// IsReadOnly reports whether writes through m are rejected.
func (m *Matrix) IsReadOnly() bool { return m.readOnly }

// Device returns the device holding the matrix data.
func (m *Matrix) Device() Device { return m.device }

// Dense exposes the underlying gonum matrix, nil when empty.
func (m *Matrix) Dense() *mat.Dense { return m.d }

// At returns the element at row r, column c.
func (m *Matrix) At(r, c int) float64 {
	return m.d.At(r, c)
}

// Set assigns the element at row r, column c.
func (m *Matrix) Set(r, c int, v float64) {
	m.mustWrite()
	m.d.Set(r, c, v)
}

// Resize changes the shape of m. Contents are zeroed when the shape changes.
// Views cannot be resized.
func (m *Matrix) Resize(rows, cols int) {
	if rows == m.rows && cols == m.cols {
		return
	}
	if m.view {
		panic(fmt.Sprintf("tensor: cannot resize a column view [%d,%d] to [%d,%d]", m.rows, m.cols, rows, cols))
	}
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("tensor: invalid shape [%d,%d]", rows, cols))
	}
	m.rows, m.cols = rows, cols
	if rows == 0 || cols == 0 {
		m.d = nil
		return
	}
	m.d = mat.NewDense(rows, cols, nil)
}

// Reshape reinterprets m as rows x cols, keeping the column-major element order.
func (m *Matrix) Reshape(rows, cols int) error {
	if rows*cols != m.NumElements() {
		return fmt.Errorf("%w: cannot reshape [%d,%d] to [%d,%d]", ErrShapeMismatch, m.rows, m.cols, rows, cols)
	}
	if m.view {
		return fmt.Errorf("tensor: cannot reshape a column view")
	}
	if rows == m.rows && cols == m.cols {
		return nil
	}
	old := m.ColumnMajor()
	m.Resize(rows, cols)
	for i, v := range old {
		m.d.Set(i%rows, i/rows, v)
	}
	return nil
}

// ColumnMajor returns a copy of the elements in column-major order.
func (m *Matrix) ColumnMajor() []float64 {
	out := make([]float64, 0, m.NumElements())
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			out = append(out, m.d.At(r, c))
		}
	}
	return out
}

// SetColumnMajor overwrites m with column-major data of matching length.
func (m *Matrix) SetColumnMajor(data []float64) error {
	m.mustWrite()
	if len(data) != m.NumElements() {
		return fmt.Errorf("%w: %d values for [%d,%d]", ErrShapeMismatch, len(data), m.rows, m.cols)
	}
	for i, v := range data {
		m.d.Set(i%m.rows, i/m.rows, v)
	}
	return nil
}

// Column returns a copy of column c.
func (m *Matrix) Column(c int) []float64 {
	out := make([]float64, m.rows)
	for r := range out {
		out[r] = m.d.At(r, c)
	}
	return out
}

// SetValue assigns v to every element.
func (m *Matrix) SetValue(v float64) {
	m.mustWrite()
	m.apply(func(float64) float64 { return v })
}

// CopyFrom makes m an element-wise copy of src. A non-view m is resized to
// match; a view must already have src's shape.
func (m *Matrix) CopyFrom(src *Matrix) {
	m.mustWrite()
	if m.view && (m.rows != src.rows || m.cols != src.cols) {
		panic(fmt.Sprintf("tensor: copy [%d,%d] into view [%d,%d]", src.rows, src.cols, m.rows, m.cols))
	}
	m.Resize(src.rows, src.cols)
	if src.IsEmpty() {
		return
	}
	m.d.Copy(src.d)
}

// Clone returns an independent copy of m. The copy is never a view.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{device: m.device}
	out.CopyFrom(m)
	return out
}

// SameShape reports whether m and o have identical dimensions.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.rows == o.rows && m.cols == o.cols
}

// String renders the matrix shape, and its values for small matrices.
func (m *Matrix) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Matrix[%d,%d] on %s", m.rows, m.cols, m.device)
	if m.IsEmpty() || m.NumElements() > 64 {
		return sb.String()
	}
	sb.WriteString(" ")
	sb.WriteString(m.Format())
	return sb.String()
}

// Format prints the values row by row.
func (m *Matrix) Format() string {
	var sb strings.Builder
	for r := 0; r < m.rows; r++ {
		sb.WriteString("[")
		for c := 0; c < m.cols; c++ {
			if c > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%g", m.d.At(r, c))
		}
		sb.WriteString("]")
	}
	return sb.String()
}

func (m *Matrix) mustWrite() {
	if m.readOnly {
		panic(ErrReadOnly)
	}
}

// apply replaces each element with f(element).
func (m *Matrix) apply(f func(float64) float64) {
	if m.IsEmpty() {
		return
	}
	raw := m.d.RawMatrix()
	for r := 0; r < m.rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+m.cols]
		for c, v := range row {
			row[c] = f(v)
		}
	}
}
