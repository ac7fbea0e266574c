package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func mustSameShape(op string, a, b *Matrix) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("tensor: %s: shape mismatch [%d,%d] vs [%d,%d]", op, a.rows, a.cols, b.rows, b.cols))
	}
}

// prepareTarget resizes m to shape of like when m owns its storage.
func (m *Matrix) prepareTarget(op string, like *Matrix) {
	m.mustWrite()
	if m.view {
		mustSameShape(op, m, like)
		return
	}
	m.Resize(like.rows, like.cols)
}

// Add computes m += a.
func (m *Matrix) Add(a *Matrix) {
	m.mustWrite()
	mustSameShape("Add", m, a)
	if m.IsEmpty() {
		return
	}
	m.d.Add(m.d, a.d)
}

// AddScaled computes m += alpha * a.
func (m *Matrix) AddScaled(alpha float64, a *Matrix) {
	m.mustWrite()
	mustSameShape("AddScaled", m, a)
	if m.IsEmpty() {
		return
	}
	var tmp mat.Dense
	tmp.Scale(alpha, a.d)
	m.d.Add(m.d, &tmp)
}

// Scale computes m *= alpha.
func (m *Matrix) Scale(alpha float64) {
	m.mustWrite()
	if m.IsEmpty() {
		return
	}
	m.d.Scale(alpha, m.d)
}

// AssignSum sets m = a + b.
func (m *Matrix) AssignSum(a, b *Matrix) {
	mustSameShape("AssignSum", a, b)
	m.prepareTarget("AssignSum", a)
	if m.IsEmpty() {
		return
	}
	m.d.Add(a.d, b.d)
}

// AssignDifferenceOf sets m = a - b.
func (m *Matrix) AssignDifferenceOf(a, b *Matrix) {
	mustSameShape("AssignDifferenceOf", a, b)
	m.prepareTarget("AssignDifferenceOf", a)
	if m.IsEmpty() {
		return
	}
	m.d.Sub(a.d, b.d)
}

// AssignElementProductOf sets m = a ⊙ b.
func (m *Matrix) AssignElementProductOf(a, b *Matrix) {
	mustSameShape("AssignElementProductOf", a, b)
	m.prepareTarget("AssignElementProductOf", a)
	if m.IsEmpty() {
		return
	}
	m.d.MulElem(a.d, b.d)
}

// AddElementProductOf computes m += a ⊙ b.
func (m *Matrix) AddElementProductOf(a, b *Matrix) {
	m.AddZipped(a, b, func(x, y float64) float64 { return x * y })
}

// AssignMapOf sets m = f(a) element-wise.
func (m *Matrix) AssignMapOf(a *Matrix, f func(float64) float64) {
	m.prepareTarget("AssignMapOf", a)
	if m.IsEmpty() {
		return
	}
	m.d.Apply(func(_, _ int, v float64) float64 { return f(v) }, a.d)
}

// AddZipped computes m += f(a, b) element-wise.
func (m *Matrix) AddZipped(a, b *Matrix, f func(x, y float64) float64) {
	m.mustWrite()
	mustSameShape("AddZipped", m, a)
	mustSameShape("AddZipped", a, b)
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			m.d.Set(r, c, m.d.At(r, c)+f(a.d.At(r, c), b.d.At(r, c)))
		}
	}
}

// AssignColumnBroadcastDifference sets m = a - col, subtracting the column
// vector col from every column of a.
func (m *Matrix) AssignColumnBroadcastDifference(a, col *Matrix) {
	if col.cols != 1 || col.rows != a.rows {
		panic(fmt.Sprintf("tensor: column broadcast of [%d,%d] over [%d,%d]", col.rows, col.cols, a.rows, a.cols))
	}
	m.prepareTarget("AssignColumnBroadcastDifference", a)
	for c := 0; c < a.cols; c++ {
		for r := 0; r < a.rows; r++ {
			m.d.Set(r, c, a.d.At(r, c)-col.d.At(r, 0))
		}
	}
}

// ColumnElementMultiplyWith multiplies every column of m by the column vector col.
func (m *Matrix) ColumnElementMultiplyWith(col *Matrix) {
	m.mustWrite()
	if col.cols != 1 || col.rows != m.rows {
		panic(fmt.Sprintf("tensor: column broadcast of [%d,%d] over [%d,%d]", col.rows, col.cols, m.rows, m.cols))
	}
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			m.d.Set(r, c, m.d.At(r, c)*col.d.At(r, 0))
		}
	}
}

// AssignSquareOf sets m = a ⊙ a.
func (m *Matrix) AssignSquareOf(a *Matrix) {
	m.AssignMapOf(a, func(v float64) float64 { return v * v })
}

// InplaceSqrt replaces every element by its square root.
func (m *Matrix) InplaceSqrt() {
	m.mustWrite()
	m.apply(math.Sqrt)
}

// ElementInverse replaces every element by its reciprocal.
func (m *Matrix) ElementInverse() {
	m.mustWrite()
	m.apply(func(v float64) float64 { return 1 / v })
}

// TruncateBottom raises every element below floor to floor.
func (m *Matrix) TruncateBottom(floor float64) {
	m.mustWrite()
	m.apply(func(v float64) float64 { return math.Max(v, floor) })
}

// Sum returns the sum of all elements.
func (m *Matrix) Sum() float64 {
	if m.IsEmpty() {
		return 0
	}
	return mat.Sum(m.d)
}

// RowSums returns a rows x 1 matrix holding the sum of every row.
func (m *Matrix) RowSums() *Matrix {
	out := NewMatrix(m.rows, 1)
	for r := 0; r < m.rows; r++ {
		if m.cols > 0 {
			out.d.Set(r, 0, mat.Sum(m.d.RowView(r)))
		}
	}
	return out
}

// MaxAbsDiff returns the largest absolute element difference between m and o.
func (m *Matrix) MaxAbsDiff(o *Matrix) float64 {
	mustSameShape("MaxAbsDiff", m, o)
	var worst float64
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			worst = math.Max(worst, math.Abs(m.d.At(r, c)-o.d.At(r, c)))
		}
	}
	return worst
}
