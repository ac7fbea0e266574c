package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

func (m *Matrix) op(trans bool) mat.Matrix {
	if trans {
		return m.d.T()
	}
	return m.d
}

// MultiplyAndWeightedAdd computes c = alpha·op(a)·op(b) + beta·c, where op
// transposes its argument when the matching flag is set. When beta is zero
// an owning c is resized to the product shape.
func MultiplyAndWeightedAdd(alpha float64, a *Matrix, transA bool, b *Matrix, transB bool, beta float64, c *Matrix) {
	c.mustWrite()
	ar, ac := a.rows, a.cols
	if transA {
		ar, ac = ac, ar
	}
	br, bc := b.rows, b.cols
	if transB {
		br, bc = bc, br
	}
	if ac != br {
		panic(fmt.Sprintf("tensor: gemm inner dimensions %d and %d differ", ac, br))
	}
	if beta == 0 && !c.view {
		c.Resize(ar, bc)
	} else if c.rows != ar || c.cols != bc {
		panic(fmt.Sprintf("tensor: gemm target [%d,%d] does not match product [%d,%d]", c.rows, c.cols, ar, bc))
	}
	if c.IsEmpty() {
		return
	}
	if ac == 0 {
		if beta == 0 {
			c.SetValue(0)
		} else {
			c.Scale(beta)
		}
		return
	}

	var prod mat.Dense
	prod.Mul(a.op(transA), b.op(transB))

	if beta == 0 {
		c.d.Scale(alpha, &prod)
		return
	}
	if beta != 1 {
		c.d.Scale(beta, c.d)
	}
	if alpha != 1 {
		prod.Scale(alpha, &prod)
	}
	c.d.Add(c.d, &prod)
}

// Multiply sets c = op(a)·op(b).
func Multiply(a *Matrix, transA bool, b *Matrix, transB bool, c *Matrix) {
	MultiplyAndWeightedAdd(1, a, transA, b, transB, 0, c)
}

// MultiplyAndAdd computes c += op(a)·op(b).
func MultiplyAndAdd(a *Matrix, transA bool, b *Matrix, transB bool, c *Matrix) {
	MultiplyAndWeightedAdd(1, a, transA, b, transB, 1, c)
}
