package graph

import (
	"errors"
	"fmt"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Common errors.
var (
	ErrArity                 = errors.New("wrong number of inputs")
	ErrZeroElements          = errors.New("operand has 0 elements")
	ErrShapeMismatch         = errors.New("dimension mismatch")
	ErrGradientNotSupported  = errors.New("node does not take part in gradient computation")
	ErrRecurrentNotSupported = errors.New("node cannot be evaluated inside a recurrent loop")
	ErrMissingInput          = errors.New("input is not connected")
	ErrUnknownNode           = errors.New("no such node")
	ErrDuplicateName         = errors.New("node name already in use")
	ErrNotCriterion          = errors.New("node is not a scalar criterion")
	ErrUnknownOperation      = errors.New("unknown operation")
	ErrCycle                 = errors.New("cycle without a delay node")
	ErrNestedPrecompute      = errors.New("precompute node depends on another precompute node")
)

// ShapeError reports arity, zero-element and dimension violations found
// while validating a node.
type ShapeError struct {
	Node    string
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s %q: %v: %s", e.Op, e.Node, e.Err, e.Details)
}

// Unwrap returns the underlying sentinel.
func (e *ShapeError) Unwrap() error { return e.Err }

// UnsupportedOperationError reports a call a node type never supports,
// such as backpropagating through a precomputed statistic.
type UnsupportedOperationError struct {
	Node string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Node, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *UnsupportedOperationError) Unwrap() error { return e.Err }

// ResolutionError reports a reference that does not resolve to a node.
type ResolutionError struct {
	Node    string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%q: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("%q: %v: %s", e.Node, e.Err, e.Details)
}

// Unwrap returns the underlying sentinel.
func (e *ResolutionError) Unwrap() error { return e.Err }

// named is the part of a node the error helpers report.
type named interface {
	Name() string
	OperationName() string
}

func shapeErrorf(n named, err error, format string, args ...any) error {
	return &ShapeError{Node: n.Name(), Op: n.OperationName(), Err: err, Details: fmt.Sprintf(format, args...)}
}

func unsupported(n named, err error) error {
	return &UnsupportedOperationError{Node: n.Name(), Op: n.OperationName(), Err: err}
}

func shapePair(a, b *tensor.Matrix) string {
	return fmt.Sprintf("[%d,%d] vs [%d,%d]", a.Rows(), a.Cols(), b.Rows(), b.Cols())
}
