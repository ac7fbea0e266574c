// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"io"

	"github.com/born-ml/cngraph/internal/graph"
)

// Core types.
type (
	// Network is a set of named nodes and the roles they play.
	Network = graph.Network

	// Node is one unit of computation in a Network.
	Node = graph.Node

	// Option configures a Network.
	Option = graph.Option

	// Registry maps operation names to node constructors.
	Registry = graph.Registry

	// Role names a set of nodes with a special purpose.
	Role = graph.Role

	// CopyFlags selects what CopyNode and CopySubTree copy.
	CopyFlags = graph.CopyFlags

	// ImageLayout is the width, height and channel count of an image-shaped value.
	ImageLayout = graph.ImageLayout

	// ShapeError reports operands whose dimensions do not fit together.
	ShapeError = graph.ShapeError

	// ResolutionError reports a node reference that does not resolve.
	ResolutionError = graph.ResolutionError

	// UnsupportedOperationError reports an operation a node does not provide.
	UnsupportedOperationError = graph.UnsupportedOperationError
)

// Roles.
const (
	RoleFeature    = graph.RoleFeature
	RoleLabel      = graph.RoleLabel
	RoleCriterion  = graph.RoleCriterion
	RoleEvaluation = graph.RoleEvaluation
	RoleOutput     = graph.RoleOutput
	RoleRecurrent  = graph.RoleRecurrent
)

// Copy flags.
const (
	CopyValue    = graph.CopyValue
	CopyChildren = graph.CopyChildren
	CopyAll      = graph.CopyAll
)

// Operation names.
const (
	OpInputValue                 = graph.OpInputValue
	OpLearnableParameter         = graph.OpLearnableParameter
	OpPlus                       = graph.OpPlus
	OpMinus                      = graph.OpMinus
	OpTimes                      = graph.OpTimes
	OpElementTimes               = graph.OpElementTimes
	OpScale                      = graph.OpScale
	OpRectifiedLinear            = graph.OpRectifiedLinear
	OpSigmoid                    = graph.OpSigmoid
	OpTanh                       = graph.OpTanh
	OpSquareError                = graph.OpSquareError
	OpCrossEntropyWithSoftmax    = graph.OpCrossEntropyWithSoftmax
	OpMean                       = graph.OpMean
	OpInvStdDev                  = graph.OpInvStdDev
	OpPerDimMeanVarNormalization = graph.OpPerDimMeanVarNormalization
	OpConvolution                = graph.OpConvolution
	OpMaxPooling                 = graph.OpMaxPooling
	OpAveragePooling             = graph.OpAveragePooling
	OpDelay                      = graph.OpDelay
)

// Errors.
var (
	ErrShapeMismatch    = graph.ErrShapeMismatch
	ErrMissingInput     = graph.ErrMissingInput
	ErrUnknownNode      = graph.ErrUnknownNode
	ErrDuplicateName    = graph.ErrDuplicateName
	ErrUnknownOperation = graph.ErrUnknownOperation
	ErrCycle            = graph.ErrCycle
	ErrNotCriterion     = graph.ErrNotCriterion
)

// New returns an empty network.
func New(opts ...Option) *Network { return graph.New(opts...) }

// Load reads a network from a model file.
func Load(path string, opts ...Option) (*Network, error) { return graph.Load(path, opts...) }

// WithLogger sets the network's logger.
var WithLogger = graph.WithLogger

// WithRegistry builds nodes through r.
var WithRegistry = graph.WithRegistry

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return graph.NewRegistry() }

// DefaultRegistry returns the registry of the built-in operations.
func DefaultRegistry() *Registry { return graph.DefaultRegistry() }

// DumpNodes writes a text description of each node.
func DumpNodes(w io.Writer, nodes []Node, includeData bool) error {
	return graph.DumpNodes(w, nodes, includeData)
}

// EvaluationOrder returns the nodes roots depend on, inputs first.
func EvaluationOrder(roots ...Node) ([]Node, error) { return graph.EvaluationOrder(roots...) }
