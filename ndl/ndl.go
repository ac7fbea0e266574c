// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package ndl parses network descriptions and builds computation networks
// from them.
//
// A network description assigns names to function calls, constants and
// macro calls:
//
//	macros = [
//	    RBFF(x, outDim, inDim) = [
//	        W = Parameter(outDim, inDim)
//	        b = Parameter(outDim, 1, init=fixedValue, value=0)
//	        RBFF = Sigmoid(Plus(Times(W, x), b))
//	    ]
//	]
//	network = [
//	    features = Input(784, 1, tag=feature)
//	    L1 = RBFF(features, 256, 784)
//	]
//
// Build turns a description into a graph.Network:
//
//	nn, err := ndl.Build(text, ndl.WithVariables(map[string]string{"hidden": "256"}))
//	if err != nil { ... }
//	err = nn.Net.Save("model.cnm")
package ndl

import (
	"github.com/born-ml/cngraph/internal/ndl"
	"github.com/born-ml/cngraph/internal/netbuilder"
)

// Parsing types.
type (
	// Script is a parsed description: its statements and symbol table.
	Script = ndl.Script

	// Node is one parsed expression.
	Node = ndl.Node

	// Type classifies a Node.
	Type = ndl.Type

	// Pass is one sweep of evaluation over a script.
	Pass = ndl.Pass

	// MacroRegistry holds macros and global constants shared by scripts.
	MacroRegistry = ndl.MacroRegistry

	// ScriptError locates a parse or evaluation failure.
	ScriptError = ndl.ScriptError

	// ParseOption configures parsing.
	ParseOption = ndl.Option
)

// Build types.
type (
	// Network pairs a built graph.Network with the script it came from.
	Network = netbuilder.NetNDL

	// Option configures Build and BuildFile.
	Option = netbuilder.Option
)

// Evaluation passes.
const (
	PassInitial = ndl.PassInitial
	PassResolve = ndl.PassResolve
	PassFinal   = ndl.PassFinal
	PassAll     = ndl.PassAll
)

// Errors.
var (
	ErrSyntax            = ndl.ErrSyntax
	ErrUnknownFunction   = ndl.ErrUnknownFunction
	ErrUndefinedSymbol   = ndl.ErrUndefinedSymbol
	ErrDuplicateSymbol   = ndl.ErrDuplicateSymbol
	ErrReservedName      = ndl.ErrReservedName
	ErrParameterCount    = ndl.ErrParameterCount
	ErrInvalidDefinition = ndl.ErrInvalidDefinition
	ErrNotScalar         = ndl.ErrNotScalar
)

// Build options.
var (
	WithVariables      = netbuilder.WithVariables
	WithMacros         = netbuilder.WithMacros
	WithSection        = netbuilder.WithSection
	WithNetworkOptions = netbuilder.WithNetworkOptions
	WithPasses         = netbuilder.WithPasses
)

// Parse parses a description with the network functions. With a section
// name only that section is parsed.
func Parse(text, section string, macros *MacroRegistry) (*Script, error) {
	return netbuilder.Parse(text, section, macros)
}

// Build builds a network from a description.
func Build(text string, opts ...Option) (*Network, error) {
	return netbuilder.BuildFromText(text, opts...)
}

// BuildFile builds a network from the description in path.
func BuildFile(path string, opts ...Option) (*Network, error) {
	return netbuilder.BuildFromFile(path, opts...)
}

// Process runs the passes of nn's script that have not run yet, up to until.
func Process(nn *Network, until Pass, fullValidate bool) error {
	return netbuilder.ProcessScript(nn, until, fullValidate)
}

// NewMacroRegistry returns an empty registry.
func NewMacroRegistry() *MacroRegistry { return ndl.NewMacroRegistry() }

// Macros returns the process-wide registry.
func Macros() *MacroRegistry { return ndl.Macros() }
