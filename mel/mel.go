// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package mel runs edit scripts against computation networks.
//
// An edit script loads, changes and saves networks:
//
//	m = LoadModel("model.cnm")
//	SetNodeInputs(m.L2.t, m.L2.W, m.features)
//	Rename(m.L1.*, m.H1.*)
//	SaveModel(m, "edited.cnm")
//
// Example:
//
//	in := mel.New()
//	in.AddModel("m", net)
//	err := in.Run(ctx, "SetProperty(m.L1.W, ComputeGradient, false)")
package mel

import (
	"github.com/born-ml/cngraph/internal/mel"
)

type (
	// Interpreter runs edit scripts against a set of named models.
	Interpreter = mel.Interpreter

	// Option configures an Interpreter.
	Option = mel.Option
)

// Interpreter options.
var (
	WithMacros         = mel.WithMacros
	WithNetworkOptions = mel.WithNetworkOptions
	WithOutput         = mel.WithOutput
)

// Errors.
var (
	ErrArity              = mel.ErrArity
	ErrUnknownCommand     = mel.ErrUnknownCommand
	ErrNoDefaultModel     = mel.ErrNoDefaultModel
	ErrUnknownModel       = mel.ErrUnknownModel
	ErrDifferentNetworks  = mel.ErrDifferentNetworks
	ErrNoMatch            = mel.ErrNoMatch
	ErrNotSingle          = mel.ErrNotSingle
	ErrUnknownProperty    = mel.ErrUnknownProperty
	ErrUnsupportedFormat  = mel.ErrUnsupportedFormat
	ErrWildcard           = mel.ErrWildcard
	ErrInvalidCopyOptions = mel.ErrInvalidCopyOptions
)

// New returns an interpreter with no models.
func New(opts ...Option) *Interpreter { return mel.New(opts...) }
