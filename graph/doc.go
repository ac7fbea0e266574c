// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides computation networks: named nodes connected by
// input edges, evaluated forward and differentiated backward.
//
// # Overview
//
// A Network owns its nodes by name. Nodes are created through a Registry
// keyed by operation name, connected with AttachInputs, grouped into roles
// (features, labels, criteria, outputs) and sized by Validate.
//
// # Basic Usage
//
//	net := graph.New()
//	x, _ := net.CreateNode(graph.OpInputValue, "x")
//	...
//	if err := net.Validate(); err != nil {
//	    var shapeErr *graph.ShapeError
//	    if errors.As(err, &shapeErr) { ... }
//	}
//	err := net.Save("model.cnm")
//
// Networks are usually built from a network description with the ndl
// package and edited with the mel package.
package graph
