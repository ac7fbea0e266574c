// Package ndl implements the network description language: a small
// declarative script of named function calls, macros and constants that
// a NodeEvaluator turns into computation nodes.
//
// A script is parsed once into a tree of Nodes held by Scripts. Nothing is
// built at parse time; evaluation walks the statements in order, once per
// Pass, so that names used before their definition can be bound in the
// Resolve pass:
//
//	features = InputValue(784, 1, tag=feature)
//	L1 = RBFF(features, 256, 784)
//	RBFF(x, r, c) = [
//	    W = LearnableParameter(r, c)
//	    B = LearnableParameter(r, 1)
//	    RBFF = RectifiedLinear(Plus(Times(W, x), B))
//	]
//
// Macro definitions live in a MacroRegistry shared by every script that
// uses it; the default registry is returned by Macros.
package ndl
