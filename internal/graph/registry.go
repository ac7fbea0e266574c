package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor creates an unwired node of one operation type. Shape and
// parameters come later, from attributes or from the caller.
type Constructor func(name string) Node

// Registry maps operation tags to constructors. Lookups ignore case.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	tags  map[string]string // lower-case tag -> canonical tag
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor), tags: make(map[string]string)}
}

// Register adds or replaces the constructor for tag.
func (r *Registry) Register(tag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(tag)
	r.ctors[key] = ctor
	r.tags[key] = tag
}

// New creates a node of the given operation.
func (r *Registry) New(tag, name string) (Node, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[strings.ToLower(tag)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, tag)
	}
	return ctor(name), nil
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[strings.ToLower(tag)]
	return ok
}

// Tags returns the canonical tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tags))
	for _, t := range r.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry of every built-in node type.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r := NewRegistry()
		r.Register(OpInputValue, func(name string) Node { return NewInputValue(name, 0, 0) })
		r.Register(OpLearnableParameter, func(name string) Node { return NewLearnableParameter(name, 0, 0) })
		r.Register(OpPlus, func(name string) Node { return NewPlus(name) })
		r.Register(OpMinus, func(name string) Node { return NewMinus(name) })
		r.Register(OpTimes, func(name string) Node { return NewTimes(name) })
		r.Register(OpElementTimes, func(name string) Node { return NewElementTimes(name) })
		r.Register(OpScale, func(name string) Node { return NewScale(name) })
		r.Register(OpRectifiedLinear, func(name string) Node { return NewRectifiedLinear(name) })
		r.Register(OpSigmoid, func(name string) Node { return NewSigmoid(name) })
		r.Register(OpTanh, func(name string) Node { return NewTanh(name) })
		r.Register(OpSquareError, func(name string) Node { return NewSquareError(name) })
		r.Register(OpCrossEntropyWithSoftmax, func(name string) Node { return NewCrossEntropyWithSoftmax(name) })
		r.Register(OpDelay, func(name string) Node { return NewDelay(name, 0, 1) })
		r.Register(OpMean, func(name string) Node { return NewMean(name) })
		r.Register(OpInvStdDev, func(name string) Node { return NewInvStdDev(name) })
		r.Register(OpPerDimMeanVarNormalization, func(name string) Node { return NewPerDimMeanVarNormalization(name) })
		r.Register(OpConvolution, func(name string) Node { return NewConvolution(name, ConvolutionParams{}) })
		r.Register(OpMaxPooling, func(name string) Node { return NewMaxPooling(name, PoolingParams{}) })
		r.Register(OpAveragePooling, func(name string) Node { return NewAveragePooling(name, PoolingParams{}) })
		defaultRegistry = r
	})
	return defaultRegistry
}
