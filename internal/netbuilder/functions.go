package netbuilder

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
)

// Function names that are not operation tags of their own.
const (
	FnImageInput = "ImageInput"
	FnConstant   = "Constant"
)

// Functions is the function table of network descriptions. Order matters
// for abbreviations: the first entry an abbreviation matches wins.
var Functions = ndl.Functions{
	{Name: graph.OpInputValue, Alternate: "Input"},
	{Name: FnImageInput, Alternate: "Image"},
	{Name: graph.OpLearnableParameter, Alternate: "Parameter"},
	{Name: FnConstant, Alternate: "Const"},
	{Name: graph.OpPlus, AllowUndetermined: true},
	{Name: graph.OpMinus, AllowUndetermined: true},
	{Name: graph.OpTimes, AllowUndetermined: true},
	{Name: graph.OpElementTimes, AllowUndetermined: true},
	{Name: graph.OpScale, AllowUndetermined: true},
	{Name: graph.OpRectifiedLinear, Alternate: "ReLU", AllowUndetermined: true},
	{Name: graph.OpSigmoid, AllowUndetermined: true},
	{Name: graph.OpTanh, AllowUndetermined: true},
	{Name: graph.OpSquareError, Alternate: "SE", AllowUndetermined: true},
	{Name: graph.OpCrossEntropyWithSoftmax, Alternate: "CEWithSM", AllowUndetermined: true},
	{Name: graph.OpMean, AllowUndetermined: true},
	{Name: graph.OpInvStdDev, AllowUndetermined: true},
	{Name: graph.OpPerDimMeanVarNormalization, Alternate: "PerDimMVNorm", AllowUndetermined: true},
	{Name: graph.OpConvolution, Alternate: "Convolve", AllowUndetermined: true},
	{Name: graph.OpMaxPooling, AllowUndetermined: true},
	{Name: graph.OpAveragePooling, AllowUndetermined: true},
	{Name: graph.OpDelay, AllowUndetermined: true},
}

// constructor builds the graph node for one function. The first inputs
// positional parameters are node inputs; between min and max scalar
// parameters follow them.
type constructor struct {
	inputs   int
	min, max int
	build    func(name string, a args) (graph.Node, error)
}

func (c constructor) construct(name string, n *ndl.Node) (graph.Node, error) {
	pos := n.Positional()
	if got := len(pos); got < c.inputs+c.min || got > c.inputs+c.max {
		want := fmt.Sprint(c.inputs + c.min)
		if c.max > c.min {
			want = fmt.Sprintf("%d to %d", c.inputs+c.min, c.inputs+c.max)
		}
		return nil, nodeErrorf(n, ndl.ErrParameterCount, "%s takes %s parameters, got %d", n.Value(), want, got)
	}
	return c.build(name, args{call: n, pos: pos[c.inputs:]})
}

var constructors = map[string]constructor{
	graph.OpInputValue:         {min: 1, max: 2, build: inputValue},
	FnImageInput:               {min: 3, max: 4, build: imageInput},
	graph.OpLearnableParameter: {min: 1, max: 2, build: learnableParameter},
	FnConstant:                 {min: 1, max: 1, build: constant},

	graph.OpPlus:                    binary(func(name string) graph.Node { return graph.NewPlus(name) }),
	graph.OpMinus:                   binary(func(name string) graph.Node { return graph.NewMinus(name) }),
	graph.OpTimes:                   binary(func(name string) graph.Node { return graph.NewTimes(name) }),
	graph.OpElementTimes:            binary(func(name string) graph.Node { return graph.NewElementTimes(name) }),
	graph.OpScale:                   binary(func(name string) graph.Node { return graph.NewScale(name) }),
	graph.OpSquareError:             binary(func(name string) graph.Node { return graph.NewSquareError(name) }),
	graph.OpCrossEntropyWithSoftmax: binary(func(name string) graph.Node { return graph.NewCrossEntropyWithSoftmax(name) }),

	graph.OpRectifiedLinear: unary(func(name string) graph.Node { return graph.NewRectifiedLinear(name) }),
	graph.OpSigmoid:         unary(func(name string) graph.Node { return graph.NewSigmoid(name) }),
	graph.OpTanh:            unary(func(name string) graph.Node { return graph.NewTanh(name) }),
	graph.OpMean:            unary(func(name string) graph.Node { return graph.NewMean(name) }),
	graph.OpInvStdDev:       unary(func(name string) graph.Node { return graph.NewInvStdDev(name) }),

	graph.OpPerDimMeanVarNormalization: {inputs: 3, build: func(name string, _ args) (graph.Node, error) {
		return graph.NewPerDimMeanVarNormalization(name), nil
	}},

	graph.OpConvolution:    {inputs: 2, min: 5, max: 7, build: convolution},
	graph.OpMaxPooling:     {inputs: 1, min: 4, max: 4, build: pooling(true)},
	graph.OpAveragePooling: {inputs: 1, min: 4, max: 4, build: pooling(false)},
	graph.OpDelay:          {inputs: 1, min: 2, max: 3, build: delay},
}

func unary(fn func(string) graph.Node) constructor {
	return constructor{inputs: 1, build: func(name string, _ args) (graph.Node, error) { return fn(name), nil }}
}

func binary(fn func(string) graph.Node) constructor {
	return constructor{inputs: 2, build: func(name string, _ args) (graph.Node, error) { return fn(name), nil }}
}

func inputValue(name string, a args) (graph.Node, error) {
	rows, err := a.dim(0, 0)
	if err != nil {
		return nil, err
	}
	cols, err := a.dim(1, 1)
	if err != nil {
		return nil, err
	}
	return graph.NewInputValue(name, rows, cols), nil
}

func imageInput(name string, a args) (graph.Node, error) {
	var dims [4]int
	for i, def := range []int{0, 0, 0, 1} {
		d, err := a.dim(i, def)
		if err != nil {
			return nil, err
		}
		dims[i] = d
	}
	layout := graph.ImageLayout{Width: dims[0], Height: dims[1], Channels: dims[2]}
	return graph.NewImageInput(name, layout, dims[3]), nil
}

func learnableParameter(name string, a args) (graph.Node, error) {
	rows, err := a.int(0, 0)
	if err != nil {
		return nil, err
	}
	cols, err := a.int(1, 1)
	if err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 {
		return nil, nodeErrorf(a.call, nil, "negative dimension [%d,%d]", rows, cols)
	}
	p := graph.NewLearnableParameter(name, rows, cols)

	init, err := a.call.OptionalParameter("init", graph.InitUniform)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.EqualFold(init, graph.InitUniform):
		p.Init = graph.InitUniform
	case strings.EqualFold(init, graph.InitGaussian):
		p.Init = graph.InitGaussian
	case strings.EqualFold(init, graph.InitFixedValue):
		p.Init = graph.InitFixedValue
	case strings.EqualFold(init, graph.InitNone):
		p.Init = graph.InitNone
	default:
		return nil, nodeErrorf(a.call, nil, "unknown init method %q", init)
	}
	if p.InitValueScale, err = a.float("initValueScale", 1); err != nil {
		return nil, err
	}
	if p.InitValue, err = a.float("value", 0); err != nil {
		return nil, err
	}
	seed, err := a.optInt("seed", int(nameSeed(name)))
	if err != nil {
		return nil, err
	}
	p.Seed = uint64(seed)
	need, err := a.bool("needGradient", true)
	if err != nil {
		return nil, err
	}
	p.SetNeedsGradient(need)
	return p, nil
}

// nameSeed derives a parameter's default random seed from its name, so
// rebuilding a description reproduces the same initial values.
func nameSeed(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

func constant(name string, a args) (graph.Node, error) {
	v, err := a.pos[0].Float()
	if err != nil {
		return nil, err
	}
	rows, err := a.optInt("rows", 1)
	if err != nil {
		return nil, err
	}
	cols, err := a.optInt("cols", 1)
	if err != nil {
		return nil, err
	}
	if rows <= 0 || cols <= 0 {
		return nil, nodeErrorf(a.call, nil, "constant must have at least one element, got [%d,%d]", rows, cols)
	}
	return graph.NewConstant(name, v, rows, cols), nil
}

func convolution(name string, a args) (graph.Node, error) {
	var dims [5]int
	for i := range dims {
		d, err := a.dim(i, 0)
		if err != nil {
			return nil, err
		}
		dims[i] = d
	}
	p := graph.ConvolutionParams{
		KernelWidth:         dims[0],
		KernelHeight:        dims[1],
		OutputChannels:      dims[2],
		HorizontalSubsample: dims[3],
		VerticalSubsample:   dims[4],
	}
	var err error
	if len(a.pos) > 5 {
		p.ZeroPadding, err = a.pos[5].Bool()
	} else {
		p.ZeroPadding, err = a.bool("zeroPadding", false)
	}
	if err != nil {
		return nil, err
	}
	if len(a.pos) > 6 {
		p.MaxTempMemSizeInSamples, err = a.pos[6].Int()
	} else {
		p.MaxTempMemSizeInSamples, err = a.optInt("maxTempMemSizeInSamples", 0)
	}
	if err != nil {
		return nil, err
	}
	if p.MaxTempMemSizeInSamples < 0 {
		return nil, nodeErrorf(a.call, nil, "maxTempMemSizeInSamples must not be negative")
	}
	return graph.NewConvolution(name, p), nil
}

func pooling(isMax bool) func(string, args) (graph.Node, error) {
	return func(name string, a args) (graph.Node, error) {
		var dims [4]int
		for i := range dims {
			d, err := a.dim(i, 0)
			if err != nil {
				return nil, err
			}
			dims[i] = d
		}
		p := graph.PoolingParams{
			WindowWidth:         dims[0],
			WindowHeight:        dims[1],
			HorizontalSubsample: dims[2],
			VerticalSubsample:   dims[3],
		}
		if isMax {
			return graph.NewMaxPooling(name, p), nil
		}
		return graph.NewAveragePooling(name, p), nil
	}
}

func delay(name string, a args) (graph.Node, error) {
	rows, err := a.dim(0, 0)
	if err != nil {
		return nil, err
	}
	cols, err := a.dim(1, 1)
	if err != nil {
		return nil, err
	}
	steps, err := a.optInt("delayTime", 1)
	if err != nil {
		return nil, err
	}
	if len(a.pos) > 2 {
		if steps, err = a.pos[2].Int(); err != nil {
			return nil, err
		}
	}
	if steps < 1 {
		return nil, nodeErrorf(a.call, nil, "delayTime must be at least 1, got %d", steps)
	}
	d := graph.NewDelay(name, rows, cols)
	d.DelaySteps = steps
	if d.InitialActivity, err = a.float("defaultHiddenActivity", graph.DefaultInitialActivity); err != nil {
		return nil, err
	}
	return d, nil
}

// args reads the scalar parameters of a call.
type args struct {
	call *ndl.Node
	pos  []*ndl.Node
}

// int returns positional scalar i, or def when the call stops before it.
func (a args) int(i, def int) (int, error) {
	if i >= len(a.pos) {
		return def, nil
	}
	return a.pos[i].Int()
}

// dim is int for dimensions, which must be positive.
func (a args) dim(i, def int) (int, error) {
	v, err := a.int(i, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, nodeErrorf(a.call, nil, "parameter %d must be positive, got %d", i+1, v)
	}
	return v, nil
}

func (a args) optInt(key string, def int) (int, error) {
	v := a.call.FindOptional(key)
	if v == nil {
		return def, nil
	}
	return v.Int()
}

func (a args) float(key string, def float64) (float64, error) {
	v := a.call.FindOptional(key)
	if v == nil {
		return def, nil
	}
	return v.Float()
}

func (a args) bool(key string, def bool) (bool, error) {
	v := a.call.FindOptional(key)
	if v == nil {
		return def, nil
	}
	return v.Bool()
}

// nodeErrorf reports a problem with the script node n.
func nodeErrorf(n *ndl.Node, err error, format string, args ...any) error {
	return errors.WithStack(&ndl.ScriptError{
		Name: n.Name(),
		Line: n.Line(),
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	})
}
