package netbuilder

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/ndl"
	"github.com/born-ml/cngraph/internal/tensor"
)

const twoLayers = `
load = macros
run = network

macros = [
	RBFF(x, outDim, inDim) = [
		W = Parameter(outDim, inDim)
		b = Parameter(outDim, 1, init=fixedValue, value=0)
		t = Times(W, x)
		z = Plus(t, b)
		RBFF = Sigmoid(z)
	]
]

network = [
	features = Input(4, 1, tag=feature)
	labels = Input(2, 1, tag=label)
	L1 = RBFF(features, 3, 4)
	L2 = RBFF(L1, 2, 3)
	err = SE(labels, L2, tag=criteria)
]
`

func build(t *testing.T, text string, opts ...Option) *NetNDL {
	t.Helper()
	opts = append([]Option{WithMacros(ndl.NewMacroRegistry())}, opts...)
	nn, err := BuildFromText(text, opts...)
	require.NoError(t, err)
	return nn
}

func node(t *testing.T, net *graph.Network, name string) graph.Node {
	t.Helper()
	n, err := net.Node(name)
	require.NoError(t, err)
	return n
}

func inputNames(n graph.Node) []string {
	var names []string
	for _, in := range n.Inputs() {
		names = append(names, in.Name())
	}
	return names
}

func TestBuildTwoLayerNetwork(t *testing.T) {
	nn := build(t, twoLayers)
	net := nn.Net

	w1 := node(t, net, "L1.W")
	w2 := node(t, net, "L2.W")
	assert.NotSame(t, w1, w2, "each macro call builds its own parameters")
	assert.Equal(t, 3, w1.Value().Rows())
	assert.Equal(t, 4, w1.Value().Cols())
	assert.Equal(t, 2, w2.Value().Rows())
	assert.Equal(t, 3, w2.Value().Cols())

	assert.Equal(t, []string{"L2.W", "L1.RBFF"}, inputNames(node(t, net, "L2.t")))
	assert.Equal(t, []string{"labels", "L2.RBFF"}, inputNames(node(t, net, "err")))
	assert.Equal(t, graph.OpSquareError, node(t, net, "err").OperationName())

	assert.Equal(t, []graph.Node{node(t, net, "features")}, net.RoleNodes(graph.RoleFeature))
	assert.Equal(t, []graph.Node{node(t, net, "labels")}, net.RoleNodes(graph.RoleLabel))
	assert.Equal(t, []graph.Node{node(t, net, "err")}, net.RoleNodes(graph.RoleCriterion))

	for _, name := range []string{"L1.W", "L1.b", "L2.W", "L2.b"} {
		p, ok := node(t, net, name).(*graph.LearnableParameter)
		require.True(t, ok, name)
		assert.True(t, p.Initialized(), name)
		assert.True(t, p.NeedsGradient(), name)
	}
	b := node(t, net, "L1.b").Value()
	for r := 0; r < b.Rows(); r++ {
		assert.Zero(t, b.At(r, 0))
	}

	pass, ok := nn.Completed()
	assert.True(t, ok)
	assert.Equal(t, ndl.PassFinal, pass)

	require.NoError(t, net.SetInput("features", tensor.ColumnVector(0.1, 0.2, 0.3, 0.4)))
	require.NoError(t, net.SetInput("labels", tensor.ColumnVector(1, 0)))
	crit := node(t, net, "err")
	require.NoError(t, net.Evaluate(crit))
	assert.False(t, math.IsNaN(crit.Value().At(0, 0)))
	assert.Positive(t, crit.Value().At(0, 0))
}

func TestBuildIsReproducible(t *testing.T) {
	a := build(t, twoLayers)
	b := build(t, twoLayers)
	assert.Equal(t, node(t, a.Net, "L1.W").Value().ColumnMajor(), node(t, b.Net, "L1.W").Value().ColumnMajor())
	assert.NotEqual(t, node(t, a.Net, "L1.W").Value().ColumnMajor()[:3], node(t, a.Net, "L2.W").Value().ColumnMajor()[:3])
}

func TestBuildRecurrentLoop(t *testing.T) {
	nn := build(t, `
		x = Input(2, 1)
		W = Parameter(2, 2)
		R = Parameter(2, 2)
		h = Sigmoid(Plus(Times(W, x), Times(R, prev)))
		prev = Delay(h, 2, 1)
	`)
	net := nn.Net
	h := node(t, net, "h")
	prev := node(t, net, "prev")
	assert.Same(t, h, prev.Input(0))

	loops, err := graph.Loops(h)
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Contains(t, loops[0], prev)
	assert.Contains(t, loops[0], h)
}

func TestBuildDottedReferences(t *testing.T) {
	nn := build(t, `
		M(a) = [
			W = Parameter(2, 2)
			M = Times(W, a)
		]
		x = Input(2, 1)
		L1 = M(x)
		L2 = M(x)
		y = Plus(L1.W, L2.W)
	`)
	assert.Equal(t, []string{"L1.W", "L2.W"}, inputNames(node(t, nn.Net, "y")))
}

func TestBuildLiteralInputsAndOptions(t *testing.T) {
	nn := build(t, `
		M(a) = [ M = Sigmoid(a) ]
		x = Input(3, 2)
		y = Scale(0.5, x)
		W = Parameter(3, 3, needGradient=false, init=gaussian, seed=7)
		c = Constant(2, rows=3, cols=2)
		out = M(ElementTimes(c, y), tag=output)
	`)
	net := nn.Net

	s := node(t, net, "y").Input(0)
	require.NotNil(t, s)
	assert.Equal(t, graph.OpLearnableParameter, s.OperationName())
	assert.Equal(t, 0.5, s.Value().At(0, 0))
	assert.False(t, s.NeedsGradient())

	w, ok := node(t, net, "W").(*graph.LearnableParameter)
	require.True(t, ok)
	assert.False(t, w.NeedsGradient())
	assert.Equal(t, graph.InitGaussian, w.Init)
	assert.Equal(t, uint64(7), w.Seed)

	c := node(t, net, "c").Value()
	assert.Equal(t, 3, c.Rows())
	assert.Equal(t, 2, c.Cols())
	assert.Equal(t, 2.0, c.At(2, 1))

	out := node(t, net, "out.M")
	assert.Equal(t, []graph.Node{out}, net.RoleNodes(graph.RoleOutput))
	assert.Equal(t, graph.OpElementTimes, out.Input(0).OperationName())
}

func TestBuildMacroOptionalParameterOverride(t *testing.T) {
	nn := build(t, `
		Scaled(x, k=2) = [ y = Scale(k, x) ]
		a = Input(1, 1)
		s1 = Scaled(a)
		s2 = Scaled(a, k=5)
	`)
	net := nn.Net

	assert.Equal(t, 2.0, node(t, net, "s1.y").Input(0).Value().At(0, 0))
	assert.Equal(t, 5.0, node(t, net, "s2.y").Input(0).Value().At(0, 0))
	assert.Equal(t, "a", node(t, net, "s2.y").Input(1).Name())
}

func TestBuildWithVariables(t *testing.T) {
	nn := build(t, "x = Input(dim, 1)\nh = Parameter(hidden, dim)", WithVariables(map[string]string{"dim": "5", "hidden": "7"}))
	assert.Equal(t, 5, node(t, nn.Net, "x").Value().Rows())
	assert.Equal(t, 7, node(t, nn.Net, "h").Value().Rows())
	assert.Equal(t, 5, node(t, nn.Net, "h").Value().Cols())
}

func TestBuildSection(t *testing.T) {
	nn := build(t, twoLayers+"\nsmall = [\n a = Input(2, 1)\n b = Sigmoid(a)\n]\n", WithSection("small"))
	assert.Equal(t, 2, nn.Net.Len())
	assert.True(t, nn.Net.Exists("b"))
}

func TestBuildFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.ndl")
	require.NoError(t, os.WriteFile(path, []byte(twoLayers), 0o600))
	nn, err := BuildFromFile(path, WithMacros(ndl.NewMacroRegistry()))
	require.NoError(t, err)
	assert.True(t, nn.Net.Exists("L2.RBFF"))

	_, err = BuildFromFile(filepath.Join(t.TempDir(), "missing.ndl"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"too many scalars", "x = Input(1, 2, 3)", ndl.ErrParameterCount},
		{"too few inputs", "x = Input(1, 1)\ny = Plus(x)", ndl.ErrParameterCount},
		{"undefined input", "y = Plus(x, nowhere)\nx = Input(1, 1)", ndl.ErrUndefinedSymbol},
		{"not a number", "x = Input(many, 1)", ndl.ErrNotScalar},
		{"shape mismatch", "a = Input(2, 1)\nb = Input(3, 1)\nc = Plus(a, b)", graph.ErrShapeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildFromText(tc.text, WithMacros(ndl.NewMacroRegistry()))
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := BuildFromText("x = Input(1, 1, tag=bogus)", WithMacros(ndl.NewMacroRegistry()))
	require.Error(t, err)
	_, err = BuildFromText("p = Parameter(1, 1, init=sideways)", WithMacros(ndl.NewMacroRegistry()))
	require.Error(t, err)
}

func TestProcessScriptIncrementally(t *testing.T) {
	reg := ndl.NewMacroRegistry()
	script, err := Parse("x = Input(2, 1)\nW = Parameter(3, 0)", "", reg)
	require.NoError(t, err)
	nn := NewNetNDL(nil, script)

	require.NoError(t, ProcessScript(nn, ndl.PassAll, false))
	w, ok := node(t, nn.Net, "W").(*graph.LearnableParameter)
	require.True(t, ok)
	assert.False(t, w.Initialized(), "nothing has sized the parameter yet")

	require.NoError(t, script.Parse("y = Times(W, x)"))
	require.NoError(t, ProcessScript(nn, ndl.PassAll, true))
	assert.Equal(t, 3, nn.Net.Len())
	assert.Equal(t, []string{"W", "x"}, inputNames(node(t, nn.Net, "y")))
	assert.Equal(t, 2, w.Value().Cols())
	assert.True(t, w.Initialized())
}

func TestProcessScriptRejectsExistingNames(t *testing.T) {
	net := graph.New()
	_, err := net.AddNode(graph.NewInputValue("x", 1, 1))
	require.NoError(t, err)
	script, err := Parse("x = Input(1, 1)", "", ndl.NewMacroRegistry())
	require.NoError(t, err)
	require.ErrorIs(t, ProcessScript(NewNetNDL(net, script), ndl.PassAll, true), graph.ErrDuplicateName)
}

func TestProcessScriptStopsEarly(t *testing.T) {
	nn, err := BuildFromText("y = Plus(x, x)\nx = Input(2, 1)",
		WithMacros(ndl.NewMacroRegistry()), WithPasses(ndl.PassInitial, false))
	require.NoError(t, err)
	assert.Nil(t, node(t, nn.Net, "y").Input(0), "inputs are connected in the resolve pass")
	pass, _ := nn.Completed()
	assert.Equal(t, ndl.PassInitial, pass)

	require.NoError(t, ProcessScript(nn, ndl.PassResolve, false))
	assert.Equal(t, []string{"x", "x"}, inputNames(node(t, nn.Net, "y")))
}

func TestParseTag(t *testing.T) {
	for tag, want := range map[string]graph.Role{
		"feature":  graph.RoleFeature,
		"LABEL":    graph.RoleLabel,
		"criteria": graph.RoleCriterion,
		"eval":     graph.RoleEvaluation,
		"output":   graph.RoleOutput,
	} {
		got, err := ParseTag(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, want, got, tag)
	}
	_, err := ParseTag("bias")
	require.Error(t, err)
}

func TestFunctionAbbreviations(t *testing.T) {
	for abbrev, want := range map[string]string{
		"Input":        graph.OpInputValue,
		"image":        FnImageInput,
		"Param":        graph.OpLearnableParameter,
		"relu":         graph.OpRectifiedLinear,
		"PerDimMVNorm": graph.OpPerDimMeanVarNormalization,
		"CEWithSM":     graph.OpCrossEntropyWithSoftmax,
		"Conv":         graph.OpConvolution,
		"MaxPool":      graph.OpMaxPooling,
	} {
		got, _, ok := Functions.LookupFunction(abbrev)
		require.True(t, ok, abbrev)
		assert.Equal(t, want, got, abbrev)
	}
}
