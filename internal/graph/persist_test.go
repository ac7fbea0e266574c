package graph

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/born-ml/cngraph/internal/serialization"
	"github.com/born-ml/cngraph/internal/tensor"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wiring lists every node as name -> input names, "" for an open slot.
func wiring(net *Network) map[string][]string {
	out := make(map[string][]string, net.Len())
	for _, n := range net.Nodes() {
		ins := make([]string, len(n.Inputs()))
		for i, in := range n.Inputs() {
			if in != nil {
				ins[i] = in.Name()
			}
		}
		out[n.Name()] = ins
	}
	return out
}

func roleNames(net *Network) map[Role][]string {
	out := make(map[Role][]string)
	for _, r := range AllRoles {
		if members := net.RoleNodes(r); len(members) > 0 {
			out[r] = names(members)
		}
	}
	return out
}

func TestNetworkRoundTrip(t *testing.T) {
	net, nodes := feedForward(t, rand.New(rand.NewPCG(30, 31)))
	mean := NewMean("mean")
	add(t, net, attach(t, mean, nodes["x"]))
	require.NoError(t, net.AddRole(RoleEvaluation, nodes["crit"]))
	require.NoError(t, net.AddRole(RoleOutput, nodes["s"]))
	require.NoError(t, net.AccumulatePrecompute(map[string]*tensor.Matrix{"x": nodes["x"].Value().Clone()}))
	net.FinishPrecompute()
	require.NoError(t, net.SetLearnableNodesBelowNeedGradient(false, nodes["b"]))

	var buf bytes.Buffer
	require.NoError(t, net.Encode(&buf))

	loaded := New()
	require.NoError(t, loaded.Decode(&buf))

	assert.Equal(t, names(net.Nodes()), names(loaded.Nodes()))
	if diff := cmp.Diff(wiring(net), wiring(loaded)); diff != "" {
		t.Errorf("wiring mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(roleNames(net), roleNames(loaded)); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"w", "b", "mean"} {
		want, _ := net.Node(name)
		got, err := loaded.Node(name)
		require.NoError(t, err)
		if diff := cmp.Diff(want.Value().ColumnMajor(), got.Value().ColumnMajor()); diff != "" {
			t.Errorf("%s value mismatch (-want +got):\n%s", name, diff)
		}
		assert.Equal(t, want.NeedsGradient(), got.NeedsGradient(), name)
	}

	got, _ := loaded.Node("mean")
	assert.True(t, got.(*Mean).HasComputed())
	assert.False(t, loaded.RequiresPrecompute())

	x, _ := loaded.Node("x")
	assert.Equal(t, 3, x.Value().Rows())
	assert.Equal(t, 4, x.Value().Cols())

	// The loaded network evaluates to the same criterion.
	require.NoError(t, loaded.SetInput("x", nodes["x"].Value()))
	require.NoError(t, loaded.SetInput("label", nodes["label"].Value()))
	crit, _ := loaded.Node("crit")
	require.NoError(t, loaded.Evaluate(crit))
	require.NoError(t, net.Evaluate(nodes["crit"]))
	assert.InDelta(t, nodes["crit"].Value().At(0, 0), crit.Value().At(0, 0), 1e-12)
}

func TestNetworkRoundTripKeepsLayersAndDelays(t *testing.T) {
	net := New()
	net.SetSamplesPerStep(2)
	x := NewImageInput("x", ImageLayout{Width: 4, Height: 4, Channels: 1}, 2)
	w := NewLearnableParameter("w", 0, 0)
	conv := NewConvolution("conv", ConvolutionParams{KernelWidth: 2, KernelHeight: 2, HorizontalSubsample: 2, VerticalSubsample: 2, OutputChannels: 3, MaxTempMemSizeInSamples: 8})
	pool := NewMaxPooling("pool", PoolingParams{WindowWidth: 2, WindowHeight: 2, HorizontalSubsample: 2, VerticalSubsample: 2})
	d := NewDelay("d", 3, 2)
	d.DelaySteps = 2
	d.InitialActivity = 0.5
	add(t, net, x, w, attach(t, conv, w, x), attach(t, pool, conv), attach(t, d, pool))
	require.NoError(t, net.Validate())

	var buf bytes.Buffer
	require.NoError(t, net.Encode(&buf))
	loaded := New()
	require.NoError(t, loaded.Decode(&buf))

	lc, _ := loaded.Node("conv")
	assert.Equal(t, conv.ConvolutionParams, lc.(*Convolution).ConvolutionParams)
	assert.Equal(t, ImageLayout{Width: 2, Height: 2, Channels: 3}, lc.Image())
	lp, _ := loaded.Node("pool")
	assert.Equal(t, pool.PoolingParams, lp.(*MaxPooling).PoolingParams)
	ld, _ := loaded.Node("d")
	assert.Equal(t, 2, ld.(*Delay).DelaySteps)
	assert.Equal(t, 0.5, ld.(*Delay).InitialActivity)
	assert.Equal(t, 2, ld.SamplesPerStep())
	assert.Equal(t, 2, loaded.SamplesPerStep())

	lw, _ := loaded.Node("w")
	assert.Equal(t, []int{3, 4}, []int{lw.Value().Rows(), lw.Value().Cols()})
	require.NoError(t, loaded.Validate())
}

func TestSaveAndLoadFile(t *testing.T) {
	net, _ := feedForward(t, rand.New(rand.NewPCG(32, 33)))
	path := filepath.Join(t.TempDir(), "model"+serialization.FileExtension)
	require.NoError(t, net.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, net.Len(), loaded.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.cnm"))
	require.Error(t, err)
}

// writeHeader encodes a hand-built header with no tensors.
func writeHeader(t *testing.T, h serialization.Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, serialization.Write(&buf, h, nil))
	return &buf
}

func TestLoadVersionOneSkipsEvaluationRole(t *testing.T) {
	h := serialization.Header{
		ModelVersion: 1,
		Nodes: []serialization.NodeRecord{
			{Name: "x", Operation: OpInputValue, Image: [3]int{1, 2, 1}, Attrs: json.RawMessage(`{"rows":2,"cols":1}`)},
			{Name: "y", Operation: OpSigmoid, Inputs: []string{"x"}, Image: [3]int{1, 2, 1}},
		},
		Roles: map[string][]string{
			string(RoleFeature):    {"x"},
			string(RoleEvaluation): {"y"},
		},
	}
	net := New()
	require.NoError(t, net.Decode(writeHeader(t, h)))
	assert.Equal(t, []string{"x"}, names(net.RoleNodes(RoleFeature)))
	assert.Empty(t, net.RoleNodes(RoleEvaluation))

	h.ModelVersion = CurrentModelVersion
	require.NoError(t, net.Decode(writeHeader(t, h)))
	assert.Equal(t, []string{"y"}, names(net.RoleNodes(RoleEvaluation)))
}

func TestLoadRejectsUnknownOperation(t *testing.T) {
	h := serialization.Header{
		ModelVersion: CurrentModelVersion,
		Nodes:        []serialization.NodeRecord{{Name: "x", Operation: "Teleport"}},
	}
	net, _ := feedForward(t, rand.New(rand.NewPCG(34, 35)))
	err := net.Decode(writeHeader(t, h))
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Equal(t, 8, net.Len(), "a failed load leaves the network untouched")
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	h := serialization.Header{
		ModelVersion: CurrentModelVersion + 1,
		Nodes:        []serialization.NodeRecord{{Name: "x", Operation: OpInputValue}},
	}
	require.ErrorIs(t, New().Decode(writeHeader(t, h)), serialization.ErrUnsupportedVersion)
}
