package graph

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/cngraph/internal/tensor"
)

// Operation tags of the precomputed statistics.
const (
	OpMean      = "Mean"
	OpInvStdDev = "InvStdDev"
)

// varianceFloor bounds the variance away from zero before the reciprocal
// square root is taken.
const varianceFloor = 1e-10

// PrecomputeNode is a node whose value is a statistic accumulated over a
// data pass and then frozen.
//
// While uncomputed, every Evaluate folds the input's columns into the
// statistic. MarkComputed(true) freezes it; MarkComputed(false) starts over.
type PrecomputeNode interface {
	Node
	HasComputed() bool
	MarkComputed(computed bool)
	SamplesSeen() int
}

// statistic holds the state shared by Mean and InvStdDev.
type statistic struct {
	base
	hasComputed bool
	numSamples  int
	ones        tensor.Matrix
}

// HasComputed reports whether the statistic is frozen.
func (n *statistic) HasComputed() bool { return n.hasComputed }
// SamplesSeen returns the number of columns accumulated since the last
// MarkComputed.
func (n *statistic) SamplesSeen() int { return n.numSamples }
func (n *statistic) persistsValue() bool { return true }

// NeedsGradient is always false: statistics are constants to the rest of
// the network.
func (n *statistic) NeedsGradient() bool { return false }
func (n *statistic) SetNeedsGradient(bool) {}

func (n *statistic) validateStatistic() error {
	if err := n.checkInputs(false); err != nil {
		return err
	}
	in := n.inputs[0]
	n.value.Resize(in.Value().Rows(), 1)
	n.image = in.Image()
	return nil
}

// accumulate folds samples into avg as a running column average:
// avg = samples·1/(n+b) + avg·n/(n+b).
func (n *statistic) accumulate(avg, samples *tensor.Matrix) {
	b := samples.Cols()
	if n.ones.Rows() != b {
		n.ones.Resize(b, 1)
		n.ones.SetValue(1)
	}
	if avg.Rows() != samples.Rows() || avg.Cols() != 1 {
		avg.Resize(samples.Rows(), 1)
		avg.SetValue(0)
	}
	total := float64(n.numSamples + b)
	tensor.MultiplyAndWeightedAdd(1/total, samples, false, &n.ones, false, float64(n.numSamples)/total, avg)
}

// EvaluateAt fails: statistics cannot sit inside a recurrent loop.
func (n *statistic) EvaluateAt(int) error {
	return unsupported(n, ErrRecurrentNotSupported)
}

// ComputeInputGradient fails: statistics take no gradient.
func (n *statistic) ComputeInputGradient(int) error {
	return unsupported(n, ErrGradientNotSupported)
}

func (n *statistic) ComputeInputGradientAt(int, int) error {
	return unsupported(n, ErrGradientNotSupported)
}

type statisticAttrs struct {
	HasComputed bool `json:"hasComputed"`
}

func (n *statistic) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(statisticAttrs{HasComputed: n.hasComputed})
}

func (n *statistic) UnmarshalAttrs(raw json.RawMessage, _ int) error {
	var a statisticAttrs
	if err := unmarshalAttrs(raw, &a); err != nil {
		return err
	}
	n.hasComputed = a.HasComputed
	n.numSamples = 0
	return nil
}

func (n *statistic) Describe(includeData bool) string {
	return n.base.Describe(includeData) + fmt.Sprintf("  hasComputed: %t samples: %d\n", n.hasComputed, n.numSamples)
}

func (n *statistic) duplicateStatistic(name string, flags CopyFlags) statistic {
	d := statistic{base: n.base.duplicate(name, flags)}
	if flags&CopyValue != 0 {
		d.hasComputed = n.hasComputed
		d.numSamples = n.numSamples
	}
	return d
}

// Mean is the per-row average of every column seen while uncomputed.
type Mean struct {
	statistic
}

// NewMean creates an uncomputed Mean.
func NewMean(name string) *Mean {
	return &Mean{statistic{base: newBase(OpMean, name, 1)}}
}

// Validate sizes the value to one column with the input's rows.
func (n *Mean) Validate() error { return n.validateStatistic() }

// Evaluate folds the input's columns into the running average. It does
// nothing once computed.
func (n *Mean) Evaluate() error {
	if n.hasComputed {
		return nil
	}
	samples := n.inputs[0].Value()
	if samples.Cols() == 0 {
		return nil
	}
	n.accumulate(n.value, samples)
	n.numSamples += samples.Cols()
	return nil
}

// MarkComputed freezes the average, or with false reopens it.
func (n *Mean) MarkComputed(computed bool) {
	n.hasComputed = computed
	n.numSamples = 0
}

// Duplicate copies the computed state along with the value.
func (n *Mean) Duplicate(name string, flags CopyFlags) Node {
	return &Mean{n.duplicateStatistic(name, flags)}
}

// InvStdDev is the per-row 1/σ of every column seen while uncomputed. The
// value is only meaningful once computed.
type InvStdDev struct {
	statistic
	avg    tensor.Matrix
	avgSqr tensor.Matrix
	sqr    tensor.Matrix
}

// NewInvStdDev creates an uncomputed InvStdDev.
func NewInvStdDev(name string) *InvStdDev {
	return &InvStdDev{statistic: statistic{base: newBase(OpInvStdDev, name, 1)}}
}

// Validate sizes the value to one column with the input's rows.
func (n *InvStdDev) Validate() error { return n.validateStatistic() }

// Evaluate folds the input into the running first and second moments.
// It does nothing once computed.
func (n *InvStdDev) Evaluate() error {
	if n.hasComputed {
		return nil
	}
	samples := n.inputs[0].Value()
	if samples.Cols() == 0 {
		return nil
	}
	n.accumulate(&n.avg, samples)
	n.sqr.AssignSquareOf(samples)
	n.accumulate(&n.avgSqr, &n.sqr)
	n.numSamples += samples.Cols()
	return nil
}

// MarkComputed(true) turns the running moments into 1/sqrt(max(E[x²]−E[x]², 1e-10)).
func (n *InvStdDev) MarkComputed(computed bool) {
	n.hasComputed = computed
	if computed && n.numSamples > 0 {
		var meanSq tensor.Matrix
		meanSq.AssignSquareOf(&n.avg)
		n.value.AssignDifferenceOf(&n.avgSqr, &meanSq)
		n.value.TruncateBottom(varianceFloor)
		n.value.InplaceSqrt()
		n.value.ElementInverse()
	}
	n.numSamples = 0
}

// Duplicate copies the computed state and the running moments along with
// the value.
func (n *InvStdDev) Duplicate(name string, flags CopyFlags) Node {
	d := &InvStdDev{statistic: n.duplicateStatistic(name, flags)}
	if flags&CopyValue != 0 {
		d.avg.CopyFrom(&n.avg)
		d.avgSqr.CopyFrom(&n.avgSqr)
	}
	return d
}

// IsPrecompute reports whether n is a precomputed statistic.
func IsPrecompute(n Node) bool {
	_, ok := n.(PrecomputeNode)
	return ok
}
