package graph

// OpPerDimMeanVarNormalization is the operation tag of PerDimMeanVarNormalization.
const OpPerDimMeanVarNormalization = "PerDimMeanVarNormalization"

// PerDimMeanVarNormalization computes (feature − mean) ⊙ invStdDev with the
// column vectors broadcast over every sample. It is evaluation-only.
//
// Inputs are (feature, mean, invStdDev). The statistics must either both be
// parameters, so they are saved with the model, or be exactly a Mean and an
// InvStdDev node.
type PerDimMeanVarNormalization struct {
	base
}

// NewPerDimMeanVarNormalization creates a normalization node.
func NewPerDimMeanVarNormalization(name string) *PerDimMeanVarNormalization {
	return &PerDimMeanVarNormalization{newBase(OpPerDimMeanVarNormalization, name, 3)}
}

// Validate requires the mean and invStdDev inputs to be a Mean and an
// InvStdDev, or two parameters, with one row per feature row. Neither
// receives a gradient.
func (n *PerDimMeanVarNormalization) Validate() error {
	if err := n.checkInputs(true); err != nil {
		return err
	}
	feature, mean, std := n.inputs[0], n.inputs[1], n.inputs[2]

	if IsPrecompute(feature) {
		return shapeErrorf(n, ErrShapeMismatch, "feature input %q must not be a precompute node", feature.Name())
	}

	_, meanIsStat := mean.(*Mean)
	_, stdIsStat := std.(*InvStdDev)
	bothParams := isParameter(mean) && isParameter(std)
	if !bothParams && !(meanIsStat && stdIsStat) {
		return shapeErrorf(n, ErrShapeMismatch,
			"mean and invStdDev inputs must both be LearnableParameter or be (Mean, InvStdDev), got (%s, %s)",
			mean.OperationName(), std.OperationName())
	}

	rows := feature.Value().Rows()
	if bothParams {
		autoSize(mean, rows, 1)
		autoSize(std, rows, 1)
	}

	for i, in := range n.inputs {
		if in.Value().IsEmpty() {
			return shapeErrorf(n, ErrZeroElements, "input %d %q", i, in.Name())
		}
	}
	if mean.Value().Rows() != rows || std.Value().Rows() != rows {
		return shapeErrorf(n, ErrShapeMismatch, "all inputs must have %d rows, got mean %d and invStdDev %d",
			rows, mean.Value().Rows(), std.Value().Rows())
	}
	if mean.Value().Cols() != 1 || std.Value().Cols() != 1 {
		return shapeErrorf(n, ErrShapeMismatch, "mean and invStdDev must be column vectors")
	}

	mean.SetNeedsGradient(false)
	std.SetNeedsGradient(false)

	n.value.Resize(rows, feature.Value().Cols())
	n.image = feature.Image()
	return nil
}

// Evaluate computes (feature − mean) ⊙ invStdDev, column by column.
func (n *PerDimMeanVarNormalization) Evaluate() error { return n.forward(wholeBatch) }
func (n *PerDimMeanVarNormalization) EvaluateAt(t int) error { return n.forward(t) }

// forward slices only the feature and the output; the statistics are shared.
func (n *PerDimMeanVarNormalization) forward(t int) error {
	f := n.operand(0, t)
	out := n.output(t, f.Rows(), f.Cols())
	out.AssignColumnBroadcastDifference(f, n.inputs[1].Value())
	out.ColumnElementMultiplyWith(n.inputs[2].Value())
	return nil
}

func (n *PerDimMeanVarNormalization) ComputeInputGradient(int) error {
	return unsupported(n, ErrGradientNotSupported)
}

func (n *PerDimMeanVarNormalization) ComputeInputGradientAt(int, int) error {
	return unsupported(n, ErrGradientNotSupported)
}

func (n *PerDimMeanVarNormalization) Duplicate(name string, flags CopyFlags) Node {
	return &PerDimMeanVarNormalization{n.base.duplicate(name, flags)}
}
