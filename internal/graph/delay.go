package graph

import (
	"encoding/json"
	"fmt"
)

// OpDelay is the operation tag of Delay.
const OpDelay = "Delay"

// DefaultInitialActivity is the value a Delay emits before its input has
// produced any step.
const DefaultInitialActivity = 0.1

// Delay outputs its input from DelaySteps time steps earlier. It is the
// only node allowed to close a recurrent loop; rows are fixed up front so
// the loop can be sized before its other members validate.
type Delay struct {
	base
	Rows            int
	DelaySteps      int
	InitialActivity float64
}

// NewDelay creates a Delay of rows x cols that looks one step back.
func NewDelay(name string, rows, cols int) *Delay {
	n := &Delay{base: newBase(OpDelay, name, 1), Rows: rows, DelaySteps: 1, InitialActivity: DefaultInitialActivity}
	n.value.Resize(rows, cols)
	n.image = VectorLayout(rows)
	return n
}

// Validate requires at least one step of delay and an input with Rows
// rows.
func (n *Delay) Validate() error {
	if err := n.checkInputs(true); err != nil {
		return err
	}
	if n.DelaySteps < 1 {
		return shapeErrorf(n, ErrShapeMismatch, "delay must be at least 1 step, got %d", n.DelaySteps)
	}
	in := n.inputs[0].Value()
	if in.Rows() > 0 && in.Rows() != n.Rows {
		return shapeErrorf(n, ErrShapeMismatch, "input has %d rows, delay has %d", in.Rows(), n.Rows)
	}
	cols := max(n.value.Cols(), in.Cols(), 1)
	n.value.Resize(n.Rows, cols)
	return nil
}

// Evaluate shifts the whole input by DelaySteps steps. Outside a loop the
// input is already complete, so every step can be filled at once.
func (n *Delay) Evaluate() error {
	in := n.inputs[0].Value()
	n.value.Resize(n.Rows, in.Cols())
	steps := in.Cols() / n.samplesPerStep
	for t := 0; t < steps; t++ {
		if err := n.EvaluateAt(t); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateAt copies step t−DelaySteps of the input, or fills the step with
// InitialActivity when that lies before the start.
func (n *Delay) EvaluateAt(t int) error {
	out := n.frame(n.value, t)
	src := t - n.DelaySteps
	if src < 0 {
		out.SetValue(n.InitialActivity)
		return nil
	}
	out.CopyFrom(n.inputFrame(0, src))
	return nil
}

func (n *Delay) ComputeInputGradient(i int) error {
	steps := n.value.Cols() / n.samplesPerStep
	for t := steps - 1; t >= 0; t-- {
		if err := n.ComputeInputGradientAt(i, t); err != nil {
			return err
		}
	}
	return nil
}

func (n *Delay) ComputeInputGradientAt(_, t int) error {
	src := t - n.DelaySteps
	if src < 0 {
		return nil
	}
	gradientFrame(n.inputs[0], src).Add(n.outputGradient(t))
	return nil
}

// Duplicate copies the delay settings.
func (n *Delay) Duplicate(name string, flags CopyFlags) Node {
	d := *n
	d.base = n.base.duplicate(name, flags)
	if flags&CopyValue == 0 {
		d.value.Resize(n.Rows, n.value.Cols())
	}
	return &d
}

type delayAttrs struct {
	Rows            int     `json:"rows"`
	DelaySteps      int     `json:"delayTime"`
	InitialActivity float64 `json:"initialActivity"`
}

func (n *Delay) MarshalAttrs() (json.RawMessage, error) {
	return marshalAttrs(delayAttrs{Rows: n.Rows, DelaySteps: n.DelaySteps, InitialActivity: n.InitialActivity})
}

func (n *Delay) UnmarshalAttrs(raw json.RawMessage, _ int) error {
	a := delayAttrs{DelaySteps: 1, InitialActivity: DefaultInitialActivity}
	if err := unmarshalAttrs(raw, &a); err != nil {
		return err
	}
	n.Rows, n.DelaySteps, n.InitialActivity = a.Rows, a.DelaySteps, a.InitialActivity
	n.value.Resize(n.Rows, max(n.value.Cols(), 1))
	n.image = VectorLayout(n.Rows)
	return nil
}

func (n *Delay) Describe(includeData bool) string {
	return n.base.Describe(includeData) + fmt.Sprintf("  delay: %d initial: %g\n", n.DelaySteps, n.InitialActivity)
}
