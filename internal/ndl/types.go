package ndl

// Type classifies a Node.
type Type int

// Node types.
const (
	Null Type = iota
	Constant
	Function
	Variable
	Parameter
	Undetermined
	DotParameter
	OptionalParameter
	Array
	MacroCall
	Macro
)

var typeNames = [...]string{
	Null:              "Null",
	Constant:          "Constant",
	Function:          "Function",
	Variable:          "Variable",
	Parameter:         "Parameter",
	Undetermined:      "Undetermined",
	DotParameter:      "DotParameter",
	OptionalParameter: "OptionalParameter",
	Array:             "Array",
	MacroCall:         "MacroCall",
	Macro:             "Macro",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "Type(?)"
	}
	return typeNames[t]
}

// Pass is one sweep of evaluation over a script.
type Pass int

// Evaluation passes, in the order they run.
const (
	// PassInitial creates the objects named by function calls.
	PassInitial Pass = iota
	// PassResolve binds parameters, including forward references.
	PassResolve
	// PassFinal runs after the built structure has been validated.
	PassFinal

	// PassAll is the last pass; running until it runs every pass.
	PassAll = PassFinal
)

func (p Pass) String() string {
	switch p {
	case PassInitial:
		return "initial"
	case PassResolve:
		return "resolve"
	case PassFinal:
		return "final"
	}
	return "Pass(?)"
}
