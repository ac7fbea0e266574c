package ndl

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLex(t *testing.T) {
	toks, err := lex("x = Plus(L1.W, -1.5e3) # comment\ny='a b';")
	require.NoError(t, err)
	var kinds []tokenKind
	var texts []string
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
		texts = append(texts, tok.text)
	}
	assert.Equal(t, []string{"x", "=", "Plus", "(", "L1.W", ",", "-1.5e3", ")", "\n", "y", "=", "a b", ";", ""}, texts)
	assert.Equal(t, tokNumber, kinds[6])
	assert.Equal(t, tokString, kinds[11])
	assert.Equal(t, 2, toks[9].line)

	_, err = lex("x = 1\ny = \"open\nz = 2")
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestParseStatements(t *testing.T) {
	s := parse(t, `
		x = InputValue(3, 1, tag=feature)
		w = 2.5; file = "data.txt"
		y = Plus(x, z)
		z = Times(w, x)
	`)

	x := s.FindSymbol("x", false)
	require.NotNil(t, x)
	assert.Equal(t, Function, x.Type())
	assert.Equal(t, "InputValue", x.Value())
	require.Len(t, x.Params(), 3)
	assert.Len(t, x.Positional(), 2)
	tag, err := x.OptionalParameter("TAG", "")
	require.NoError(t, err)
	assert.Equal(t, "feature", tag)
	def, err := x.OptionalParameter("needGradient", "true")
	require.NoError(t, err)
	assert.Equal(t, "true", def)

	w := s.FindSymbol("w", false)
	assert.Equal(t, Constant, w.Type())
	f, err := w.Float()
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)
	file, err := s.FindSymbol("file", false).Scalar()
	require.NoError(t, err)
	assert.Equal(t, "data.txt", file)

	// z was used before its definition.
	y := s.FindSymbol("y", false)
	forward := y.Params()[1]
	assert.Equal(t, Undetermined, forward.Type())
	resolved, err := forward.Resolve()
	require.NoError(t, err)
	assert.Same(t, s.FindSymbol("z", false), resolved)

	var names []string
	for _, st := range s.Statements() {
		names = append(names, st.Name())
	}
	assert.Equal(t, []string{"x", "w", "file", "y", "z"}, names)
}

func TestParseAbbreviatedFunctions(t *testing.T) {
	s := parse(t, "a = Input(2, 1)\nh = sig(a)\ne = SE(a, h)\np = PLU(a, a)")
	for name, want := range map[string]string{"a": "InputValue", "h": "Sigmoid", "e": "SquareError", "p": "Plus"} {
		assert.Equal(t, want, s.FindSymbol(name, false).Value(), name)
	}

	// Too short to stand for Sigmoid.
	_, err := Parse("h = Si(a)", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestParseRejectsFunctionNamesAsVariables(t *testing.T) {
	for _, text := range []string{"Plus = 1", "sigm = 2", "mi = Input(1, 1)"} {
		_, err := Parse(text, WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
		require.ErrorIs(t, err, ErrReservedName, text)
	}
	_, err := Parse("t = 1", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
	require.NoError(t, err)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
		line int
	}{
		{"unknown function", "x = 1\ny = Softmax(x)", ErrUnknownFunction, 2},
		{"duplicate", "x = 1\nx = 2", ErrDuplicateSymbol, 2},
		{"missing value", "x = ", ErrSyntax, 1},
		{"unclosed call", "x = Plus(a", ErrSyntax, 1},
		{"missing comma", "x = Plus(a b)", ErrSyntax, 1},
		{"no name", "= 3", ErrSyntax, 1},
		{"trailing garbage", "x = 1 2", ErrSyntax, 1},
		{"calling a variable", "x = 1\ny = x(2)", ErrSyntax, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text, WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
			require.ErrorIs(t, err, tc.want)
			var se *ScriptError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.line, se.Line)
		})
	}
}

func TestParseAliasesAndArrays(t *testing.T) {
	s := parse(t, "x = Input(1, 1)\na = x\ndims = 1:2:3\nlist = {4, 5}\nword = feature")

	assert.Same(t, s.FindSymbol("x", false), s.FindSymbol("a", false))
	dims := s.FindSymbol("dims", false)
	assert.Equal(t, Array, dims.Type())
	assert.Equal(t, "1:2:3", dims.String())
	assert.Len(t, s.FindSymbol("list", false).Params(), 2)

	word := s.FindSymbol("word", false)
	assert.Equal(t, Variable, word.Type())
	v, err := word.Scalar()
	require.NoError(t, err)
	assert.Equal(t, "feature", v)

	// An alias is not a statement of its own.
	assert.Len(t, s.Statements(), 4)
}

func TestParseNestedAndBareCalls(t *testing.T) {
	s := parse(t, "y = Plus(Times(w, x), b)\nSigmoid(y)")
	inner := s.FindSymbol("y", false).Params()[0]
	assert.Equal(t, Function, inner.Type())
	assert.Equal(t, "Times", inner.Value())
	assert.Contains(t, inner.Name(), "unnamed")

	bare := s.Statements()[1]
	assert.Equal(t, "Sigmoid", bare.Value())
	assert.Contains(t, bare.Name(), "unnamed")
	assert.NotEqual(t, inner.Name(), bare.Name())
}

func TestParseMacroDefinitions(t *testing.T) {
	reg := NewMacroRegistry()
	s, err := Parse(`
		Sq(v) = Times(v, v)
		Layer(x, rows, cols, scale=1) = [
			W = Parameter(rows, cols)
			Layer = Sigmoid(Times(W, x))
		]
		y = Layer(features, 10, 20)
	`, WithFunctions(testFunctions), WithMacros(reg))
	require.NoError(t, err)

	assert.Equal(t, []string{"Layer", "Sq"}, reg.Names())
	layer := reg.Lookup("LAYER")
	require.NotNil(t, layer)
	assert.Equal(t, []string{"x", "rows", "cols"}, layer.MacroParams())
	assert.True(t, layer.Script().ExistsSymbol("scale"))

	y := s.FindSymbol("y", false)
	assert.Equal(t, MacroCall, y.Type())
	assert.Equal(t, "Layer", y.Value())
	assert.Same(t, layer.Script(), y.Script())

	_, err = Parse("M(a) = Plus(a, a)", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()), WithoutDefinitions())
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = Parse("Times(a) = Plus(a, a)", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
	require.ErrorIs(t, err, ErrReservedName)

	_, err = Parse("M(a, a) = Plus(a, a)", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
	require.ErrorIs(t, err, ErrDuplicateSymbol)
}

const sectionedFile = `
load = macros
run = network

macros = [
	Sq(v) = Times(v, v)
]

network = [
	a = Input(1, 1)
	y = Sq(a)
]

unused = [
	z = Bogus(1)
]
`

func TestParseFileSections(t *testing.T) {
	reg := NewMacroRegistry()
	s, err := ParseFile(sectionedFile, WithFunctions(testFunctions), WithMacros(reg))
	require.NoError(t, err)
	assert.NotNil(t, reg.Lookup("Sq"))
	assert.Equal(t, MacroCall, s.FindSymbol("y", false).Type())
	assert.False(t, s.ExistsSymbol("z"))

	net, err := ParseSection(sectionedFile, "NETWORK", WithFunctions(testFunctions), WithMacros(reg))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "y"}, net.Symbols())

	_, err = ParseSection(sectionedFile, "missing", WithFunctions(testFunctions), WithMacros(reg))
	require.ErrorIs(t, err, ErrUndefinedSymbol)

	_, err = ParseSection(sectionedFile, "unused", WithFunctions(testFunctions), WithMacros(reg))
	require.ErrorIs(t, err, ErrUnknownFunction)
}

func TestParseFileWithoutLoadOrRun(t *testing.T) {
	s, err := ParseFile("[\n x = Input(1, 1)\n inner = [ y = Sigmoid(x) ]\n]", WithFunctions(testFunctions), WithMacros(NewMacroRegistry()))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, s.Symbols())
}

func TestScriptErrorFormat(t *testing.T) {
	err := errors.WithStack(&ScriptError{Name: "L1", Msg: "bad thing", Line: 4, Context: "macro M"})
	assert.Equal(t, "line 4: L1: bad thing (in macro M)", err.Error())
	assert.Equal(t, "undefined symbol", (&ScriptError{Err: ErrUndefinedSymbol}).Error())
}
