package ndl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualInsensitive(t *testing.T) {
	cases := []struct {
		name, full, alt string
		want            string
		ok              bool
	}{
		{"Sigmoid", "Sigmoid", "", "Sigmoid", true},
		{"sig", "Sigmoid", "", "Sigmoid", true},
		{"SIGMOI", "Sigmoid", "", "Sigmoid", true},
		{"si", "Sigmoid", "", "", false},
		{"sigmoids", "Sigmoid", "", "", false},
		{"", "Plus", "", "", false},
		{"inp", "InputValue", "Input", "InputValue", true},
		{"inpu", "InputValue", "", "", false},
		{"se", "SquareError", "SE", "SquareError", true},
		{"sx", "SquareError", "SE", "", false},
	}
	for _, tc := range cases {
		got, ok := EqualInsensitive(tc.name, tc.full, tc.alt)
		assert.Equal(t, tc.ok, ok, "%s vs %s", tc.name, tc.full)
		assert.Equal(t, tc.want, got, "%s vs %s", tc.name, tc.full)
	}
}

func TestFunctionsFirstMatchWins(t *testing.T) {
	fs := Functions{{Name: "Delete"}, {Name: "Delay", AllowUndetermined: true}}
	full, allow, ok := fs.LookupFunction("del")
	require.True(t, ok)
	assert.Equal(t, "Delete", full)
	assert.False(t, allow)

	full, allow, ok = fs.LookupFunction("dela")
	require.True(t, ok)
	assert.Equal(t, "Delay", full)
	assert.True(t, allow)
	assert.Equal(t, []string{"Delete", "Delay"}, fs.Names())
}

func TestSymbolTable(t *testing.T) {
	s := NewScript(WithMacros(NewMacroRegistry()))
	a := s.newNode(Constant, "Alpha", "1", 0)
	require.NoError(t, s.AddSymbol("Alpha", a))
	assert.Same(t, a, s.FindSymbol("ALPHA", false))
	assert.True(t, s.ExistsSymbol("alpha"))
	assert.Equal(t, []string{"Alpha"}, s.Symbols())

	b := s.newNode(Constant, "b", "2", 0)
	require.ErrorIs(t, s.AddSymbol("alpha", b), ErrDuplicateSymbol)
	require.NoError(t, s.AssignSymbol("alpha", b))
	assert.Same(t, b, s.FindSymbol("Alpha", false))
	assert.Equal(t, []string{"Alpha"}, s.Symbols(), "the first spelling is kept")

	require.ErrorIs(t, s.AssignSymbol("gamma", b), ErrUndefinedSymbol)

	fwd := s.newNode(Undetermined, "later", "later", 0)
	require.NoError(t, s.AddSymbol("later", fwd))
	require.NoError(t, s.AddSymbol("later", a), "an undetermined symbol may be defined")
}

func TestDottedLookup(t *testing.T) {
	s := parse(t, `
		M(a) = [
			W = Times(a, a)
			M = Sigmoid(W)
		]
		x = Input(1, 1)
		L1 = M(x)
	`)
	w := s.FindSymbol("L1.W", true)
	require.NotNil(t, w)
	assert.Equal(t, "Times", w.Value())
	assert.Same(t, w, s.FindSymbol("l1.w", true))
	assert.Nil(t, s.FindSymbol("L1.W", false))
	assert.Nil(t, s.FindSymbol("x.W", true), "x is not a macro call")
	assert.Nil(t, s.FindSymbol("L1.nothing", true))
}

func TestDottedReferencesAreLeftToTheEvaluator(t *testing.T) {
	s := parse(t, `
		M(a) = [
			size = 3
			M = Times(a, a)
		]
		x = Input(1, 1)
		L1 = M(x)
		y = Plus(L1.M, x)
		p = Parameter(L1.size, 1)
	`)
	ref := s.FindSymbol("y", false).Params()[0]
	require.Equal(t, DotParameter, ref.Type())
	res, err := ref.Resolve()
	require.NoError(t, err)
	assert.Same(t, ref, res)

	rows, err := s.FindSymbol("p", false).Positional()[0].Int()
	require.NoError(t, err)
	assert.Equal(t, 3, rows, "a dotted scalar reads the macro body")
}

func TestScalarFollowsAliases(t *testing.T) {
	s := parse(t, "a = 5\nb = a\nd = e\ne = 7\nword = uniform")
	for name, want := range map[string]string{"a": "5", "b": "5", "d": "7", "word": "uniform"} {
		v, err := s.FindSymbol(name, false).Scalar()
		require.NoError(t, err, name)
		assert.Equal(t, want, v, name)
	}

	n, err := s.FindSymbol("e", false).Int()
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	frac := parse(t, "f = 2.5\nflag = TRUE")
	_, err = frac.FindSymbol("f", false).Int()
	require.ErrorIs(t, err, ErrNotScalar)
	ok, err := frac.FindSymbol("flag", false).Bool()
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = frac.FindSymbol("f", false).Bool()
	require.ErrorIs(t, err, ErrNotScalar)

	fn := parse(t, "x = Input(1, 1)")
	_, err = fn.FindSymbol("x", false).Scalar()
	require.ErrorIs(t, err, ErrNotScalar)
}

func TestDefineConstants(t *testing.T) {
	reg := NewMacroRegistry()
	s, err := Parse("p = Parameter(hidden, 1)\ndepth = 2", WithFunctions(testFunctions), WithMacros(reg))
	require.NoError(t, err)

	rows := s.FindSymbol("p", false).Positional()[0]
	v, err := rows.Scalar()
	require.NoError(t, err)
	assert.Equal(t, "hidden", v, "an undefined word stands for itself")

	require.NoError(t, s.DefineConstants(map[string]string{"hidden": "128", "depth": "3"}))
	n, err := rows.Int()
	require.NoError(t, err)
	assert.Equal(t, 128, n)
	n, err = s.FindSymbol("depth", false).Int()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a constant in the script is overridden")

	require.ErrorIs(t, s.DefineConstants(map[string]string{"p": "1"}), ErrDuplicateSymbol)

	// Registry constants are visible from every script, macro bodies included.
	require.NoError(t, reg.DefineConstants(map[string]string{"width": "64"}))
	other, err := Parse("M(x) = Parameter(width, x)\nq = Parameter(width, 1)", WithFunctions(testFunctions), WithMacros(reg))
	require.NoError(t, err)
	n, err = other.FindSymbol("q", false).Positional()[0].Int()
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	body := reg.Lookup("M").Script().Statements()[0]
	n, err = body.Positional()[0].Int()
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

func TestForwardReferencesResolve(t *testing.T) {
	s := parse(t, "y = Plus(x, z)\nx = Input(1, 1)\nz = Input(2, 1)")
	r := run(t, s)
	assert.Equal(t, []string{"y", "x", "z"}, r.order)
	assert.Equal(t, []string{"x", "z"}, r.objects["y"].inputs)
}

func TestUndefinedReferenceFailsInResolvePass(t *testing.T) {
	s := parse(t, "y = Plus(x, nowhere)\nx = Input(1, 1)")
	r := newRecorder()
	_, err := s.Evaluate(r, "", PassInitial, nil)
	require.NoError(t, err)
	_, err = s.Evaluate(r, "", PassResolve, nil)
	require.ErrorIs(t, err, ErrUndefinedSymbol)
}

func TestMacroCalledTwiceBuildsIndependentNodes(t *testing.T) {
	s := parse(t, `
		M(a, b) = [ c = Plus(a, b) ]
		x = Input(1, 1)
		y = Input(1, 1)
		m1 = M(x, y)
		m2 = M(y, x)
	`)
	r := run(t, s)

	require.Contains(t, r.objects, "m1.c")
	require.Contains(t, r.objects, "m2.c")
	assert.NotSame(t, r.objects["m1.c"], r.objects["m2.c"])
	assert.Equal(t, []string{"x", "y"}, r.objects["m1.c"].inputs)
	assert.Equal(t, []string{"y", "x"}, r.objects["m2.c"].inputs)

	// Each call node keeps the object its own expansion built.
	assert.Same(t, r.objects["m1.c"], s.FindSymbol("m1", false).Eval())
	assert.Same(t, r.objects["m2.c"], s.FindSymbol("m2", false).Eval())
}

func TestMacroResultIsSymbolNamedAfterMacro(t *testing.T) {
	s := parse(t, `
		Sq(v) = [
			Sq = Sigmoid(t)
			t = Times(v, v)
		]
		x = Input(1, 1)
		y = Sq(x)
	`)
	r := run(t, s)
	assert.Same(t, r.objects["y.Sq"], s.FindSymbol("y", false).Eval())
	assert.Equal(t, []string{"y.t"}, r.objects["y.Sq"].inputs, "forward reference inside the body")
	assert.Equal(t, []string{"x", "x"}, r.objects["y.t"].inputs)
}

func TestMacroOptionalParameters(t *testing.T) {
	s := parse(t, `
		Scaled(x, k=2) = [ y = Scale(k, x) ]
		a = Input(1, 1)
		s1 = Scaled(a)
		s2 = Scaled(a, k=5)
	`)
	r := run(t, s)
	assert.Equal(t, []string{"2", "a"}, r.objects["s1.y"].inputs)
	assert.Equal(t, []string{"5", "a"}, r.objects["s2.y"].inputs)
}

func TestNestedMacroCalls(t *testing.T) {
	s := parse(t, `
		Sq(v) = Times(v, v)
		x = Input(1, 1)
		q = Sq(Sq(x))
	`)
	r := run(t, s)

	outer, ok := s.FindSymbol("q", false).Eval().(*object)
	require.True(t, ok)
	assert.Equal(t, "Times", outer.fn)
	require.Len(t, outer.inputs, 2)
	inner := r.objects[outer.inputs[0]]
	require.NotNil(t, inner)
	assert.NotSame(t, outer, inner)
	assert.Equal(t, []string{"x", "x"}, inner.inputs)
	assert.Len(t, r.objects, 3)
}

func TestMacroParameterErrors(t *testing.T) {
	cases := map[string]string{
		"too few":              "M(a, b) = Plus(a, b)\nx = Input(1, 1)\ny = M(x)",
		"too many":             "M(a) = Sigmoid(a)\nx = Input(1, 1)\ny = M(x, x)",
		"optional as required": "M(a, b) = Plus(a, b)\nx = Input(1, 1)\ny = M(x, b=x)",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			s := parse(t, text)
			_, err := s.Evaluate(newRecorder(), "", PassInitial, nil)
			require.ErrorIs(t, err, ErrParameterCount)
		})
	}
}

func TestEvaluateSkipThrough(t *testing.T) {
	s := parse(t, "a = Input(1, 1)\nb = Input(1, 1)\nc = Input(1, 1)")
	r := newRecorder()
	last, err := s.Evaluate(r, "net", PassInitial, s.FindSymbol("a", false))
	require.NoError(t, err)
	assert.Equal(t, "c", last.Name())
	assert.Equal(t, []string{"net.b", "net.c"}, r.order)
}
