package ndl

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors carried by ScriptError.
var (
	ErrSyntax            = errors.New("syntax error")
	ErrUnknownFunction   = errors.New("unknown function or macro")
	ErrUndefinedSymbol   = errors.New("undefined symbol")
	ErrDuplicateSymbol   = errors.New("symbol already defined")
	ErrReservedName      = errors.New("name is reserved for a function")
	ErrParameterCount    = errors.New("wrong number of parameters")
	ErrInvalidDefinition = errors.New("invalid macro definition")
	ErrNotScalar         = errors.New("value is not a scalar")
)

// ScriptError reports a problem with a named script element. Line is set
// for errors found while parsing.
type ScriptError struct {
	Name    string
	Context string
	Msg     string
	Line    int
	Err     error
}

func (e *ScriptError) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, "%s: ", e.Name)
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	}
	if e.Context != "" {
		fmt.Fprintf(&b, " (in %s)", e.Context)
	}
	return b.String()
}

func (e *ScriptError) Unwrap() error { return e.Err }

func scriptErrorf(err error, name, format string, args ...any) error {
	return errors.WithStack(&ScriptError{Name: name, Msg: fmt.Sprintf(format, args...), Err: err})
}
