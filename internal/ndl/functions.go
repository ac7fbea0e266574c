package ndl

import "strings"

// FunctionTable tells the parser which call names are built-in functions.
//
// LookupFunction returns the canonical spelling of name and whether calls
// of that function may name variables that are not defined yet.
type FunctionTable interface {
	LookupFunction(name string) (canonical string, allowUndetermined bool, ok bool)
}

// FunctionDef describes one built-in function.
type FunctionDef struct {
	Name              string
	Alternate         string
	AllowUndetermined bool
}

// Functions is a FunctionTable searched in order; the first match wins.
type Functions []FunctionDef

// LookupFunction matches name against each entry with EqualInsensitive.
func (fs Functions) LookupFunction(name string) (string, bool, bool) {
	for _, f := range fs {
		if full, ok := EqualInsensitive(name, f.Name, f.Alternate); ok {
			return full, f.AllowUndetermined, true
		}
	}
	return "", false, false
}

// Names returns the canonical function names in table order.
func (fs Functions) Names() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

// EqualInsensitive reports whether name abbreviates full (or alternate),
// ignoring case. An abbreviation must cover at least half of the name it
// abbreviates. On a match the canonical full name is returned, also when
// the alternate matched.
//
// Half-length prefixes are enough, so "Sig" means Sigmoid and "mi" means
// Minus; variables cannot be given such names.
func EqualInsensitive(name, full, alternate string) (string, bool) {
	if abbreviates(name, full) {
		return full, true
	}
	if alternate != "" && abbreviates(name, alternate) {
		return full, true
	}
	return "", false
}

func abbreviates(name, full string) bool {
	if name == "" || len(name) > len(full) || len(name) < len(full)/2 {
		return false
	}
	return strings.EqualFold(name, full[:len(name)])
}
