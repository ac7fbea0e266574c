package ndl

import (
	"strconv"
	"strings"
	"sync"
)

// MacroRegistry holds macro definitions and global constants shared by
// every script parsed against it. It also hands out the generated names
// of anonymous nodes, so those stay unique across its scripts.
type MacroRegistry struct {
	mu      sync.Mutex
	global  *Script
	counter int
}

// NewMacroRegistry returns an empty registry.
func NewMacroRegistry() *MacroRegistry {
	r := &MacroRegistry{}
	r.global = &Script{symbols: make(map[string]symbol), macros: r, functions: Functions(nil)}
	return r
}

var (
	defaultMacros     *MacroRegistry
	defaultMacrosOnce sync.Once
)

// Macros returns the process-wide registry used by scripts that are not
// given one.
func Macros() *MacroRegistry {
	defaultMacrosOnce.Do(func() { defaultMacros = NewMacroRegistry() })
	return defaultMacros
}

// Reset forgets every macro and global constant and restarts name
// generation.
func (r *MacroRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = &Script{symbols: make(map[string]symbol), macros: r, functions: Functions(nil)}
	r.counter = 0
}

// Define stores a macro, replacing an earlier macro of the same name.
func (r *MacroRegistry) Define(m *Node) error {
	if m.typ != Macro {
		return scriptErrorf(ErrInvalidDefinition, m.name, "%s is not a macro", m.typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(m.name)
	if sym, ok := r.global.symbols[key]; ok && sym.node.typ != Macro {
		return scriptErrorf(ErrDuplicateSymbol, m.name, "name is a global %s", sym.node.typ)
	}
	r.global.symbols[key] = symbol{name: m.name, node: m}
	return nil
}

// Lookup returns the macro called name, ignoring case, or nil.
func (r *MacroRegistry) Lookup(name string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sym, ok := r.global.symbols[strings.ToLower(name)]; ok && sym.node.typ == Macro {
		return sym.node
	}
	return nil
}

// Names returns the defined macro names, sorted.
func (r *MacroRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, name := range r.global.Symbols() {
		if r.global.symbols[strings.ToLower(name)].node.typ == Macro {
			out = append(out, name)
		}
	}
	return out
}

// DefineConstants makes each name a constant visible to every script.
func (r *MacroRegistry) DefineConstants(vars map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global.DefineConstants(vars)
}

func (r *MacroRegistry) nextName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return "unnamed" + strconv.Itoa(r.counter)
}
