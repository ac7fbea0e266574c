package ndl

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// unknownName selects what a name that is not defined yet becomes.
type unknownName int

const (
	// unknownForward defines an undetermined symbol, resolved when the
	// name is defined later in the script.
	unknownForward unknownName = iota
	// unknownWord keeps the name as a literal word.
	unknownWord
)

type parser struct {
	toks []token
	pos  int

	sections bool // top-level name = [ ... ] blocks are inlined
}

// Parse parses text as one block of statements into a new script.
func Parse(text string, opts ...Option) (*Script, error) {
	s := NewScript(opts...)
	if err := s.Parse(text); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse appends the statements of text to the script.
func (s *Script) Parse(text string) error {
	toks, err := lex(text)
	if err != nil {
		return err
	}
	p := &parser{toks: unwrapBrackets(toks)}
	return p.parseBlock(s, "")
}

// ParseFile parses a description file. A file may be split into sections,
// name = [ ... ]; when it sets load = a:b or run = c, only the named
// sections are parsed, loads first, in the order given. Otherwise every
// statement and section is parsed in file order.
func ParseFile(text string, opts ...Option) (*Script, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	toks = unwrapBrackets(toks)
	sections, order, err := findSections(toks)
	if err != nil {
		return nil, err
	}
	s := NewScript(opts...)
	if len(order) == 0 {
		p := &parser{toks: toks, sections: true}
		if err := p.parseBlock(s, ""); err != nil {
			return nil, err
		}
		return s, nil
	}
	for _, name := range order {
		if err := s.parseSection(sections, name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseSection parses only the named section of a description file.
func ParseSection(text, section string, opts ...Option) (*Script, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	sections, _, err := findSections(unwrapBrackets(toks))
	if err != nil {
		return nil, err
	}
	s := NewScript(opts...)
	if err := s.parseSection(sections, section); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) parseSection(sections map[string][]token, name string) error {
	body, ok := sections[strings.ToLower(name)]
	if !ok {
		return scriptErrorf(ErrUndefinedSymbol, name, "section not found")
	}
	p := &parser{toks: body}
	return errors.Wrapf(p.parseBlock(s, ""), "section %s", name)
}

// unwrapBrackets drops a [ ... ] pair that encloses the whole input.
func unwrapBrackets(toks []token) []token {
	first, last := 0, len(toks)-2 // toks ends with EOF
	for first <= last && toks[first].kind == tokNewline {
		first++
	}
	for last >= first && toks[last].kind == tokNewline {
		last--
	}
	if first >= last || !toks[first].is("[") || !toks[last].is("]") {
		return toks
	}
	if closing := matching(toks, first); closing != last {
		return toks
	}
	inner := append([]token(nil), toks[first+1:last]...)
	return append(inner, toks[len(toks)-1])
}

// matching returns the index of the bracket closing the one at open.
func matching(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].is("(") || toks[i].is("[") || toks[i].is("{"):
			depth++
		case toks[i].is(")") || toks[i].is("]") || toks[i].is("}"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// findSections collects the top-level name = [ ... ] blocks and the
// section names listed by load and run.
func findSections(toks []token) (map[string][]token, []string, error) {
	sections := make(map[string][]token)
	var loads, runs []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind == tokPunct && strings.ContainsAny(t.text, "([{") {
			end := matching(toks, i)
			if end < 0 {
				return nil, nil, &ScriptError{Line: t.line, Msg: "unbalanced " + t.text, Err: ErrSyntax}
			}
			i = end
			continue
		}
		if t.kind != tokIdent || i+2 >= len(toks) || !toks[i+1].is("=") {
			continue
		}
		switch val := toks[i+2]; {
		case val.is("["):
			end := matching(toks, i+2)
			if end < 0 {
				return nil, nil, &ScriptError{Line: val.line, Name: t.text, Msg: "unterminated section", Err: ErrSyntax}
			}
			body := append([]token(nil), toks[i+3:end]...)
			sections[strings.ToLower(t.text)] = append(body, token{kind: tokEOF, line: toks[end].line})
			i = end
		case strings.EqualFold(t.text, "load") || strings.EqualFold(t.text, "run"):
			var names []string
			j := i + 2
			for ; j < len(toks) && (toks[j].kind == tokIdent || toks[j].kind == tokString || toks[j].is(":")); j++ {
				if !toks[j].is(":") {
					names = append(names, toks[j].text)
				}
			}
			if strings.EqualFold(t.text, "load") {
				loads = append(loads, names...)
			} else {
				runs = append(runs, names...)
			}
			i = j - 1
		}
	}
	return sections, append(loads, runs...), nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(k int) token {
	if p.pos+k >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+k]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(punct string) bool {
	if p.peek().is(punct) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(punct string) error {
	if !p.accept(punct) {
		t := p.peek()
		return p.errorf(t, "", "expected %q, found %s", punct, t.describe())
	}
	return nil
}

func (p *parser) skipNewlines() {
	for p.peek().kind == tokNewline {
		p.pos++
	}
}

func (p *parser) errorf(t token, name, format string, args ...any) error {
	return errors.WithStack(&ScriptError{Line: t.line, Name: name, Msg: fmt.Sprintf(format, args...), Err: ErrSyntax})
}

// parseBlock parses statements until closer, or the end of input when
// closer is empty. Statements end at a newline or ';'.
func (p *parser) parseBlock(s *Script, closer string) error {
	for {
		for p.peek().kind == tokNewline || p.peek().is(";") {
			p.pos++
		}
		t := p.peek()
		if t.kind == tokEOF {
			if closer != "" {
				return p.errorf(t, s.name, "missing %q", closer)
			}
			return nil
		}
		if closer != "" && t.is(closer) {
			p.pos++
			return nil
		}
		if err := p.parseStatement(s); err != nil {
			return err
		}
		switch t := p.peek(); {
		case t.kind == tokNewline, t.kind == tokEOF, t.is(";"):
		case closer != "" && t.is(closer):
		default:
			return p.errorf(t, "", "unexpected %s after statement", t.describe())
		}
	}
}

func (p *parser) parseStatement(s *Script) error {
	t := p.next()
	if t.kind != tokIdent {
		return p.errorf(t, "", "statement must start with a name, found %s", t.describe())
	}
	switch {
	case p.peek().is("="):
		p.pos++
		return p.parseAssignment(s, t)
	case p.peek().is("("):
		if end := matching(p.toks, p.pos); end > 0 && p.toks[end+1].is("=") {
			return p.parseDefinition(s, t)
		}
		call, err := p.parseCall(s, t)
		if err != nil {
			return err
		}
		s.addStatement(call)
		return nil
	}
	return p.errorf(p.peek(), t.text, "expected '=' or '(' after name, found %s", p.peek().describe())
}

func (p *parser) parseAssignment(s *Script, key token) error {
	if p.sections && p.peek().is("[") {
		p.pos++
		return p.parseBlock(s, "]")
	}
	if full, _, ok := s.functions.LookupFunction(key.text); ok {
		return errors.WithStack(&ScriptError{Line: key.line, Name: key.text, Err: ErrReservedName,
			Msg: fmt.Sprintf("name is reserved for function %s", full)})
	}
	if strings.EqualFold(key.text, "load") || strings.EqualFold(key.text, "run") {
		// Section lists are only meaningful to ParseFile.
		for t := p.peek(); t.kind == tokIdent || t.kind == tokString || t.is(":"); t = p.peek() {
			p.pos++
		}
		return nil
	}

	before := len(s.children)
	n, err := p.parseExpr(s, unknownWord)
	if err != nil {
		return err
	}
	created := false
	for _, c := range s.children[before:] {
		if c == n {
			created = true
			break
		}
	}
	if !created {
		// key is another name for an existing node.
		return p.wrapAt(key, s.AddSymbol(key.text, n))
	}
	n.name = key.text
	n.line = key.line
	if err := s.AddSymbol(key.text, n); err != nil {
		return p.wrapAt(key, err)
	}
	s.addStatement(n)
	return nil
}

func (p *parser) wrapAt(t token, err error) error {
	var se *ScriptError
	if errors.As(err, &se) && se.Line == 0 {
		se.Line = t.line
	}
	return err
}

// parseDefinition parses name(formals) = [ body ] or the one-line form
// name(formals) = Call(...).
func (p *parser) parseDefinition(s *Script, nameTok token) error {
	name := nameTok.text
	if s.noDefinitions {
		return errors.WithStack(&ScriptError{Line: nameTok.line, Name: name, Err: ErrInvalidDefinition,
			Msg: "macro definitions are not allowed here"})
	}
	if full, _, ok := s.functions.LookupFunction(name); ok {
		return errors.WithStack(&ScriptError{Line: nameTok.line, Name: name, Err: ErrReservedName,
			Msg: fmt.Sprintf("macro name is reserved for function %s", full)})
	}
	body := s.sub(name)
	macro := &Node{name: name, value: name, typ: Macro, parent: s.macros.global, line: nameTok.line, script: body}

	if err := p.expect("("); err != nil {
		return err
	}
	for p.skipNewlines(); !p.accept(")"); p.skipNewlines() {
		formal := p.next()
		if formal.kind != tokIdent {
			return p.errorf(formal, name, "formal parameter must be a name, found %s", formal.describe())
		}
		if p.accept("=") {
			def, err := p.parseExpr(body, unknownWord)
			if err != nil {
				return err
			}
			if def.typ == Constant || def.typ == Variable {
				def.name = formal.text
			}
			// The body refers to the formal, so that a call can rebind it.
			if err := body.AddSymbol(formal.text, body.newNode(Parameter, formal.text, formal.text, formal.line)); err != nil {
				return p.wrapAt(formal, err)
			}
			if body.defaults == nil {
				body.defaults = make(map[string]*Node)
			}
			body.defaults[strings.ToLower(formal.text)] = def
		} else {
			if err := body.AddSymbol(formal.text, body.newNode(Parameter, formal.text, formal.text, formal.line)); err != nil {
				return p.wrapAt(formal, err)
			}
			macro.macroParams = append(macro.macroParams, formal.text)
		}
		p.skipNewlines()
		if !p.accept(",") {
			p.skipNewlines()
			if err := p.expect(")"); err != nil {
				return err
			}
			break
		}
	}
	if err := p.expect("="); err != nil {
		return err
	}
	p.skipNewlines()

	switch t := p.peek(); {
	case t.is("[") || t.is("{"):
		p.pos++
		closer := "]"
		if t.is("{") {
			closer = "}"
		}
		if err := p.parseBlock(body, closer); err != nil {
			return errors.Wrapf(err, "macro %s", name)
		}
	case t.kind == tokIdent && p.peekAt(1).is("("):
		p.pos++
		call, err := p.parseCall(body, t)
		if err != nil {
			return errors.Wrapf(err, "macro %s", name)
		}
		body.addStatement(call)
	default:
		return p.errorf(t, name, "macro body must be a block or a call, found %s", t.describe())
	}
	if len(body.statements) == 0 {
		return errors.WithStack(&ScriptError{Line: nameTok.line, Name: name, Err: ErrInvalidDefinition, Msg: "macro has an empty body"})
	}
	body.resetDefaults()
	return s.macros.Define(macro)
}

// parseCall parses the parameter list of a call to the function or macro
// named by nameTok.
func (p *parser) parseCall(s *Script, nameTok token) (*Node, error) {
	call := s.CheckName(nameTok.text)
	if call == nil {
		return nil, errors.WithStack(&ScriptError{Line: nameTok.line, Name: nameTok.text, Err: ErrUnknownFunction,
			Msg: "unknown function or macro"})
	}
	if call.typ != Function && call.typ != MacroCall {
		return nil, p.errorf(nameTok, nameTok.text, "%s cannot be called", call.typ)
	}
	call.line = nameTok.line
	mode := unknownForward
	if call.typ == Function {
		if _, allow, _ := s.functions.LookupFunction(call.value); !allow {
			mode = unknownWord
		}
	}

	if err := p.expect("("); err != nil {
		return nil, err
	}
	for p.skipNewlines(); !p.accept(")"); p.skipNewlines() {
		param, err := p.parseParam(s, mode)
		if err != nil {
			return nil, err
		}
		call.params = append(call.params, param)
		p.skipNewlines()
		if !p.accept(",") {
			p.skipNewlines()
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	return call, nil
}

// parseParam parses a positional parameter or a name=value pair.
func (p *parser) parseParam(s *Script, mode unknownName) (*Node, error) {
	if t := p.peek(); t.kind == tokIdent && p.peekAt(1).is("=") {
		p.pos += 2
		val, err := p.parseExpr(s, unknownWord)
		if err != nil {
			return nil, err
		}
		opt := s.newNode(OptionalParameter, t.text, val.value, t.line)
		opt.params = []*Node{val}
		return opt, nil
	}
	return p.parseExpr(s, mode)
}

// parseExpr parses a value, a call or an array joined with ':'.
func (p *parser) parseExpr(s *Script, mode unknownName) (*Node, error) {
	first, err := p.parsePrimary(s, mode)
	if err != nil {
		return nil, err
	}
	if !p.peek().is(":") {
		return first, nil
	}
	arr := s.newNode(Array, "", "", first.line)
	arr.params = []*Node{first}
	for p.accept(":") {
		el, err := p.parsePrimary(s, mode)
		if err != nil {
			return nil, err
		}
		arr.params = append(arr.params, el)
	}
	return arr, nil
}

func (p *parser) parsePrimary(s *Script, mode unknownName) (*Node, error) {
	t := p.next()
	switch {
	case t.kind == tokNumber:
		return s.newNode(Constant, "", t.text, t.line), nil
	case t.kind == tokString:
		return s.newNode(Constant, "", t.text, t.line), nil
	case t.kind == tokIdent && p.peek().is("("):
		return p.parseCall(s, t)
	case t.kind == tokIdent:
		return p.parseName(s, t, mode), nil
	case t.is("("):
		p.skipNewlines()
		n, err := p.parseExpr(s, mode)
		if err != nil {
			return nil, err
		}
		p.skipNewlines()
		return n, p.expect(")")
	case t.is("{"):
		arr := s.newNode(Array, "", "", t.line)
		for p.skipNewlines(); !p.accept("}"); p.skipNewlines() {
			el, err := p.parseExpr(s, mode)
			if err != nil {
				return nil, err
			}
			arr.params = append(arr.params, el)
			p.skipNewlines()
			if !p.accept(",") {
				p.skipNewlines()
				if err := p.expect("}"); err != nil {
					return nil, err
				}
				break
			}
		}
		return arr, nil
	}
	return nil, p.errorf(t, "", "expected a value, found %s", t.describe())
}

// parseName resolves a bare name. Dotted names are always left for the
// evaluator, since the macro body they point into is shared by calls.
func (p *parser) parseName(s *Script, t token, mode unknownName) *Node {
	if n := s.FindSymbol(t.text, false); n != nil {
		return n
	}
	if mode == unknownWord {
		return s.newNode(Variable, t.text, t.text, t.line)
	}
	typ := Undetermined
	if strings.Contains(t.text, ".") {
		typ = DotParameter
	}
	n := s.newNode(typ, t.text, t.text, t.line)
	// AddSymbol cannot fail: the name is not defined.
	_ = s.AddSymbol(t.text, n)
	return n
}
