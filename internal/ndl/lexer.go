package ndl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) is(punct string) bool { return t.kind == tokPunct && t.text == punct }

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "end of line"
	case tokString:
		return "string " + `"` + t.text + `"`
	}
	return `"` + t.text + `"`
}

const (
	punctChars  = "=()[]{},:;"
	numberChars = "+-.0123456789eE"
)

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '*' || r == '?' || r == '$'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '.'
}

// lex splits text into tokens. Comments run from '#' to the end of the
// line; strings are quoted with ' or " and may not span lines.
func lex(text string) ([]token, error) {
	var toks []token
	line := 1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\n':
			toks = append(toks, token{kind: tokNewline, text: "\n", line: line})
			line++
			i += size
		case unicode.IsSpace(r):
			i += size
		case r == '#':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				end = len(text) - i
			}
			i += end
		case r == '"' || r == '\'':
			end := strings.IndexRune(text[i+size:], r)
			if nl := strings.IndexByte(text[i+size:], '\n'); end < 0 || (nl >= 0 && nl < end) {
				return nil, &ScriptError{Line: line, Msg: "unterminated string", Err: ErrSyntax}
			}
			toks = append(toks, token{kind: tokString, text: text[i+size : i+size+end], line: line})
			i += size + end + size
		case unicode.IsDigit(r) || (strings.ContainsRune("+-.", r) && startsNumber(text[i+size:])):
			j := i
			for j < len(text) && strings.IndexByte(numberChars, text[j]) >= 0 {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: text[i:j], line: line})
			i = j
		case isIdentStart(r):
			j := i + size
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if !isIdentPart(r2) {
					break
				}
				j += s2
			}
			toks = append(toks, token{kind: tokIdent, text: text[i:j], line: line})
			i = j
		case strings.ContainsRune(punctChars, r):
			toks = append(toks, token{kind: tokPunct, text: string(r), line: line})
			i += size
		default:
			return nil, &ScriptError{Line: line, Msg: "unexpected character " + strconvQuote(r), Err: ErrSyntax}
		}
	}
	return append(toks, token{kind: tokEOF, line: line}), nil
}

func startsNumber(rest string) bool {
	return rest != "" && (rest[0] == '.' || (rest[0] >= '0' && rest[0] <= '9'))
}

func strconvQuote(r rune) string {
	return "'" + string(r) + "'"
}
