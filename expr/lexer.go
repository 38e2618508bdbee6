// Package expr implements the condition language used to guard workflow
// transitions and loop continuations. Expressions are side-effect-free
// predicates over the execution context: identifiers with dotted member
// and index access, literals, comparisons, boolean operators, and the
// membership operators "in" and "contains". There is no arithmetic and
// there are no function calls; richer logic belongs in a node.
package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString

	tokEq  // ==
	tokNeq // !=
	tokGt  // >
	tokGte // >=
	tokLt  // <
	tokLte // <=
	tokAnd // &&
	tokOr  // ||
	tokNot // !

	tokIn       // in
	tokContains // contains

	tokDot      // .
	tokLBracket // [
	tokRBracket // ]
	tokLParen   // (
	tokRParen   // )
	tokComma    // ,

	tokTrue
	tokFalse
	tokNull
	tokEOF
)

var tokenNames = map[tokenKind]string{
	tokIdent:    "identifier",
	tokNumber:   "number",
	tokString:   "string",
	tokEq:       "==",
	tokNeq:      "!=",
	tokGt:       ">",
	tokGte:      ">=",
	tokLt:       "<",
	tokLte:      "<=",
	tokAnd:      "&&",
	tokOr:       "||",
	tokNot:      "!",
	tokIn:       "in",
	tokContains: "contains",
	tokDot:      ".",
	tokLBracket: "[",
	tokRBracket: "]",
	tokLParen:   "(",
	tokRParen:   ")",
	tokComma:    ",",
	tokTrue:     "true",
	tokFalse:    "false",
	tokNull:     "null",
	tokEOF:      "EOF",
}

func (k tokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in source
}

var keywords = map[string]tokenKind{
	"in":       tokIn,
	"contains": tokContains,
	"true":     tokTrue,
	"false":    tokFalse,
	"null":     tokNull,
}

type lexer struct {
	src string
	pos int
	out []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.out = append(l.out, token{kind: tokEOF, pos: l.pos})
			return l.out, nil
		}

		ch, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case l.twoChar(ch):
		case l.oneChar(ch):
		case ch == '"':
			if err := l.lexString(); err != nil {
				return nil, err
			}
		case isDigit(ch) || (ch == '-' && l.negNumber()):
			l.lexNumber()
		case isIdentStart(ch):
			l.lexIdent()
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), l.pos)
		}
	}
}

func (l *lexer) twoChar(ch rune) bool {
	switch {
	case ch == '=' && l.peek() == '=':
		l.emit(tokEq, 2)
	case ch == '!' && l.peek() == '=':
		l.emit(tokNeq, 2)
	case ch == '>' && l.peek() == '=':
		l.emit(tokGte, 2)
	case ch == '<' && l.peek() == '=':
		l.emit(tokLte, 2)
	case ch == '&' && l.peek() == '&':
		l.emit(tokAnd, 2)
	case ch == '|' && l.peek() == '|':
		l.emit(tokOr, 2)
	default:
		return false
	}
	return true
}

func (l *lexer) oneChar(ch rune) bool {
	var kind tokenKind
	switch ch {
	case '>':
		kind = tokGt
	case '<':
		kind = tokLt
	case '!':
		kind = tokNot
	case '.':
		kind = tokDot
	case '[':
		kind = tokLBracket
	case ']':
		kind = tokRBracket
	case '(':
		kind = tokLParen
	case ')':
		kind = tokRParen
	case ',':
		kind = tokComma
	default:
		return false
	}
	l.emit(kind, 1)
	return true
}

func (l *lexer) peek() byte {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *lexer) emit(kind tokenKind, width int) {
	l.out = append(l.out, token{kind: kind, text: l.src[l.pos : l.pos+width], pos: l.pos})
	l.pos += width
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(ch) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) lexString() error {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder

	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '\\' {
			l.pos++
			if l.pos >= len(l.src) {
				return fmt.Errorf("unterminated string at position %d", start)
			}
			switch esc := l.src[l.pos]; esc {
			case '"', '\\', '/':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(esc)
			}
			l.pos++
			continue
		}
		if ch == '"' {
			l.pos++
			l.out = append(l.out, token{kind: tokString, text: sb.String(), pos: start})
			return nil
		}
		sb.WriteByte(ch)
		l.pos++
	}

	return fmt.Errorf("unterminated string at position %d", start)
}

func (l *lexer) lexNumber() {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
			l.pos++
		}
	}
	l.out = append(l.out, token{kind: tokNumber, text: l.src[start:l.pos], pos: start})
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(ch) {
			break
		}
		l.pos += size
	}
	word := l.src[start:l.pos]
	kind := tokIdent
	if kw, ok := keywords[word]; ok {
		kind = kw
	}
	l.out = append(l.out, token{kind: kind, text: word, pos: start})
}

// negNumber reports whether a '-' at the current position starts a negative
// numeric literal rather than following a value.
func (l *lexer) negNumber() bool {
	if len(l.out) == 0 {
		return true
	}
	switch l.out[len(l.out)-1].kind {
	case tokEq, tokNeq, tokGt, tokGte, tokLt, tokLte,
		tokAnd, tokOr, tokNot, tokLParen, tokLBracket, tokComma,
		tokIn, tokContains:
		return true
	}
	return false
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
