package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is the interface implemented by all AST nodes.
type Node interface {
	node()
	String() string
}

// Binary is a binary operation (comparison, equality, boolean, membership).
type Binary struct {
	Left  Node
	Op    string
	Right Node
}

func (n *Binary) node() {}
func (n *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

// Not is logical negation.
type Not struct {
	Operand Node
}

func (n *Not) node() {}
func (n *Not) String() string {
	return fmt.Sprintf("(!%s)", n.Operand)
}

// Literal is a number, string, bool, or null literal.
type Literal struct {
	Value any // float64, string, bool, or nil
}

func (n *Literal) node() {}
func (n *Literal) String() string {
	if n.Value == nil {
		return "null"
	}
	if s, ok := n.Value.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", n.Value)
}

// Ident is a context-key reference.
type Ident struct {
	Name string
}

func (n *Ident) node() {}
func (n *Ident) String() string {
	return n.Name
}

// Member is dotted property access (e.g. report.score).
type Member struct {
	Object   Node
	Property string
}

func (n *Member) node() {}
func (n *Member) String() string {
	return fmt.Sprintf("%s.%s", n.Object, n.Property)
}

// Index is bracketed element access (e.g. tags[0]).
type Index struct {
	Object Node
	Index  Node
}

func (n *Index) node() {}
func (n *Index) String() string {
	return fmt.Sprintf("%s[%s]", n.Object, n.Index)
}

// List is an inline array literal (e.g. ["a", "b"]).
type List struct {
	Elements []Node
}

func (n *List) node() {}
func (n *List) String() string {
	parts := make([]string, len(n.Elements))
	for i, e := range n.Elements {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Parse parses a condition expression into an AST.
func Parse(src string) (Node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %s at position %d", p.current().kind, p.current().pos)
	}
	return n, nil
}

// Validate checks expression syntax without evaluating it.
func Validate(src string) error {
	_, err := Parse(src)
	return err
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) current() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.current()
	if tok.kind != kind {
		return tok, fmt.Errorf("expected %s but got %s at position %d", kind, tok.kind, tok.pos)
	}
	p.advance()
	return tok, nil
}

// Precedence, low to high: || ; && ; == != ; < > <= >= ; in contains ; ! ;
// postfix member/index access.

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: "||", Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.current().kind == tokAnd {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: "&&", Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.current().kind == tokEq || p.current().kind == tokNeq {
		op := p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: op.kind.String(), Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseMembership()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current().kind {
		case tokGt, tokGte, tokLt, tokLte:
			op := p.advance()
			right, err := p.parseMembership()
			if err != nil {
				return nil, err
			}
			left = &Binary{Left: left, Op: op.kind.String(), Right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMembership() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	switch p.current().kind {
	case tokIn, tokContains:
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: op.text, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.current().kind == tokNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current().kind {
		case tokDot:
			p.advance()
			name, err := p.expect(tokIdent)
			if err != nil {
				// Keywords are allowed as property names.
				tok := p.current()
				if _, isKw := keywords[tok.text]; isKw && tok.kind != tokEOF {
					p.advance()
					n = &Member{Object: n, Property: tok.text}
					continue
				}
				return nil, err
			}
			n = &Member{Object: n, Property: name.text}

		case tokLBracket:
			p.advance()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket); err != nil {
				return nil, err
			}
			n = &Index{Object: n, Index: idx}

		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.current()

	switch tok.kind {
	case tokNumber:
		p.advance()
		val, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return &Literal{Value: val}, nil

	case tokString:
		p.advance()
		return &Literal{Value: tok.text}, nil

	case tokTrue:
		p.advance()
		return &Literal{Value: true}, nil

	case tokFalse:
		p.advance()
		return &Literal{Value: false}, nil

	case tokNull:
		p.advance()
		return &Literal{Value: nil}, nil

	case tokIdent:
		p.advance()
		return &Ident{Name: tok.text}, nil

	case tokLParen:
		p.advance()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return n, nil

	case tokLBracket:
		return p.parseList()

	default:
		return nil, fmt.Errorf("unexpected token %s at position %d", tok.kind, tok.pos)
	}
}

func (p *parser) parseList() (Node, error) {
	p.advance() // skip [
	var elements []Node

	if p.current().kind == tokRBracket {
		p.advance()
		return &List{Elements: elements}, nil
	}

	for {
		elem, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)

		if p.current().kind != tokComma {
			break
		}
		p.advance()
	}

	if _, err := p.expect(tokRBracket); err != nil {
		return nil, err
	}

	return &List{Elements: elements}, nil
}
