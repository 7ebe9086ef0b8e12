// Package odata parses the subset of OData $filter expressions used by the
// retrieval tools and translates them for the search index drivers that do
// not understand OData natively.
//
// Supported: comparisons (eq, ne, gt, ge, lt, le) between a field path and a
// literal (string, number, true, false, null), combined with and, or, not and
// parentheses. Field paths use "/" as the separator.
package odata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("odata filter syntax error")

// Node is a parsed filter expression.
type Node interface {
	node()
}

// Logical is an "and" / "or" of two expressions.
type Logical struct {
	Op          string
	Left, Right Node
}

// Not negates an expression.
type Not struct {
	X Node
}

// Compare compares a field path with a literal. Literals on the left are
// normalised to the right with the operator mirrored.
type Compare struct {
	Op    string
	Field []string
	Value Literal
}

// LiteralKind discriminates Literal.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitNumber
	LitBool
	LitNull
)

// Literal is a constant operand.
type Literal struct {
	Kind   LiteralKind
	String string
	Number float64
	Raw    string
	Bool   bool
}

func (Logical) node() {}
func (Not) node()     {}
func (Compare) node() {}

var mirrored = map[string]string{"eq": "eq", "ne": "ne", "gt": "lt", "ge": "le", "lt": "gt", "le": "ge"}

// Parse parses a filter. An empty filter returns a nil Node.
func Parse(filter string) (Node, error) {
	toks, err := tokenize(filter)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.peek().text, p.peek().offset)
	}
	return n, nil
}

// Join combines a base filter with an optional user filter: "base and (user)".
func Join(base, user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		return base
	}
	if base == "" {
		return user
	}
	return base + " and (" + user + ")"
}

// ── Tokenizer ───────────────────────────────────────────────

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'':
			start := i
			var b strings.Builder
			i++
			for {
				if i >= len(s) {
					return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
				}
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						b.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteByte(s[i])
				i++
			}
			toks = append(toks, token{tokString, b.String(), start})
		case c == '-' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == 'e' || s[i] == 'E') {
				i++
			}
			toks = append(toks, token{tokNumber, s[start:i], start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(s) && (isIdentPart(rune(s[i])) || s[i] == '/') {
				i++
			}
			toks = append(toks, token{tokIdent, s[start:i], start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, c, i)
		}
	}
	return toks, nil
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// ── Parser ──────────────────────────────────────────────────

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: -1, text: "end of input", offset: -1}
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) unary() (Node, error) {
	if p.keyword("not") {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	if p.peek().kind == tokLParen {
		p.pos++
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at offset %d", ErrSyntax, p.peek().offset)
		}
		p.pos++
		return n, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Node, error) {
	left, leftField, err := p.operand()
	if err != nil {
		return nil, err
	}

	opTok := p.peek()
	op := strings.ToLower(opTok.text)
	if _, ok := mirrored[op]; opTok.kind != tokIdent || !ok {
		return nil, fmt.Errorf("%w: expected comparison operator at offset %d, got %q", ErrSyntax, opTok.offset, opTok.text)
	}
	p.pos++

	right, rightField, err := p.operand()
	if err != nil {
		return nil, err
	}

	switch {
	case leftField != nil && rightField == nil:
		return Compare{Op: op, Field: leftField, Value: right}, nil
	case leftField == nil && rightField != nil:
		return Compare{Op: mirrored[op], Field: rightField, Value: left}, nil
	default:
		return nil, fmt.Errorf("%w: comparison at offset %d must have exactly one field and one literal", ErrSyntax, opTok.offset)
	}
}

// operand returns either a literal or a field path.
func (p *parser) operand() (Literal, []string, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.pos++
		return Literal{Kind: LitString, String: t.text, Raw: t.text}, nil, nil
	case tokNumber:
		p.pos++
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Literal{}, nil, fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, t.text, t.offset)
		}
		return Literal{Kind: LitNumber, Number: n, Raw: t.text}, nil, nil
	case tokIdent:
		p.pos++
		switch strings.ToLower(t.text) {
		case "true", "false":
			return Literal{Kind: LitBool, Bool: strings.EqualFold(t.text, "true"), Raw: strings.ToLower(t.text)}, nil, nil
		case "null":
			return Literal{Kind: LitNull, Raw: "null"}, nil, nil
		}
		if p.peek().kind == tokLParen {
			return Literal{}, nil, fmt.Errorf("%w: function %q is not supported", ErrSyntax, t.text)
		}
		path := strings.Split(t.text, "/")
		for _, seg := range path {
			if seg == "" {
				return Literal{}, nil, fmt.Errorf("%w: bad field path %q", ErrSyntax, t.text)
			}
		}
		return Literal{}, path, nil
	default:
		return Literal{}, nil, fmt.Errorf("%w: expected operand at offset %d, got %q", ErrSyntax, t.offset, t.text)
	}
}
