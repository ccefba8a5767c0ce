// Package expr compiles and evaluates the boolean conditions used in entity
// queries, for example `text = "George Washington" and confidence >= 0.5`.
package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves identifiers encountered in conditions.
type LookupFunc func(path string) (any, bool)

var (
	// ErrSyntax indicates the condition could not be parsed.
	ErrSyntax = errors.New("condition syntax error")
	// ErrUnknownIdentifier indicates a referenced field is not available in scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch indicates the condition attempted an unsupported type coercion.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Options control condition evaluation.
type Options struct {
	// Timeout bounds a single Match call. Zero selects 10ms.
	Timeout time.Duration
}

// Condition is a compiled boolean condition. It is immutable and safe for
// concurrent use.
type Condition struct {
	source  string
	root    node
	timeout time.Duration
}

// Compile parses expression into a reusable Condition.
func Compile(expression string, opts Options) (*Condition, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrSyntax)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}

	p := newParser(newLexer(expression))
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	return &Condition{source: expression, root: root, timeout: timeout}, nil
}

// String returns the source text of the condition.
func (c *Condition) String() string {
	return c.source
}

// Match evaluates the condition against lookup.
func (c *Condition) Match(ctx context.Context, lookup LookupFunc) (bool, error) {
	if lookup == nil {
		return false, fmt.Errorf("%w: lookup function is required", ErrSyntax)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, err := c.root.eval(ctx, lookup)
	if err != nil {
		return false, err
	}
	matched, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: condition does not evaluate to boolean", ErrTypeMismatch)
	}
	return matched, nil
}

// --- Lexer ---

type tokenType int

type token struct {
	typ     tokenType
	literal string
	pos     int
}

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenLike
	tokenLParen
	tokenRParen
	tokenMinus
)

var tokenNames = map[tokenType]string{
	tokenIllegal:    "illegal",
	tokenEOF:        "end of condition",
	tokenIdentifier: "identifier",
	tokenNumber:     "number",
	tokenString:     "string",
	tokenBool:       "boolean",
	tokenNull:       "null",
	tokenAnd:        "and",
	tokenOr:         "or",
	tokenNot:        "not",
	tokenEq:         "=",
	tokenNeq:        "<>",
	tokenGt:         ">",
	tokenGte:        ">=",
	tokenLt:         "<",
	tokenLte:        "<=",
	tokenLike:       "like",
	tokenLParen:     "(",
	tokenRParen:     ")",
	tokenMinus:      "-",
}

func (t tokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "unknown"
}

var keywords = map[string]tokenType{
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNot,
	"like":  tokenLike,
	"true":  tokenBool,
	"false": tokenBool,
	"null":  tokenNull,
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) nextToken() token {
	l.skipWhitespace()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF, pos: start}
	}

	ch := l.input[l.pos]
	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}

	switch two {
	case "==":
		l.pos += 2
		return token{typ: tokenEq, literal: two, pos: start}
	case "!=", "<>":
		l.pos += 2
		return token{typ: tokenNeq, literal: two, pos: start}
	case ">=":
		l.pos += 2
		return token{typ: tokenGte, literal: two, pos: start}
	case "<=":
		l.pos += 2
		return token{typ: tokenLte, literal: two, pos: start}
	case "&&":
		l.pos += 2
		return token{typ: tokenAnd, literal: two, pos: start}
	case "||":
		l.pos += 2
		return token{typ: tokenOr, literal: two, pos: start}
	}

	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, literal: "(", pos: start}
	case ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")", pos: start}
	case '=':
		l.pos++
		return token{typ: tokenEq, literal: "=", pos: start}
	case '!':
		l.pos++
		return token{typ: tokenNot, literal: "!", pos: start}
	case '>':
		l.pos++
		return token{typ: tokenGt, literal: ">", pos: start}
	case '<':
		l.pos++
		return token{typ: tokenLt, literal: "<", pos: start}
	case '-':
		l.pos++
		return token{typ: tokenMinus, literal: "-", pos: start}
	case '\'', '"':
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}
	if isIdentifierStart(ch) {
		return l.scanWord()
	}

	l.pos++
	return token{typ: tokenIllegal, literal: string(ch), pos: start}
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) scanNumber() token {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if !isDigit(ch) {
			break
		}
		l.pos++
	}
	return token{typ: tokenNumber, literal: l.input[start:l.pos], pos: start}
}

func (l *lexer) scanWord() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentifierPart(l.input[l.pos]) {
		l.pos++
	}
	literal := l.input[start:l.pos]
	if typ, ok := keywords[strings.ToLower(literal)]; ok {
		return token{typ: typ, literal: literal, pos: start}
	}
	return token{typ: tokenIdentifier, literal: literal, pos: start}
}

func (l *lexer) scanString() token {
	start := l.pos
	quote := l.input[l.pos]
	l.pos++

	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		l.pos++
		switch {
		case ch == '\\' && l.pos < len(l.input):
			next := l.input[l.pos]
			l.pos++
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
		case ch == quote:
			// SQL style doubled quote inside a string.
			if l.pos < len(l.input) && l.input[l.pos] == quote {
				b.WriteByte(quote)
				l.pos++
				continue
			}
			return token{typ: tokenString, literal: b.String(), pos: start}
		default:
			b.WriteByte(ch)
		}
	}
	return token{typ: tokenIllegal, literal: "unterminated string", pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentifierPart(ch byte) bool {
	return isIdentifierStart(ch) || isDigit(ch) || ch == '.'
}

// --- Parser ---

type parser struct {
	lex *lexer
	cur token
}

func newParser(lex *lexer) *parser {
	p := &parser{lex: lex}
	p.advance()
	return p
}

func (p *parser) advance() {
	p.cur = p.lex.nextToken()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{or: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.cur.typ == tokenNot {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	negate := false
	if p.cur.typ == tokenNot {
		// "x not like y"
		p.advance()
		if p.cur.typ != tokenLike {
			return nil, fmt.Errorf("%w: expected like after not at offset %d", ErrSyntax, p.cur.pos)
		}
		negate = true
	}

	switch p.cur.typ {
	case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte, tokenLike:
		op := p.cur.typ
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		var cmp node = &compareExpr{op: op, left: left, right: right}
		if negate {
			cmp = &notExpr{operand: cmp}
		}
		return cmp, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.cur
	switch tok.typ {
	case tokenIdentifier:
		p.advance()
		return &fieldExpr{path: tok.literal}, nil
	case tokenNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		return &literalExpr{value: value}, nil
	case tokenMinus:
		p.advance()
		if p.cur.typ != tokenNumber {
			return nil, fmt.Errorf("%w: expected number after - at offset %d", ErrSyntax, tok.pos)
		}
		value, err := strconv.ParseFloat(p.cur.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, p.cur.literal)
		}
		p.advance()
		return &literalExpr{value: -value}, nil
	case tokenString:
		p.advance()
		return &literalExpr{value: tok.literal}, nil
	case tokenBool:
		p.advance()
		return &literalExpr{value: strings.EqualFold(tok.literal, "true")}, nil
	case tokenNull:
		p.advance()
		return &literalExpr{value: nil}, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		p.advance()
		return inner, nil
	case tokenIllegal:
		return nil, fmt.Errorf("%w: %s at offset %d", ErrSyntax, tok.literal, tok.pos)
	default:
		return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrSyntax, tok.typ, tok.pos)
	}
}

func (p *parser) expect(expected tokenType) error {
	if p.cur.typ == tokenIllegal {
		return fmt.Errorf("%w: %s at offset %d", ErrSyntax, p.cur.literal, p.cur.pos)
	}
	if p.cur.typ != expected {
		return fmt.Errorf("%w: expected %s, got %s at offset %d", ErrSyntax, expected, p.cur.typ, p.cur.pos)
	}
	return nil
}

// --- AST ---

type node interface {
	eval(ctx context.Context, lookup LookupFunc) (any, error)
}

type logicalExpr struct {
	or    bool
	left  node
	right node
}

type notExpr struct {
	operand node
}

type compareExpr struct {
	op    tokenType
	left  node
	right node
}

type fieldExpr struct {
	path string
}

type literalExpr struct {
	value any
}

func (n *logicalExpr) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	left, err := evalBool(ctx, n.left, lookup)
	if err != nil {
		return nil, err
	}
	if n.or && left {
		return true, nil
	}
	if !n.or && !left {
		return false, nil
	}
	return evalBool(ctx, n.right, lookup)
}

func (n *notExpr) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	value, err := evalBool(ctx, n.operand, lookup)
	if err != nil {
		return nil, err
	}
	return !value, nil
}

func (n *compareExpr) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	left, err := n.left.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return equals(left, right)
	case tokenNeq:
		eq, err := equals(left, right)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	case tokenLike:
		return like(left, right)
	default:
		return compare(left, right, n.op)
	}
}

func (n *fieldExpr) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if value, ok := lookup(n.path); ok {
		return value, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.path)
}

func (n *literalExpr) eval(ctx context.Context, _ LookupFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.value, nil
}

// --- Helpers ---

func evalBool(ctx context.Context, n node, lookup LookupFunc) (bool, error) {
	value, err := n.eval(ctx, lookup)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected boolean, got %T", ErrTypeMismatch, value)
	}
	return b, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func equals(left, right any) (bool, error) {
	if left == nil || right == nil {
		return left == nil && right == nil, nil
	}

	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)
	if leftIsString && rightIsString {
		return ls == rs, nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf, nil
		}
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb, nil
		}
	}

	if leftIsString || rightIsString {
		// A string never equals a value it cannot be coerced to.
		return false, nil
	}
	return false, fmt.Errorf("%w: cannot compare %T and %T", ErrTypeMismatch, left, right)
}

// compare treats null operands as non-matching rather than as an error.
func compare(left, right any, op tokenType) (bool, error) {
	if left == nil || right == nil {
		return false, nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return ordered(lf < rf, lf == rf, op), nil
		}
	}

	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)
	if leftIsString && rightIsString {
		return ordered(ls < rs, ls == rs, op), nil
	}

	return false, fmt.Errorf("%w: cannot apply %s to %T and %T", ErrTypeMismatch, op, left, right)
}

func ordered(less, equal bool, op tokenType) bool {
	switch op {
	case tokenGt:
		return !less && !equal
	case tokenGte:
		return !less
	case tokenLt:
		return less
	case tokenLte:
		return less || equal
	}
	return false
}

func like(value, pattern any) (bool, error) {
	if value == nil || pattern == nil {
		return false, nil
	}
	p, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("%w: like pattern must be a string, got %T", ErrTypeMismatch, pattern)
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	return wildcardMatch([]rune(s), []rune(p)), nil
}

// wildcardMatch implements SQL LIKE: % matches any run, _ matches one rune.
func wildcardMatch(s, p []rune) bool {
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == s[si]):
			si++
			pi++
		case pi < len(p) && p[pi] == '%':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
