package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Context supplies the values dotted lookups resolve against. The outer
// key is the context root ("github", "matrix", "env", "job"), the inner
// key the field name. A lookup under a known root that misses resolves
// to the empty string; an unknown root is an evaluation error.
type Context map[string]map[string]string

// Value is the result of evaluating an expression or sub-expression.
type Value struct {
	kind kind
	str  string
	num  float64
	b    bool
}

type kind int

const (
	kindNull kind = iota
	kindString
	kindNumber
	kindBool
)

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: kindString, str: s} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{kind: kindNumber, num: n} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: kindBool, b: b} }

// NullValue is the null literal.
func NullValue() Value { return Value{kind: kindNull} }

// Truthy reports whether the value counts as true in a condition:
// null, false, zero, and the empty string are false, everything else
// is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case kindNull:
		return false
	case kindBool:
		return v.b
	case kindNumber:
		return v.num != 0
	case kindString:
		return v.str != ""
	default:
		return false
	}
}

// Text renders the value for interpolation into a command string.
func (v Value) Text() string {
	switch v.kind {
	case kindNull:
		return ""
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case kindString:
		return v.str
	default:
		return ""
	}
}

// Equal compares two values. Values of the same kind compare directly.
// Mixed kinds compare numerically when both sides have a numeric
// reading, matching the loose equality of hosted platforms: the axis
// string "3.10" equals the number 3.10 an author wrote unquoted, even
// though their text renderings differ. Otherwise the text renderings
// are compared.
func (v Value) Equal(o Value) bool {
	if v.kind == o.kind {
		switch v.kind {
		case kindNull:
			return true
		case kindBool:
			return v.b == o.b
		case kindNumber:
			return v.num == o.num
		case kindString:
			return v.str == o.str
		}
	}
	if vn, ok := v.asNumber(); ok {
		if on, ok := o.asNumber(); ok {
			return vn == on
		}
	}
	return v.Text() == o.Text()
}

// asNumber returns the numeric reading of a value, if it has one.
func (v Value) asNumber() (float64, bool) {
	switch v.kind {
	case kindNumber:
		return v.num, true
	case kindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Expr is a parsed condition, ready for repeated evaluation.
type Expr struct {
	root node
	src  string
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Eval evaluates the expression against a context.
func (e *Expr) Eval(ctx Context) (Value, error) {
	return e.root.eval(ctx)
}

// Parse compiles an expression. Errors carry the byte offset of the
// offending token so workflow validation can point at the problem.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokEOF {
		return nil, fmt.Errorf("expression %q: unexpected %q at offset %d", src, p.peek().text, p.peek().pos)
	}
	return &Expr{root: root, src: src}, nil
}

// --- lexer ---

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokString
	tokNumber
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokEq     // ==
	tokNeq    // !=
	tokLParen // (
	tokRParen // )
	tokComma  // ,
)

type token struct {
	typ  tokenType
	text string
	pos  int
}

// lex splits the expression into tokens. Identifiers may contain dots,
// letters, digits, underscores, and hyphens; the parser splits dotted
// paths afterwards.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++

		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, fmt.Errorf("expression %q: single '&' at offset %d", src, i)
			}
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, fmt.Errorf("expression %q: single '|' at offset %d", src, i)
			}
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, fmt.Errorf("expression %q: single '=' at offset %d (use '==')", src, i)
			}
			toks = append(toks, token{tokEq, "==", i})
			i += 2
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokNeq, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}

		case c == '\'':
			// Single-quoted string; '' escapes a literal quote.
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\'' {
					if i+1 < len(src) && src[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("expression %q: unterminated string at offset %d", src, start)
			}
			toks = append(toks, token{tokString, sb.String(), start})

		case c >= '0' && c <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case unicode.IsLetter(rune(c)) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) ||
				src[i] == '_' || src[i] == '-' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})

		default:
			return nil, fmt.Errorf("expression %q: unexpected character %q at offset %d", src, c, i)
		}
	}

	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// --- parser ---

// Grammar (lowest to highest precedence):
//
//	or     := and ('||' and)*
//	and    := cmp ('&&' cmp)*
//	cmp    := unary (('==' | '!=') unary)?
//	unary  := '!' unary | primary
//	primary := literal | func '(' args ')' | path | '(' or ')'
type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAnd {
		p.next()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ == tokEq || t.typ == tokNeq {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().typ == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.typ {
	case tokString:
		return &literalNode{val: StringValue(t.text)}, nil

	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("expression %q: bad number %q at offset %d", p.src, t.text, t.pos)
		}
		return &literalNode{val: NumberValue(n)}, nil

	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().typ != tokRParen {
			return nil, fmt.Errorf("expression %q: missing ')' at offset %d", p.src, p.peek().pos)
		}
		p.next()
		return inner, nil

	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{val: BoolValue(true)}, nil
		case "false":
			return &literalNode{val: BoolValue(false)}, nil
		case "null":
			return &literalNode{val: NullValue()}, nil
		}

		// A '(' after an identifier makes it a function call.
		if p.peek().typ == tokLParen {
			return p.parseCall(t)
		}

		parts := strings.Split(t.text, ".")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("expression %q: context lookup %q at offset %d must have the form root.field", p.src, t.text, t.pos)
		}
		return &lookupNode{root: parts[0], field: parts[1]}, nil

	default:
		return nil, fmt.Errorf("expression %q: unexpected %q at offset %d", p.src, t.text, t.pos)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	p.next() // consume '('

	var args []node
	if p.peek().typ != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().typ != tokComma {
				break
			}
			p.next()
		}
	}
	if p.peek().typ != tokRParen {
		return nil, fmt.Errorf("expression %q: missing ')' after arguments of %s at offset %d", p.src, name.text, p.peek().pos)
	}
	p.next()

	switch name.text {
	case "contains", "startsWith", "endsWith":
		if len(args) != 2 {
			return nil, fmt.Errorf("expression %q: %s expects 2 arguments, got %d", p.src, name.text, len(args))
		}
	default:
		return nil, fmt.Errorf("expression %q: unknown function %q at offset %d", p.src, name.text, name.pos)
	}

	return &callNode{name: name.text, args: args}, nil
}

// --- evaluation ---

type node interface {
	eval(ctx Context) (Value, error)
}

type literalNode struct{ val Value }

func (n *literalNode) eval(Context) (Value, error) { return n.val, nil }

type lookupNode struct {
	root  string
	field string
}

func (n *lookupNode) eval(ctx Context) (Value, error) {
	scope, ok := ctx[n.root]
	if !ok {
		return Value{}, fmt.Errorf("unknown context %q (available: %s)", n.root, contextRoots(ctx))
	}
	// A missing field under a known root is the empty string, matching
	// how hosted platforms treat absent context values.
	return StringValue(scope[n.field]), nil
}

type notNode struct{ inner node }

func (n *notNode) eval(ctx Context) (Value, error) {
	v, err := n.inner.eval(ctx)
	if err != nil {
		return Value{}, err
	}
	return BoolValue(!v.Truthy()), nil
}

type binaryNode struct {
	op    string
	left  node
	right node
}

func (n *binaryNode) eval(ctx Context) (Value, error) {
	left, err := n.left.eval(ctx)
	if err != nil {
		return Value{}, err
	}

	// Short-circuit the boolean operators before touching the right side.
	switch n.op {
	case "&&":
		if !left.Truthy() {
			return BoolValue(false), nil
		}
		right, err := n.right.eval(ctx)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(right.Truthy()), nil
	case "||":
		if left.Truthy() {
			return BoolValue(true), nil
		}
		right, err := n.right.eval(ctx)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(right.Truthy()), nil
	}

	right, err := n.right.eval(ctx)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "==":
		return BoolValue(left.Equal(right)), nil
	case "!=":
		return BoolValue(!left.Equal(right)), nil
	default:
		return Value{}, fmt.Errorf("unknown operator %q", n.op)
	}
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(ctx Context) (Value, error) {
	vals := make([]Value, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ctx)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}

	switch n.name {
	case "contains":
		return BoolValue(strings.Contains(vals[0].Text(), vals[1].Text())), nil
	case "startsWith":
		return BoolValue(strings.HasPrefix(vals[0].Text(), vals[1].Text())), nil
	case "endsWith":
		return BoolValue(strings.HasSuffix(vals[0].Text(), vals[1].Text())), nil
	default:
		return Value{}, fmt.Errorf("unknown function %q", n.name)
	}
}

// contextRoots lists the available context roots for error messages.
func contextRoots(ctx Context) string {
	roots := make([]string, 0, len(ctx))
	for k := range ctx {
		roots = append(roots, k)
	}
	// Sorted for stable error text.
	sort.Strings(roots)
	return strings.Join(roots, ", ")
}

// Evaluate is the parse-and-eval convenience used for "if" conditions:
// it returns the truthiness of the expression. An empty expression is
// true, matching the semantics of an absent "if" field.
func Evaluate(src string, ctx Context) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	e, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := e.Eval(ctx)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}
