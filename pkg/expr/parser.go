package expr

import (
	"strconv"
)

const (
	// MaxSourceLen bounds the byte length of a single expression.
	MaxSourceLen = 4096
	// MaxDepth bounds expression nesting.
	MaxDepth = 64
)

type parser struct {
	toks  []Token
	pos   int
	depth int
}

// Parse parses a single expression into a tree.
func Parse(src string) (Node, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind != TokEOF {
		return nil, syntaxErrorf(t.Pos, "unexpected %s %q", t.Kind, t.Text)
	}
	return n, nil
}

// ParseAssignment parses `<field> = <expr>`.
func ParseAssignment(src string) (string, Node, error) {
	p, err := newParser(src)
	if err != nil {
		return "", nil, err
	}
	target := p.next()
	if target.Kind != TokIdent {
		return "", nil, syntaxErrorf(target.Pos, "transform must start with a field name, got %s", target.Kind)
	}
	if eq := p.next(); eq.Kind != TokAssign {
		return "", nil, syntaxErrorf(eq.Pos, "expected '=' after %q", target.Text)
	}
	n, err := p.parseExpr()
	if err != nil {
		return "", nil, err
	}
	if t := p.peek(); t.Kind != TokEOF {
		return "", nil, syntaxErrorf(t.Pos, "unexpected %s %q", t.Kind, t.Text)
	}
	return target.Text, n, nil
}

func newParser(src string) (*parser, error) {
	if len(src) > MaxSourceLen {
		return nil, &EvalError{Kind: KindSyntax, Msg: "expression exceeds " + strconv.Itoa(MaxSourceLen) + " bytes"}
	}
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	if toks[0].Kind == TokEOF {
		return nil, syntaxErrorf(0, "empty expression")
	}
	return &parser{toks: toks}, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.Kind == TokKeyword && t.Text == word
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return syntaxErrorf(p.peek().Pos, "expression nested deeper than %d", MaxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "or", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isKeyword("not") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

// parseComparison handles chained comparisons: a < b <= c is (a < b) and (b <= c).
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	var result Node
	for {
		op, ok := p.comparisonOp()
		if !ok {
			break
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		cmp := &Binary{Op: op, L: left, R: right}
		if result == nil {
			result = cmp
		} else {
			result = &Binary{Op: "and", L: result, R: cmp}
		}
		left = right
	}
	if result == nil {
		return left, nil
	}
	return result, nil
}

func (p *parser) comparisonOp() (string, bool) {
	t := p.peek()
	switch {
	case t.Kind == TokOp:
		switch t.Text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			return t.Text, true
		}
	case t.Kind == TokKeyword && t.Text == "in":
		p.next()
		return "in", true
	case t.Kind == TokKeyword && t.Text == "not":
		if n := p.toks[p.pos+1]; n.Kind == TokKeyword && n.Text == "in" {
			p.next()
			p.next()
			return "not in", true
		}
	}
	return "", false
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Kind != TokOp || (t.Text != "+" && t.Text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.Text, L: left, R: right}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Kind != TokOp || (t.Text != "*" && t.Text != "/" && t.Text != "%") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: t.Text, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.Kind == TokOp && (t.Text == "-" || t.Text == "+") {
		p.next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.Text == "+" {
			return &Unary{Op: "+", X: x}, nil
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.Kind {
	case TokNumber:
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, syntaxErrorf(t.Pos, "malformed number %q", t.Text)
		}
		return &Literal{Value: f}, nil
	case TokString:
		return &Literal{Value: t.Text}, nil
	case TokKeyword:
		switch t.Text {
		case "true", "True":
			return &Literal{Value: true}, nil
		case "false", "False":
			return &Literal{Value: false}, nil
		case "null", "None":
			return &Literal{Value: nil}, nil
		}
		return nil, syntaxErrorf(t.Pos, "unexpected keyword %q", t.Text)
	case TokIdent:
		if p.peek().Kind == TokLParen {
			return p.parseCall(t)
		}
		return &Ident{Name: t.Text}, nil
	case TokLParen:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.Kind != TokRParen {
			return nil, syntaxErrorf(c.Pos, "expected ')', got %s", c.Kind)
		}
		return x, nil
	case TokLBracket:
		items, err := p.parseItems(TokRBracket)
		if err != nil {
			return nil, err
		}
		return &List{Items: items}, nil
	case TokAssign:
		return nil, syntaxErrorf(t.Pos, "assignment is only allowed in transforms, use '==' to compare")
	}
	return nil, syntaxErrorf(t.Pos, "unexpected %s", t.Kind)
}

func (p *parser) parseCall(name Token) (Node, error) {
	if _, ok := builtins[name.Text]; !ok {
		return nil, &EvalError{Kind: KindUnsupportedBuiltin, Msg: "unsupported built-in " + strconv.Quote(name.Text)}
	}
	p.next() // (
	args, err := p.parseItems(TokRParen)
	if err != nil {
		return nil, err
	}
	return &Call{Fn: name.Text, Args: args}, nil
}

// parseItems reads a comma separated list terminated by end. A trailing
// comma is accepted.
func (p *parser) parseItems(end TokenKind) ([]Node, error) {
	var items []Node
	for {
		if p.peek().Kind == end {
			p.next()
			return items, nil
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		switch t := p.next(); t.Kind {
		case TokComma:
		case end:
			return items, nil
		default:
			return nil, syntaxErrorf(t.Pos, "expected ',' or %s, got %s", end, t.Kind)
		}
	}
}
