package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expr is a node of a parsed guideline expression.
type Expr interface {
	exprNode()
}

// BinaryExpr is AND / OR.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Expr Expr
}

// ComparisonExpr is <operand> <operator> <operand>. Pattern is set for
// "matches" against a literal and is compiled once at parse time.
type ComparisonExpr struct {
	Left    Operand
	Op      Operator
	Right   Operand
	Pattern *regexp.Regexp
}

func (*BinaryExpr) exprNode()     {}
func (*NotExpr) exprNode()        {}
func (*ComparisonExpr) exprNode() {}

// Operand is a literal or a fact reference.
type Operand interface {
	operandNode()
}

// LiteralOperand is a constant. Numbers are always float64.
type LiteralOperand struct {
	Value any
}

// FieldOperand is a dotted fact path such as adverse.financial.
type FieldOperand struct {
	Path []string
}

func (*LiteralOperand) operandNode() {}
func (*FieldOperand) operandNode()   {}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

// Parse turns an expression into an AST.
func Parse(src string) (Expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.val, t.pos)
	}
	return e, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	var op Operator
	switch t := p.peek(); {
	case t.kind == tokOp:
		op = Operator(t.val)
	case p.keyword("contains"):
		op = OpContains
	case p.keyword("matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	p.next()

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp := &ComparisonExpr{Left: left, Op: op, Right: right}
	if op == OpMatches {
		if lit, ok := right.(*LiteralOperand); ok {
			s, ok := lit.Value.(string)
			if !ok {
				return nil, fmt.Errorf("matches: pattern must be a string, got %T", lit.Value)
			}
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, fmt.Errorf("matches: invalid pattern %q: %w", s, err)
			}
			cmp.Pattern = re
		}
	}
	return cmp, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &LiteralOperand{Value: t.val}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return &LiteralOperand{Value: f}, nil
	case tokBool:
		return &LiteralOperand{Value: t.val == "true"}, nil
	case tokWord:
		path := strings.Split(t.val, ".")
		for _, seg := range path {
			if seg == "" {
				return nil, fmt.Errorf("malformed fact path %q at position %d", t.val, t.pos)
			}
		}
		return &FieldOperand{Path: path}, nil
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
}

// Fields lists the distinct fact paths an expression references, in order of
// first appearance.
func Fields(e Expr) []string {
	seen := map[string]bool{}
	var out []string
	add := func(o Operand) {
		if f, ok := o.(*FieldOperand); ok {
			k := strings.Join(f.Path, ".")
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *ComparisonExpr:
			add(n.Left)
			add(n.Right)
		}
	}
	walk(e)
	return out
}
