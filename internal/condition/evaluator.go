package condition

import (
	"fmt"
	"strings"
)

// EvalContext resolves fact paths during evaluation.
type EvalContext interface {
	Resolve(path []string) (any, bool)
}

// Facts is a flat EvalContext keyed by the dotted path.
type Facts map[string]any

func (f Facts) Resolve(path []string) (any, bool) {
	v, ok := f[strings.Join(path, ".")]
	return v, ok
}

// Condition is a compiled expression together with its source text.
type Condition struct {
	src  string
	expr Expr
}

// Compile parses src once so it can be evaluated many times.
func Compile(src string) (*Condition, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}
	return &Condition{src: src, expr: e}, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(src string) *Condition {
	c, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Condition) String() string { return c.src }

// Fields lists the fact paths the condition reads.
func (c *Condition) Fields() []string { return Fields(c.expr) }

// Eval evaluates the condition against ctx.
func (c *Condition) Eval(ctx EvalContext) (bool, error) {
	ok, err := Evaluate(c.expr, ctx)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", c.src, err)
	}
	return ok, nil
}

// Evaluate walks the AST. An unknown fact is an error, never false.
func Evaluate(e Expr, ctx EvalContext) (bool, error) {
	switch n := e.(type) {
	case *BinaryExpr:
		left, err := Evaluate(n.Left, ctx)
		if err != nil {
			return false, err
		}
		switch n.Op {
		case "AND":
			if !left {
				return false, nil
			}
		case "OR":
			if left {
				return true, nil
			}
		default:
			return false, fmt.Errorf("unknown binary op %q", n.Op)
		}
		return Evaluate(n.Right, ctx)
	case *NotExpr:
		v, err := Evaluate(n.Expr, ctx)
		return !v, err
	case *ComparisonExpr:
		left, err := resolve(n.Left, ctx)
		if err != nil {
			return false, err
		}
		right, err := resolve(n.Right, ctx)
		if err != nil {
			return false, err
		}
		if n.Pattern != nil {
			s, ok := left.(string)
			if !ok {
				return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
			}
			return n.Pattern.MatchString(s), nil
		}
		return compare(n.Op, left, right)
	}
	return false, fmt.Errorf("unknown expression node %T", e)
}

func resolve(o Operand, ctx EvalContext) (any, error) {
	switch v := o.(type) {
	case *LiteralOperand:
		return v.Value, nil
	case *FieldOperand:
		val, ok := ctx.Resolve(v.Path)
		if !ok {
			return nil, fmt.Errorf("unknown fact %q", strings.Join(v.Path, "."))
		}
		return val, nil
	}
	return nil, fmt.Errorf("unknown operand %T", o)
}
