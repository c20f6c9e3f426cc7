package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// expr is a node in the parsed expression tree.
type expr interface {
	eval(vars map[string]any) (any, error)
}

type literal struct {
	value any
}

func (l literal) eval(map[string]any) (any, error) {
	return l.value, nil
}

type variable struct {
	path string
}

// eval resolves a dotted path through nested maps. Missing variables
// resolve to nil rather than erroring, so comparisons against absent keys
// behave like comparisons against null.
func (v variable) eval(vars map[string]any) (any, error) {
	var current any = vars

	for _, part := range strings.Split(v.path, ".") {
		bag, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}

		current = bag[part]
	}

	return current, nil
}

type unaryNot struct {
	operand expr
}

func (u unaryNot) eval(vars map[string]any) (any, error) {
	value, err := u.operand.eval(vars)
	if err != nil {
		return nil, err
	}

	return !truthy(value), nil
}

type binary struct {
	op          string
	left, right expr
}

func (b binary) eval(vars map[string]any) (any, error) {
	left, err := b.left.eval(vars)
	if err != nil {
		return nil, err
	}

	// Short-circuit the connectives before evaluating the right side.
	switch b.op {
	case "&&":
		if !truthy(left) {
			return false, nil
		}
	case "||":
		if truthy(left) {
			return true, nil
		}
	}

	right, err := b.right.eval(vars)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "&&", "||":
		return truthy(right), nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", ">", "<=", ">=":
		return compareOrdered(b.op, left, right)
	}

	return nil, fmt.Errorf("unsupported operator %q", b.op)
}

// parser is a recursive-descent parser with precedence
// or < and < comparison < unary < primary.
type parser struct {
	lex     *lexer
	current token
}

// Parse compiles an expression string into an evaluable tree.
func Parse(input string) (expr, error) {
	p := &parser{lex: &lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}

	tree, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.current.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.current.text, p.current.pos)
	}

	return tree, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}

	p.current = tok

	return nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOperator && p.current.text == "||" {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = binary{op: "||", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.current.kind == tokenOperator && p.current.text == "&&" {
		if err := p.advance(); err != nil {
			return nil, err
		}

		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		left = binary{op: "&&", left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	if p.current.kind == tokenOperator {
		switch p.current.text {
		case "==", "!=", "<", ">", "<=", ">=":
			op := p.current.text
			if err := p.advance(); err != nil {
				return nil, err
			}

			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}

			return binary{op: op, left: left, right: right}, nil
		}
	}

	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.current.kind == tokenOperator && p.current.text == "!" {
		if err := p.advance(); err != nil {
			return nil, err
		}

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return unaryNot{operand: operand}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (expr, error) {
	tok := p.current

	switch tok.kind {
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if p.current.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.current.pos)
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return inner, nil
	case tokenString:
		if err := p.advance(); err != nil {
			return nil, err
		}

		return literal{value: tok.text}, nil
	case tokenNumber:
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}

		if err := p.advance(); err != nil {
			return nil, err
		}

		return literal{value: value}, nil
	case tokenIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}

		switch tok.text {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "null", "nil":
			return literal{value: nil}, nil
		}

		return variable{path: tok.text}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
	}
}
