// Package expressions holds the restricted arithmetic grammar used by
// calc_eval, the structured condition evaluator, and the Expr/CEL/gojq
// engine wrappers.
package expressions

import (
	"math"
	"strconv"
	"strings"

	"github.com/rgthelen/alp/pkg/schema"
)

// Calc parses and evaluates a restricted arithmetic expression: numeric
// literals, parentheses, unary +/-, and the operators + - * / // % ** with
// ^ as a synonym for exponent. Any other token is a syntax error; division
// and modulo by zero are math errors.
func Calc(expr string) (float64, error) {
	toks, err := lexCalc(expr)
	if err != nil {
		return 0, err
	}
	p := &calcParser{toks: toks}
	v, err := p.parseExpr(0)
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.toks) {
		return 0, schema.NewErrorf(schema.ErrSyntax, "unexpected token %q", p.toks[p.pos].text)
	}
	return v, nil
}

type calcToken struct {
	kind string // "num", "op", "(", ")"
	text string
	num  float64
}

func lexCalc(expr string) ([]calcToken, error) {
	var toks []calcToken
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			// Exponent suffix: 1e3, 2.5E-4.
			if i < len(expr) && (expr[i] == 'e' || expr[i] == 'E') {
				j := i + 1
				if j < len(expr) && (expr[j] == '+' || expr[j] == '-') {
					j++
				}
				digits := j
				for j < len(expr) && expr[j] >= '0' && expr[j] <= '9' {
					j++
				}
				if j > digits {
					i = j
				}
			}
			text := expr[start:i]
			num, err := parseNumber(text)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrSyntax, "invalid number %q", text)
			}
			toks = append(toks, calcToken{kind: "num", text: text, num: num})
		case c == '(':
			toks = append(toks, calcToken{kind: "(", text: "("})
			i++
		case c == ')':
			toks = append(toks, calcToken{kind: ")", text: ")"})
			i++
		case c == '*':
			if i+1 < len(expr) && expr[i+1] == '*' {
				toks = append(toks, calcToken{kind: "op", text: "**"})
				i += 2
			} else {
				toks = append(toks, calcToken{kind: "op", text: "*"})
				i++
			}
		case c == '/':
			if i+1 < len(expr) && expr[i+1] == '/' {
				toks = append(toks, calcToken{kind: "op", text: "//"})
				i += 2
			} else {
				toks = append(toks, calcToken{kind: "op", text: "/"})
				i++
			}
		case c == '^':
			toks = append(toks, calcToken{kind: "op", text: "**"})
			i++
		case c == '+' || c == '-' || c == '%':
			toks = append(toks, calcToken{kind: "op", text: string(c)})
			i++
		default:
			return nil, schema.NewErrorf(schema.ErrSyntax, "unexpected character %q in expression", string(c))
		}
	}
	if len(toks) == 0 {
		return nil, schema.NewError(schema.ErrSyntax, "empty expression")
	}
	return toks, nil
}

func parseNumber(text string) (float64, error) {
	if strings.Count(text, ".") > 1 {
		return 0, schema.NewErrorf(schema.ErrSyntax, "invalid number %q", text)
	}
	return strconv.ParseFloat(text, 64)
}

type calcParser struct {
	toks []calcToken
	pos  int
}

// Binary operator precedence. Exponent is right-associative.
func calcPrec(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*", "/", "//", "%":
		return 2
	case "**":
		return 3
	}
	return 0
}

func (p *calcParser) parseExpr(minPrec int) (float64, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		if tok.kind != "op" {
			break
		}
		prec := calcPrec(tok.text)
		if prec < minPrec {
			break
		}
		p.pos++
		nextMin := prec + 1
		if tok.text == "**" {
			nextMin = prec // right-associative
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return 0, err
		}
		left, err = applyCalcOp(tok.text, left, right)
		if err != nil {
			return 0, err
		}
	}
	return left, nil
}

func (p *calcParser) parsePrimary() (float64, error) {
	if p.pos >= len(p.toks) {
		return 0, schema.NewError(schema.ErrSyntax, "unexpected end of expression")
	}
	tok := p.toks[p.pos]
	switch {
	case tok.kind == "num":
		p.pos++
		return tok.num, nil
	case tok.kind == "(":
		p.pos++
		v, err := p.parseExpr(0)
		if err != nil {
			return 0, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != ")" {
			return 0, schema.NewError(schema.ErrSyntax, "missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case tok.kind == "op" && (tok.text == "+" || tok.text == "-"):
		p.pos++
		// Unary binds looser than exponent: -2**2 == -(2**2).
		v, err := p.parseExpr(3)
		if err != nil {
			return 0, err
		}
		if tok.text == "-" {
			return -v, nil
		}
		return v, nil
	}
	return 0, schema.NewErrorf(schema.ErrSyntax, "unexpected token %q", tok.text)
}

func applyCalcOp(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, schema.NewError(schema.ErrMath, "division by zero")
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return 0, schema.NewError(schema.ErrMath, "integer division by zero")
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return 0, schema.NewError(schema.ErrMath, "modulo by zero")
		}
		// Python-style modulo: result takes the sign of the divisor.
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	case "**":
		return math.Pow(a, b), nil
	}
	return 0, schema.NewErrorf(schema.ErrSyntax, "unknown operator %q", op)
}
