// Package condition evaluates boolean expressions over named instance
// variables. Expressions are parsed into a small AST and interpreted
// directly; variable values are never interpolated into evaluated code.
//
// Grammar: comparisons (== != < > <= >=), boolean connectives (&& || !),
// parentheses, string/number/boolean/null literals, and bare identifiers
// (dotted paths allowed) resolving to variables.
package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOperator // == != < > <= >= && || !
	tokenLParen
	tokenRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch {
	case ch == '(':
		l.pos++

		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++

		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case ch == '\'' || ch == '"':
		return l.lexString(ch)
	case ch >= '0' && ch <= '9' || ch == '-' && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9':
		return l.lexNumber()
	case isIdentStart(ch):
		return l.lexIdent()
	default:
		return l.lexOperator()
	}
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			l.pos++

			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}

		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			ch = l.input[l.pos]
		}

		sb.WriteByte(ch)
		l.pos++
	}

	return token{}, fmt.Errorf("unterminated string literal at position %d", start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}

	for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
		l.pos++
	}

	return token{kind: tokenNumber, text: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos

	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}

	return token{kind: tokenIdent, text: l.input[start:l.pos], pos: start}, nil
}

func (l *lexer) lexOperator() (token, error) {
	start := l.pos
	rest := l.input[l.pos:]

	for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "!"} {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)

			return token{kind: tokenOperator, text: op, pos: start}, nil
		}
	}

	return token{}, fmt.Errorf("unexpected character %q at position %d", l.input[l.pos], start)
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9' || ch == '.'
}
