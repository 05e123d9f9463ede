package guard

import (
	"fmt"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokBool
	tokNull
	tokOp // == != < <= > >=
	tokAnd
	tokOr
	tokNot
	tokIn
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) scan() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '\'', '"':
		return l.scanString(c)
	case '&':
		if l.peek(1) == '&' {
			l.pos += 2
			return token{kind: tokAnd, text: "&&", pos: start}, nil
		}
		return token{}, fmt.Errorf("guard: stray '&' at offset %d", start)
	case '|':
		if l.peek(1) == '|' {
			l.pos += 2
			return token{kind: tokOr, text: "||", pos: start}, nil
		}
		return token{}, fmt.Errorf("guard: stray '|' at offset %d", start)
	case '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "!=", pos: start}, nil
		}
		l.pos++
		return token{kind: tokNot, text: "!", pos: start}, nil
	case '=':
		if l.peek(1) == '=' {
			l.pos += 2
			return token{kind: tokOp, text: "==", pos: start}, nil
		}
		return token{}, fmt.Errorf("guard: stray '=' at offset %d (use ==)", start)
	case '<', '>':
		op := string(c)
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			op += "="
			l.pos++
		}
		return token{kind: tokOp, text: op, pos: start}, nil
	}

	if unicode.IsDigit(c) || c == '-' {
		return l.scanNumber()
	}
	if unicode.IsLetter(c) || c == '_' {
		return l.scanIdent()
	}
	return token{}, fmt.Errorf("guard: unexpected character %q at offset %d", c, start)
}

func (l *lexer) peek(ahead int) rune {
	if l.pos+ahead >= len(l.src) {
		return 0
	}
	return l.src[l.pos+ahead]
}

func (l *lexer) scanString(quote rune) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var out []rune
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return token{kind: tokString, text: string(out), pos: start}, nil
		}
		out = append(out, c)
		l.pos++
	}
	return token{}, fmt.Errorf("guard: unterminated string at offset %d", start)
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && (unicode.IsDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	return token{kind: tokNumber, text: string(l.src[start:l.pos]), pos: start}, nil
}

// scanIdent reads a dotted path or keyword. Paths allow letters, digits,
// underscores, dots and array-index brackets are not part of the DSL.
func (l *lexer) scanIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' {
			l.pos++
			continue
		}
		break
	}
	text := string(l.src[start:l.pos])
	switch text {
	case "in":
		return token{kind: tokIn, text: text, pos: start}, nil
	case "true", "false":
		return token{kind: tokBool, text: text, pos: start}, nil
	case "null":
		return token{kind: tokNull, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}
