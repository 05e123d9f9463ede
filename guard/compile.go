package guard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Compiled is the result of compiling a post-condition expression: the
// original source, a canonical normalized rendering and the set of
// variable paths the expression references.
type Compiled struct {
	Source    string   `json:"source"`
	Canonical string   `json:"canonical"`
	Vars      []string `json:"vars"`

	root node
}

// Compile parses a post-condition expression into an expression tree.
//
// The DSL covers equality (==, !=), ordering (<, <=, >, >=), membership
// (in [a, b, c]), boolean connectives (&&, ||, !) and parentheses, over
// dotted paths into facet values, e.g.:
//
//	qa.score >= 0.8 && copy.tone in ['friendly', 'neutral']
func Compile(source string) (*Compiled, error) {
	p := &parser{lex: newLexer(source)}
	if err := p.next(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("guard: unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}

	vars := map[string]struct{}{}
	root.collectVars(vars)
	names := make([]string, 0, len(vars))
	for v := range vars {
		names = append(names, v)
	}
	sort.Strings(names)

	return &Compiled{Source: source, Canonical: root.canonical(), Vars: names, root: root}, nil
}

// --- expression tree ---

type node interface {
	canonical() string
	collectVars(map[string]struct{})
}

type boolNode struct {
	op       string // "&&" or "||"
	lhs, rhs node
}

func (n *boolNode) canonical() string {
	return "(" + n.lhs.canonical() + " " + n.op + " " + n.rhs.canonical() + ")"
}

func (n *boolNode) collectVars(vars map[string]struct{}) {
	n.lhs.collectVars(vars)
	n.rhs.collectVars(vars)
}

type notNode struct{ child node }

func (n *notNode) canonical() string               { return "!" + n.child.canonical() }
func (n *notNode) collectVars(v map[string]struct{}) { n.child.collectVars(v) }

type cmpNode struct {
	op       string // ==, !=, <, <=, >, >=
	lhs, rhs operand
}

func (n *cmpNode) canonical() string {
	return "(" + n.lhs.canonical() + " " + n.op + " " + n.rhs.canonical() + ")"
}

func (n *cmpNode) collectVars(vars map[string]struct{}) {
	n.lhs.collectVars(vars)
	n.rhs.collectVars(vars)
}

type inNode struct {
	lhs  operand
	list []literal
}

func (n *inNode) canonical() string {
	items := make([]string, len(n.list))
	for i, l := range n.list {
		items[i] = l.canonical()
	}
	return "(" + n.lhs.canonical() + " in [" + strings.Join(items, ", ") + "])"
}

func (n *inNode) collectVars(vars map[string]struct{}) { n.lhs.collectVars(vars) }

// truthNode is a bare variable used in boolean position.
type truthNode struct{ ref varRef }

func (n *truthNode) canonical() string               { return n.ref.canonical() }
func (n *truthNode) collectVars(v map[string]struct{}) { n.ref.collectVars(v) }

// operand is either a variable reference or a literal.
type operand interface {
	canonical() string
	collectVars(map[string]struct{})
}

type varRef struct{ path string }

func (v varRef) canonical() string                  { return v.path }
func (v varRef) collectVars(vars map[string]struct{}) { vars[v.path] = struct{}{} }

type literal struct{ val any } // string, float64, bool or nil

func (l literal) canonical() string {
	switch v := l.val.(type) {
	case string:
		return "'" + v + "'"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", l.val)
}

func (literal) collectVars(map[string]struct{}) {}

// --- parser ---

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	t, err := p.lex.scan()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.next(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &boolNode{op: "||", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.next(); err != nil {
			return nil, err
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &boolNode{op: "&&", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokNot {
		if err := p.next(); err != nil {
			return nil, err
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{child: child}, nil
	}
	if p.tok.kind == tokLParen {
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("guard: missing closing parenthesis at offset %d", p.tok.pos)
		}
		return inner, p.next()
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	lhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch p.tok.kind {
	case tokOp:
		op := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}
		rhs, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: op, lhs: lhs, rhs: rhs}, nil

	case tokIn:
		if err := p.next(); err != nil {
			return nil, err
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &inNode{lhs: lhs, list: list}, nil
	}

	// Bare operand in boolean position: only a variable makes sense.
	ref, ok := lhs.(varRef)
	if !ok {
		return nil, fmt.Errorf("guard: literal cannot stand alone as a condition")
	}
	return &truthNode{ref: ref}, nil
}

func (p *parser) parseOperand() (operand, error) {
	switch p.tok.kind {
	case tokIdent:
		ref := varRef{path: p.tok.text}
		return ref, p.next()
	case tokString:
		l := literal{val: p.tok.text}
		return l, p.next()
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("guard: bad number %q: %w", p.tok.text, err)
		}
		return literal{val: f}, p.next()
	case tokBool:
		return literal{val: p.tok.text == "true"}, p.next()
	case tokNull:
		return literal{val: nil}, p.next()
	}
	return nil, fmt.Errorf("guard: unexpected %q at offset %d", p.tok.text, p.tok.pos)
}

func (p *parser) parseList() ([]literal, error) {
	if p.tok.kind != tokLBracket {
		return nil, fmt.Errorf("guard: 'in' must be followed by a [...] list at offset %d", p.tok.pos)
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	var items []literal
	for p.tok.kind != tokRBracket {
		op, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		lit, ok := op.(literal)
		if !ok {
			return nil, fmt.Errorf("guard: membership lists may only contain literals")
		}
		items = append(items, lit)
		if p.tok.kind == tokComma {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("guard: empty membership list")
	}
	return items, p.next()
}
