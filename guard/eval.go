package guard

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// MissingVarError reports a variable path the facts document does not
// contain.
type MissingVarError struct{ Path string }

func (e *MissingVarError) Error() string {
	return fmt.Sprintf("guard: variable %q not present in facts", e.Path)
}

// TypeError reports an operation applied to an incompatible value type.
type TypeError struct {
	Path string
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("guard: %q: want %s, got %T", e.Path, e.Want, e.Got)
}

// Evaluate runs the compiled condition against a JSON document of facet
// values. Missing variables and type mismatches are returned as errors,
// never panics, so a bad guard cannot take down its siblings.
func (c *Compiled) Evaluate(factsJSON []byte) (bool, error) {
	return evalNode(c.root, factsJSON)
}

func evalNode(n node, doc []byte) (bool, error) {
	switch t := n.(type) {
	case *boolNode:
		lhs, err := evalNode(t.lhs, doc)
		if err != nil {
			return false, err
		}
		// Short-circuit the way the connectives read.
		if t.op == "&&" && !lhs {
			return false, nil
		}
		if t.op == "||" && lhs {
			return true, nil
		}
		return evalNode(t.rhs, doc)

	case *notNode:
		v, err := evalNode(t.child, doc)
		if err != nil {
			return false, err
		}
		return !v, nil

	case *cmpNode:
		lhs, err := resolve(t.lhs, doc)
		if err != nil {
			return false, err
		}
		rhs, err := resolve(t.rhs, doc)
		if err != nil {
			return false, err
		}
		return compare(t.op, lhs, rhs, t.lhs)

	case *inNode:
		lhs, err := resolve(t.lhs, doc)
		if err != nil {
			return false, err
		}
		for _, item := range t.list {
			if looseEqual(lhs, item.val) {
				return true, nil
			}
		}
		return false, nil

	case *truthNode:
		v, err := resolve(t.ref, doc)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, &TypeError{Path: t.ref.path, Want: "bool", Got: v}
		}
		return b, nil
	}
	return false, fmt.Errorf("guard: unknown node %T", n)
}

func resolve(op operand, doc []byte) (any, error) {
	switch t := op.(type) {
	case literal:
		return t.val, nil
	case varRef:
		res := gjson.GetBytes(doc, t.path)
		if !res.Exists() {
			return nil, &MissingVarError{Path: t.path}
		}
		switch res.Type {
		case gjson.String:
			return res.Str, nil
		case gjson.Number:
			return res.Num, nil
		case gjson.True:
			return true, nil
		case gjson.False:
			return false, nil
		case gjson.Null:
			return nil, nil
		}
		// Objects and arrays only participate in equality via raw form.
		return res.Raw, nil
	}
	return nil, fmt.Errorf("guard: unknown operand %T", op)
}

func compare(op string, lhs, rhs any, lref operand) (bool, error) {
	switch op {
	case "==":
		return looseEqual(lhs, rhs), nil
	case "!=":
		return !looseEqual(lhs, rhs), nil
	}

	lf, lok := lhs.(float64)
	rf, rok := rhs.(float64)
	if !lok || !rok {
		path := ""
		if ref, ok := lref.(varRef); ok {
			path = ref.path
		}
		bad := lhs
		if lok {
			bad = rhs
		}
		return false, &TypeError{Path: path, Want: "number", Got: bad}
	}

	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return false, fmt.Errorf("guard: unknown operator %q", op)
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
