package guard

import (
	"fmt"
)

// Guard binds a compiled post-condition to a (facet, path) location in a
// capability's output. The pair is the guard's identity within one
// capability registration.
type Guard struct {
	Facet string    `json:"facet"`
	Path  string    `json:"path"`
	Cond  *Compiled `json:"cond"`
}

// Key returns the (facet, path) identity used for uniqueness and for
// keying evaluation results.
func (g Guard) Key() string { return g.Facet + "#" + g.Path }

// Result is the outcome of evaluating one guard. It is keyed by the same
// (facet, path) pair as the guard definition but is a distinct value: a
// definition describes the check, a result describes one evaluation.
type Result struct {
	Facet     string `json:"facet"`
	Path      string `json:"path"`
	Satisfied bool   `json:"satisfied"`
	Err       error  `json:"-"`
}

// Key mirrors Guard.Key for pairing results with their definitions.
func (r Result) Key() string { return r.Facet + "#" + r.Path }

// DuplicateGuardError reports a second registration for an already-guarded
// (facet, path) pair.
type DuplicateGuardError struct {
	Facet string
	Path  string
}

func (e *DuplicateGuardError) Error() string {
	return fmt.Sprintf("guard: duplicate guard for facet %q path %q", e.Facet, e.Path)
}

// Set is the ordered guard collection of one capability registration.
// Uniqueness of (facet, path) is enforced at Add time, never deferred to
// evaluation.
type Set struct {
	guards []Guard
	keys   map[string]struct{}
}

// NewSet returns an empty guard set.
func NewSet() *Set {
	return &Set{keys: make(map[string]struct{})}
}

// Add compiles source and registers the guard. A duplicate (facet, path)
// pair is rejected with a DuplicateGuardError.
func (s *Set) Add(facet, path, source string) error {
	if facet == "" {
		return fmt.Errorf("guard: facet name is required")
	}
	cond, err := Compile(source)
	if err != nil {
		return fmt.Errorf("guard: compile %q: %w", source, err)
	}
	g := Guard{Facet: facet, Path: path, Cond: cond}
	if _, dup := s.keys[g.Key()]; dup {
		return &DuplicateGuardError{Facet: facet, Path: path}
	}
	s.keys[g.Key()] = struct{}{}
	s.guards = append(s.guards, g)
	return nil
}

// Len returns the number of registered guards.
func (s *Set) Len() int { return len(s.guards) }

// Guards returns the registered guards in registration order.
func (s *Set) Guards() []Guard {
	out := make([]Guard, len(s.guards))
	copy(out, s.guards)
	return out
}

// Evaluate runs every guard against the facts document and returns one
// result per guard in registration order. A failing or erroring guard
// never stops evaluation of its siblings.
func (s *Set) Evaluate(factsJSON []byte) []Result {
	results := make([]Result, 0, len(s.guards))
	for _, g := range s.guards {
		ok, err := g.Cond.Evaluate(factsJSON)
		results = append(results, Result{Facet: g.Facet, Path: g.Path, Satisfied: ok && err == nil, Err: err})
	}
	return results
}

// Unsatisfied filters results down to violations and evaluation errors.
func Unsatisfied(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Satisfied {
			out = append(out, r)
		}
	}
	return out
}
