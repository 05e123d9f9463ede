package core

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Facets is the typed key/value map of data produced and consumed by
// capabilities during a run: the input brief, generated copy variants, QA
// scores. Keys are facet names; values are arbitrary JSON-shaped data.
// Not safe for concurrent use; the run loop owns it.
type Facets map[string]any

// NewFacets returns an empty facet map.
func NewFacets() Facets { return make(Facets) }

// Merge folds the given values into the facet map, last write wins.
func (f Facets) Merge(values map[string]any) {
	for k, v := range values {
		f[k] = v
	}
}

// Get returns the value of a facet by name.
func (f Facets) Get(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

// GetPath resolves a dotted path (facet name first segment) against the
// facet values, e.g. "qa.score".
func (f Facets) GetPath(path string) (gjson.Result, error) {
	doc, err := f.JSON()
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(doc, path), nil
}

// SetPath writes a value at a dotted path, creating intermediate objects
// as needed. The first path segment is the facet name.
func (f Facets) SetPath(path string, value any) error {
	doc, err := f.JSON()
	if err != nil {
		return err
	}
	out, err := sjson.SetBytes(doc, path, value)
	if err != nil {
		return fmt.Errorf("facets: set %q: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		return fmt.Errorf("facets: reload after set %q: %w", path, err)
	}
	clear(f)
	for k, v := range m {
		f[k] = v
	}
	return nil
}

// JSON renders the facet map as a JSON document for guard evaluation and
// snapshot persistence.
func (f Facets) JSON() ([]byte, error) {
	doc, err := json.Marshal(map[string]any(f))
	if err != nil {
		return nil, fmt.Errorf("facets: marshal: %w", err)
	}
	return doc, nil
}

// Clone returns a deep copy via a JSON round trip, safe for snapshotting.
func (f Facets) Clone() (Facets, error) {
	doc, err := f.JSON()
	if err != nil {
		return nil, err
	}
	var out Facets
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("facets: clone: %w", err)
	}
	if out == nil {
		out = NewFacets()
	}
	return out, nil
}
