// Package capability implements the capability registry: named units of
// work the planner can schedule, each registered with its allowed input and
// output facet sets, an optional tool allowlist, and post-condition guards.
//
// There is no ambient global registry. A Registry is constructed once and
// passed by reference to whatever drives the run.
package capability

import (
	"context"
	"fmt"
	"sort"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/guard"
)

// GuardSpec declares one post-condition over an output facet. Cond is
// compiled at registration; a malformed expression fails Register.
type GuardSpec struct {
	Facet string `json:"facet"`
	Path  string `json:"path"`
	Cond  string `json:"cond"`
}

// Registration declares a capability. Inputs and Outputs are the allowed
// facet sets: an empty set means unrestricted. Tools is an informational
// allowlist handed through to the handler; the registry does not interpret
// it.
type Registration struct {
	Name    string
	Inputs  []string
	Outputs []string
	Tools   []string
	Guards  []GuardSpec
	Handler core.Capability
}

// Registered is an accepted registration with its guards compiled. It is
// the invocable form the run loop works with.
type Registered struct {
	Name   string
	Tools  []string
	Guards *guard.Set

	inputs  map[string]struct{}
	outputs map[string]struct{}
	handler core.Capability
}

// Invoke runs the capability with the input facets narrowed to the declared
// input set and the result facets narrowed to the declared output set.
// Undeclared output facets are dropped, not errored: a capability may
// compute more than it publishes.
func (r *Registered) Invoke(ctx context.Context, in core.CapabilityInput) (core.CapabilityResult, error) {
	if len(r.inputs) > 0 {
		narrowed := make(core.Facets, len(r.inputs))
		for name := range r.inputs {
			if v, ok := in.Facets[name]; ok {
				narrowed[name] = v
			}
		}
		in.Facets = narrowed
	}

	out, err := r.handler.Invoke(ctx, in)
	if err != nil {
		return core.CapabilityResult{}, err
	}

	if len(r.outputs) > 0 && len(out.Facets) > 0 {
		narrowed := make(map[string]any, len(r.outputs))
		for name := range r.outputs {
			if v, ok := out.Facets[name]; ok {
				narrowed[name] = v
			}
		}
		out.Facets = narrowed
	}
	return out, nil
}

// AllowsInput reports whether the capability accepts the named input facet.
func (r *Registered) AllowsInput(name string) bool {
	if len(r.inputs) == 0 {
		return true
	}
	_, ok := r.inputs[name]
	return ok
}

// AllowsOutput reports whether the capability may publish the named facet.
func (r *Registered) AllowsOutput(name string) bool {
	if len(r.outputs) == 0 {
		return true
	}
	_, ok := r.outputs[name]
	return ok
}

// RegistrationError reports a rejected registration.
type RegistrationError struct {
	Capability string
	Message    string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability %q: %s: %v", e.Capability, e.Message, e.Err)
	}
	return fmt.Sprintf("capability %q: %s", e.Capability, e.Message)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Registry holds the registered capabilities for one engine instance.
// Registration happens during setup, before runs start; the registry is
// read-only afterwards and safe for concurrent lookup.
type Registry struct {
	caps map[string]*Registered
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Registered)}
}

// Register validates and accepts a registration. Rejections are permanent
// configuration errors: missing name or handler, a duplicate name, a guard
// that fails to compile, a duplicate (facet, path) guard pair, or a guard
// on a facet outside the declared output set.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return &RegistrationError{Capability: reg.Name, Message: "name is required"}
	}
	if reg.Handler == nil {
		return &RegistrationError{Capability: reg.Name, Message: "handler is required"}
	}
	if _, exists := r.caps[reg.Name]; exists {
		return &RegistrationError{Capability: reg.Name, Message: "already registered"}
	}

	outputs := make(map[string]struct{}, len(reg.Outputs))
	for _, name := range reg.Outputs {
		outputs[name] = struct{}{}
	}
	inputs := make(map[string]struct{}, len(reg.Inputs))
	for _, name := range reg.Inputs {
		inputs[name] = struct{}{}
	}

	guards := guard.NewSet()
	for _, spec := range reg.Guards {
		if len(outputs) > 0 {
			if _, ok := outputs[spec.Facet]; !ok {
				return &RegistrationError{
					Capability: reg.Name,
					Message:    fmt.Sprintf("guard on facet %q outside declared outputs", spec.Facet),
				}
			}
		}
		if err := guards.Add(spec.Facet, spec.Path, spec.Cond); err != nil {
			return &RegistrationError{Capability: reg.Name, Message: "invalid guard", Err: err}
		}
	}

	r.caps[reg.Name] = &Registered{
		Name:    reg.Name,
		Tools:   append([]string(nil), reg.Tools...),
		Guards:  guards,
		inputs:  inputs,
		outputs: outputs,
		handler: reg.Handler,
	}
	return nil
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (*Registered, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered capability names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.caps))
	for name := range r.caps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int { return len(r.caps) }
