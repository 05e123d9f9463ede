package core

import (
	"context"

	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/plan"
)

// CapabilityInput is what the engine hands a capability when its step
// runs: the run's accumulated facet values plus identifying context.
type CapabilityInput struct {
	RunID     string
	StepID    string
	Objective string
	Mode      string
	Facets    Facets
}

// CapabilityResult is what a capability hands back. Facets are merged into
// the run's facet values; Metrics feed onMetricBelow policies and the
// metrics event; a non-nil HITL payload suspends the run through the gate.
type CapabilityResult struct {
	Facets  map[string]any
	Metrics map[string]float64
	HITL    *hitl.Payload
}

// Capability is a unit of registered work the planner can schedule. The
// engine does not interpret how a capability computes its outputs; it only
// routes facet values in and out and honors a raised HITL request.
//
// Implementations must respect context cancellation and be safe for
// sequential reuse across runs.
type Capability interface {
	Invoke(ctx context.Context, in CapabilityInput) (CapabilityResult, error)
}

// CapabilityFunc adapts a plain function to the Capability interface.
type CapabilityFunc func(ctx context.Context, in CapabilityInput) (CapabilityResult, error)

// Invoke implements Capability.
func (f CapabilityFunc) Invoke(ctx context.Context, in CapabilityInput) (CapabilityResult, error) {
	return f(ctx, in)
}

// PlannerInput is the state the planner sees when asked for the next
// delta: the current plan and the accumulated facts.
type PlannerInput struct {
	RunID     string
	Objective string
	Mode      string
	Plan      *plan.Plan
	Facets    Facets
}

// Planner decomposes an objective into plan deltas, one round at a time.
// An empty delta with no pending steps left signals the planner has
// nothing more to propose.
type Planner interface {
	NextDelta(ctx context.Context, in PlannerInput) (plan.Delta, error)
}

// PlannerFunc adapts a plain function to the Planner interface.
type PlannerFunc func(ctx context.Context, in PlannerInput) (plan.Delta, error)

// NextDelta implements Planner.
func (f PlannerFunc) NextDelta(ctx context.Context, in PlannerInput) (plan.Delta, error) {
	return f(ctx, in)
}
