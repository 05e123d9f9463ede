package plan

import (
	"fmt"
)

// Status is the lifecycle state of a single plan step. The set is closed;
// consumers are expected to switch exhaustively over it.
type Status string

const (
	// StatusPending marks a step that has been proposed but not started.
	StatusPending Status = "pending"
	// StatusRunning marks a step whose capability is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted marks a successfully finished step.
	StatusCompleted Status = "completed"
	// StatusFailed marks a step whose capability returned an error or that
	// was failed by a runtime policy.
	StatusFailed Status = "failed"
	// StatusAwaitingHITL marks a step suspended on a human-in-the-loop
	// request. It is the only non-terminal state a later revision may
	// resume from.
	StatusAwaitingHITL Status = "awaiting_hitl"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusAwaitingHITL:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowed encodes the monotonic transition rules. A step never moves
// backward except awaiting_hitl -> pending on HITL resolution.
func allowed(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusAwaitingHITL
	case StatusAwaitingHITL:
		// Resolution returns the step to pending (or completes it outright
		// when the human response is the output); denial fails it.
		return to == StatusPending || to == StatusCompleted || to == StatusFailed
	}
	return false
}

// ControlAction is a non-capability step directive.
type ControlAction string

// ControlFinalize ends the run successfully when its step completes.
const ControlFinalize ControlAction = "finalize"

// Step is one unit of work inside a plan revision. Exactly one of
// Capability or Control is set. Steps are never deleted; superseding
// revisions may only add steps or advance statuses.
type Step struct {
	ID         string         `json:"id"`
	Capability string         `json:"capability,omitempty"`
	Control    ControlAction  `json:"control,omitempty"`
	Status     Status         `json:"status"`
	Note       string         `json:"note,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
}

// IsFinalize reports whether the step carries the finalize control action.
func (s *Step) IsFinalize() bool { return s.Control == ControlFinalize }

// StepAdd is a planner directive proposing a new step.
type StepAdd struct {
	ID         string        `json:"id"`
	Capability string        `json:"capability,omitempty"`
	Control    ControlAction `json:"control,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// StepUpdate is a planner or engine directive advancing an existing step.
// Zero-valued fields are left untouched.
type StepUpdate struct {
	ID     string         `json:"id"`
	Status Status         `json:"status,omitempty"`
	Note   string         `json:"note,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Delta is the unit of plan mutation: steps to add plus status/output
// changes for existing steps.
type Delta struct {
	StepsAdd    []StepAdd    `json:"stepsAdd,omitempty"`
	StepsUpdate []StepUpdate `json:"stepsUpdate,omitempty"`
}

// Empty reports whether applying the delta would be a no-op.
func (d Delta) Empty() bool { return len(d.StepsAdd) == 0 && len(d.StepsUpdate) == 0 }

// Plan owns the ordered step set and the current revision number.
// It is not safe for concurrent use; the run loop owns it exclusively.
type Plan struct {
	Revision int     `json:"revision"`
	Steps    []*Step `json:"steps"`

	index map[string]*Step
}

// New returns an empty plan at revision 0.
func New() *Plan {
	return &Plan{index: make(map[string]*Step)}
}

// reindex rebuilds the id lookup, used after deserialization.
func (p *Plan) reindex() {
	p.index = make(map[string]*Step, len(p.Steps))
	for _, s := range p.Steps {
		p.index[s.ID] = s
	}
}

// Step returns the step with the given id, if present.
func (p *Plan) Step(id string) (*Step, bool) {
	if p.index == nil {
		p.reindex()
	}
	s, ok := p.index[id]
	return s, ok
}

// Pending returns the pending steps in insertion order. Insertion order is
// the only scheduling tie-break; no other field influences ordering.
func (p *Plan) Pending() []*Step {
	var out []*Step
	for _, s := range p.Steps {
		if s.Status == StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// Apply folds a delta into the plan and returns the new revision number.
// Adds are idempotent: a step id that already exists merges note and
// capability last-write-wins instead of duplicating the step. Updates
// enforce the monotonic transition rules. A non-empty delta bumps the
// revision exactly once.
func (p *Plan) Apply(d Delta) (int, error) {
	if p.index == nil {
		p.reindex()
	}
	if d.Empty() {
		return p.Revision, nil
	}

	for _, add := range d.StepsAdd {
		if add.ID == "" {
			return p.Revision, fmt.Errorf("plan: step add with empty id")
		}
		if add.Capability == "" && add.Control == "" {
			return p.Revision, fmt.Errorf("plan: step %q has neither capability nor control action", add.ID)
		}
		if existing, ok := p.index[add.ID]; ok {
			// Idempotent resend: merge, never duplicate.
			if add.Capability != "" {
				existing.Capability = add.Capability
			}
			if add.Control != "" {
				existing.Control = add.Control
			}
			if add.Note != "" {
				existing.Note = add.Note
			}
			continue
		}
		s := &Step{
			ID:         add.ID,
			Capability: add.Capability,
			Control:    add.Control,
			Status:     StatusPending,
			Note:       add.Note,
		}
		p.Steps = append(p.Steps, s)
		p.index[s.ID] = s
	}

	for _, up := range d.StepsUpdate {
		s, ok := p.index[up.ID]
		if !ok {
			return p.Revision, &UnknownStepError{StepID: up.ID}
		}
		if up.Status != "" {
			if !up.Status.Valid() {
				return p.Revision, fmt.Errorf("plan: step %q: unknown status %q", up.ID, up.Status)
			}
			if !allowed(s.Status, up.Status) {
				return p.Revision, &TransitionError{StepID: up.ID, From: s.Status, To: up.Status}
			}
			s.Status = up.Status
		}
		if up.Note != "" {
			s.Note = up.Note
		}
		if up.Output != nil {
			s.Output = up.Output
		}
	}

	p.Revision++
	return p.Revision, nil
}

// Transition advances a single step, enforcing the same rules as Apply
// without bumping the revision. The run loop uses it for the intra-step
// pending -> running -> done march.
func (p *Plan) Transition(id string, to Status) error {
	s, ok := p.Step(id)
	if !ok {
		return &UnknownStepError{StepID: id}
	}
	if !allowed(s.Status, to) {
		return &TransitionError{StepID: id, From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

// Finalized reports whether a finalize step has completed, ending the run.
func (p *Plan) Finalized() bool {
	for _, s := range p.Steps {
		if s.IsFinalize() && s.Status == StatusCompleted {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for snapshotting while the original keeps
// mutating.
func (p *Plan) Clone() *Plan {
	c := &Plan{Revision: p.Revision, Steps: make([]*Step, len(p.Steps)), index: make(map[string]*Step, len(p.Steps))}
	for i, s := range p.Steps {
		cp := *s
		if s.Output != nil {
			cp.Output = make(map[string]any, len(s.Output))
			for k, v := range s.Output {
				cp.Output[k] = v
			}
		}
		c.Steps[i] = &cp
		c.index[cp.ID] = &cp
	}
	return c
}
