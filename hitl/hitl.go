package hitl

import (
	"time"
)

// Kind categorizes what a human is being asked for.
type Kind string

const (
	// KindQuestion asks for a free-form answer.
	KindQuestion Kind = "question"
	// KindApproval asks for a yes/no sign-off.
	KindApproval Kind = "approval"
	// KindChoice asks the human to pick one of the offered options.
	KindChoice Kind = "choice"
)

// Urgency hints how quickly a request should be surfaced to a human.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Payload is the question a capability (or a runtime policy) puts to a
// human. Options are only meaningful for KindChoice; FreeForm allows an
// answer outside the offered options.
type Payload struct {
	Kind     Kind     `json:"kind"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	FreeForm bool     `json:"freeForm,omitempty"`
	Urgency  Urgency  `json:"urgency,omitempty"`
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusDenied   Status = "denied"
)

// Response carries the human's answer back into the run.
type Response struct {
	Value string `json:"value"`
	// Facets optionally seeds facet values alongside the answer, letting a
	// reviewer hand corrected content straight back to the plan.
	Facets map[string]any `json:"facets,omitempty"`
}

// Request is one raised human-in-the-loop interrupt. At most one request
// per run may be pending at a time.
type Request struct {
	ID       string    `json:"id"`
	RunID    string    `json:"runId"`
	StepID   string    `json:"stepId"`
	Payload  Payload   `json:"payload"`
	Status   Status    `json:"status"`
	Response *Response `json:"response,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

// State is the per-run gate snapshot handed to the resume store.
type State struct {
	Requests []Request `json:"requests,omitempty"`
	Denials  int       `json:"denials,omitempty"`
}
