package policy

import (
	"fmt"
)

// TriggerKind is the closed set of lifecycle conditions a policy can react
// to.
type TriggerKind string

const (
	TriggerOnStart          TriggerKind = "onStart"
	TriggerOnNodeComplete   TriggerKind = "onNodeComplete"
	TriggerOnValidationFail TriggerKind = "onValidationFail"
	TriggerOnTimeout        TriggerKind = "onTimeout"
	TriggerOnMetricBelow    TriggerKind = "onMetricBelow"
	TriggerManual           TriggerKind = "manual"
)

// Valid reports membership in the closed trigger vocabulary.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerOnStart, TriggerOnNodeComplete, TriggerOnValidationFail,
		TriggerOnTimeout, TriggerOnMetricBelow, TriggerManual:
		return true
	}
	return false
}

// ActionType is the closed set of control directives a policy can take.
type ActionType string

const (
	// ActionGoto reassigns control to a named step.
	ActionGoto ActionType = "goto"
	// ActionReplan requests a fresh planner delta.
	ActionReplan ActionType = "replan"
	// ActionHITL forces a human-in-the-loop pause even if the capability
	// did not request one.
	ActionHITL ActionType = "hitl"
	// ActionFail ends the run as failed.
	ActionFail ActionType = "fail"
	// ActionPause snapshots and exits the loop early without failing.
	ActionPause ActionType = "pause"
	// ActionEmit surfaces an event with no state change.
	ActionEmit ActionType = "emit"
)

// Valid reports membership in the closed action vocabulary.
func (t ActionType) Valid() bool {
	switch t {
	case ActionGoto, ActionReplan, ActionHITL, ActionFail, ActionPause, ActionEmit:
		return true
	}
	return false
}

// legacyActions maps retired action identifiers to their canonical
// replacements. Loading a policy that still uses one is an explicit
// upgrade error, never a silent remap: a policy must not change behavior
// across versions without its author noticing.
var legacyActions = map[string]ActionType{
	"jump":      ActionGoto,
	"abort":     ActionFail,
	"interrupt": ActionHITL,
	"notify":    ActionEmit,
}

// Trigger is the condition side of a policy. NodeID and Capability are
// optional selectors: when present they must equal the event's
// corresponding field, when absent they match any. Metric and Threshold
// are only meaningful for onMetricBelow.
type Trigger struct {
	Kind       TriggerKind `json:"kind"`
	NodeID     string      `json:"nodeId,omitempty"`
	Capability string      `json:"capability,omitempty"`
	Metric     string      `json:"metric,omitempty"`
	Threshold  float64     `json:"threshold,omitempty"`
}

// Action is the directive side of a policy. Target names the step for
// goto; Message carries the emit payload or the hitl question; Reason
// annotates fail and pause.
type Action struct {
	Type    ActionType `json:"type"`
	Target  string     `json:"target,omitempty"`
	Message string     `json:"message,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Policy pairs a trigger with an action. Policies are evaluated in
// declaration order; the first match wins.
type Policy struct {
	ID      string  `json:"id"`
	Enabled bool    `json:"enabled"`
	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
}

// UnsupportedActionError reports an action identifier outside the
// canonical vocabulary. Canonical is non-empty when the identifier is a
// recognized legacy alias.
type UnsupportedActionError struct {
	PolicyID  string
	Action    string
	Canonical ActionType
}

func (e *UnsupportedActionError) Error() string {
	if e.Canonical != "" {
		return fmt.Sprintf("policy %q: legacy action %q is no longer supported, use %q", e.PolicyID, e.Action, e.Canonical)
	}
	return fmt.Sprintf("policy %q: unsupported action %q", e.PolicyID, e.Action)
}

// MalformedTriggerError reports a trigger outside the canonical vocabulary
// or missing required fields.
type MalformedTriggerError struct {
	PolicyID string
	Detail   string
}

func (e *MalformedTriggerError) Error() string {
	return fmt.Sprintf("policy %q: malformed trigger: %s", e.PolicyID, e.Detail)
}
