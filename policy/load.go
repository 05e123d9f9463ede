package policy

import (
	"encoding/json"
	"fmt"
)

// Load parses a JSON array of policies and validates every one. Shape
// errors fail here, before any run starts; evaluation never re-validates.
func Load(data []byte) ([]Policy, error) {
	var raw []struct {
		ID      string `json:"id"`
		Enabled *bool  `json:"enabled"`
		Trigger Trigger `json:"trigger"`
		Action  struct {
			Type    string `json:"type"`
			Target  string `json:"target,omitempty"`
			Message string `json:"message,omitempty"`
			Reason  string `json:"reason,omitempty"`
		} `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}

	policies := make([]Policy, 0, len(raw))
	for i, r := range raw {
		p := Policy{
			ID:      r.ID,
			Enabled: r.Enabled == nil || *r.Enabled,
			Trigger: r.Trigger,
			Action: Action{
				Type:    ActionType(r.Action.Type),
				Target:  r.Action.Target,
				Message: r.Action.Message,
				Reason:  r.Action.Reason,
			},
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("policy-%d", i)
		}
		if err := Validate(p); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Validate checks a single policy against the closed trigger and action
// vocabularies. Legacy action aliases produce an upgrade error naming the
// canonical replacement.
func Validate(p Policy) error {
	if !p.Trigger.Kind.Valid() {
		return &MalformedTriggerError{PolicyID: p.ID, Detail: fmt.Sprintf("unknown kind %q", p.Trigger.Kind)}
	}
	if p.Trigger.Kind == TriggerOnMetricBelow && p.Trigger.Metric == "" {
		return &MalformedTriggerError{PolicyID: p.ID, Detail: "onMetricBelow requires a metric name"}
	}

	if canonical, legacy := legacyActions[string(p.Action.Type)]; legacy {
		return &UnsupportedActionError{PolicyID: p.ID, Action: string(p.Action.Type), Canonical: canonical}
	}
	if !p.Action.Type.Valid() {
		return &UnsupportedActionError{PolicyID: p.ID, Action: string(p.Action.Type)}
	}
	if p.Action.Type == ActionGoto && p.Action.Target == "" {
		return fmt.Errorf("policy %q: goto action requires a target step", p.ID)
	}
	return nil
}
