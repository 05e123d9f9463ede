package policy

// LifecycleEvent describes a run transition policies are matched against.
// Value carries the observed metric for onMetricBelow triggers.
type LifecycleEvent struct {
	Kind       TriggerKind
	NodeID     string
	Capability string
	Metric     string
	Value      float64
}

// Evaluate walks enabled policies in declaration order and returns the
// first matching policy's action. Subsequent policies are not consulted
// for the same event. The second return is false when nothing matched and
// execution should proceed unaffected.
func Evaluate(policies []Policy, ev LifecycleEvent) (Action, bool) {
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if matches(p.Trigger, ev) {
			return p.Action, true
		}
	}
	return Action{}, false
}

// matches compares a trigger structurally against the event. Selector
// fields present on the trigger must equal the event's corresponding
// field; absent selectors match any.
func matches(t Trigger, ev LifecycleEvent) bool {
	if t.Kind != ev.Kind {
		return false
	}
	if t.NodeID != "" && t.NodeID != ev.NodeID {
		return false
	}
	if t.Capability != "" && t.Capability != ev.Capability {
		return false
	}
	if t.Kind == TriggerOnMetricBelow {
		if t.Metric != ev.Metric {
			return false
		}
		if ev.Value >= t.Threshold {
			return false
		}
	}
	return true
}
