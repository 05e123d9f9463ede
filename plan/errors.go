package plan

import "fmt"

// TransitionError reports an attempt to move a step against the monotonic
// transition rules.
type TransitionError struct {
	StepID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan: step %q cannot transition %s -> %s", e.StepID, e.From, e.To)
}

// UnknownStepError reports an update targeting a step id absent from the
// current revision.
type UnknownStepError struct {
	StepID string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("plan: unknown step %q", e.StepID)
}
