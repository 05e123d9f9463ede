package engine

import (
	"errors"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/plan"
	"github.com/inkflow-ai/inkflow/policy"
)

// policySignal carries a matched policy action plus the step that
// triggered it, so loop control can apply it at a safe point.
type policySignal struct {
	action policy.Action
	stepID string
}

// firePolicies evaluates the engine's policies against a lifecycle event
// and returns a signal for the first match, if any.
func (e *Engine) firePolicies(r *runState, ev policy.LifecycleEvent, stepID string) *policySignal {
	act, matched := policy.Evaluate(e.policies, ev)
	if !matched {
		return nil
	}
	e.logger.Info("runtime policy fired", "run_id", r.id, "trigger", string(ev.Kind), "action", string(act.Type))
	return &policySignal{action: act, stepID: stepID}
}

// applySignal carries out a fired policy action. The boolean reports
// whether the run is over; goto, replan and emit let the loop continue.
func (e *Engine) applySignal(r *runState, sig *policySignal) (RunResult, bool, error) {
	act := sig.action
	switch act.Type {
	case policy.ActionGoto:
		// Only a still-pending target is schedulable; monotonic transitions
		// forbid re-running a finished step.
		if s, ok := r.plan.Step(act.Target); ok && s.Status == plan.StatusPending {
			r.nextStepID = act.Target
		} else {
			ev := core.NewLogEvent(r.id, "goto target not schedulable")
			ev.Payload["target"] = act.Target
			r.emit(ev)
		}
		return RunResult{}, false, nil

	case policy.ActionReplan:
		r.forceReplan = true
		return RunResult{}, false, nil

	case policy.ActionHITL:
		payload := hitl.Payload{Kind: hitl.KindApproval, Question: act.Message}
		if payload.Question == "" {
			payload.Question = "continue this run?"
		}
		req, err := e.gate.Raise(r.id, sig.stepID, payload)
		if err != nil {
			r.emit(core.NewErrorEvent(r.id, err))
			return e.result(r, OutcomeError, err.Error(), ""), true, err
		}
		ev := core.NewMessageEvent(r.id, payload.Question)
		ev.StepID = sig.stepID
		ev.Payload["hitl_request"] = req
		r.emit(ev)
		e.snapshot(r)
		return e.result(r, OutcomePendingHITL, "awaiting human input", req.ID), true, nil

	case policy.ActionFail:
		reason := act.Reason
		if reason == "" {
			reason = "failed by runtime policy"
		}
		r.emit(core.NewErrorEvent(r.id, errors.New(reason)))
		e.snapshot(r)
		return e.result(r, OutcomeFailed, reason, ""), true, nil

	case policy.ActionPause:
		e.snapshot(r)
		ev := core.NewLogEvent(r.id, "run paused")
		if act.Reason != "" {
			ev.Payload["reason"] = act.Reason
		}
		r.emit(ev)
		return e.result(r, OutcomePaused, act.Reason, ""), true, nil

	case policy.ActionEmit:
		ev := core.NewMessageEvent(r.id, act.Message)
		ev.StepID = sig.stepID
		r.emit(ev)
		return RunResult{}, false, nil
	}

	// Unknown types cannot pass Validate; reaching here is a programming
	// error worth surfacing.
	err := &policy.UnsupportedActionError{Action: string(act.Type)}
	r.emit(core.NewErrorEvent(r.id, err))
	return e.result(r, OutcomeError, err.Error(), ""), true, err
}
