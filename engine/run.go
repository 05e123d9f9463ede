package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/inkflow-ai/inkflow/capability"
	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/guard"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/plan"
	"github.com/inkflow-ai/inkflow/policy"
	"github.com/inkflow-ai/inkflow/resume"
)

// runState is the single-owner mutable state of one run. It lives on the
// Run goroutine's stack and is never shared; snapshots hand out deep
// copies.
type runState struct {
	id            string
	threadID      string
	objective     string
	mode          string
	correlationID string

	plan    *plan.Plan
	facets  core.Facets
	limiter *core.StepLimiter
	sink    core.EventSink

	// forceReplan makes the next loop iteration consult the planner even
	// while pending steps remain (the replan policy action).
	forceReplan bool
	// nextStepID overrides insertion-order scheduling once (the goto
	// policy action).
	nextStepID string
	resumed    bool
}

func (r *runState) emit(ev core.Event) {
	ev.CorrelationID = r.correlationID
	r.sink.Emit(ev)
}

// Run executes one run to an outcome. Blocking; the caller decides whether
// to wrap it in a goroutine. Events reach the sink in production order
// without sequence numbers; the delivering stream assigns those.
//
// Internal errors are never swallowed: they surface both as an `error`
// event and as the returned error, and terminate only this run.
func (e *Engine) Run(ctx context.Context, req Request, sink core.EventSink) (result RunResult, err error) {
	r := &runState{
		id:            core.NewID(),
		threadID:      req.ThreadID,
		objective:     req.Objective,
		mode:          req.Mode,
		correlationID: req.CorrelationID,
		plan:          plan.New(),
		facets:        core.NewFacets(),
		limiter:       core.NewStepLimiter(e.maxSteps),
		sink:          sink,
	}
	if r.correlationID == "" {
		r.correlationID = core.NewID()
	}
	r.facets.Merge(req.Facets)
	e.rememberThread(r.id, r.threadID)

	defer func() {
		if rec := recover(); rec != nil {
			perr := fmt.Errorf("engine: run panic: %v", rec)
			r.emit(core.NewErrorEvent(r.id, perr))
			result = e.result(r, OutcomeError, perr.Error(), "")
			err = perr
		}
	}()

	resumedSnapshot, rerr := e.loadResume(r)
	if rerr != nil {
		r.emit(core.NewErrorEvent(r.id, rerr))
		return e.result(r, OutcomeError, rerr.Error(), ""), rerr
	}

	start := core.NewEvent(core.EventStart, r.id)
	start.Payload = map[string]any{"objective": r.objective, "mode": r.mode, "resumed": r.resumed}
	r.emit(start)

	if r.resumed {
		ev := core.NewLogEvent(r.id, "resuming")
		ev.Payload["thread_id"] = r.threadID
		ev.Payload["revision"] = r.plan.Revision
		r.emit(ev)
		e.logger.Info("resuming run", "run_id", r.id, "thread_id", r.threadID, "revision", r.plan.Revision)

		if res, done, derr := e.reconcileHITL(r, resumedSnapshot); done {
			return res, derr
		}
	}

	if sig := e.firePolicies(r, policy.LifecycleEvent{Kind: policy.TriggerOnStart}, ""); sig != nil {
		if res, done, serr := e.applySignal(r, sig); done {
			return res, serr
		}
	}

	return e.loop(ctx, r)
}

// loadResume restores plan, facets and gate state from the thread's last
// snapshot, if one exists. The returned snapshot carries the HITL state to
// reconcile against, with decisions made through the live gate folded in.
func (e *Engine) loadResume(r *runState) (*resume.Snapshot, error) {
	if r.threadID == "" {
		return nil, nil
	}
	ok, err := e.store.Has(r.threadID)
	if err != nil {
		return nil, fmt.Errorf("engine: resume lookup for thread %q: %w", r.threadID, err)
	}
	if !ok {
		return nil, nil
	}
	snap, err := e.store.Get(r.threadID)
	if err != nil {
		return nil, fmt.Errorf("engine: load snapshot for thread %q: %w", r.threadID, err)
	}

	if snap.Plan != nil {
		r.plan = snap.Plan.Clone()
	}
	if snap.Facets != nil {
		seed := r.facets // request facets win over snapshot facets
		restored, cerr := snap.Facets.Clone()
		if cerr != nil {
			return nil, cerr
		}
		r.facets = restored
		r.facets.Merge(seed)
	}
	r.objective = firstNonEmpty(r.objective, snap.Objective)
	r.mode = firstNonEmpty(r.mode, snap.Mode)

	// A decision made through the live gate after the snapshot was taken
	// supersedes the stored request state.
	for i := range snap.HITL.Requests {
		if live, gerr := e.gate.Get(snap.HITL.Requests[i].ID); gerr == nil {
			snap.HITL.Requests[i] = *live
		}
	}
	e.gate.Restore(r.id, snap.HITL)
	r.resumed = true
	return snap, nil
}

// reconcileHITL folds decided requests from a restored snapshot back into
// the plan. An undecided request suspends the run again immediately.
func (e *Engine) reconcileHITL(r *runState, snap *resume.Snapshot) (RunResult, bool, error) {
	if snap == nil {
		return RunResult{}, false, nil
	}

	if req, pending := e.gate.Pending(r.id); pending {
		ev := core.NewMessageEvent(r.id, req.Payload.Question)
		ev.StepID = req.StepID
		ev.Payload["hitl_request"] = req
		r.emit(ev)
		return e.result(r, OutcomePendingHITL, "awaiting human input", req.ID), true, nil
	}

	byStep := latestRequestByStep(snap.HITL.Requests)
	for _, s := range r.plan.Steps {
		if s.Status != plan.StatusAwaitingHITL {
			continue
		}
		req, ok := byStep[s.ID]
		if !ok {
			continue
		}
		switch req.Status {
		case hitl.StatusResolved:
			if req.Response != nil {
				r.facets.Merge(req.Response.Facets)
				s.Output = map[string]any{"response": req.Response.Value}
			}
			if err := r.plan.Transition(s.ID, plan.StatusCompleted); err != nil {
				return e.result(r, OutcomeError, err.Error(), ""), true, err
			}
			ev := core.NewLogEvent(r.id, "hitl resolved")
			ev.StepID = s.ID
			r.emit(ev)
		case hitl.StatusDenied:
			if err := r.plan.Transition(s.ID, plan.StatusFailed); err != nil {
				return e.result(r, OutcomeError, err.Error(), ""), true, err
			}
			ev := core.NewLogEvent(r.id, "hitl denied")
			ev.StepID = s.ID
			ev.Payload["reason"] = req.Reason
			r.emit(ev)
			if e.failOnDeny {
				reason := firstNonEmpty(req.Reason, "hitl request denied")
				r.emit(core.NewErrorEvent(r.id, errors.New(reason)))
				e.snapshot(r)
				return e.result(r, OutcomeFailed, reason, ""), true, nil
			}
		}
	}
	e.snapshot(r)
	return RunResult{}, false, nil
}

// loop is the scheduling core: planner rounds when there is nothing
// pending (or a replan was forced), otherwise the next step in insertion
// order.
func (e *Engine) loop(ctx context.Context, r *runState) (RunResult, error) {
	for {
		if cerr := ctx.Err(); cerr != nil {
			r.emit(core.NewErrorEvent(r.id, cerr))
			return e.result(r, OutcomeError, cerr.Error(), ""), cerr
		}
		if r.plan.Finalized() {
			return e.complete(r)
		}

		step := r.next()
		if step == nil || r.forceReplan {
			r.forceReplan = false
			if err := r.limiter.Increment(); err != nil {
				r.emit(core.NewErrorEvent(r.id, err))
				return e.result(r, OutcomeError, err.Error(), ""), err
			}
			delta, err := e.planner.NextDelta(ctx, core.PlannerInput{
				RunID:     r.id,
				Objective: r.objective,
				Mode:      r.mode,
				Plan:      r.plan,
				Facets:    r.facets,
			})
			if err != nil {
				r.emit(core.NewErrorEvent(r.id, err))
				return e.result(r, OutcomeError, err.Error(), ""), err
			}
			if delta.Empty() {
				if step == nil {
					// Nothing pending and nothing more to plan.
					return e.complete(r)
				}
				continue
			}
			rev, err := r.plan.Apply(delta)
			if err != nil {
				r.emit(core.NewErrorEvent(r.id, err))
				return e.result(r, OutcomeError, err.Error(), ""), err
			}
			ev := core.NewEvent(core.EventPhase, r.id)
			ev.Payload = map[string]any{"revision": rev, "steps_added": len(delta.StepsAdd)}
			r.emit(ev)
			continue
		}

		if res, done, err := e.executeStep(ctx, r, step); done {
			return res, err
		}
	}
}

// next picks the step to execute: a goto override if it is schedulable,
// otherwise the first pending step in insertion order.
func (r *runState) next() *plan.Step {
	if r.nextStepID != "" {
		id := r.nextStepID
		r.nextStepID = ""
		if s, ok := r.plan.Step(id); ok && s.Status == plan.StatusPending {
			return s
		}
	}
	pending := r.plan.Pending()
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

func (e *Engine) executeStep(ctx context.Context, r *runState, step *plan.Step) (RunResult, bool, error) {
	if err := r.limiter.Increment(); err != nil {
		r.emit(core.NewErrorEvent(r.id, err))
		return e.result(r, OutcomeError, err.Error(), ""), true, err
	}
	if err := r.plan.Transition(step.ID, plan.StatusRunning); err != nil {
		r.emit(core.NewErrorEvent(r.id, err))
		return e.result(r, OutcomeError, err.Error(), ""), true, err
	}

	ev := core.NewEvent(core.EventProgress, r.id)
	ev.StepID = step.ID
	ev.Payload = map[string]any{"status": string(plan.StatusRunning), "capability": step.Capability, "control": string(step.Control)}
	r.emit(ev)

	if step.IsFinalize() {
		if err := r.plan.Transition(step.ID, plan.StatusCompleted); err != nil {
			r.emit(core.NewErrorEvent(r.id, err))
			return e.result(r, OutcomeError, err.Error(), ""), true, err
		}
		e.snapshot(r)
		return RunResult{}, false, nil
	}

	reg, ok := e.registry.Get(step.Capability)
	if !ok {
		return e.stepFailed(r, step, policy.TriggerOnValidationFail,
			fmt.Errorf("engine: step %q: unknown capability %q", step.ID, step.Capability))
	}

	started := time.Now()
	out, err := reg.Invoke(ctx, core.CapabilityInput{
		RunID:     r.id,
		StepID:    step.ID,
		Objective: r.objective,
		Mode:      r.mode,
		Facets:    r.facets,
	})
	e.logger.Debug("capability returned", "capability", reg.Name, "step_id", step.ID, "duration", time.Since(started), "error", err)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			r.emit(core.NewErrorEvent(r.id, err))
			return e.result(r, OutcomeError, err.Error(), ""), true, err
		}
		kind := policy.TriggerOnValidationFail
		if errors.Is(err, context.DeadlineExceeded) {
			kind = policy.TriggerOnTimeout
		}
		return e.stepFailed(r, step, kind, err)
	}

	if out.HITL != nil {
		return e.suspend(r, step, *out.HITL)
	}

	r.facets.Merge(out.Facets)
	step.Output = out.Facets
	if err := r.plan.Transition(step.ID, plan.StatusCompleted); err != nil {
		r.emit(core.NewErrorEvent(r.id, err))
		return e.result(r, OutcomeError, err.Error(), ""), true, err
	}

	if len(out.Metrics) > 0 {
		mev := core.NewEvent(core.EventMetrics, r.id)
		mev.StepID = step.ID
		mev.Payload = map[string]any{"metrics": out.Metrics}
		r.emit(mev)
	}

	if sig := e.checkGuards(r, step, reg); sig != nil {
		if res, done, serr := e.applySignal(r, sig); done {
			return res, true, serr
		}
	}
	if sig := e.checkMetrics(r, step, out.Metrics); sig != nil {
		if res, done, serr := e.applySignal(r, sig); done {
			return res, true, serr
		}
	}
	if sig := e.firePolicies(r, policy.LifecycleEvent{
		Kind:       policy.TriggerOnNodeComplete,
		NodeID:     step.ID,
		Capability: step.Capability,
	}, step.ID); sig != nil {
		if res, done, serr := e.applySignal(r, sig); done {
			return res, true, serr
		}
	}

	e.snapshot(r)
	return RunResult{}, false, nil
}

// stepFailed records a capability failure on the step, gives policies a
// chance to react, and otherwise lets the run continue.
func (e *Engine) stepFailed(r *runState, step *plan.Step, kind policy.TriggerKind, cause error) (RunResult, bool, error) {
	if terr := r.plan.Transition(step.ID, plan.StatusFailed); terr != nil {
		r.emit(core.NewErrorEvent(r.id, terr))
		return e.result(r, OutcomeError, terr.Error(), ""), true, terr
	}
	ev := core.NewLogEvent(r.id, "step failed")
	ev.StepID = step.ID
	ev.Payload["error"] = cause.Error()
	r.emit(ev)
	e.logger.Warn("step failed", "run_id", r.id, "step_id", step.ID, "error", cause)

	if sig := e.firePolicies(r, policy.LifecycleEvent{
		Kind:       kind,
		NodeID:     step.ID,
		Capability: step.Capability,
	}, step.ID); sig != nil {
		if res, done, serr := e.applySignal(r, sig); done {
			return res, true, serr
		}
	}
	e.snapshot(r)
	return RunResult{}, false, nil
}

// suspend raises a HITL request for the step and exits the loop with a
// pending outcome. The snapshot taken here is what a later call with the
// same thread id resumes from.
func (e *Engine) suspend(r *runState, step *plan.Step, payload hitl.Payload) (RunResult, bool, error) {
	req, err := e.gate.Raise(r.id, step.ID, payload)
	if err != nil {
		r.emit(core.NewErrorEvent(r.id, err))
		return e.result(r, OutcomeError, err.Error(), ""), true, err
	}
	if terr := r.plan.Transition(step.ID, plan.StatusAwaitingHITL); terr != nil {
		r.emit(core.NewErrorEvent(r.id, terr))
		return e.result(r, OutcomeError, terr.Error(), ""), true, terr
	}

	ev := core.NewMessageEvent(r.id, payload.Question)
	ev.StepID = step.ID
	ev.Payload["hitl_request"] = req
	r.emit(ev)
	e.logger.Info("run suspended on hitl request", "run_id", r.id, "step_id", step.ID, "request_id", req.ID)

	e.snapshot(r)
	return e.result(r, OutcomePendingHITL, "awaiting human input", req.ID), true, nil
}

// checkGuards evaluates the capability's post-conditions against the
// accumulated facets. Violations surface as a log event and an
// onValidationFail lifecycle evaluation; a broken guard never aborts its
// siblings.
func (e *Engine) checkGuards(r *runState, step *plan.Step, reg *capability.Registered) *policySignal {
	if reg.Guards.Len() == 0 {
		return nil
	}
	facts, err := r.facets.JSON()
	if err != nil {
		e.logger.Error("guard evaluation skipped", "run_id", r.id, "step_id", step.ID, "error", err)
		return nil
	}
	violations := guard.Unsatisfied(reg.Guards.Evaluate(facts))
	if len(violations) == 0 {
		return nil
	}

	details := make([]map[string]any, 0, len(violations))
	for _, v := range violations {
		d := map[string]any{"facet": v.Facet, "path": v.Path}
		if v.Err != nil {
			d["error"] = v.Err.Error()
		}
		details = append(details, d)
	}
	ev := core.NewLogEvent(r.id, "guard violations")
	ev.StepID = step.ID
	ev.Payload["violations"] = details
	r.emit(ev)
	e.logger.Warn("guards unsatisfied", "run_id", r.id, "step_id", step.ID, "count", len(violations))

	return e.firePolicies(r, policy.LifecycleEvent{
		Kind:       policy.TriggerOnValidationFail,
		NodeID:     step.ID,
		Capability: step.Capability,
	}, step.ID)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// latestRequestByStep keeps the most recently updated request per step.
func latestRequestByStep(reqs []hitl.Request) map[string]hitl.Request {
	byStep := make(map[string]hitl.Request, len(reqs))
	for _, req := range reqs {
		prev, ok := byStep[req.StepID]
		if !ok || req.Updated.After(prev.Updated) {
			byStep[req.StepID] = req
		}
	}
	return byStep
}

// checkMetrics fires onMetricBelow policies for each reported metric, in
// sorted metric order for determinism.
func (e *Engine) checkMetrics(r *runState, step *plan.Step, metrics map[string]float64) *policySignal {
	if len(metrics) == 0 {
		return nil
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if sig := e.firePolicies(r, policy.LifecycleEvent{
			Kind:       policy.TriggerOnMetricBelow,
			NodeID:     step.ID,
			Capability: step.Capability,
			Metric:     name,
			Value:      metrics[name],
		}, step.ID); sig != nil {
			return sig
		}
	}
	return nil
}

// complete ends the run successfully with exactly one complete event.
func (e *Engine) complete(r *runState) (RunResult, error) {
	e.snapshot(r)
	ev := core.NewEvent(core.EventComplete, r.id)
	ev.Payload = map[string]any{"revision": r.plan.Revision, "steps": len(r.plan.Steps)}
	r.emit(ev)
	return e.result(r, OutcomeCompleted, "", ""), nil
}

// snapshot persists the run's durable state for its thread. Persistence
// failures are logged, not fatal: losing resumability must not fail an
// otherwise healthy run.
func (e *Engine) snapshot(r *runState) {
	if r.threadID == "" {
		return
	}
	facets, err := r.facets.Clone()
	if err != nil {
		e.logger.Error("snapshot skipped", "run_id", r.id, "thread_id", r.threadID, "error", err)
		return
	}
	snap := &resume.Snapshot{
		ThreadID:  r.threadID,
		RunID:     r.id,
		Objective: r.objective,
		Mode:      r.mode,
		Plan:      r.plan.Clone(),
		Facets:    facets,
		HITL:      e.gate.State(r.id),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.Put(r.threadID, snap); err != nil {
		e.logger.Error("snapshot write failed", "run_id", r.id, "thread_id", r.threadID, "error", err)
	}
}

func (e *Engine) result(r *runState, outcome Outcome, reason, requestID string) RunResult {
	return RunResult{
		RunID:            r.id,
		ThreadID:         r.threadID,
		Outcome:          outcome,
		Reason:           reason,
		PendingRequestID: requestID,
		Revision:         r.plan.Revision,
		Facets:           r.facets,
	}
}
