// Package plan implements the plan/step state machine driven by the
// orchestrator run loop. A Plan is an ordered, append-only set of steps
// with a revision counter; planner output arrives as a Delta and statuses
// advance under monotonic transition rules, the single exception being
// awaiting_hitl -> pending when a human-in-the-loop request resolves.
package plan
