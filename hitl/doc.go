// Package hitl implements the human-in-the-loop gate: capabilities raise
// requests mid-execution, the run suspends, and an external caller later
// resolves or denies the request out of band. A run holds at most one
// pending request at a time.
package hitl
