// Package policy implements the runtime policy evaluator: a small rule
// engine where each policy pairs a lifecycle trigger with a control
// directive. The trigger and action vocabularies are closed and versioned;
// unknown or legacy identifiers are rejected when policies load, never
// silently remapped at evaluation time.
package policy
