// Package core defines the shared types of the orchestration engine:
// lifecycle events and their sink, facet values, the capability and
// planner interfaces the engine consumes, and id generation. Higher level
// packages (engine, stream, capability, planner) build on these without
// depending on each other.
package core
