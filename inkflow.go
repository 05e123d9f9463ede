// Package inkflow provides a high-level façade over the orchestration
// engine for AI-assisted content generation runs. Most applications
// interact with this package by:
//  1. Creating an Inkflow via New() (optionally overriding the planner,
//     resume store, policies or logger)
//  2. Registering one or more capabilities
//  3. Running objectives with Run (event sink) or RunSync (collected
//     events)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. Defaults are safe for local development and testing;
// production deployments typically supply a durable resume store, loaded
// policies and a structured logger.
package inkflow

import (
	"context"

	"github.com/inkflow-ai/inkflow/capability"
	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/engine"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/logging"
	"github.com/inkflow-ai/inkflow/policy"
	"github.com/inkflow-ai/inkflow/resume"
)

// Options configures an Inkflow instance.
type Options struct {
	// Planner proposes plan deltas. Required.
	Planner core.Planner

	// Policies are evaluated after each lifecycle transition.
	Policies []policy.Policy

	// ResumeStore persists run snapshots keyed by thread id. Defaults to
	// the in-memory store.
	ResumeStore resume.Store

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger

	// MaxSteps bounds executed steps per run; zero means unlimited.
	MaxSteps int

	// FailOnDeny makes a denied HITL request fail the run on resume.
	FailOnDeny bool
}

// Inkflow is the high-level façade aggregating the engine and its
// capability registry.
type Inkflow struct {
	registry *capability.Registry
	engine   *engine.Engine
}

// New creates an Inkflow instance with optional overrides.
func New(optFns ...func(o *Options)) (*Inkflow, error) {
	opts := Options{
		ResumeStore: resume.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := capability.NewRegistry()
	eng, err := engine.New(func(o *engine.Options) {
		o.Registry = registry
		o.Planner = opts.Planner
		o.Policies = opts.Policies
		o.ResumeStore = opts.ResumeStore
		o.Logger = opts.Logger
		o.MaxSteps = opts.MaxSteps
		o.FailOnDeny = opts.FailOnDeny
	})
	if err != nil {
		return nil, err
	}
	return &Inkflow{registry: registry, engine: eng}, nil
}

// RegisterCapability adds a capability to the registry. Register
// everything before starting runs.
func (f *Inkflow) RegisterCapability(reg capability.Registration) error {
	return f.registry.Register(reg)
}

// Engine exposes the underlying engine for transports that need it, such
// as the SSE stream handler.
func (f *Inkflow) Engine() *engine.Engine { return f.engine }

// Run executes one run, forwarding events to the sink as they happen. A
// nil sink discards events.
func (f *Inkflow) Run(ctx context.Context, req engine.Request, sink core.EventSink) (engine.RunResult, error) {
	return f.engine.Run(ctx, req, sink)
}

// RunSync executes one run and returns the collected events alongside the
// result.
func (f *Inkflow) RunSync(ctx context.Context, req engine.Request) (engine.RunResult, []core.Event, error) {
	var events []core.Event
	res, err := f.engine.Run(ctx, req, func(ev core.Event) {
		events = append(events, ev)
	})
	return res, events, err
}

// ResolveHITL resolves a pending human-in-the-loop request so the run can
// resume on its next call with the same thread id.
func (f *Inkflow) ResolveHITL(requestID string, resp hitl.Response) error {
	return f.engine.ResolveHITL(requestID, resp)
}

// DenyHITL denies a pending human-in-the-loop request.
func (f *Inkflow) DenyHITL(requestID, reason string) error {
	return f.engine.DenyHITL(requestID, reason)
}
