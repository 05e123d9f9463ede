// Package engine implements the orchestrator run loop: the top-level
// driver that pulls planner deltas, executes capabilities, applies runtime
// policies, checks guards, persists resumable snapshots and emits the
// lifecycle event stream.
//
// One goroutine owns one run. Steps execute strictly sequentially within a
// run; the run state is never shared, so no lock guards it. External
// influence (HITL resolution) goes through the gate, never through direct
// field writes.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/inkflow-ai/inkflow/capability"
	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/logging"
	"github.com/inkflow-ai/inkflow/policy"
	"github.com/inkflow-ai/inkflow/resume"
)

// Request starts (or resumes) a run. ThreadID is an opaque caller-supplied
// resume key: when a snapshot exists for it, the run continues from the
// stored revision instead of starting fresh. Facets seed the initial facet
// values.
type Request struct {
	Objective     string
	Mode          string
	ThreadID      string
	Facets        map[string]any
	CorrelationID string
}

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeCompleted means a finalize step completed or the planner had
	// nothing more to propose.
	OutcomeCompleted Outcome = "completed"
	// OutcomePendingHITL means the run is suspended on a human request and
	// can resume once it is decided.
	OutcomePendingHITL Outcome = "pending_hitl"
	// OutcomeFailed means a policy or denial ended the run as failed.
	OutcomeFailed Outcome = "failed"
	// OutcomePaused means a pause policy snapshotted and exited early; the
	// run is not failed and may be resumed via its thread id.
	OutcomePaused Outcome = "paused"
	// OutcomeError means an internal error terminated the run.
	OutcomeError Outcome = "error"
)

// RunResult is what Run hands back alongside its error.
type RunResult struct {
	RunID            string
	ThreadID         string
	Outcome          Outcome
	Reason           string
	PendingRequestID string
	Revision         int
	Facets           core.Facets
}

// Options configures an Engine.
type Options struct {
	// Registry resolves capability names scheduled by the planner.
	Registry *capability.Registry

	// Planner proposes plan deltas. Required.
	Planner core.Planner

	// Policies are evaluated in declaration order after each lifecycle
	// transition; validate them with policy.Load before handing them in.
	Policies []policy.Policy

	// ResumeStore persists snapshots keyed by thread id. Defaults to the
	// in-memory store.
	ResumeStore resume.Store

	// Gate tracks HITL requests. Defaults to a fresh gate; share one gate
	// between the engine and whatever surface resolves requests.
	Gate *hitl.Gate

	// Logger defaults to NoOpLogger.
	Logger logging.Logger

	// MaxSteps bounds executed steps per run to stop runaway replanning.
	// Zero means unlimited.
	MaxSteps int

	// FailOnDeny controls whether a denied HITL request fails the run on
	// resume. Deliberately has no recommended default; set it from policy
	// configuration.
	FailOnDeny bool
}

// Engine coordinates runs. Immutable after construction; safe for
// concurrent Run calls, each on its own goroutine.
type Engine struct {
	registry   *capability.Registry
	planner    core.Planner
	policies   []policy.Policy
	store      resume.Store
	gate       *hitl.Gate
	logger     logging.Logger
	maxSteps   int
	failOnDeny bool

	mu         sync.Mutex
	runThreads map[string]string // runID -> threadID, for snapshot updates on resolve
}

// New constructs an Engine.
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Registry:    capability.NewRegistry(),
		ResumeStore: resume.NewInMemoryStore(),
		Gate:        hitl.NewGate(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("engine: planner is required")
	}
	for _, p := range opts.Policies {
		if err := policy.Validate(p); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	return &Engine{
		registry:   opts.Registry,
		planner:    opts.Planner,
		policies:   opts.Policies,
		store:      opts.ResumeStore,
		gate:       opts.Gate,
		logger:     opts.Logger,
		maxSteps:   opts.MaxSteps,
		failOnDeny: opts.FailOnDeny,
		runThreads: make(map[string]string),
	}, nil
}

// Gate returns the HITL gate, the surface through which requests are
// resolved or denied from outside the run.
func (e *Engine) Gate() *hitl.Gate { return e.gate }

// Store returns the resume store.
func (e *Engine) Store() resume.Store { return e.store }

// ResolveHITL resolves a pending request and folds the decision into the
// run's stored snapshot so a later resume — even after a restart with a
// durable store — sees it.
func (e *Engine) ResolveHITL(requestID string, resp hitl.Response) error {
	req, err := e.gate.Resolve(requestID, resp)
	if err != nil {
		return err
	}
	return e.updateSnapshotHITL(req.RunID)
}

// DenyHITL denies a pending request and updates the stored snapshot.
func (e *Engine) DenyHITL(requestID, reason string) error {
	req, err := e.gate.Deny(requestID, reason)
	if err != nil {
		return err
	}
	return e.updateSnapshotHITL(req.RunID)
}

func (e *Engine) updateSnapshotHITL(runID string) error {
	e.mu.Lock()
	threadID, ok := e.runThreads[runID]
	e.mu.Unlock()
	if !ok || threadID == "" {
		return nil
	}
	snap, err := e.store.Get(threadID)
	if err != nil {
		if errors.Is(err, resume.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("engine: load snapshot for thread %q: %w", threadID, err)
	}
	snap.HITL = e.gate.State(runID)
	if err := e.store.Put(threadID, snap); err != nil {
		return fmt.Errorf("engine: update snapshot for thread %q: %w", threadID, err)
	}
	return nil
}

func (e *Engine) rememberThread(runID, threadID string) {
	if threadID == "" {
		return
	}
	e.mu.Lock()
	e.runThreads[runID] = threadID
	e.mu.Unlock()
}
