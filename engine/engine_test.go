package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/inkflow/capability"
	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/internal/testutil"
	"github.com/inkflow-ai/inkflow/plan"
	"github.com/inkflow-ai/inkflow/planner"
	"github.com/inkflow-ai/inkflow/policy"
	"github.com/inkflow-ai/inkflow/resume"
)

func staticCapability(facets map[string]any) core.Capability {
	return core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
		return core.CapabilityResult{Facets: facets}, nil
	})
}

func finalizeDelta(id string) plan.Delta {
	return plan.Delta{StepsAdd: []plan.StepAdd{{ID: id, Control: plan.ControlFinalize}}}
}

func TestRun_FinalizeOnly(t *testing.T) {
	e, err := New(func(o *Options) {
		o.Planner = planner.NewScriptedPlanner(finalizeDelta("done"))
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, c.OfType(core.EventComplete), 1)
	assert.Len(t, c.OfType(core.EventStart), 1)
	assert.Empty(t, c.OfType(core.EventError))
}

func TestRun_CapabilityFacetsFlow(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name:    "draft",
		Handler: staticCapability(map[string]any{"copy": map[string]any{"text": "hello"}}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{
				{ID: "s1", Capability: "draft"},
				{ID: "done", Control: plan.ControlFinalize},
			},
		})
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "write"}, c.Sink())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	copyFacet, ok := res.Facets["copy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", copyFacet["text"])
}

func TestRun_ChoiceHITLSuspends(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name: "review",
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{HITL: &hitl.Payload{
				Kind:     hitl.KindChoice,
				Question: "pick a variant",
				Options:  []string{"a", "b"},
			}}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{{ID: "s1", Capability: "review"}},
		})
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "review"}, c.Sink())
	require.NoError(t, err)

	assert.Equal(t, OutcomePendingHITL, res.Outcome)
	assert.NotEmpty(t, res.PendingRequestID)

	msgs := c.OfType(core.EventMessage)
	require.NotEmpty(t, msgs)
	req, ok := msgs[len(msgs)-1].Payload["hitl_request"].(*hitl.Request)
	require.True(t, ok)
	assert.Equal(t, hitl.KindChoice, req.Payload.Kind)
	assert.Len(t, req.Payload.Options, 2)
}

func TestRun_ResumeAfterResolve(t *testing.T) {
	store := resume.NewInMemoryStore()
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name: "review",
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{HITL: &hitl.Payload{
				Kind:     hitl.KindApproval,
				Question: "publish?",
			}}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.ResumeStore = store
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{
				{ID: "s1", Capability: "review"},
				{ID: "done", Control: plan.ControlFinalize},
			},
		})
	})
	require.NoError(t, err)

	var first testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X", ThreadID: "t-1"}, first.Sink())
	require.NoError(t, err)
	require.Equal(t, OutcomePendingHITL, res.Outcome)

	snap, err := store.Get("t-1")
	require.NoError(t, err)
	firstRevision := snap.Plan.Revision

	require.NoError(t, e.ResolveHITL(res.PendingRequestID, hitl.Response{
		Value:  "yes",
		Facets: map[string]any{"approved": true},
	}))

	var second testutil.Collector
	res2, err := e.Run(context.Background(), Request{ThreadID: "t-1"}, second.Sink())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res2.Outcome)
	assert.True(t, second.HasNotice("resuming"))
	assert.Equal(t, true, res2.Facets["approved"])

	// The resume picked up exactly where the snapshot left off.
	for _, ev := range second.OfType(core.EventLog) {
		if ev.Payload["notice"] == "resuming" {
			assert.Equal(t, firstRevision, ev.Payload["revision"])
		}
	}
	assert.Len(t, second.OfType(core.EventComplete), 1)
}

func TestRun_ResumeWhileStillPending(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name: "review",
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{HITL: &hitl.Payload{Kind: hitl.KindQuestion, Question: "tone?"}}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{{ID: "s1", Capability: "review"}},
		})
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), Request{Objective: "X", ThreadID: "t-2"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePendingHITL, res.Outcome)

	// Nothing was decided; resuming suspends again on the same request.
	res2, err := e.Run(context.Background(), Request{ThreadID: "t-2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomePendingHITL, res2.Outcome)
	assert.NotEmpty(t, res2.PendingRequestID)
}

func TestRun_DenyFailsWhenConfigured(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name: "review",
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{HITL: &hitl.Payload{Kind: hitl.KindApproval, Question: "publish?"}}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.FailOnDeny = true
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{
				{ID: "s1", Capability: "review"},
				{ID: "done", Control: plan.ControlFinalize},
			},
		})
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), Request{Objective: "X", ThreadID: "t-3"}, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomePendingHITL, res.Outcome)

	require.NoError(t, e.DenyHITL(res.PendingRequestID, "not good enough"))
	assert.Equal(t, 1, e.Gate().Denials(res.RunID))

	var c testutil.Collector
	res2, err := e.Run(context.Background(), Request{ThreadID: "t-3"}, c.Sink())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res2.Outcome)
	assert.Equal(t, "not good enough", res2.Reason)
	assert.NotEmpty(t, c.OfType(core.EventError))
}

func TestRun_PolicyFailOnMetricBelow(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name: "qa",
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{
				Facets:  map[string]any{"qa": map[string]any{"score": 0.2}},
				Metrics: map[string]float64{"qa.score": 0.2},
			}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Policies = []policy.Policy{{
			ID:      "quality-floor",
			Enabled: true,
			Trigger: policy.Trigger{Kind: policy.TriggerOnMetricBelow, Metric: "qa.score", Threshold: 0.5},
			Action:  policy.Action{Type: policy.ActionFail, Reason: "quality below floor"},
		}}
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{
				{ID: "s1", Capability: "qa"},
				{ID: "done", Control: plan.ControlFinalize},
			},
		})
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "quality below floor", res.Reason)
	assert.NotEmpty(t, c.OfType(core.EventMetrics))
}

func TestRun_GuardViolationTriggersPolicy(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name:   "draft",
		Guards: []capability.GuardSpec{{Facet: "copy", Path: "copy.text", Cond: `copy.text != ""`}},
		Handler: core.CapabilityFunc(func(_ context.Context, _ core.CapabilityInput) (core.CapabilityResult, error) {
			return core.CapabilityResult{Facets: map[string]any{"copy": map[string]any{"text": ""}}}, nil
		}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Policies = []policy.Policy{{
			ID:      "guard-fail",
			Enabled: true,
			Trigger: policy.Trigger{Kind: policy.TriggerOnValidationFail},
			Action:  policy.Action{Type: policy.ActionFail, Reason: "post-condition violated"},
		}}
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{{ID: "s1", Capability: "draft"}},
		})
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, c.HasNotice("guard violations"))
}

func TestRun_PolicyEmitAndReplan(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name:    "draft",
		Handler: staticCapability(map[string]any{"copy": "v1"}),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.Policies = []policy.Policy{{
			ID:      "announce",
			Enabled: true,
			Trigger: policy.Trigger{Kind: policy.TriggerOnNodeComplete, Capability: "draft"},
			Action:  policy.Action{Type: policy.ActionEmit, Message: "draft done"},
		}}
		o.Planner = planner.NewScriptedPlanner(
			plan.Delta{StepsAdd: []plan.StepAdd{{ID: "s1", Capability: "draft"}}},
			finalizeDelta("done"),
		)
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	var emitted bool
	for _, ev := range c.OfType(core.EventMessage) {
		if ev.Payload["text"] == "draft done" {
			emitted = true
		}
	}
	assert.True(t, emitted)
}

func TestRun_UnknownCapabilityFailsStep(t *testing.T) {
	e, err := New(func(o *Options) {
		o.Planner = planner.NewScriptedPlanner(
			plan.Delta{StepsAdd: []plan.StepAdd{{ID: "s1", Capability: "ghost"}}},
			finalizeDelta("done"),
		)
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.NoError(t, err)

	// The failed step does not kill the run; the planner finalizes it.
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, c.HasNotice("step failed"))
}

func TestRun_StepLimit(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Registration{
		Name:    "draft",
		Handler: staticCapability(nil),
	}))

	e, err := New(func(o *Options) {
		o.Registry = reg
		o.MaxSteps = 2
		o.Planner = planner.NewScriptedPlanner(plan.Delta{
			StepsAdd: []plan.StepAdd{
				{ID: "s1", Capability: "draft"},
				{ID: "s2", Capability: "draft"},
				{ID: "s3", Capability: "draft"},
			},
		})
	})
	require.NoError(t, err)

	res, err := e.Run(context.Background(), Request{Objective: "X"}, nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeError, res.Outcome)
}

func TestRun_ContextCancelled(t *testing.T) {
	e, err := New(func(o *Options) {
		o.Planner = planner.NewScriptedPlanner(finalizeDelta("done"))
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, Request{Objective: "X"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, OutcomeError, res.Outcome)
}

func TestRun_PlannerErrorSurfaces(t *testing.T) {
	e, err := New(func(o *Options) {
		o.Planner = core.PlannerFunc(func(_ context.Context, _ core.PlannerInput) (plan.Delta, error) {
			return plan.Delta{}, errors.New("planner exploded")
		})
	})
	require.NoError(t, err)

	var c testutil.Collector
	res, err := e.Run(context.Background(), Request{Objective: "X"}, c.Sink())
	require.Error(t, err)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.NotEmpty(t, c.OfType(core.EventError))
}

func TestNew_RejectsInvalidPolicies(t *testing.T) {
	_, err := New(func(o *Options) {
		o.Planner = planner.NewScriptedPlanner()
		o.Policies = []policy.Policy{{
			ID:      "old",
			Enabled: true,
			Trigger: policy.Trigger{Kind: policy.TriggerOnStart},
			Action:  policy.Action{Type: "jump", Target: "s1"},
		}}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goto")
}
