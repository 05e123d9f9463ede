// Package planner produces plan deltas: the structured
// {stepsAdd, stepsUpdate} directives that grow and advance a run's plan.
// LLMPlanner asks a model for the next delta; ScriptedPlanner replays a
// fixed sequence for tests and examples.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/model"
	"github.com/inkflow-ai/inkflow/plan"
)

const defaultInstructions = `You are a planner for a content generation run.
Given the objective, the current plan, and the accumulated facts, reply with
the next plan delta as a JSON object: {"stepsAdd": [...], "stepsUpdate": [...]}.
Each added step has an "id", and either a "capability" naming a registered
capability or "control": "finalize" to end the run. Reply with an empty delta
{} when nothing remains to plan.`

// LLMPlanner derives the next plan delta from a model call.
type LLMPlanner struct {
	model        model.Model
	instructions string
	capabilities []string
}

// Option configures an LLMPlanner.
type Option func(*LLMPlanner)

// WithInstructions replaces the default planning prompt.
func WithInstructions(instructions string) Option {
	return func(p *LLMPlanner) { p.instructions = instructions }
}

// WithCapabilities tells the planner which capability names it may
// schedule. Listed in the prompt; not enforced here — the plan rejects
// unknown capabilities when a step runs.
func WithCapabilities(names ...string) Option {
	return func(p *LLMPlanner) { p.capabilities = names }
}

// NewLLMPlanner constructs a model-backed planner.
func NewLLMPlanner(m model.Model, opts ...Option) (*LLMPlanner, error) {
	if m == nil {
		return nil, fmt.Errorf("planner: model is required")
	}
	p := &LLMPlanner{model: m, instructions: defaultInstructions}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NextDelta implements core.Planner.
func (p *LLMPlanner) NextDelta(ctx context.Context, in core.PlannerInput) (plan.Delta, error) {
	prompt, err := p.buildPrompt(in)
	if err != nil {
		return plan.Delta{}, err
	}

	resp, err := p.model.Generate(ctx, model.Request{
		Instructions: p.instructions,
		Messages:     []model.Message{{Role: "user", Text: prompt}},
		ForceJSON:    true,
	})
	if err != nil {
		return plan.Delta{}, fmt.Errorf("planner: model call: %w", err)
	}
	return ParseDelta(resp.Text)
}

func (p *LLMPlanner) buildPrompt(in core.PlannerInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", in.Objective)
	if in.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", in.Mode)
	}
	if len(p.capabilities) > 0 {
		fmt.Fprintf(&b, "Available capabilities: %s\n", strings.Join(p.capabilities, ", "))
	}
	planDoc, err := json.Marshal(in.Plan)
	if err != nil {
		return "", fmt.Errorf("planner: encode plan: %w", err)
	}
	fmt.Fprintf(&b, "Current plan:\n%s\n", planDoc)
	if len(in.Facets) > 0 {
		facetDoc, err := in.Facets.JSON()
		if err != nil {
			return "", fmt.Errorf("planner: encode facets: %w", err)
		}
		fmt.Fprintf(&b, "Accumulated facts:\n%s\n", facetDoc)
	}
	return b.String(), nil
}

// ParseDelta decodes a model's JSON reply into a plan delta. Code fences
// are tolerated; anything else that is not a JSON object is an error.
func ParseDelta(text string) (plan.Delta, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	parsed := gjson.Parse(trimmed)
	if !gjson.Valid(trimmed) || !parsed.IsObject() {
		return plan.Delta{}, fmt.Errorf("planner: model reply is not a JSON object")
	}

	var d plan.Delta
	if err := json.Unmarshal([]byte(trimmed), &d); err != nil {
		return plan.Delta{}, fmt.Errorf("planner: decode delta: %w", err)
	}
	for _, add := range d.StepsAdd {
		if add.ID == "" {
			return plan.Delta{}, fmt.Errorf("planner: added step without id")
		}
		if add.Capability == "" && add.Control == "" {
			return plan.Delta{}, fmt.Errorf("planner: step %q has neither capability nor control action", add.ID)
		}
	}
	return d, nil
}

// ScriptedPlanner replays a fixed delta sequence, then empty deltas.
// Useful for tests and examples where planning is predetermined.
type ScriptedPlanner struct {
	deltas []plan.Delta
	next   int
}

// NewScriptedPlanner returns a planner that yields the given deltas in
// order.
func NewScriptedPlanner(deltas ...plan.Delta) *ScriptedPlanner {
	return &ScriptedPlanner{deltas: deltas}
}

// NextDelta implements core.Planner.
func (p *ScriptedPlanner) NextDelta(_ context.Context, _ core.PlannerInput) (plan.Delta, error) {
	if p.next >= len(p.deltas) {
		return plan.Delta{}, nil
	}
	d := p.deltas[p.next]
	p.next++
	return d, nil
}
