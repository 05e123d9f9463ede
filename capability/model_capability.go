package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/internal/util"
	"github.com/inkflow-ai/inkflow/model"
)

// ModelOptions configures a model-backed capability.
type ModelOptions struct {
	// Instructions is the system prompt for the capability's model call.
	// It may reference the run context through template markers, e.g.
	// "Write in a {{.mode}} register." The keys objective, mode, and
	// facets are available.
	Instructions string

	// OutputFacet names the facet that receives the model's raw text when
	// ForceJSON is false. Required in that mode. A dotted path nests the
	// text, e.g. "copy.headline".
	OutputFacet string

	// ForceJSON requests a JSON object response; its top-level keys become
	// the output facets directly.
	ForceJSON bool
}

type modelCapability struct {
	model model.Model
	opts  ModelOptions
}

// NewModelCapability returns a capability that delegates its work to a
// single model call. The run's objective and current facet values are
// rendered into the user message; token usage comes back as metrics.
func NewModelCapability(m model.Model, opts ModelOptions) (core.Capability, error) {
	if m == nil {
		return nil, fmt.Errorf("capability: model is required")
	}
	if !opts.ForceJSON && opts.OutputFacet == "" {
		return nil, fmt.Errorf("capability: output facet is required for text responses")
	}
	return &modelCapability{model: m, opts: opts}, nil
}

// Invoke implements core.Capability.
func (c *modelCapability) Invoke(ctx context.Context, in core.CapabilityInput) (core.CapabilityResult, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return core.CapabilityResult{}, err
	}

	instructions, err := util.RenderTemplate(c.opts.Instructions, map[string]any{
		"objective": in.Objective,
		"mode":      in.Mode,
		"facets":    map[string]any(in.Facets),
	})
	if err != nil {
		return core.CapabilityResult{}, fmt.Errorf("capability: render instructions: %w", err)
	}

	resp, err := c.model.Generate(ctx, model.Request{
		Instructions: instructions,
		Messages:     []model.Message{{Role: "user", Text: prompt}},
		ForceJSON:    c.opts.ForceJSON,
	})
	if err != nil {
		return core.CapabilityResult{}, fmt.Errorf("capability: model call: %w", err)
	}

	result := core.CapabilityResult{}
	if resp.Usage != nil {
		result.Metrics = map[string]float64{
			"tokens.input":  float64(resp.Usage.PromptTokens),
			"tokens.output": float64(resp.Usage.CompletionTokens),
		}
	}

	if !c.opts.ForceJSON {
		out := core.NewFacets()
		if err := out.SetPath(c.opts.OutputFacet, resp.Text); err != nil {
			return core.CapabilityResult{}, fmt.Errorf("capability: set output facet: %w", err)
		}
		result.Facets = out
		return result, nil
	}

	facets, err := parseFacetJSON(resp.Text)
	if err != nil {
		return core.CapabilityResult{}, err
	}
	result.Facets = facets
	return result, nil
}

// buildPrompt renders the objective and current facet values into a single
// user message.
func buildPrompt(in core.CapabilityInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", in.Objective)
	if in.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", in.Mode)
	}
	if len(in.Facets) > 0 {
		doc, err := in.Facets.JSON()
		if err != nil {
			return "", fmt.Errorf("capability: encode facets: %w", err)
		}
		fmt.Fprintf(&b, "Current facts:\n%s\n", doc)
	}
	return b.String(), nil
}

// parseFacetJSON extracts the top-level object keys of a model's JSON
// response as facet values. Models occasionally wrap JSON in code fences;
// those are stripped before parsing.
func parseFacetJSON(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if !gjson.Valid(trimmed) || !gjson.Parse(trimmed).IsObject() {
		return nil, fmt.Errorf("capability: model response is not a JSON object")
	}
	var facets map[string]any
	if err := json.Unmarshal([]byte(trimmed), &facets); err != nil {
		return nil, fmt.Errorf("capability: decode model response: %w", err)
	}
	return facets, nil
}
