package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/guard"
	"github.com/inkflow-ai/inkflow/model"
)

func echoCapability() core.Capability {
	return core.CapabilityFunc(func(_ context.Context, in core.CapabilityInput) (core.CapabilityResult, error) {
		out := make(map[string]any, len(in.Facets)+1)
		for k, v := range in.Facets {
			out[k] = v
		}
		out["seen"] = len(in.Facets)
		return core.CapabilityResult{Facets: out}, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		reg     Registration
		wantErr string
	}{
		{
			name: "valid",
			reg: Registration{
				Name:    "draft",
				Outputs: []string{"copy"},
				Guards:  []GuardSpec{{Facet: "copy", Path: "copy.text", Cond: `copy.text != null`}},
				Handler: echoCapability(),
			},
		},
		{
			name:    "missing name",
			reg:     Registration{Handler: echoCapability()},
			wantErr: "name is required",
		},
		{
			name:    "missing handler",
			reg:     Registration{Name: "draft"},
			wantErr: "handler is required",
		},
		{
			name: "guard outside outputs",
			reg: Registration{
				Name:    "draft",
				Outputs: []string{"copy"},
				Guards:  []GuardSpec{{Facet: "qa", Path: "qa.score", Cond: `qa.score >= 0.5`}},
				Handler: echoCapability(),
			},
			wantErr: "outside declared outputs",
		},
		{
			name: "malformed guard",
			reg: Registration{
				Name:    "draft",
				Guards:  []GuardSpec{{Facet: "copy", Path: "copy.text", Cond: `copy.text ==`}},
				Handler: echoCapability(),
			},
			wantErr: "invalid guard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.reg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				got, ok := r.Get(tt.reg.Name)
				require.True(t, ok)
				assert.Equal(t, tt.reg.Name, got.Name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{Name: "draft", Handler: echoCapability()}))

	err := r.Register(Registration{Name: "draft", Handler: echoCapability()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateGuardPair(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Registration{
		Name: "qa",
		Guards: []GuardSpec{
			{Facet: "qa", Path: "qa.score", Cond: `qa.score >= 0.5`},
			{Facet: "qa", Path: "qa.score", Cond: `qa.score <= 1.0`},
		},
		Handler: echoCapability(),
	})
	require.Error(t, err)

	var dup *guard.DuplicateGuardError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "qa", dup.Facet)
	assert.Equal(t, "qa.score", dup.Path)
}

func TestRegistered_FacetNarrowing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Name:    "draft",
		Inputs:  []string{"brief"},
		Outputs: []string{"brief", "seen"},
		Handler: echoCapability(),
	}))
	cap, _ := r.Get("draft")

	out, err := cap.Invoke(context.Background(), core.CapabilityInput{
		Facets: core.Facets{"brief": "launch copy", "secret": "dropped"},
	})
	require.NoError(t, err)

	// The handler never saw the undeclared input facet.
	assert.Equal(t, 1, out.Facets["seen"])
	assert.Equal(t, "launch copy", out.Facets["brief"])
	_, leaked := out.Facets["secret"]
	assert.False(t, leaked)
}

func TestRegistered_Allows(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Registration{
		Name:    "qa",
		Inputs:  []string{"copy"},
		Outputs: []string{"qa"},
		Handler: echoCapability(),
	}))
	require.NoError(t, r.Register(Registration{Name: "open", Handler: echoCapability()}))

	qa, _ := r.Get("qa")
	assert.True(t, qa.AllowsInput("copy"))
	assert.False(t, qa.AllowsInput("qa"))
	assert.True(t, qa.AllowsOutput("qa"))
	assert.False(t, qa.AllowsOutput("copy"))

	open, _ := r.Get("open")
	assert.True(t, open.AllowsInput("anything"))
	assert.True(t, open.AllowsOutput("anything"))

	assert.Equal(t, []string{"open", "qa"}, r.Names())
}

func TestModelCapability_TextOutput(t *testing.T) {
	m := model.NewMockModel("writer")
	m.SetFallback("a bold headline")

	cap, err := NewModelCapability(m, ModelOptions{
		Instructions: "Write a headline.",
		OutputFacet:  "headline",
	})
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), core.CapabilityInput{
		Objective: "announce the launch",
		Facets:    core.Facets{"brief": map[string]any{"tone": "bold"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a bold headline", out.Facets["headline"])

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Messages[0].Text, "announce the launch")
	assert.Contains(t, calls[0].Messages[0].Text, "bold")
}

func TestModelCapability_NestedOutputFacet(t *testing.T) {
	m := model.NewMockModel("writer")
	m.SetFallback("a bold headline")

	cap, err := NewModelCapability(m, ModelOptions{OutputFacet: "copy.headline"})
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), core.CapabilityInput{Objective: "announce"})
	require.NoError(t, err)
	copyFacet, ok := out.Facets["copy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a bold headline", copyFacet["headline"])
}

func TestModelCapability_TemplatedInstructions(t *testing.T) {
	m := model.NewMockModel("writer")
	m.SetFallback("done")

	cap, err := NewModelCapability(m, ModelOptions{
		Instructions: "Write in a {{default \"neutral\" .mode}} register.",
		OutputFacet:  "copy",
	})
	require.NoError(t, err)

	_, err = cap.Invoke(context.Background(), core.CapabilityInput{
		Objective: "announce",
		Mode:      "playful",
	})
	require.NoError(t, err)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Write in a playful register.", calls[0].Instructions)
}

func TestModelCapability_JSONOutput(t *testing.T) {
	m := model.NewMockModel("qa")
	m.SetFallback("```json\n{\"qa\": {\"score\": 0.9}}\n```")

	cap, err := NewModelCapability(m, ModelOptions{
		Instructions: "Score the copy.",
		ForceJSON:    true,
	})
	require.NoError(t, err)

	out, err := cap.Invoke(context.Background(), core.CapabilityInput{Objective: "score"})
	require.NoError(t, err)
	qa, ok := out.Facets["qa"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.9, qa["score"], 1e-9)
}

func TestModelCapability_InvalidJSON(t *testing.T) {
	m := model.NewMockModel("qa")
	m.SetFallback("not json at all")

	cap, err := NewModelCapability(m, ModelOptions{ForceJSON: true})
	require.NoError(t, err)

	_, err = cap.Invoke(context.Background(), core.CapabilityInput{Objective: "score"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON object")
}

func TestNewModelCapability_Validation(t *testing.T) {
	_, err := NewModelCapability(nil, ModelOptions{OutputFacet: "x"})
	assert.Error(t, err)

	_, err = NewModelCapability(model.NewMockModel("m"), ModelOptions{})
	assert.Error(t, err)
}
