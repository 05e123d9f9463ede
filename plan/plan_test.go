package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_AddsStepsPending(t *testing.T) {
	p := New()

	rev, err := p.Apply(Delta{StepsAdd: []StepAdd{
		{ID: "outline", Capability: "strategy"},
		{ID: "draft", Capability: "generation"},
	}})

	require.NoError(t, err)
	assert.Equal(t, 1, rev)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, StatusPending, p.Steps[0].Status)
	assert.Equal(t, StatusPending, p.Steps[1].Status)
}

func TestApply_DuplicateAddMergesInsteadOfDuplicating(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsAdd: []StepAdd{{ID: "outline", Capability: "strategy"}}})
	require.NoError(t, err)

	// Idempotent resend with a refreshed note.
	_, err = p.Apply(Delta{StepsAdd: []StepAdd{{ID: "outline", Capability: "strategy", Note: "retry"}}})
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, "retry", p.Steps[0].Note)
}

func TestApply_EmptyDeltaKeepsRevision(t *testing.T) {
	p := New()
	rev, err := p.Apply(Delta{})
	require.NoError(t, err)
	assert.Equal(t, 0, rev)
}

func TestApply_RejectsStepWithoutWork(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsAdd: []StepAdd{{ID: "empty"}}})
	assert.Error(t, err)
}

func TestApply_UnknownUpdateTarget(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsUpdate: []StepUpdate{{ID: "ghost", Status: StatusRunning}}})

	var unknown *UnknownStepError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.StepID)
}

func TestTransition_Monotonic(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending to running", StatusPending, StatusRunning, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to awaiting_hitl", StatusRunning, StatusAwaitingHITL, true},
		{"awaiting_hitl to pending", StatusAwaitingHITL, StatusPending, true},
		{"awaiting_hitl to completed", StatusAwaitingHITL, StatusCompleted, true},
		{"awaiting_hitl to failed", StatusAwaitingHITL, StatusFailed, true},
		{"completed backward", StatusCompleted, StatusRunning, false},
		{"failed backward", StatusFailed, StatusPending, false},
		{"pending skip to completed", StatusPending, StatusCompleted, false},
		{"self transition", StatusRunning, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			_, err := p.Apply(Delta{StepsAdd: []StepAdd{{ID: "s", Capability: "c"}}})
			require.NoError(t, err)
			p.Steps[0].Status = tt.from

			err = p.Transition("s", tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestPending_InsertionOrder(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsAdd: []StepAdd{
		{ID: "b", Capability: "x"},
		{ID: "a", Capability: "x"},
		{ID: "c", Capability: "x"},
	}})
	require.NoError(t, err)
	require.NoError(t, p.Transition("b", StatusRunning))

	pending := p.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)
}

func TestFinalized(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsAdd: []StepAdd{{ID: "end", Control: ControlFinalize}}})
	require.NoError(t, err)
	assert.False(t, p.Finalized())

	require.NoError(t, p.Transition("end", StatusRunning))
	require.NoError(t, p.Transition("end", StatusCompleted))
	assert.True(t, p.Finalized())
}

func TestClone_Divergence(t *testing.T) {
	p := New()
	_, err := p.Apply(Delta{StepsAdd: []StepAdd{{ID: "s", Capability: "c"}}})
	require.NoError(t, err)

	c := p.Clone()
	require.NoError(t, p.Transition("s", StatusRunning))

	assert.Equal(t, StatusRunning, p.Steps[0].Status)
	assert.Equal(t, StatusPending, c.Steps[0].Status)

	// Clone remains addressable by id.
	s, ok := c.Step("s")
	require.True(t, ok)
	assert.Equal(t, "s", s.ID)
}
