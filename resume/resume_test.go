package resume

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/inkflow/core"
	"github.com/inkflow-ai/inkflow/hitl"
	"github.com/inkflow-ai/inkflow/plan"
)

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	p := plan.New()
	_, err := p.Apply(plan.Delta{StepsAdd: []plan.StepAdd{
		{ID: "draft", Capability: "generation"},
		{ID: "end", Control: plan.ControlFinalize},
	}})
	require.NoError(t, err)

	return &Snapshot{
		RunID:     "run-1",
		Objective: "launch post",
		Plan:      p,
		Facets:    core.Facets{"brief": map[string]any{"client": "acme"}},
		HITL:      hitl.State{Denials: 1},
	}
}

func TestInMemoryStore_RoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	snap := sampleSnapshot(t)

	ok, err := store.Has("thread-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("thread-1", snap))

	ok, err = store.Has("thread-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get("thread-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, 1, got.Plan.Revision)
	assert.Equal(t, 1, got.HITL.Denials)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_LastWriteWins(t *testing.T) {
	store := NewInMemoryStore()
	first := sampleSnapshot(t)
	require.NoError(t, store.Put("thread-1", first))

	second := sampleSnapshot(t)
	second.RunID = "run-2"
	require.NoError(t, store.Put("thread-1", second))

	got, err := store.Get("thread-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
}

func TestInMemoryStore_ReturnsClones(t *testing.T) {
	store := NewInMemoryStore()
	require.NoError(t, store.Put("thread-1", sampleSnapshot(t)))

	got, err := store.Get("thread-1")
	require.NoError(t, err)
	require.NoError(t, got.Plan.Transition("draft", plan.StatusRunning))

	again, err := store.Get("thread-1")
	require.NoError(t, err)
	step, ok := again.Plan.Step("draft")
	require.True(t, ok)
	assert.Equal(t, plan.StatusPending, step.Status)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "resume.db"))
	require.NoError(t, err)
	defer store.Close()

	snap := sampleSnapshot(t)
	require.NoError(t, store.Put("thread-1", snap))

	ok, err := store.Has("thread-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get("thread-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 1, got.Plan.Revision)
	require.Len(t, got.Plan.Steps, 2)

	// Plan remains addressable by step id after deserialization.
	step, found := got.Plan.Step("end")
	require.True(t, found)
	assert.True(t, step.IsFinalize())

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Upsert(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "resume.db"))
	require.NoError(t, err)
	defer store.Close()

	snap := sampleSnapshot(t)
	require.NoError(t, store.Put("thread-1", snap))

	snap.RunID = "run-9"
	require.NoError(t, store.Put("thread-1", snap))

	got, err := store.Get("thread-1")
	require.NoError(t, err)
	assert.Equal(t, "run-9", got.RunID)
}
