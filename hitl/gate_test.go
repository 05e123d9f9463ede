package hitl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func choicePayload() Payload {
	return Payload{
		Kind:     KindChoice,
		Question: "Which headline variant should we keep?",
		Options:  []string{"variant-a", "variant-b"},
	}
}

func TestRaise_SecondPendingFailsFast(t *testing.T) {
	g := NewGate()

	first, err := g.Raise("run-1", "step-1", choicePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, StatusPending, first.Status)

	_, err = g.Raise("run-1", "step-2", Payload{Kind: KindQuestion, Question: "q"})
	assert.ErrorIs(t, err, ErrRequestPending)

	// A different run is unaffected.
	_, err = g.Raise("run-2", "step-1", choicePayload())
	assert.NoError(t, err)
}

func TestRaise_ValidatesPayload(t *testing.T) {
	g := NewGate()

	_, err := g.Raise("run-1", "step-1", Payload{Question: "no kind"})
	assert.Error(t, err)

	_, err = g.Raise("run-1", "step-1", Payload{Kind: KindChoice, Question: "no options"})
	assert.Error(t, err)
}

func TestResolve_ClearsPending(t *testing.T) {
	g := NewGate()
	req, err := g.Raise("run-1", "step-1", choicePayload())
	require.NoError(t, err)

	resolved, err := g.Resolve(req.ID, Response{Value: "variant-b"})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Response)
	assert.Equal(t, "variant-b", resolved.Response.Value)

	_, pending := g.Pending("run-1")
	assert.False(t, pending)

	// Deciding twice is rejected.
	_, err = g.Resolve(req.ID, Response{Value: "again"})
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestDeny_IncrementsCounter(t *testing.T) {
	g := NewGate()
	req, err := g.Raise("run-1", "step-1", choicePayload())
	require.NoError(t, err)

	denied, err := g.Deny(req.ID, "off brand")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.Equal(t, "off brand", denied.Reason)
	assert.Equal(t, 1, g.Denials("run-1"))
	assert.Equal(t, 0, g.Denials("run-2"))
}

func TestDecide_UnknownRequest(t *testing.T) {
	g := NewGate()
	_, err := g.Resolve("missing", Response{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateRoundTrip(t *testing.T) {
	g := NewGate()
	req, err := g.Raise("run-1", "step-1", choicePayload())
	require.NoError(t, err)
	_, err = g.Deny(req.ID, "redo")
	require.NoError(t, err)
	second, err := g.Raise("run-1", "step-1", choicePayload())
	require.NoError(t, err)

	st := g.State("run-1")
	require.Len(t, st.Requests, 2)
	assert.Equal(t, 1, st.Denials)

	// Restore into a fresh gate under a resumed run id.
	fresh := NewGate()
	fresh.Restore("run-9", st)
	assert.Equal(t, 1, fresh.Denials("run-9"))
	pending, ok := fresh.Pending("run-9")
	require.True(t, ok)
	assert.Equal(t, second.ID, pending.ID)
}
