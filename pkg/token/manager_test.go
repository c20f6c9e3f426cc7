package token

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

func newManager() *Manager {
	return NewManager(slog.Default())
}

func TestCreateInitialToken(t *testing.T) {
	m := newManager()

	tok := m.CreateInitialToken("inst-1", "start")

	assert.Equal(t, "inst-1", tok.InstanceID)
	assert.Equal(t, "start", tok.Position)
	assert.Equal(t, models.TokenStatusActive, tok.Status)
	assert.Equal(t, 1, m.ActiveCount("inst-1"))
	assert.Len(t, tok.History, 1)
}

func TestForkToken(t *testing.T) {
	m := newManager()

	parent := m.CreateInitialToken("inst-1", "split")
	require.NoError(t, m.UpdateTokenVariables("inst-1", parent.ID, map[string]any{"x": 1}))

	children, err := m.ForkToken("inst-1", parent.ID, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, children, 3)

	parent, err = m.GetToken("inst-1", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TokenStatusSplit, parent.Status)
	assert.Len(t, parent.ChildTokenIDs, 3)

	for i, child := range children {
		assert.Equal(t, models.TokenStatusActive, child.Status)
		assert.Equal(t, parent.ID, child.ParentTokenID)
		assert.Equal(t, 1, child.Variables["x"], "child %d copies parent variables", i)
	}

	// Children own copies, not shared references.
	children[0].Variables["x"] = 99
	assert.Equal(t, 1, children[1].Variables["x"])

	assert.Equal(t, 3, m.ActiveCount("inst-1"))
}

func TestForkToken_SplitParentCannotForkAgain(t *testing.T) {
	m := newManager()

	parent := m.CreateInitialToken("inst-1", "split")

	_, err := m.ForkToken("inst-1", parent.ID, []string{"a"})
	require.NoError(t, err)

	_, err = m.ForkToken("inst-1", parent.ID, []string{"b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrInvalidState))
}

func TestMergeTokens_LastWriterWinsInArgumentOrder(t *testing.T) {
	m := newManager()

	parent := m.CreateInitialToken("inst-1", "split")
	children, err := m.ForkToken("inst-1", parent.ID, []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateTokenVariables("inst-1", children[0].ID, map[string]any{"shared": "first", "a": 1}))
	require.NoError(t, m.UpdateTokenVariables("inst-1", children[1].ID, map[string]any{"shared": "second", "b": 2}))

	merged, err := m.MergeTokens("inst-1", []string{children[0].ID, children[1].ID}, "join")
	require.NoError(t, err)

	assert.Equal(t, "second", merged.Variables["shared"])
	assert.Equal(t, 1, merged.Variables["a"])
	assert.Equal(t, 2, merged.Variables["b"])
	assert.Equal(t, "join", merged.Position)

	// Fork(N) then merge(N) yields exactly one active token.
	assert.Equal(t, 1, m.ActiveCount("inst-1"))

	for _, child := range children {
		tok, err := m.GetToken("inst-1", child.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TokenStatusMerged, tok.Status)
	}
}

func TestUnknownIDsFailWithNotFound(t *testing.T) {
	m := newManager()

	_, err := m.GetToken("nope", "nope")
	assert.True(t, errors.Is(err, persistence.ErrInstanceNotFound))

	m.CreateInitialToken("inst-1", "start")

	_, err = m.GetToken("inst-1", "nope")
	assert.True(t, errors.Is(err, persistence.ErrTokenNotFound))

	err = m.MoveToken("inst-1", "nope", "anywhere")
	assert.True(t, errors.Is(err, persistence.ErrTokenNotFound))
}

func TestExportRestoreRoundTrip(t *testing.T) {
	m := newManager()

	tok := m.CreateInitialToken("inst-1", "n1")
	require.NoError(t, m.UpdateTokenVariables("inst-1", tok.ID, map[string]any{"x": 1}))

	exported := m.Export("inst-1")
	require.Len(t, exported, 1)

	// Mutations after export must not leak into the exported copies.
	require.NoError(t, m.UpdateTokenVariables("inst-1", tok.ID, map[string]any{"x": 2}))
	assert.Equal(t, 1, exported[0].Variables["x"])

	m.Restore("inst-1", exported)

	restored, err := m.GetToken("inst-1", tok.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Variables["x"])
}

func TestClear(t *testing.T) {
	m := newManager()

	m.CreateInitialToken("inst-1", "start")
	m.Clear("inst-1")

	assert.Equal(t, 0, m.TokenCount("inst-1"))
}
