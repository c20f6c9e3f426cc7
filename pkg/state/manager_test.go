package state

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

func newManager(maxSnapshots int) *Manager {
	return NewManager(nil, maxSnapshots, slog.Default())
}

func sampleState(nodeID string, vars map[string]any) *models.InstanceState {
	return &models.InstanceState{
		Instance: &models.ProcessInstance{
			ID:            "inst-1",
			WorkflowID:    "wf-1",
			Status:        models.InstanceStatusRunning,
			CurrentNodeID: nodeID,
			ProcessData:   vars,
		},
		Tokens: []*models.Token{
			{ID: "tok-1", InstanceID: "inst-1", Position: nodeID, Status: models.TokenStatusActive, Variables: vars},
		},
	}
}

func TestCreateSnapshot_DeepCopiesState(t *testing.T) {
	m := newManager(0)

	vars := map[string]any{"x": 1}
	state := sampleState("n1", vars)

	snapshot, err := m.CreateSnapshot(context.Background(), "inst-1", state, models.SnapshotMetadata{Reason: "test"})
	require.NoError(t, err)

	// Mutating the source after the snapshot must not change it.
	state.Instance.ProcessData["x"] = 99
	state.Instance.CurrentNodeID = "n3"

	stored, err := m.GetSnapshot(context.Background(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.State.Instance.ProcessData["x"])
	assert.Equal(t, "n1", stored.State.Instance.CurrentNodeID)
}

func TestCreateSnapshot_BoundedEvictsOldest(t *testing.T) {
	m := newManager(2)

	first, err := m.CreateSnapshot(context.Background(), "inst-1", sampleState("n1", nil), models.SnapshotMetadata{})
	require.NoError(t, err)

	_, err = m.CreateSnapshot(context.Background(), "inst-1", sampleState("n2", nil), models.SnapshotMetadata{})
	require.NoError(t, err)

	_, err = m.CreateSnapshot(context.Background(), "inst-1", sampleState("n3", nil), models.SnapshotMetadata{})
	require.NoError(t, err)

	assert.Len(t, m.ListSnapshots("inst-1"), 2)

	_, err = m.GetSnapshot(context.Background(), first.ID)
	assert.ErrorIs(t, err, persistence.ErrSnapshotNotFound)
}

func TestRollbackToSnapshot_RepeatableAndImmutable(t *testing.T) {
	m := newManager(0)

	snapshot, err := m.CreateSnapshot(context.Background(), "inst-1",
		sampleState("n1", map[string]any{"x": 1}), models.SnapshotMetadata{})
	require.NoError(t, err)

	restored, err := m.RollbackToSnapshot(context.Background(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, "n1", restored.Instance.CurrentNodeID)

	// Mutate the restored copy; a second rollback yields the original.
	restored.Instance.ProcessData["x"] = 42

	again, err := m.RollbackToSnapshot(context.Background(), snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Instance.ProcessData["x"])
}

func TestTransaction_CommitSnapshotsCurrentState(t *testing.T) {
	m := newManager(0)

	txn := m.BeginTransaction("inst-1")
	assert.Empty(t, txn.BaseSnapshotID)

	require.NoError(t, m.RecordOperation(txn.ID, "move_token", map[string]any{"to": "n2"}))
	require.NoError(t, m.RecordOperation(txn.ID, "update_variables", nil))

	snapshot, err := m.CommitTransaction(context.Background(), txn.ID, sampleState("n2", nil))
	require.NoError(t, err)

	assert.Equal(t, txn.ID, snapshot.Metadata.TransactionID)
	assert.Equal(t, 2, snapshot.Metadata.Operations)

	committed, err := m.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCommitted, committed.Status)
}

func TestTransaction_RollbackRestoresBase(t *testing.T) {
	m := newManager(0)

	base, err := m.CreateSnapshot(context.Background(), "inst-1",
		sampleState("n1", map[string]any{"x": 1}), models.SnapshotMetadata{})
	require.NoError(t, err)

	txn := m.BeginTransaction("inst-1")
	assert.Equal(t, base.ID, txn.BaseSnapshotID)

	restored, err := m.RollbackTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, "n1", restored.Instance.CurrentNodeID)

	rolledBack, err := m.GetTransaction(txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusRolledBack, rolledBack.Status)
}

func TestTransaction_RollbackWithoutBaseRestoresNothing(t *testing.T) {
	m := newManager(0)

	txn := m.BeginTransaction("inst-1")

	restored, err := m.RollbackTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestTransaction_NonActiveOperationsFail(t *testing.T) {
	m := newManager(0)

	txn := m.BeginTransaction("inst-1")

	_, err := m.CommitTransaction(context.Background(), txn.ID, sampleState("n1", nil))
	require.NoError(t, err)

	err = m.RecordOperation(txn.ID, "late", nil)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)

	_, err = m.CommitTransaction(context.Background(), txn.ID, sampleState("n1", nil))
	assert.ErrorIs(t, err, persistence.ErrInvalidState)

	_, err = m.RollbackTransaction(context.Background(), txn.ID)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)
}
