package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/testutil"
)

func newStore(t *testing.T) *Persistence {
	t.Helper()

	store, err := NewPersistence(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	return store
}

func TestDefinitionRepository_RoundTrip(t *testing.T) {
	store := newStore(t)
	repo := store.DefinitionRepository()
	ctx := context.Background()

	def := testutil.LinearDefinition("wf-1")
	require.NoError(t, repo.Save(ctx, def))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, def.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, 3)
	assert.Len(t, loaded.Connections, 2)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, "wf-1"))

	_, err = repo.GetByID(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
}

func TestInstanceRepository_RoundTripAndQueries(t *testing.T) {
	store := newStore(t)
	repo := store.InstanceRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	running := &models.ProcessInstance{
		ID: "inst-1", WorkflowID: "wf-1", Status: models.InstanceStatusRunning,
		ProcessData: map[string]any{"x": float64(1)},
		CreatedAt:   now, UpdatedAt: now,
	}
	running.RecordExecution(models.ExecutionEntry{NodeID: "task", NodeType: "task", Status: "COMPLETED"})

	paused := &models.ProcessInstance{
		ID: "inst-2", WorkflowID: "wf-2", Status: models.InstanceStatusPaused,
		CreatedAt: now, UpdatedAt: now,
	}

	require.NoError(t, repo.Save(ctx, running))
	require.NoError(t, repo.Save(ctx, paused))

	loaded, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, loaded.Status)
	assert.Equal(t, float64(1), loaded.ProcessData["x"])
	require.Len(t, loaded.ExecutionHistory, 1)
	assert.Equal(t, "task", loaded.ExecutionHistory[0].NodeID)

	byStatus, err := repo.ListByStatus(ctx, models.InstanceStatusPaused)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "inst-2", byStatus[0].ID)

	byWorkflow, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, "inst-1", byWorkflow[0].ID)

	_, err = repo.GetByID(ctx, "ghost")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}

func TestSnapshotRepository_RoundTrip(t *testing.T) {
	store := newStore(t)
	repo := store.SnapshotRepository()
	ctx := context.Background()

	snapshot := &models.Snapshot{
		ID:         "snap-1",
		InstanceID: "inst-1",
		State: &models.InstanceState{
			Instance: &models.ProcessInstance{ID: "inst-1", CurrentNodeID: "task"},
			Tokens:   []*models.Token{{ID: "tok-1", Position: "task", Status: models.TokenStatusActive}},
		},
		Metadata:  models.SnapshotMetadata{Reason: "checkpoint"},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Save(ctx, snapshot))

	loaded, err := repo.GetByID(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "task", loaded.State.Instance.CurrentNodeID)
	require.Len(t, loaded.State.Tokens, 1)

	byInstance, err := repo.ListByInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, byInstance, 1)

	require.NoError(t, repo.Delete(ctx, "snap-1"))

	_, err = repo.GetByID(ctx, "snap-1")
	assert.ErrorIs(t, err, persistence.ErrSnapshotNotFound)
}

func TestVersionRepository_RoundTrip(t *testing.T) {
	store := newStore(t)
	repo := store.VersionRepository()
	ctx := context.Background()

	version := &models.WorkflowVersion{
		ID:         "ver-1",
		WorkflowID: "wf-1",
		Version:    1,
		Status:     models.VersionStatusDraft,
		Definition: testutil.LinearDefinition("wf-1"),
		IsDefault:  true,
	}
	require.NoError(t, repo.Save(ctx, version))

	loaded, err := repo.GetByWorkflowAndVersion(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "ver-1", loaded.ID)
	assert.True(t, loaded.IsDefault)

	_, err = repo.GetByWorkflowAndVersion(ctx, "wf-1", 9)
	assert.ErrorIs(t, err, persistence.ErrVersionNotFound)

	listed, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestLockStore_ExclusiveCreate(t *testing.T) {
	store := newStore(t)
	locks := store.LockStore()
	ctx := context.Background()

	now := time.Now().UTC()
	first := &models.Lock{Key: "workflow:wf-1", HolderID: "h1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, locks.Create(ctx, first))

	second := &models.Lock{Key: "workflow:wf-1", HolderID: "h2", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	err := locks.Create(ctx, second)
	assert.ErrorIs(t, err, persistence.ErrLockHeld)

	// Only the holder may delete; a stranger's delete is rejected.
	assert.ErrorIs(t, locks.Delete(ctx, "workflow:wf-1", "h2"), persistence.ErrNotLockHolder)
	require.NoError(t, locks.Delete(ctx, "workflow:wf-1", "h1"))

	require.NoError(t, locks.Create(ctx, second))
}

func TestLockStore_DeleteExpired(t *testing.T) {
	store := newStore(t)
	locks := store.LockStore()
	ctx := context.Background()

	now := time.Now().UTC()
	expired := &models.Lock{Key: "old", HolderID: "h1", AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	live := &models.Lock{Key: "new", HolderID: "h1", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, locks.Create(ctx, expired))
	require.NoError(t, locks.Create(ctx, live))

	swept, err := locks.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = locks.Get(ctx, "old")
	assert.ErrorIs(t, err, persistence.ErrLockNotFound)

	_, err = locks.Get(ctx, "new")
	require.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))
}
