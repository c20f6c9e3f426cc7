package version

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/persistence/file"
	"github.com/dukex/tokenflow/pkg/testutil"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	return NewManager(store.VersionRepository(), slog.Default())
}

func TestCreateVersion_NumberingAndFirstDefault(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	v1, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "initial")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, models.VersionStatusDraft, v1.Status)
	assert.True(t, v1.IsDefault, "first version becomes the default")

	v2, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "tweak")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.False(t, v2.IsDefault)

	all, err := m.ListVersions(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetDefaultVersion_ClearsPreviousHolder(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	_, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	_, err = m.SetDefaultVersion(context.Background(), "wf-1", 2)
	require.NoError(t, err)

	current, err := m.GetDefaultVersion(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)

	previous, err := m.GetVersion(context.Background(), "wf-1", 1)
	require.NoError(t, err)
	assert.False(t, previous.IsDefault)
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	_, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)
	v2, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	// DRAFT cannot be deprecated.
	_, err = m.DeprecateVersion(context.Background(), "wf-1", v2.Version)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)

	published, err := m.PublishVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusPublished, published.Status)

	deprecated, err := m.DeprecateVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusDeprecated, deprecated.Status)

	archived, err := m.ArchiveVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusArchived, archived.Status)
}

func TestDeprecate_DefaultVersionRejected(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	v1, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	_, err = m.PublishVersion(context.Background(), "wf-1", v1.Version)
	require.NoError(t, err)

	_, err = m.DeprecateVersion(context.Background(), "wf-1", v1.Version)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)
}

func TestArchive_ActiveInstancesRejected(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	_, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)
	v2, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	_, err = m.PublishVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
	_, err = m.DeprecateVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)

	require.NoError(t, m.BindInstanceToVersion(context.Background(), "inst-1", "wf-1", v2.Version))

	_, err = m.ArchiveVersion(context.Background(), "wf-1", v2.Version)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)

	// Once the instance finishes, archival succeeds.
	require.NoError(t, m.UnbindInstance(context.Background(), "inst-1", models.InstanceStatusCompleted))

	_, err = m.ArchiveVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
}

func TestDeleteVersion_Guards(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	v1, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	err = m.DeleteVersion(context.Background(), "wf-1", v1.Version)
	assert.ErrorIs(t, err, persistence.ErrInvalidState, "default version is protected")

	v2, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	require.NoError(t, m.BindInstanceToVersion(context.Background(), "inst-1", "wf-1", v2.Version))

	// A used version is never deletable, and a rejected delete mutates
	// nothing.
	err = m.DeleteVersion(context.Background(), "wf-1", v2.Version)
	assert.ErrorIs(t, err, persistence.ErrInvalidState)

	still, err := m.GetVersion(context.Background(), "wf-1", v2.Version)
	require.NoError(t, err)
	assert.Equal(t, 1, still.Usage.InstanceCount)

	v3, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteVersion(context.Background(), "wf-1", v3.Version))

	_, err = m.GetVersion(context.Background(), "wf-1", v3.Version)
	assert.ErrorIs(t, err, persistence.ErrVersionNotFound)
}

func TestBindUnbind_UsageTallies(t *testing.T) {
	m := newTestManager(t)
	def := testutil.LinearDefinition("wf-1")

	v1, err := m.CreateVersion(context.Background(), "wf-1", def, "alice", "")
	require.NoError(t, err)

	require.NoError(t, m.BindInstanceToVersion(context.Background(), "inst-1", "wf-1", v1.Version))
	require.NoError(t, m.BindInstanceToVersion(context.Background(), "inst-2", "wf-1", v1.Version))

	current, err := m.GetVersion(context.Background(), "wf-1", v1.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Usage.InstanceCount)
	assert.Equal(t, 2, current.Usage.ActiveInstances)

	require.NoError(t, m.UnbindInstance(context.Background(), "inst-1", models.InstanceStatusCompleted))
	require.NoError(t, m.UnbindInstance(context.Background(), "inst-2", models.InstanceStatusFailed))

	current, err = m.GetVersion(context.Background(), "wf-1", v1.Version)
	require.NoError(t, err)
	assert.Equal(t, 0, current.Usage.ActiveInstances)
	assert.Equal(t, 1, current.Usage.Completed)
	assert.Equal(t, 1, current.Usage.Failed)

	// Unbinding an unknown instance is a no-op.
	require.NoError(t, m.UnbindInstance(context.Background(), "inst-9", models.InstanceStatusCompleted))
}

func TestCompareVersions(t *testing.T) {
	m := newTestManager(t)

	before := testutil.LinearDefinition("wf-1")
	after := testutil.NewBuilder("wf-1", "linear").
		Node("start", models.NodeTypeStart, nil).
		Node("task", models.NodeTypeTask, map[string]any{"changed": true}).
		Node("audit", models.NodeTypeTask, nil).
		Node("end", models.NodeTypeEnd, nil).
		Connect("start", "task").
		Connect("task", "audit").
		Connect("audit", "end").
		Build()

	_, err := m.CreateVersion(context.Background(), "wf-1", before, "alice", "")
	require.NoError(t, err)
	_, err = m.CreateVersion(context.Background(), "wf-1", after, "alice", "")
	require.NoError(t, err)

	diff, err := m.CompareVersions(context.Background(), "wf-1", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"audit"}, diff.NodesAdded)
	assert.Contains(t, diff.NodesModified, "task")
	assert.Empty(t, diff.NodesRemoved)
	assert.Contains(t, diff.ConnectionsAdded, "task->audit")
	assert.Contains(t, diff.ConnectionsAdded, "audit->end")
	assert.Contains(t, diff.ConnectionsRemoved, "task->end")
}
