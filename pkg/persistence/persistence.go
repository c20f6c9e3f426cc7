package persistence

import (
	"context"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
)

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	Save(ctx context.Context, def *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores process instances. It is the durability
// authority; the engine's in-memory instance map is a cache only.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.ProcessInstance) error
	GetByID(ctx context.Context, id string) (*models.ProcessInstance, error)
	ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.ProcessInstance, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ProcessInstance, error)
	Delete(ctx context.Context, id string) error
}

// SnapshotRepository stores instance state snapshots.
type SnapshotRepository interface {
	Save(ctx context.Context, snapshot *models.Snapshot) error
	GetByID(ctx context.Context, id string) (*models.Snapshot, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores workflow definition versions.
type VersionRepository interface {
	Save(ctx context.Context, version *models.WorkflowVersion) error
	GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error)
	GetByWorkflowAndVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowVersion, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error)
	Delete(ctx context.Context, id string) error
}

// LockStore is the storage primitive behind the distributed lock manager.
// Create must be atomic create-if-absent: it fails with ErrLockHeld when a
// record for the key already exists, regardless of backend. This atomicity
// is the correctness-critical contract (filesystem O_EXCL, redis SET NX,
// SQL conditional insert).
type LockStore interface {
	Create(ctx context.Context, lock *models.Lock) error
	Get(ctx context.Context, key string) (*models.Lock, error)
	Update(ctx context.Context, lock *models.Lock) error
	Delete(ctx context.Context, key, holderID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Persistence aggregates every repository the runtime needs.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository
	SnapshotRepository() SnapshotRepository
	VersionRepository() VersionRepository
	LockStore() LockStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
