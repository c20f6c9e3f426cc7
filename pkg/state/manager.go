// Package state captures immutable instance snapshots and provides logical
// checkpoint/rollback transactions over them.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// DefaultMaxSnapshots bounds the per-instance snapshot history.
const DefaultMaxSnapshots = 20

// Manager owns snapshot and transaction bookkeeping. Snapshots are held
// in-memory for fast rollback and mirrored to the snapshot repository,
// which is the durability authority.
type Manager struct {
	mu           sync.Mutex
	snapshots    map[string][]*models.Snapshot // instanceID -> ordered oldest-first
	transactions map[string]*models.Transaction
	repo         persistence.SnapshotRepository
	maxSnapshots int
	logger       *slog.Logger
}

// NewManager creates a state manager. repo may be nil in tests; snapshots
// then live in memory only.
func NewManager(repo persistence.SnapshotRepository, maxSnapshots int, logger *slog.Logger) *Manager {
	if maxSnapshots <= 0 {
		maxSnapshots = DefaultMaxSnapshots
	}

	return &Manager{
		snapshots:    make(map[string][]*models.Snapshot),
		transactions: make(map[string]*models.Transaction),
		repo:         repo,
		maxSnapshots: maxSnapshots,
		logger:       logger,
	}
}

// CreateSnapshot deep-copies the given state tree and appends it to the
// instance's bounded snapshot list. Beyond the cap the oldest snapshot is
// evicted, from durable storage too.
func (m *Manager) CreateSnapshot(ctx context.Context, instanceID string, state *models.InstanceState, metadata models.SnapshotMetadata) (*models.Snapshot, error) {
	snapshot := &models.Snapshot{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		State:      state.Clone(),
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.snapshots[instanceID] = append(m.snapshots[instanceID], snapshot)

	var evicted *models.Snapshot
	if len(m.snapshots[instanceID]) > m.maxSnapshots {
		evicted = m.snapshots[instanceID][0]
		m.snapshots[instanceID] = m.snapshots[instanceID][1:]
	}
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Save(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("failed to persist snapshot: %w", err)
		}

		if evicted != nil {
			if err := m.repo.Delete(ctx, evicted.ID); err != nil && !persistence.IsNotFound(err) {
				m.logger.Warn("failed to delete evicted snapshot",
					"snapshot_id", evicted.ID, "error", err)
			}
		}
	}

	m.logger.Debug("created snapshot",
		"instance_id", instanceID, "snapshot_id", snapshot.ID, "reason", metadata.Reason)

	return snapshot, nil
}

// GetSnapshot returns the stored snapshot, checking memory first and
// falling back to the repository.
func (m *Manager) GetSnapshot(ctx context.Context, snapshotID string) (*models.Snapshot, error) {
	m.mu.Lock()

	for _, list := range m.snapshots {
		for _, snapshot := range list {
			if snapshot.ID == snapshotID {
				m.mu.Unlock()

				return snapshot, nil
			}
		}
	}
	m.mu.Unlock()

	if m.repo != nil {
		return m.repo.GetByID(ctx, snapshotID)
	}

	return nil, persistence.ErrSnapshotNotFound
}

// ListSnapshots returns the instance's snapshots, oldest first.
func (m *Manager) ListSnapshots(instanceID string) []*models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*models.Snapshot(nil), m.snapshots[instanceID]...)
}

// RollbackToSnapshot returns a deep copy of the snapshot's state tree. The
// stored snapshot is never mutated; repeated rollbacks yield identical
// results.
func (m *Manager) RollbackToSnapshot(ctx context.Context, snapshotID string) (*models.InstanceState, error) {
	snapshot, err := m.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("rolling back to snapshot",
		"instance_id", snapshot.InstanceID, "snapshot_id", snapshotID)

	return snapshot.State.Clone(), nil
}

// Clear drops in-memory snapshot and transaction state for an instance,
// part of terminal teardown. Durable snapshots are kept for diagnosis.
func (m *Manager) Clear(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, instanceID)

	for id, txn := range m.transactions {
		if txn.InstanceID == instanceID {
			delete(m.transactions, id)
		}
	}
}

// latestSnapshotID returns the most recent snapshot id for the instance, or "".
func (m *Manager) latestSnapshotID(instanceID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.snapshots[instanceID]
	if len(list) == 0 {
		return ""
	}

	return list[len(list)-1].ID
}
