package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// SnapshotRepository stores instance state snapshots as JSON files.
type SnapshotRepository struct {
	root string
}

func (r *SnapshotRepository) path(id string) string {
	return filepath.Join(r.root, "snapshots", id+".json")
}

func (r *SnapshotRepository) Save(_ context.Context, snapshot *models.Snapshot) error {
	if err := writeJSON(r.path(snapshot.ID), snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snapshot.ID, err)
	}

	return nil
}

func (r *SnapshotRepository) GetByID(_ context.Context, id string) (*models.Snapshot, error) {
	var snapshot models.Snapshot

	if err := readJSON(r.path(id), &snapshot); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}

	return &snapshot, nil
}

func (r *SnapshotRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Snapshot, error) {
	ids, err := listJSONFiles(filepath.Join(r.root, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots := make([]*models.Snapshot, 0)

	for _, id := range ids {
		snapshot, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if snapshot.InstanceID == instanceID {
			snapshots = append(snapshots, snapshot)
		}
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})

	return snapshots, nil
}

func (r *SnapshotRepository) Delete(_ context.Context, id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrSnapshotNotFound
		}

		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}

	return nil
}
