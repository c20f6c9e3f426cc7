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

// VersionRepository stores workflow versions as JSON files.
type VersionRepository struct {
	root string
}

func (r *VersionRepository) path(id string) string {
	return filepath.Join(r.root, "versions", id+".json")
}

func (r *VersionRepository) Save(_ context.Context, version *models.WorkflowVersion) error {
	if err := writeJSON(r.path(version.ID), version); err != nil {
		return &persistence.VersionError{Op: "Save", WorkflowID: version.WorkflowID, Version: version.Version, Err: err}
	}

	return nil
}

func (r *VersionRepository) GetByID(_ context.Context, id string) (*models.WorkflowVersion, error) {
	var version models.WorkflowVersion

	if err := readJSON(r.path(id), &version); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrVersionNotFound
		}

		return nil, fmt.Errorf("failed to load version %s: %w", id, err)
	}

	return &version, nil
}

func (r *VersionRepository) GetByWorkflowAndVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	versions, err := r.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, version := range versions {
		if version.Version == number {
			return version, nil
		}
	}

	return nil, persistence.ErrVersionNotFound
}

func (r *VersionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	ids, err := listJSONFiles(filepath.Join(r.root, "versions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	versions := make([]*models.WorkflowVersion, 0)

	for _, id := range ids {
		version, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if version.WorkflowID == workflowID {
			versions = append(versions, version)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}

func (r *VersionRepository) Delete(_ context.Context, id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrVersionNotFound
		}

		return fmt.Errorf("failed to delete version %s: %w", id, err)
	}

	return nil
}
