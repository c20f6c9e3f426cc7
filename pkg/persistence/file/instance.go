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

// InstanceRepository stores process instances as JSON files.
type InstanceRepository struct {
	root string
}

func (r *InstanceRepository) path(id string) string {
	return filepath.Join(r.root, "instances", id+".json")
}

func (r *InstanceRepository) Save(_ context.Context, instance *models.ProcessInstance) error {
	if err := writeJSON(r.path(instance.ID), instance); err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.ProcessInstance, error) {
	var instance models.ProcessInstance

	if err := readJSON(r.path(id), &instance); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.ProcessInstance, error) {
	return r.list(ctx, func(instance *models.ProcessInstance) bool {
		return instance.Status == status
	})
}

func (r *InstanceRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ProcessInstance, error) {
	return r.list(ctx, func(instance *models.ProcessInstance) bool {
		return instance.WorkflowID == workflowID
	})
}

func (r *InstanceRepository) list(ctx context.Context, keep func(*models.ProcessInstance) bool) ([]*models.ProcessInstance, error) {
	ids, err := listJSONFiles(filepath.Join(r.root, "instances"))
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*models.ProcessInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if keep(instance) {
			instances = append(instances, instance)
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (r *InstanceRepository) Delete(_ context.Context, id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrInstanceNotFound
		}

		return persistence.NewInstanceError("Delete", id, err)
	}

	return nil
}
