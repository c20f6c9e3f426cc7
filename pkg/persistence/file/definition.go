package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// DefinitionRepository stores workflow definitions as JSON files.
type DefinitionRepository struct {
	root string
}

func (r *DefinitionRepository) path(id string) string {
	return filepath.Join(r.root, "definitions", id+".json")
}

func (r *DefinitionRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	if err := writeJSON(r.path(def.ID), def); err != nil {
		return fmt.Errorf("failed to save definition %s: %w", def.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	if err := readJSON(r.path(id), &def); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
	}

	return &def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := listJSONFiles(filepath.Join(r.root, "definitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	defs := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		def, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	return defs, nil
}

func (r *DefinitionRepository) Delete(_ context.Context, id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrDefinitionNotFound
		}

		return fmt.Errorf("failed to delete definition %s: %w", id, err)
	}

	return nil
}
