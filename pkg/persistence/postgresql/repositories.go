package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// DefinitionRepository stores workflow definitions as JSONB documents.
type DefinitionRepository struct {
	db *sql.DB
}

func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	document, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to serialize definition %s: %w", def.ID, err)
	}

	query := `
		INSERT INTO workflow_definitions (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, def.ID, document)
	if err != nil {
		return fmt.Errorf("failed to save definition %s: %w", def.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM workflow_definitions WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDefinitionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query definition %s: %w", id, err)
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(document, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition %s: %w", id, err)
	}

	return &def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT document FROM workflow_definitions ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		var def models.WorkflowDefinition
		if err := json.Unmarshal(document, &def); err != nil {
			return nil, fmt.Errorf("failed to decode definition: %w", err)
		}

		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete definition %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDefinitionNotFound
	}

	return nil
}

// InstanceRepository stores process instances as JSONB documents with
// indexed workflow/status columns for filtered listing.
type InstanceRepository struct {
	db *sql.DB
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.ProcessInstance) error {
	document, err := json.Marshal(instance)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	query := `
		INSERT INTO process_instances (id, workflow_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.WorkflowID, string(instance.Status), document,
		instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.ProcessInstance, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM process_instances WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrInstanceNotFound
	}

	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	var instance models.ProcessInstance
	if err := json.Unmarshal(document, &instance); err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return &instance, nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.ProcessInstance, error) {
	return r.list(ctx, "SELECT document FROM process_instances WHERE status = $1 ORDER BY created_at", string(status))
}

func (r *InstanceRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ProcessInstance, error) {
	return r.list(ctx, "SELECT document FROM process_instances WHERE workflow_id = $1 ORDER BY created_at", workflowID)
}

func (r *InstanceRepository) list(ctx context.Context, query string, arg any) ([]*models.ProcessInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	instances := make([]*models.ProcessInstance, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		var instance models.ProcessInstance
		if err := json.Unmarshal(document, &instance); err != nil {
			return nil, fmt.Errorf("failed to decode instance: %w", err)
		}

		instances = append(instances, &instance)
	}

	return instances, rows.Err()
}

func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM process_instances WHERE id = $1", id)
	if err != nil {
		return persistence.NewInstanceError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.ErrInstanceNotFound
	}

	return nil
}

// SnapshotRepository stores snapshots as JSONB documents.
type SnapshotRepository struct {
	db *sql.DB
}

func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.Snapshot) error {
	document, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot %s: %w", snapshot.ID, err)
	}

	query := `
		INSERT INTO instance_snapshots (id, instance_id, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, snapshot.ID, snapshot.InstanceID, document, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snapshot.ID, err)
	}

	return nil
}

func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*models.Snapshot, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, "SELECT document FROM instance_snapshots WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrSnapshotNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot %s: %w", id, err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(document, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", id, err)
	}

	return &snapshot, nil
}

func (r *SnapshotRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM instance_snapshots WHERE instance_id = $1 ORDER BY created_at", instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.Snapshot, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		var snapshot models.Snapshot
		if err := json.Unmarshal(document, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}

		snapshots = append(snapshots, &snapshot)
	}

	return snapshots, rows.Err()
}

func (r *SnapshotRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM instance_snapshots WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrSnapshotNotFound
	}

	return nil
}

// VersionRepository stores workflow versions as JSONB documents.
type VersionRepository struct {
	db *sql.DB
}

func (r *VersionRepository) Save(ctx context.Context, version *models.WorkflowVersion) error {
	document, err := json.Marshal(version)
	if err != nil {
		return &persistence.VersionError{Op: "Save", WorkflowID: version.WorkflowID, Version: version.Version, Err: err}
	}

	query := `
		INSERT INTO workflow_versions (id, workflow_id, version, document, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query, version.ID, version.WorkflowID, version.Version, document)
	if err != nil {
		return &persistence.VersionError{Op: "Save", WorkflowID: version.WorkflowID, Version: version.Version, Err: err}
	}

	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, "SELECT document FROM workflow_versions WHERE id = $1", id))
}

func (r *VersionRepository) GetByWorkflowAndVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		"SELECT document FROM workflow_versions WHERE workflow_id = $1 AND version = $2", workflowID, number))
}

func (r *VersionRepository) scanOne(row *sql.Row) (*models.WorkflowVersion, error) {
	var document []byte

	err := row.Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVersionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	var version models.WorkflowVersion
	if err := json.Unmarshal(document, &version); err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}

	return &version, nil
}

func (r *VersionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT document FROM workflow_versions WHERE workflow_id = $1 ORDER BY version", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		var version models.WorkflowVersion
		if err := json.Unmarshal(document, &version); err != nil {
			return nil, fmt.Errorf("failed to decode version: %w", err)
		}

		versions = append(versions, &version)
	}

	return versions, rows.Err()
}

func (r *VersionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_versions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete version %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrVersionNotFound
	}

	return nil
}
