// Package version manages workflow definition version lifecycle and
// instance-to-version binding.
package version

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

// Manager owns the version lifecycle: DRAFT -> PUBLISHED ->
// DEPRECATED -> ARCHIVED, with guarded deletion and a single default
// version per workflow.
type Manager struct {
	mu     sync.Mutex
	repo   persistence.VersionRepository
	logger *slog.Logger

	// bindings maps instanceID -> versionID for usage accounting.
	bindings map[string]string
}

// NewManager creates a version manager over the given repository.
func NewManager(repo persistence.VersionRepository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		logger:   logger,
		bindings: make(map[string]string),
	}
}

// CreateVersion registers the next version of a workflow definition. The
// version number is max existing + 1 (or 1); new versions always start
// DRAFT, and the very first version for a workflow is auto-defaulted.
func (m *Manager) CreateVersion(ctx context.Context, workflowID string, def *models.WorkflowDefinition, createdBy, comment string) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.repo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	next := 1
	for _, v := range existing {
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	now := time.Now().UTC()
	version := &models.WorkflowVersion{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Version:    next,
		Status:     models.VersionStatusDraft,
		Definition: def,
		IsDefault:  len(existing) == 0,
		CreatedBy:  createdBy,
		Comment:    comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.repo.Save(ctx, version); err != nil {
		return nil, err
	}

	m.logger.Info("created workflow version",
		"workflow_id", workflowID, "version", next, "is_default", version.IsDefault)

	return version, nil
}

// GetVersion returns one version of a workflow.
func (m *Manager) GetVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	return m.repo.GetByWorkflowAndVersion(ctx, workflowID, number)
}

// ListVersions returns all versions of a workflow, ascending.
func (m *Manager) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowVersion, error) {
	return m.repo.ListByWorkflow(ctx, workflowID)
}

// GetDefaultVersion returns the workflow's default version.
func (m *Manager) GetDefaultVersion(ctx context.Context, workflowID string) (*models.WorkflowVersion, error) {
	versions, err := m.repo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, v := range versions {
		if v.IsDefault {
			return v, nil
		}
	}

	return nil, persistence.ErrVersionNotFound
}

// SetDefaultVersion makes the given version the workflow's default,
// clearing the previous holder. Exactly one default may exist per workflow.
func (m *Manager) SetDefaultVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, err := m.repo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var target *models.WorkflowVersion

	for _, v := range versions {
		if v.Version == number {
			target = v

			break
		}
	}

	if target == nil {
		return nil, persistence.ErrVersionNotFound
	}

	for _, v := range versions {
		if v.IsDefault && v.Version != number {
			v.IsDefault = false
			v.UpdatedAt = time.Now().UTC()

			if err := m.repo.Save(ctx, v); err != nil {
				return nil, err
			}
		}
	}

	target.IsDefault = true
	target.UpdatedAt = time.Now().UTC()

	if err := m.repo.Save(ctx, target); err != nil {
		return nil, err
	}

	m.logger.Info("set default version", "workflow_id", workflowID, "version", number)

	return target, nil
}

// PublishVersion transitions DRAFT -> PUBLISHED.
func (m *Manager) PublishVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	return m.transition(ctx, workflowID, number, models.VersionStatusPublished, nil)
}

// DeprecateVersion transitions PUBLISHED -> DEPRECATED. The current default
// version cannot be deprecated.
func (m *Manager) DeprecateVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	return m.transition(ctx, workflowID, number, models.VersionStatusDeprecated, func(v *models.WorkflowVersion) error {
		if v.IsDefault {
			return fmt.Errorf("%w: cannot deprecate the default version", persistence.ErrInvalidState)
		}

		return nil
	})
}

// ArchiveVersion transitions DEPRECATED -> ARCHIVED. Rejected for the
// default version or while instances are still active on it.
func (m *Manager) ArchiveVersion(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error) {
	return m.transition(ctx, workflowID, number, models.VersionStatusArchived, func(v *models.WorkflowVersion) error {
		if v.IsDefault {
			return fmt.Errorf("%w: cannot archive the default version", persistence.ErrInvalidState)
		}

		if v.Usage.ActiveInstances > 0 {
			return fmt.Errorf("%w: version has %d active instances", persistence.ErrInvalidState, v.Usage.ActiveInstances)
		}

		return nil
	})
}

// DeleteVersion destroys a version from any state, provided it is not the
// default and was never used by an instance.
func (m *Manager) DeleteVersion(ctx context.Context, workflowID string, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, err := m.repo.GetByWorkflowAndVersion(ctx, workflowID, number)
	if err != nil {
		return err
	}

	if version.IsDefault {
		return &persistence.VersionError{
			Op: "Delete", WorkflowID: workflowID, Version: number,
			Err: fmt.Errorf("%w: cannot delete the default version", persistence.ErrInvalidState),
		}
	}

	if version.Usage.InstanceCount > 0 {
		return &persistence.VersionError{
			Op: "Delete", WorkflowID: workflowID, Version: number,
			Err: fmt.Errorf("%w: version served %d instances", persistence.ErrInvalidState, version.Usage.InstanceCount),
		}
	}

	return m.repo.Delete(ctx, version.ID)
}

func (m *Manager) transition(
	ctx context.Context,
	workflowID string,
	number int,
	next models.VersionStatus,
	guard func(*models.WorkflowVersion) error,
) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, err := m.repo.GetByWorkflowAndVersion(ctx, workflowID, number)
	if err != nil {
		return nil, err
	}

	if guard != nil {
		if err := guard(version); err != nil {
			return nil, err
		}
	}

	if !version.Status.CanTransitionTo(next) {
		return nil, &persistence.VersionError{
			Op: "Transition", WorkflowID: workflowID, Version: number,
			Err: fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidState, version.Status, next),
		}
	}

	version.Status = next
	version.UpdatedAt = time.Now().UTC()

	if err := m.repo.Save(ctx, version); err != nil {
		return nil, err
	}

	m.logger.Info("version transitioned",
		"workflow_id", workflowID, "version", number, "status", next)

	return version, nil
}

// BindInstanceToVersion records an instance starting on a version,
// incrementing its usage counters.
func (m *Manager) BindInstanceToVersion(ctx context.Context, instanceID, workflowID string, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, err := m.repo.GetByWorkflowAndVersion(ctx, workflowID, number)
	if err != nil {
		return err
	}

	version.Usage.InstanceCount++
	version.Usage.ActiveInstances++
	version.UpdatedAt = time.Now().UTC()

	if err := m.repo.Save(ctx, version); err != nil {
		return err
	}

	m.bindings[instanceID] = version.ID

	return nil
}

// UnbindInstance records an instance leaving its version with a terminal
// outcome, decrementing the active counter and tallying the result.
func (m *Manager) UnbindInstance(ctx context.Context, instanceID string, status models.InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versionID, ok := m.bindings[instanceID]
	if !ok {
		return nil
	}

	delete(m.bindings, instanceID)

	version, err := m.repo.GetByID(ctx, versionID)
	if err != nil {
		return err
	}

	if version.Usage.ActiveInstances > 0 {
		version.Usage.ActiveInstances--
	}

	switch status {
	case models.InstanceStatusCompleted:
		version.Usage.Completed++
	case models.InstanceStatusFailed:
		version.Usage.Failed++
	}

	version.UpdatedAt = time.Now().UTC()

	return m.repo.Save(ctx, version)
}
