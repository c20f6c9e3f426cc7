// Package web provides the HTTP surface of the runtime: workflow and
// version management, instance control, and snapshot operations.
package web

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/tokenflow/pkg/engine"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/version"
)

type APIHandlers struct {
	engine      *engine.Engine
	persistence persistence.Persistence
	versions    *version.Manager
	validator   *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	store persistence.Persistence,
	versions *version.Manager,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      eng,
		persistence: store,
		versions:    versions,
		validator:   validate,
	}
}

// CreateWorkflow registers a workflow definition after schema validation.
func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var def models.WorkflowDefinition
	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "invalid definition payload: "+err.Error())
	}

	if err := models.ValidateDefinition(&def); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.DefinitionRepository().Save(c.Context(), &def); err != nil {
		return handleRuntimeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(&def)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	defs, err := h.persistence.DefinitionRepository().List(c.Context())
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": defs, "total_count": len(defs)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	def, err := h.persistence.DefinitionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.persistence.DefinitionRepository().Delete(c.Context(), c.Params("id")); err != nil {
		return handleRuntimeError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// StartWorkflow starts an instance of a registered definition.
func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request payload: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.persistence.DefinitionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	instance, err := h.engine.StartWorkflow(c.Context(), def, req.Input, req.Initiator, req.Version)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(instance)
}

// GetInstance returns instance status plus a token summary.
func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	status, err := h.engine.GetStatus(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	if workflowID := c.Query("workflow_id"); workflowID != "" {
		instances, err := h.persistence.InstanceRepository().ListByWorkflow(c.Context(), workflowID)
		if err != nil {
			return handleRuntimeError(c, err)
		}

		return c.JSON(fiber.Map{"instances": instances})
	}

	status := models.InstanceStatus(c.Query("status", string(models.InstanceStatusRunning)))

	instances, err := h.persistence.InstanceRepository().ListByStatus(c.Context(), status)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(fiber.Map{"instances": instances})
}

// CompleteTask resumes a paused instance.
func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	var req CompleteTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request payload: "+err.Error())
	}

	instance, err := h.engine.CompleteTask(c.Context(), c.Params("id"), req.Data)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(instance)
}

// RecoverInstance retries a failed instance from its last node.
func (h *APIHandlers) RecoverInstance(c fiber.Ctx) error {
	instance, err := h.engine.RecoverInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) ListPendingTasks(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"tasks": h.engine.ListPendingTasks()})
}

// CreateSnapshot captures an on-demand snapshot of an instance.
func (h *APIHandlers) CreateSnapshot(c fiber.Ctx) error {
	var req CreateSnapshotRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request payload: "+err.Error())
	}

	snapshot, err := h.engine.CreateSnapshot(c.Context(), c.Params("id"), req.Reason, req.Creator)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(snapshot)
}

func (h *APIHandlers) ListSnapshots(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"snapshots": h.engine.ListSnapshots(c.Params("id"))})
}

// RollbackSnapshot restores an instance to a stored snapshot.
func (h *APIHandlers) RollbackSnapshot(c fiber.Ctx) error {
	instance, err := h.engine.RollbackToSnapshot(c.Context(), c.Params("snapshotId"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(instance)
}

// BeginTransaction opens a logical transaction over an instance.
func (h *APIHandlers) BeginTransaction(c fiber.Ctx) error {
	txn, err := h.engine.BeginTransaction(c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(txn)
}

// RecordOperation appends an audit entry to an active transaction.
func (h *APIHandlers) RecordOperation(c fiber.Ctx) error {
	var req RecordOperationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request payload: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.engine.RecordOperation(c.Params("transactionId"), req.Name, req.Detail); err != nil {
		return handleRuntimeError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CommitTransaction snapshots current state and closes the transaction.
func (h *APIHandlers) CommitTransaction(c fiber.Ctx) error {
	snapshot, err := h.engine.CommitTransaction(c.Context(), c.Params("transactionId"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(snapshot)
}

// RollbackTransaction restores the transaction's base snapshot.
func (h *APIHandlers) RollbackTransaction(c fiber.Ctx) error {
	instance, err := h.engine.RollbackTransaction(c.Context(), c.Params("transactionId"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	if instance == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	return c.JSON(instance)
}

// CreateVersion registers a new version of a workflow.
func (h *APIHandlers) CreateVersion(c fiber.Ctx) error {
	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request payload: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := models.ValidateDefinition(req.Definition); err != nil {
		return badRequest(c, err.Error())
	}

	v, err := h.versions.CreateVersion(c.Context(), c.Params("id"), req.Definition, req.CreatedBy, req.Comment)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(v)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	versions, err := h.versions.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	number, err := versionNumber(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := h.versions.GetVersion(c.Context(), c.Params("id"), number)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(v)
}

func (h *APIHandlers) GetDefaultVersion(c fiber.Ctx) error {
	v, err := h.versions.GetDefaultVersion(c.Context(), c.Params("id"))
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(v)
}

func (h *APIHandlers) SetDefaultVersion(c fiber.Ctx) error {
	number, err := versionNumber(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := h.versions.SetDefaultVersion(c.Context(), c.Params("id"), number)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(v)
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	return h.transitionVersion(c, h.versions.PublishVersion)
}

func (h *APIHandlers) DeprecateVersion(c fiber.Ctx) error {
	return h.transitionVersion(c, h.versions.DeprecateVersion)
}

func (h *APIHandlers) ArchiveVersion(c fiber.Ctx) error {
	return h.transitionVersion(c, h.versions.ArchiveVersion)
}

func (h *APIHandlers) DeleteVersion(c fiber.Ctx) error {
	number, err := versionNumber(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.versions.DeleteVersion(c.Context(), c.Params("id"), number); err != nil {
		return handleRuntimeError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CompareVersions produces the structural diff between two versions.
func (h *APIHandlers) CompareVersions(c fiber.Ctx) error {
	from, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		return badRequest(c, "query parameter 'from' must be an integer")
	}

	to, err := strconv.Atoi(c.Query("to"))
	if err != nil {
		return badRequest(c, "query parameter 'to' must be an integer")
	}

	diff, err := h.versions.CompareVersions(c.Context(), c.Params("id"), from, to)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(diff)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func (h *APIHandlers) transitionVersion(
	c fiber.Ctx,
	transition func(ctx context.Context, workflowID string, number int) (*models.WorkflowVersion, error),
) error {
	number, err := versionNumber(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := transition(c.Context(), c.Params("id"), number)
	if err != nil {
		return handleRuntimeError(c, err)
	}

	return c.JSON(v)
}

func versionNumber(c fiber.Ctx) (int, error) {
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return 0, errors.New("version number must be an integer")
	}

	return number, nil
}
