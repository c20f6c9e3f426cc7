package engine

import (
	"context"
	"time"

	"github.com/dukex/tokenflow/pkg/events"
	"github.com/dukex/tokenflow/pkg/models"
)

// pauseInstance flips the instance to PAUSED, records the pending task, and
// halts every branch of the current run. Only an explicit CompleteTask
// resumes it.
func (e *Engine) pauseInstance(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, node *models.Node, taskData map[string]any) {
	run.halt()

	e.mu.Lock()

	if !instance.Status.CanTransitionTo(models.InstanceStatusPaused) {
		e.mu.Unlock()
		e.logger.Warn("cannot pause instance",
			"instance_id", instance.ID, "status", instance.Status)

		return
	}

	instance.Status = models.InstanceStatusPaused
	instance.CurrentNodeID = node.ID
	instance.UpdatedAt = time.Now().UTC()

	e.pending[instance.ID] = &models.PendingTask{
		InstanceID:  instance.ID,
		WorkflowID:  instance.WorkflowID,
		CurrentNode: node.ID,
		NodeType:    node.Type,
		TaskData:    taskData,
	}
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		e.logger.Error("failed to persist paused instance",
			"instance_id", instance.ID, "error", err)
	}

	e.events.Emit(ctx, instance.ID, events.InstancePaused{
		BaseEvent: events.NewBase(events.InstancePausedEvent, instance.WorkflowID, instance.ID),
		NodeID:    node.ID,
		TaskData:  taskData,
	})

	e.logger.Info("instance paused",
		"instance_id", instance.ID, "node_id", node.ID, "node_type", node.Type)
}

// completeInstance transitions the drained instance to COMPLETED and tears
// down its runtime state.
func (e *Engine) completeInstance(ctx context.Context, run *instanceRun, instance *models.ProcessInstance) {
	run.halt()

	e.mu.Lock()

	if !instance.Status.CanTransitionTo(models.InstanceStatusCompleted) {
		e.mu.Unlock()

		return
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now
	instance.UpdatedAt = now
	result := models.DeepCopyMap(instance.ProcessData)
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		e.logger.Error("failed to persist completed instance",
			"instance_id", instance.ID, "error", err)
	}

	e.teardown(ctx, instance, models.InstanceStatusCompleted)

	e.events.Emit(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent: events.NewBase(events.InstanceCompletedEvent, instance.WorkflowID, instance.ID),
		Result:    result,
		Duration:  now.Sub(instance.CreatedAt),
	})

	e.logger.Info("instance completed",
		"instance_id", instance.ID, "workflow_id", instance.WorkflowID,
		"duration", now.Sub(instance.CreatedAt))
}

// failInstance transitions the instance to FAILED, retaining error, last
// node, and history for diagnosis, and tears down its runtime state.
func (e *Engine) failInstance(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, cause error, nodeID string) {
	run.halt()

	e.mu.Lock()

	if !instance.Status.CanTransitionTo(models.InstanceStatusFailed) {
		e.mu.Unlock()

		return
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusFailed
	instance.Error = cause.Error()
	instance.CurrentNodeID = nodeID
	instance.CompletedAt = &now
	instance.UpdatedAt = now
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		e.logger.Error("failed to persist failed instance",
			"instance_id", instance.ID, "error", err)
	}

	e.teardown(ctx, instance, models.InstanceStatusFailed)

	e.events.Emit(ctx, instance.ID, events.InstanceFailed{
		BaseEvent: events.NewBase(events.InstanceFailedEvent, instance.WorkflowID, instance.ID),
		NodeID:    nodeID,
		Error:     cause.Error(),
		Duration:  now.Sub(instance.CreatedAt),
	})

	e.logger.Error("instance failed",
		"instance_id", instance.ID, "node_id", nodeID, "error", cause)
}

// teardown clears per-instance runtime bookkeeping and unbinds the instance
// from its version with the outcome tally. Snapshots are kept for
// diagnosis and rollback.
func (e *Engine) teardown(ctx context.Context, instance *models.ProcessInstance, outcome models.InstanceStatus) {
	e.tokens.Clear(instance.ID)
	e.gateways.Clear(instance.ID)
	e.timeouts.Clear(instance.ID)
	e.retries.Clear(instance.ID)

	e.mu.Lock()
	delete(e.pending, instance.ID)
	e.mu.Unlock()

	if instance.Version > 0 {
		if err := e.versions.UnbindInstance(ctx, instance.ID, outcome); err != nil {
			e.logger.Warn("failed to unbind instance from version",
				"instance_id", instance.ID, "version", instance.Version, "error", err)
		}
	}
}

// checkpoint snapshots the instance's full state after a successful node.
func (e *Engine) checkpoint(ctx context.Context, instance *models.ProcessInstance, nodeID string) {
	snapshot, err := e.state.CreateSnapshot(ctx, instance.ID, e.captureState(instance), models.SnapshotMetadata{
		Reason: "checkpoint",
		NodeID: nodeID,
	})
	if err != nil {
		e.logger.Warn("checkpoint failed",
			"instance_id", instance.ID, "node_id", nodeID, "error", err)

		return
	}

	e.events.Emit(ctx, instance.ID, events.SnapshotCreated{
		BaseEvent:  events.NewBase(events.SnapshotCreatedEvent, instance.WorkflowID, instance.ID),
		SnapshotID: snapshot.ID,
		Reason:     "checkpoint",
	})
}

// captureState assembles the deep-copied state tree of an instance.
func (e *Engine) captureState(instance *models.ProcessInstance) *models.InstanceState {
	e.mu.RLock()
	clone := instance.Clone()
	e.mu.RUnlock()

	return &models.InstanceState{
		Instance:      clone,
		Tokens:        e.tokens.Export(instance.ID),
		GatewayStates: e.gateways.Export(instance.ID),
	}
}

// restoreState installs a state tree as the instance's live state.
func (e *Engine) restoreState(ctx context.Context, restored *models.InstanceState) (*models.ProcessInstance, error) {
	instance := restored.Instance

	e.mu.Lock()
	e.instances[instance.ID] = instance
	e.runs[instance.ID] = &instanceRun{}
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		return nil, err
	}

	e.tokens.Restore(instance.ID, restored.Tokens)
	e.gateways.Restore(instance.ID, restored.GatewayStates)

	return instance, nil
}
