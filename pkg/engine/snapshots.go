package engine

import (
	"context"

	"github.com/dukex/tokenflow/pkg/events"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// CreateSnapshot captures the instance's full state on demand.
func (e *Engine) CreateSnapshot(ctx context.Context, instanceID, reason, creator string) (*models.Snapshot, error) {
	instance, err := e.instance(instanceID)
	if err != nil {
		return nil, err
	}

	snapshot, err := e.state.CreateSnapshot(ctx, instanceID, e.captureState(instance), models.SnapshotMetadata{
		Reason:  reason,
		Creator: creator,
		NodeID:  instance.CurrentNodeID,
	})
	if err != nil {
		return nil, err
	}

	e.events.Emit(ctx, instanceID, events.SnapshotCreated{
		BaseEvent:  events.NewBase(events.SnapshotCreatedEvent, instance.WorkflowID, instanceID),
		SnapshotID: snapshot.ID,
		Reason:     reason,
	})

	return snapshot, nil
}

// ListSnapshots returns the instance's snapshots oldest first.
func (e *Engine) ListSnapshots(instanceID string) []*models.Snapshot {
	return e.state.ListSnapshots(instanceID)
}

// RollbackToSnapshot halts the instance's current execution and installs
// the snapshot's state as its live state. The stored snapshot is never
// mutated, so repeating the rollback yields an identical result.
func (e *Engine) RollbackToSnapshot(ctx context.Context, snapshotID string) (*models.ProcessInstance, error) {
	restored, err := e.state.RollbackToSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	e.haltRun(restored.Instance.ID)

	return e.restoreState(ctx, restored)
}

// BeginTransaction starts a logical transaction over an instance.
func (e *Engine) BeginTransaction(instanceID string) (*models.Transaction, error) {
	if _, err := e.instance(instanceID); err != nil {
		return nil, err
	}

	return e.state.BeginTransaction(instanceID), nil
}

// RecordOperation appends an audit entry to an active transaction.
func (e *Engine) RecordOperation(transactionID, name string, detail map[string]any) error {
	return e.state.RecordOperation(transactionID, name, detail)
}

// CommitTransaction snapshots the owning instance's current state and marks
// the transaction committed.
func (e *Engine) CommitTransaction(ctx context.Context, transactionID string) (*models.Snapshot, error) {
	txn, err := e.state.GetTransaction(transactionID)
	if err != nil {
		return nil, err
	}

	instance, err := e.instance(txn.InstanceID)
	if err != nil {
		return nil, err
	}

	return e.state.CommitTransaction(ctx, transactionID, e.captureState(instance))
}

// RollbackTransaction restores the transaction's base snapshot, if any, and
// marks it rolled back.
func (e *Engine) RollbackTransaction(ctx context.Context, transactionID string) (*models.ProcessInstance, error) {
	restored, err := e.state.RollbackTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if restored == nil {
		return nil, nil
	}

	e.haltRun(restored.Instance.ID)

	return e.restoreState(ctx, restored)
}

func (e *Engine) instance(instanceID string) (*models.ProcessInstance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	instance, ok := e.instances[instanceID]
	if !ok {
		return nil, persistence.NewInstanceError("GetInstance", instanceID, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (e *Engine) haltRun(instanceID string) {
	e.mu.RLock()
	run := e.runs[instanceID]
	e.mu.RUnlock()

	if run != nil {
		run.halt()
	}
}
