package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// BeginTransaction starts a logical transaction over one instance. The most
// recent existing snapshot becomes the rollback base; if none exists the
// base is empty and rollback restores nothing.
func (m *Manager) BeginTransaction(instanceID string) *models.Transaction {
	txn := &models.Transaction{
		ID:             uuid.New().String(),
		InstanceID:     instanceID,
		BaseSnapshotID: m.latestSnapshotID(instanceID),
		Status:         models.TransactionStatusActive,
		StartedAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	m.transactions[txn.ID] = txn
	m.mu.Unlock()

	m.logger.Debug("began transaction",
		"instance_id", instanceID, "transaction_id", txn.ID, "base_snapshot_id", txn.BaseSnapshotID)

	return txn
}

// GetTransaction returns a transaction by id.
func (m *Manager) GetTransaction(transactionID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[transactionID]
	if !ok {
		return nil, persistence.ErrTransactionNotFound
	}

	return txn, nil
}

// RecordOperation appends an audit entry to an active transaction.
func (m *Manager) RecordOperation(transactionID, name string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[transactionID]
	if !ok {
		return persistence.ErrTransactionNotFound
	}

	if txn.Status != models.TransactionStatusActive {
		return fmt.Errorf("%w: transaction is %s", persistence.ErrInvalidState, txn.Status)
	}

	txn.Operations = append(txn.Operations, models.TransactionOperation{
		Name:      name,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})

	return nil
}

// CommitTransaction snapshots the instance's current state, tags the
// snapshot with the transaction id and operation count, and marks the
// transaction committed.
func (m *Manager) CommitTransaction(ctx context.Context, transactionID string, current *models.InstanceState) (*models.Snapshot, error) {
	m.mu.Lock()
	txn, ok := m.transactions[transactionID]

	if !ok {
		m.mu.Unlock()

		return nil, persistence.ErrTransactionNotFound
	}

	if txn.Status != models.TransactionStatusActive {
		m.mu.Unlock()

		return nil, fmt.Errorf("%w: transaction is %s", persistence.ErrInvalidState, txn.Status)
	}
	m.mu.Unlock()

	snapshot, err := m.CreateSnapshot(ctx, txn.InstanceID, current, models.SnapshotMetadata{
		Reason:        "transaction_commit",
		TransactionID: txn.ID,
		Operations:    len(txn.Operations),
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := time.Now().UTC()
	txn.Status = models.TransactionStatusCommitted
	txn.FinishedAt = &now
	m.mu.Unlock()

	return snapshot, nil
}

// RollbackTransaction restores the base snapshot's state (if any) and marks
// the transaction rolled back. The returned state is nil when the
// transaction had no base snapshot.
func (m *Manager) RollbackTransaction(ctx context.Context, transactionID string) (*models.InstanceState, error) {
	m.mu.Lock()
	txn, ok := m.transactions[transactionID]

	if !ok {
		m.mu.Unlock()

		return nil, persistence.ErrTransactionNotFound
	}

	if txn.Status != models.TransactionStatusActive {
		m.mu.Unlock()

		return nil, fmt.Errorf("%w: transaction is %s", persistence.ErrInvalidState, txn.Status)
	}
	m.mu.Unlock()

	var restored *models.InstanceState

	if txn.BaseSnapshotID != "" {
		state, err := m.RollbackToSnapshot(ctx, txn.BaseSnapshotID)
		if err != nil {
			return nil, err
		}

		restored = state
	}

	m.mu.Lock()
	now := time.Now().UTC()
	txn.Status = models.TransactionStatusRolledBack
	txn.FinishedAt = &now
	m.mu.Unlock()

	m.logger.Info("rolled back transaction",
		"instance_id", txn.InstanceID, "transaction_id", txn.ID)

	return restored, nil
}
