package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// LockStore implements the exclusive-create lock primitive with a
// conditional insert. The primary-key conflict clause is what makes Create
// atomic across replicas sharing the database.
type LockStore struct {
	db *sql.DB
}

func (s *LockStore) Create(ctx context.Context, lock *models.Lock) error {
	query := `
		INSERT INTO distributed_locks (key, holder_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, lock.Key, lock.HolderID, lock.AcquiredAt, lock.ExpiresAt)
	if err != nil {
		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	if affected == 0 {
		return persistence.ErrLockHeld
	}

	return nil
}

func (s *LockStore) Get(ctx context.Context, key string) (*models.Lock, error) {
	var lock models.Lock

	err := s.db.QueryRowContext(ctx,
		"SELECT key, holder_id, acquired_at, expires_at FROM distributed_locks WHERE key = $1", key).
		Scan(&lock.Key, &lock.HolderID, &lock.AcquiredAt, &lock.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrLockNotFound
	}

	if err != nil {
		return nil, &persistence.LockError{Op: "Get", Key: key, Err: err}
	}

	return &lock, nil
}

func (s *LockStore) Update(ctx context.Context, lock *models.Lock) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE distributed_locks SET expires_at = $1 WHERE key = $2 AND holder_id = $3",
		lock.ExpiresAt, lock.Key, lock.HolderID)
	if err != nil {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: err}
	}

	if affected == 0 {
		return persistence.ErrNotLockHolder
	}

	return nil
}

func (s *LockStore) Delete(ctx context.Context, key, holderID string) error {
	current, err := s.Get(ctx, key)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil
		}

		return err
	}

	if current.HolderID != holderID {
		return persistence.ErrNotLockHolder
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM distributed_locks WHERE key = $1 AND holder_id = $2", key, holderID)
	if err != nil {
		return &persistence.LockError{Op: "Delete", Key: key, Err: err}
	}

	return nil
}

func (s *LockStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM distributed_locks WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}

	return int(affected), nil
}
