package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// LockStore implements the exclusive-create lock primitive on the local
// filesystem. O_CREATE|O_EXCL gives the atomic create-if-absent guarantee;
// a single writeJSON rename would not, because rename replaces silently.
type LockStore struct {
	root string
}

// lockPath encodes the key so arbitrary lock keys map to safe file names.
func (s *LockStore) lockPath(key string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(key))

	return filepath.Join(s.root, "locks", encoded+".json")
}

func (s *LockStore) Create(_ context.Context, lock *models.Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to serialize lock %s: %w", lock.Key, err)
	}

	file, err := os.OpenFile(s.lockPath(lock.Key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return persistence.ErrLockHeld
		}

		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(s.lockPath(lock.Key))

		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	return file.Close()
}

func (s *LockStore) Get(_ context.Context, key string) (*models.Lock, error) {
	var lock models.Lock

	if err := readJSON(s.lockPath(key), &lock); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrLockNotFound
		}

		return nil, &persistence.LockError{Op: "Get", Key: key, Err: err}
	}

	return &lock, nil
}

// Update extends an existing lock record. The caller must be the holder.
func (s *LockStore) Update(ctx context.Context, lock *models.Lock) error {
	current, err := s.Get(ctx, lock.Key)
	if err != nil {
		return err
	}

	if current.HolderID != lock.HolderID {
		return persistence.ErrNotLockHolder
	}

	if err := writeJSON(s.lockPath(lock.Key), lock); err != nil {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: err}
	}

	return nil
}

// Delete removes the lock record if held by holderID. Deleting an absent
// lock is not an error.
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

	if err := os.Remove(s.lockPath(key)); err != nil && !os.IsNotExist(err) {
		return &persistence.LockError{Op: "Delete", Key: key, Err: err}
	}

	return nil
}

// DeleteExpired removes every lock whose TTL elapsed before now and returns
// how many were swept.
func (s *LockStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	dir := filepath.Join(s.root, "locks")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to list locks: %w", err)
	}

	swept := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var lock models.Lock
		if err := readJSON(filepath.Join(dir, entry.Name()), &lock); err != nil {
			continue
		}

		if lock.IsExpired(now) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				swept++
			}
		}
	}

	return swept, nil
}
