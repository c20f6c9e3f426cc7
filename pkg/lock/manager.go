// Package lock provides TTL-bounded, heartbeat-renewed exclusive locks for
// coordination across engine replicas.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// Options control one acquisition attempt.
type Options struct {
	TTL            time.Duration
	AcquireTimeout time.Duration
	RetryDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}

	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}

	return o
}

type heldLock struct {
	lock   *models.Lock
	ttl    time.Duration
	cancel context.CancelFunc
}

// Manager acquires and releases locks through a persistence.LockStore. The
// store's atomic create-if-absent is the mutual-exclusion primitive; the
// manager adds retry, TTL heartbeat renewal, and expired-record takeover.
type Manager struct {
	holderID string
	store    persistence.LockStore
	logger   *slog.Logger

	mu   sync.Mutex
	held map[string]*heldLock
}

// NewManager creates a lock manager with a unique holder identity.
func NewManager(store persistence.LockStore, logger *slog.Logger) *Manager {
	return &Manager{
		holderID: uuid.New().String(),
		store:    store,
		logger:   logger,
		held:     make(map[string]*heldLock),
	}
}

// HolderID returns this manager's holder identity.
func (m *Manager) HolderID() string {
	return m.holderID
}

// AcquireLock attempts an exclusive create of the lock record. On
// contention with a live record it retries until AcquireTimeout elapses and
// then fails with ErrLockContention; an expired record is removed and the
// create retried. On success a heartbeat goroutine extends the TTL until
// release.
func (m *Manager) AcquireLock(ctx context.Context, key string, opts Options) (*models.Lock, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.AcquireTimeout)

	for {
		now := time.Now().UTC()
		candidate := &models.Lock{
			Key:        key,
			HolderID:   m.holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(opts.TTL),
		}

		err := m.store.Create(ctx, candidate)
		if err == nil {
			m.startHeartbeat(candidate, opts.TTL)
			m.logger.Debug("acquired lock", "key", key, "holder_id", m.holderID)

			return candidate, nil
		}

		if !errors.Is(err, persistence.ErrLockHeld) {
			return nil, err
		}

		current, getErr := m.store.Get(ctx, key)
		if getErr == nil && current.IsExpired(time.Now()) {
			// Crashed holder; reclaim and retry immediately.
			if delErr := m.store.Delete(ctx, current.Key, current.HolderID); delErr != nil {
				m.logger.Warn("failed to reclaim expired lock", "key", key, "error", delErr)
			}

			continue
		}

		if time.Now().After(deadline) {
			return nil, &persistence.LockError{Op: "Acquire", Key: key, Err: persistence.ErrLockContention}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
}

// ReleaseLock stops the heartbeat and deletes the record if this manager is
// the holder. Releasing an unheld or already absent lock is not an error.
func (m *Manager) ReleaseLock(ctx context.Context, key string) error {
	m.mu.Lock()
	held, ok := m.held[key]

	if ok {
		held.cancel()
		delete(m.held, key)
	}
	m.mu.Unlock()

	err := m.store.Delete(ctx, key, m.holderID)
	if err != nil && !errors.Is(err, persistence.ErrNotLockHolder) {
		return err
	}

	m.logger.Debug("released lock", "key", key, "holder_id", m.holderID)

	return nil
}

// SweepExpired removes every expired lock record and returns the count.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, time.Now())
}

// ReleaseAll releases every lock this manager still holds, used on shutdown.
func (m *Manager) ReleaseAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.held))

	for key := range m.held {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.ReleaseLock(ctx, key); err != nil {
			m.logger.Warn("failed to release lock on shutdown", "key", key, "error", err)
		}
	}
}

// startHeartbeat renews the lock at a third of its TTL until cancelled.
func (m *Manager) startHeartbeat(lock *models.Lock, ttl time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.held[lock.Key] = &heldLock{lock: lock, ttl: ttl, cancel: cancel}
	m.mu.Unlock()

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed := *lock
				renewed.ExpiresAt = time.Now().UTC().Add(ttl)

				if err := m.store.Update(ctx, &renewed); err != nil {
					m.logger.Warn("lock heartbeat failed",
						"key", lock.Key, "holder_id", m.holderID, "error", err)

					return
				}

				lock.ExpiresAt = renewed.ExpiresAt
			}
		}
	}()
}
