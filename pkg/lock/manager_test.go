package lock

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/persistence/file"
)

func newStore(t *testing.T) persistence.LockStore {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	return store.LockStore()
}

func TestAcquireRelease(t *testing.T) {
	m := NewManager(newStore(t), slog.Default())

	lock, err := m.AcquireLock(context.Background(), "workflow:wf-1", Options{TTL: time.Second})
	require.NoError(t, err)
	assert.Equal(t, m.HolderID(), lock.HolderID)

	require.NoError(t, m.ReleaseLock(context.Background(), "workflow:wf-1"))

	// Released locks can be re-acquired immediately.
	_, err = m.AcquireLock(context.Background(), "workflow:wf-1", Options{TTL: time.Second})
	require.NoError(t, err)
}

func TestAcquire_ConcurrentCallersExactlyOneWins(t *testing.T) {
	store := newStore(t)

	const callers = 8

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    int
		losers int
	)

	opts := Options{TTL: 10 * time.Second, AcquireTimeout: 200 * time.Millisecond, RetryDelay: 20 * time.Millisecond}

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			m := NewManager(store, slog.Default())

			_, err := m.AcquireLock(context.Background(), "contended", opts)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				won++
			} else {
				assert.ErrorIs(t, err, persistence.ErrLockContention)
				losers++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, callers-1, losers)
}

func TestAcquire_ExpiredLockIsReclaimed(t *testing.T) {
	store := newStore(t)

	// Simulate a crashed holder: a record with an elapsed TTL and no
	// heartbeat goroutine renewing it.
	crashed := NewManager(store, slog.Default())
	lock, err := crashed.AcquireLock(context.Background(), "stale", Options{TTL: 20 * time.Millisecond})
	require.NoError(t, err)

	crashed.mu.Lock()
	crashed.held[lock.Key].cancel()
	delete(crashed.held, lock.Key)
	crashed.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	m := NewManager(store, slog.Default())

	reclaimed, err := m.AcquireLock(context.Background(), "stale",
		Options{TTL: time.Second, AcquireTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, m.HolderID(), reclaimed.HolderID)
}

func TestHeartbeat_ExtendsLockBeyondTTL(t *testing.T) {
	store := newStore(t)
	m := NewManager(store, slog.Default())

	_, err := m.AcquireLock(context.Background(), "renewed", Options{TTL: 90 * time.Millisecond})
	require.NoError(t, err)

	// Well past the original TTL the record must still be live.
	time.Sleep(250 * time.Millisecond)

	current, err := store.Get(context.Background(), "renewed")
	require.NoError(t, err)
	assert.False(t, current.IsExpired(time.Now()))
}

func TestRelease_Idempotent(t *testing.T) {
	m := NewManager(newStore(t), slog.Default())

	_, err := m.AcquireLock(context.Background(), "k", Options{TTL: time.Second})
	require.NoError(t, err)

	require.NoError(t, m.ReleaseLock(context.Background(), "k"))
	require.NoError(t, m.ReleaseLock(context.Background(), "k"))
}

func TestRelease_NonHolderDoesNotSteal(t *testing.T) {
	store := newStore(t)

	holder := NewManager(store, slog.Default())
	_, err := holder.AcquireLock(context.Background(), "owned", Options{TTL: 10 * time.Second})
	require.NoError(t, err)

	other := NewManager(store, slog.Default())
	require.NoError(t, other.ReleaseLock(context.Background(), "owned"))

	// The record survives a non-holder release.
	current, err := store.Get(context.Background(), "owned")
	require.NoError(t, err)
	assert.Equal(t, holder.HolderID(), current.HolderID)
}

func TestSweepExpired(t *testing.T) {
	store := newStore(t)
	m := NewManager(store, slog.Default())

	lock, err := m.AcquireLock(context.Background(), "sweep-me", Options{TTL: 20 * time.Millisecond})
	require.NoError(t, err)

	m.mu.Lock()
	m.held[lock.Key].cancel()
	delete(m.held, lock.Key)
	m.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	swept, err := m.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}
