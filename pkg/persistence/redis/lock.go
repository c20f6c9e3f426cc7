// Package redis provides a Redis-backed lock store for multi-replica
// deployments where the runtime's persistence backend has no shared
// exclusive-create primitive of its own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

const keyPrefix = "tokenflow:lock:"

// releaseScript deletes the lock only if the stored holder matches, so a
// slow holder can never release a lock reacquired by someone else.
var releaseScript = redis.NewScript(`
	local raw = redis.call("GET", KEYS[1])
	if raw == false then
		return -1
	end
	local lock = cjson.decode(raw)
	if lock.holder_id ~= ARGV[1] then
		return 0
	end
	redis.call("DEL", KEYS[1])
	return 1
`)

// renewScript rewrites the record and extends the TTL only for the holder.
var renewScript = redis.NewScript(`
	local raw = redis.call("GET", KEYS[1])
	if raw == false then
		return -1
	end
	local lock = cjson.decode(raw)
	if lock.holder_id ~= ARGV[1] then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
`)

// LockStore implements persistence.LockStore on Redis. SET NX with a
// millisecond TTL is the atomic create-if-absent primitive; Redis expiry
// doubles as the crashed-holder reclaim path, so DeleteExpired has nothing
// to sweep.
type LockStore struct {
	client redis.UniversalClient
}

// NewLockStore creates a lock store over an existing Redis client.
func NewLockStore(client redis.UniversalClient) *LockStore {
	return &LockStore{client: client}
}

func (s *LockStore) Create(ctx context.Context, lock *models.Lock) error {
	payload, err := json.Marshal(lock)
	if err != nil {
		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: errors.New("lock already expired")}
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+lock.Key, payload, ttl).Result()
	if err != nil {
		return &persistence.LockError{Op: "Create", Key: lock.Key, Err: err}
	}

	if !ok {
		return persistence.ErrLockHeld
	}

	return nil
}

func (s *LockStore) Get(ctx context.Context, key string) (*models.Lock, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrLockNotFound
	}

	if err != nil {
		return nil, &persistence.LockError{Op: "Get", Key: key, Err: err}
	}

	var lock models.Lock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, &persistence.LockError{Op: "Get", Key: key, Err: err}
	}

	return &lock, nil
}

func (s *LockStore) Update(ctx context.Context, lock *models.Lock) error {
	payload, err := json.Marshal(lock)
	if err != nil {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: err}
	}

	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: errors.New("expiry is in the past")}
	}

	result, err := renewScript.Run(ctx, s.client,
		[]string{keyPrefix + lock.Key}, lock.HolderID, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return &persistence.LockError{Op: "Update", Key: lock.Key, Err: err}
	}

	switch result {
	case -1:
		return persistence.ErrLockNotFound
	case 0:
		return persistence.ErrNotLockHolder
	}

	return nil
}

func (s *LockStore) Delete(ctx context.Context, key, holderID string) error {
	result, err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}, holderID).Int()
	if err != nil {
		return &persistence.LockError{Op: "Delete", Key: key, Err: err}
	}

	if result == 0 {
		return persistence.ErrNotLockHolder
	}

	return nil
}

// DeleteExpired is a no-op: Redis TTL expiry already reclaims crashed
// holders' locks.
func (s *LockStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Connect opens a Redis client from a URL (redis://host:port/db).
func Connect(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return redis.NewClient(opts), nil
}
