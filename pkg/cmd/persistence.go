// Package cmd holds shared factories for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/tokenflow/pkg/lock"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/persistence/file"
	"github.com/dukex/tokenflow/pkg/persistence/postgresql"
	"github.com/dukex/tokenflow/pkg/persistence/redis"
)

// NewPersistence picks the persistence backend from the database URL
// scheme: postgres/postgresql for PostgreSQL, anything else for the
// file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgresql: %w", err))
		}

		return store
	default:
		store, err := file.NewPersistence(databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to open file persistence: %w", err))
		}

		return store
	}
}

// NewLockManager builds the distributed lock manager, optionally over a
// dedicated redis lock store when a redis URL is given; otherwise the
// persistence backend's lock store is used.
func NewLockManager(store persistence.Persistence, redisURL string, logger *slog.Logger) *lock.Manager {
	if redisURL == "" {
		return lock.NewManager(store.LockStore(), logger)
	}

	client, err := redis.Connect(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	return lock.NewManager(redis.NewLockStore(client), logger)
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)

	return parts[0]
}
