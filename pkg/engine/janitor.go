package engine

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dukex/tokenflow/pkg/lock"
)

// Janitor periodically sweeps expired distributed locks so crashed holders
// never block replicas for longer than one sweep interval past the TTL.
type Janitor struct {
	cron   *cron.Cron
	locks  *lock.Manager
	logger *slog.Logger
}

// NewJanitor creates a janitor over the lock manager.
func NewJanitor(locks *lock.Manager, logger *slog.Logger) *Janitor {
	return &Janitor{
		cron:   cron.New(),
		locks:  locks,
		logger: logger.With("module", "janitor"),
	}
}

// Start schedules the sweep with the given cron spec (e.g. "@every 30s").
func (j *Janitor) Start(spec string) error {
	_, err := j.cron.AddFunc(spec, func() {
		removed, err := j.locks.SweepExpired(context.Background())
		if err != nil {
			j.logger.Warn("lock sweep failed", "error", err)

			return
		}

		if removed > 0 {
			j.logger.Info("swept expired locks", "removed", removed)
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()

	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
