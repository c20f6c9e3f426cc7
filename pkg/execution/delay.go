package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
)

const defaultDelay = time.Second

// DelayExecutor pauses the branch for the node's configured duration_ms.
// The wait is context-aware so instance teardown is never blocked on it.
type DelayExecutor struct {
	logger *slog.Logger
}

func NewDelayExecutor(logger *slog.Logger) *DelayExecutor {
	return &DelayExecutor{logger: logger}
}

func (e *DelayExecutor) Type() string {
	return models.NodeTypeDelay
}

func (e *DelayExecutor) Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error) {
	delay := defaultDelay
	if ms, ok := asInt(task.Node.Data["duration_ms"]); ok && ms > 0 {
		delay = time.Duration(ms) * time.Millisecond
	}

	e.logger.Debug("executing delay node",
		"instance_id", task.InstanceID, "node_id", task.Node.ID, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &models.TaskResult{
		Status: models.TaskStatusCompleted,
		Output: map[string]any{"delayed_ms": delay.Milliseconds()},
	}, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}

	return 0, false
}
