package execution

import (
	"context"
	"log/slog"

	"github.com/dukex/tokenflow/pkg/models"
)

// UserTaskExecutor suspends the branch until external input arrives. It
// serves both user_task and approval nodes; the engine pauses the instance
// on the returned WAITING status and resumes through CompleteTask.
type UserTaskExecutor struct {
	nodeType string
	logger   *slog.Logger
}

func NewUserTaskExecutor(nodeType string, logger *slog.Logger) *UserTaskExecutor {
	return &UserTaskExecutor{nodeType: nodeType, logger: logger}
}

func (e *UserTaskExecutor) Type() string {
	return e.nodeType
}

func (e *UserTaskExecutor) Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error) {
	taskData := map[string]any{
		"node_id":   task.Node.ID,
		"node_type": task.Node.Type,
	}

	for _, key := range []string{"assignee", "form", "title", "description", "candidates"} {
		if value, ok := task.Node.Data[key]; ok {
			taskData[key] = value
		}
	}

	e.logger.Info("task waiting for external input",
		"instance_id", task.InstanceID, "node_id", task.Node.ID, "node_type", task.Node.Type)

	return &models.TaskResult{
		Status: models.TaskStatusWaiting,
		Output: taskData,
	}, nil
}
