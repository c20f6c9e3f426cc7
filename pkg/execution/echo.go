package execution

import (
	"context"
	"log/slog"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/template"
)

// EchoExecutor is the fallback for node types without a dedicated executor,
// covering plain task, start, and end nodes. It renders the node's declared
// output (if any) and completes.
type EchoExecutor struct {
	logger *slog.Logger
}

func NewEchoExecutor(logger *slog.Logger) *EchoExecutor {
	return &EchoExecutor{logger: logger}
}

func (e *EchoExecutor) Type() string {
	return models.NodeTypeTask
}

func (e *EchoExecutor) Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error) {
	result := &models.TaskResult{Status: models.TaskStatusCompleted}

	if output, ok := task.Node.Data["output"].(map[string]any); ok {
		scope := &template.Scope{
			InstanceID: task.InstanceID,
			WorkflowID: task.WorkflowID,
			NodeID:     task.Node.ID,
			Variables:  task.Variables,
		}

		rendered, err := template.RenderMap(output, scope)
		if err != nil {
			return nil, err
		}

		result.Output = rendered
	}

	e.logger.Debug("executed node",
		"instance_id", task.InstanceID, "node_id", task.Node.ID, "node_type", task.Node.Type)

	return result, nil
}
