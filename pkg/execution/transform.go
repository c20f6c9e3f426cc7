package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/template"
)

// TransformExecutor derives new variables from existing ones. The node's
// data carries a "mapping" of output names to template expressions; each is
// rendered against the task variables and emitted as output.
type TransformExecutor struct {
	logger *slog.Logger
}

func NewTransformExecutor(logger *slog.Logger) *TransformExecutor {
	return &TransformExecutor{logger: logger}
}

func (e *TransformExecutor) Type() string {
	return models.NodeTypeTransform
}

func (e *TransformExecutor) Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error) {
	mapping, ok := task.Node.Data["mapping"].(map[string]any)
	if !ok || len(mapping) == 0 {
		return nil, fmt.Errorf("transform node %s has no mapping", task.Node.ID)
	}

	scope := &template.Scope{
		InstanceID: task.InstanceID,
		WorkflowID: task.WorkflowID,
		NodeID:     task.Node.ID,
		Variables:  task.Variables,
	}

	output, err := template.RenderMap(mapping, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to render transform mapping: %w", err)
	}

	e.logger.Debug("executed transform node",
		"instance_id", task.InstanceID, "node_id", task.Node.ID, "outputs", len(output))

	return &models.TaskResult{
		Status: models.TaskStatusCompleted,
		Output: output,
	}, nil
}
