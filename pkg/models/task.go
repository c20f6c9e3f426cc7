package models

// TaskStatus is the outcome contract between the runtime and task executors.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusWaiting   TaskStatus = "WAITING"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// TaskResult is what a task executor returns for one node execution.
type TaskResult struct {
	Status TaskStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PendingTask describes a paused instance waiting for external input.
type PendingTask struct {
	InstanceID  string         `json:"instance_id"`
	WorkflowID  string         `json:"workflow_id"`
	CurrentNode string         `json:"current_node"`
	NodeType    string         `json:"node_type,omitempty"`
	TaskData    map[string]any `json:"task_data,omitempty"`
}
