package models

import "time"

// InstanceStatus is the lifecycle state of a process instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "PENDING"
	InstanceStatusRunning   InstanceStatus = "RUNNING"
	InstanceStatusPaused    InstanceStatus = "PAUSED"
	InstanceStatusCompleted InstanceStatus = "COMPLETED"
	InstanceStatusFailed    InstanceStatus = "FAILED"
)

// instanceTransitions is the closed set of legal status transitions. Terminal
// states allow RUNNING again only via explicit recovery (FAILED -> RUNNING).
var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusPending: {InstanceStatusRunning, InstanceStatusFailed},
	InstanceStatusRunning: {InstanceStatusPaused, InstanceStatusCompleted, InstanceStatusFailed},
	InstanceStatusPaused:  {InstanceStatusRunning, InstanceStatusFailed},
	InstanceStatusFailed:  {InstanceStatusRunning},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s InstanceStatus) CanTransitionTo(next InstanceStatus) bool {
	for _, allowed := range instanceTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether the status ends the instance lifecycle.
// FAILED is terminal but recoverable.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed
}

// ExecutionEntry is one record in an instance's ordered execution history.
type ExecutionEntry struct {
	NodeID    string         `json:"node_id"`
	NodeType  string         `json:"node_type"`
	TokenID   string         `json:"token_id,omitempty"`
	Status    string         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProcessInstance is one execution of a workflow definition. It is owned by
// the engine's execution path for that instance and mutated only through
// engine methods.
type ProcessInstance struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	Version          int              `json:"version,omitempty"`
	Status           InstanceStatus   `json:"status"`
	CurrentNodeID    string           `json:"current_node_id,omitempty"`
	ProcessData      map[string]any   `json:"process_data"`
	ExecutionHistory []ExecutionEntry `json:"execution_history"`
	Initiator        string           `json:"initiator,omitempty"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// RecordExecution appends an entry to the instance's execution history.
func (p *ProcessInstance) RecordExecution(entry ExecutionEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	p.ExecutionHistory = append(p.ExecutionHistory, entry)
	p.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the instance.
func (p *ProcessInstance) Clone() *ProcessInstance {
	clone := *p
	clone.ProcessData = DeepCopyMap(p.ProcessData)
	clone.ExecutionHistory = make([]ExecutionEntry, len(p.ExecutionHistory))

	for i, entry := range p.ExecutionHistory {
		entryCopy := entry
		entryCopy.Output = DeepCopyMap(entry.Output)
		clone.ExecutionHistory[i] = entryCopy
	}

	if p.CompletedAt != nil {
		completedAt := *p.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
