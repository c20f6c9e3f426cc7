package web

import "github.com/dukex/tokenflow/pkg/models"

// StartWorkflowRequest starts a new instance of a registered workflow.
type StartWorkflowRequest struct {
	Input     map[string]any `json:"input"`
	Initiator string         `json:"initiator" validate:"required"`
	Version   int            `json:"version,omitempty"   validate:"gte=0"`
}

// CompleteTaskRequest resumes a paused instance with external input.
type CompleteTaskRequest struct {
	Data map[string]any `json:"data"`
}

// CreateSnapshotRequest captures an on-demand snapshot.
type CreateSnapshotRequest struct {
	Reason  string `json:"reason"`
	Creator string `json:"creator"`
}

// CreateVersionRequest registers a new version of a workflow definition.
type CreateVersionRequest struct {
	Definition *models.WorkflowDefinition `json:"definition" validate:"required"`
	CreatedBy  string                     `json:"created_by"`
	Comment    string                     `json:"comment"`
}

// RecordOperationRequest appends an audit entry to a transaction.
type RecordOperationRequest struct {
	Name   string         `json:"name" validate:"required"`
	Detail map[string]any `json:"detail,omitempty"`
}
