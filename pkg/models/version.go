package models

import "time"

// VersionStatus is the lifecycle state of a workflow definition version.
type VersionStatus string

const (
	VersionStatusDraft      VersionStatus = "DRAFT"
	VersionStatusPublished  VersionStatus = "PUBLISHED"
	VersionStatusDeprecated VersionStatus = "DEPRECATED"
	VersionStatusArchived   VersionStatus = "ARCHIVED"
)

// versionTransitions is the closed set of legal version lifecycle steps.
var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionStatusDraft:      {VersionStatusPublished},
	VersionStatusPublished:  {VersionStatusDeprecated},
	VersionStatusDeprecated: {VersionStatusArchived},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s VersionStatus) CanTransitionTo(next VersionStatus) bool {
	for _, allowed := range versionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// VersionUsage tracks how many instances a version has served.
type VersionUsage struct {
	InstanceCount   int `json:"instance_count"`
	ActiveInstances int `json:"active_instances"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
}

// WorkflowVersion is one immutable revision of a workflow definition.
// Version numbers are monotonic per workflow, starting at 1. Exactly one
// version per workflow may be the default.
type WorkflowVersion struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflow_id"`
	Version    int                 `json:"version"`
	Status     VersionStatus       `json:"status"`
	Definition *WorkflowDefinition `json:"definition"`
	IsDefault  bool                `json:"is_default"`
	Usage      VersionUsage        `json:"usage"`
	CreatedBy  string              `json:"created_by,omitempty"`
	Comment    string              `json:"comment,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// VersionDiff is a structural comparison of two versions of one workflow.
type VersionDiff struct {
	WorkflowID          string   `json:"workflow_id"`
	FromVersion         int      `json:"from_version"`
	ToVersion           int      `json:"to_version"`
	NodesAdded          []string `json:"nodes_added"`
	NodesRemoved        []string `json:"nodes_removed"`
	NodesModified       []string `json:"nodes_modified"`
	ConnectionsAdded    []string `json:"connections_added"`
	ConnectionsRemoved  []string `json:"connections_removed"`
	ConnectionsModified []string `json:"connections_modified"`
}

// Identical reports whether the diff found no structural changes.
func (d *VersionDiff) Identical() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 && len(d.NodesModified) == 0 &&
		len(d.ConnectionsAdded) == 0 && len(d.ConnectionsRemoved) == 0 && len(d.ConnectionsModified) == 0
}
