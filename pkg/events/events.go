// Package events defines event types for instance lifecycle notifications
// and the per-instance event history manager.
package events

import (
	"time"

	"github.com/dukex/tokenflow/pkg/models"
)

type EventType string

// Broadcast topic.
const Topic = "tokenflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstancePausedEvent    EventType = "instance.paused"
	InstanceResumedEvent   EventType = "instance.resumed"
	InstanceRecoveredEvent EventType = "instance.recovered"

	// Node execution events.
	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"

	// Token lifecycle events.
	TokenForkedEvent EventType = "token.forked"
	TokenMergedEvent EventType = "token.merged"

	// State events.
	SnapshotCreatedEvent EventType = "snapshot.created"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	InstanceID string         `json:"instance_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e BaseEvent) GetType() EventType {
	return e.Type
}

type InstanceStarted struct {
	BaseEvent

	Initiator string         `json:"initiator,omitempty"`
	Version   int            `json:"version,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	Result   map[string]any `json:"result,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	NodeID   string        `json:"node_id,omitempty"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstancePaused struct {
	BaseEvent

	NodeID   string         `json:"node_id"`
	TaskData map[string]any `json:"task_data,omitempty"`
}

func (e InstancePaused) GetType() EventType {
	return InstancePausedEvent
}

type InstanceResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type InstanceRecovered struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e InstanceRecovered) GetType() EventType {
	return InstanceRecoveredEvent
}

type NodeStarted struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	TokenID  string `json:"token_id"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	TokenID    string         `json:"token_id"`
	Status     models.TaskStatus `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	TokenID  string `json:"token_id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts,omitempty"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type TokenForked struct {
	BaseEvent

	GatewayID      string   `json:"gateway_id"`
	ParentTokenID  string   `json:"parent_token_id"`
	ChildTokenIDs  []string `json:"child_token_ids"`
}

func (e TokenForked) GetType() EventType {
	return TokenForkedEvent
}

type TokenMerged struct {
	BaseEvent

	GatewayID      string   `json:"gateway_id"`
	MergedTokenID  string   `json:"merged_token_id"`
	SourceTokenIDs []string `json:"source_token_ids"`
}

func (e TokenMerged) GetType() EventType {
	return TokenMergedEvent
}

type SnapshotCreated struct {
	BaseEvent

	SnapshotID string `json:"snapshot_id"`
	Reason     string `json:"reason,omitempty"`
}

func (e SnapshotCreated) GetType() EventType {
	return SnapshotCreatedEvent
}
