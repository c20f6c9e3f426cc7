package models

import "time"

// InstanceState is the full recoverable state tree of one instance:
// the instance record, its live tokens, and any pending gateway join state.
type InstanceState struct {
	Instance      *ProcessInstance             `json:"instance"`
	Tokens        []*Token                     `json:"tokens"`
	GatewayStates map[string]*GatewayJoinState `json:"gateway_states,omitempty"`
}

// Clone returns a deep copy of the state tree.
func (s *InstanceState) Clone() *InstanceState {
	if s == nil {
		return nil
	}

	clone := &InstanceState{}

	if s.Instance != nil {
		clone.Instance = s.Instance.Clone()
	}

	clone.Tokens = make([]*Token, len(s.Tokens))
	for i, token := range s.Tokens {
		clone.Tokens[i] = token.Clone()
	}

	if s.GatewayStates != nil {
		clone.GatewayStates = make(map[string]*GatewayJoinState, len(s.GatewayStates))
		for k, v := range s.GatewayStates {
			clone.GatewayStates[k] = v.Clone()
		}
	}

	return clone
}

// SnapshotMetadata carries provenance for a snapshot.
type SnapshotMetadata struct {
	Reason        string `json:"reason,omitempty"`
	Creator       string `json:"creator,omitempty"`
	NodeID        string `json:"node_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Operations    int    `json:"operations,omitempty"`
}

// Snapshot is an immutable, timestamped capture of an instance's full state.
type Snapshot struct {
	ID         string           `json:"id"`
	InstanceID string           `json:"instance_id"`
	State      *InstanceState   `json:"state"`
	Metadata   SnapshotMetadata `json:"metadata"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TransactionStatus is the lifecycle state of a logical transaction.
type TransactionStatus string

const (
	TransactionStatusActive     TransactionStatus = "active"
	TransactionStatusCommitted  TransactionStatus = "committed"
	TransactionStatusRolledBack TransactionStatus = "rolled_back"
)

// TransactionOperation is one audit entry in a transaction's operation log.
type TransactionOperation struct {
	Name      string         `json:"name"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Transaction is a logical checkpoint/restore boundary over one instance.
// Not nested, not cross-instance isolated, and not an ACID transaction.
type Transaction struct {
	ID             string                 `json:"id"`
	InstanceID     string                 `json:"instance_id"`
	BaseSnapshotID string                 `json:"base_snapshot_id,omitempty"`
	Operations     []TransactionOperation `json:"operations"`
	Status         TransactionStatus      `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
}
