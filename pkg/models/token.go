package models

import "time"

// TokenStatus is the lifecycle state of a control-flow token. Every
// non-active status is terminal for that token.
type TokenStatus string

const (
	TokenStatusActive    TokenStatus = "active"
	TokenStatusSplit     TokenStatus = "split"
	TokenStatusMerged    TokenStatus = "merged"
	TokenStatusCompleted TokenStatus = "completed"
)

// IsTerminal reports whether the token can no longer move.
func (s TokenStatus) IsTerminal() bool {
	return s != TokenStatusActive
}

// TokenHistoryEntry records one lifecycle action on a token.
type TokenHistoryEntry struct {
	Action    string    `json:"action"`
	NodeID    string    `json:"node_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Token is a control-flow marker representing one live execution path
// through an instance's node graph.
type Token struct {
	ID            string              `json:"id"`
	InstanceID    string              `json:"instance_id"`
	Position      string              `json:"position"`
	Status        TokenStatus         `json:"status"`
	ParentTokenID string              `json:"parent_token_id,omitempty"`
	ChildTokenIDs []string            `json:"child_token_ids,omitempty"`
	Variables     map[string]any      `json:"variables"`
	History       []TokenHistoryEntry `json:"history"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// AppendHistory records a lifecycle action and bumps UpdatedAt.
func (t *Token) AppendHistory(action, nodeID, detail string) {
	t.History = append(t.History, TokenHistoryEntry{
		Action:    action,
		NodeID:    nodeID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	t.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	clone := *t
	clone.Variables = DeepCopyMap(t.Variables)
	clone.ChildTokenIDs = append([]string(nil), t.ChildTokenIDs...)
	clone.History = append([]TokenHistoryEntry(nil), t.History...)

	return &clone
}

// GatewayJoinState tracks arrivals at a synchronizing gateway, keyed by
// (instance, gateway). Created lazily on first arrival or by a paired split;
// deleted once satisfied.
type GatewayJoinState struct {
	InstanceID      string    `json:"instance_id"`
	GatewayID       string    `json:"gateway_id"`
	ExpectedTokens  int       `json:"expected_tokens"`
	ArrivedTokenIDs []string  `json:"arrived_token_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasArrived reports whether the token id is already registered, so a
// re-delivered arrival never double-counts.
func (g *GatewayJoinState) HasArrived(tokenID string) bool {
	for _, id := range g.ArrivedTokenIDs {
		if id == tokenID {
			return true
		}
	}

	return false
}

// IsSatisfied reports whether every expected token has arrived.
func (g *GatewayJoinState) IsSatisfied() bool {
	return g.ExpectedTokens > 0 && len(g.ArrivedTokenIDs) >= g.ExpectedTokens
}

// Clone returns a deep copy of the join state.
func (g *GatewayJoinState) Clone() *GatewayJoinState {
	clone := *g
	clone.ArrivedTokenIDs = append([]string(nil), g.ArrivedTokenIDs...)

	return &clone
}
