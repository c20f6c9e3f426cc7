// Package token manages control-flow tokens within process instances.
package token

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// Manager creates, forks, merges, moves, and completes tokens. All state is
// in-memory and scoped to the manager instance; the engine snapshots it
// through Export/Restore for durability.
type Manager struct {
	mu     sync.RWMutex
	tokens map[string]map[string]*models.Token // instanceID -> tokenID -> token
	logger *slog.Logger
}

// NewManager creates a token manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		tokens: make(map[string]map[string]*models.Token),
		logger: logger,
	}
}

// CreateInitialToken creates the first active token for an instance at the
// start node.
func (m *Manager) CreateInitialToken(instanceID, startNodeID string) *models.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	token := &models.Token{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Position:   startNodeID,
		Status:     models.TokenStatusActive,
		Variables:  make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	token.AppendHistory("created", startNodeID, "")

	if m.tokens[instanceID] == nil {
		m.tokens[instanceID] = make(map[string]*models.Token)
	}

	m.tokens[instanceID][token.ID] = token

	m.logger.Debug("created initial token",
		"instance_id", instanceID, "token_id", token.ID, "node_id", startNodeID)

	return token
}

// ForkToken creates one active child token per target node, each carrying a
// copy of the parent's variable bag. The parent transitions to split
// permanently.
func (m *Manager) ForkToken(instanceID, parentID string, targetNodeIDs []string) ([]*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, err := m.get(instanceID, parentID)
	if err != nil {
		return nil, err
	}

	if parent.Status != models.TokenStatusActive {
		return nil, &persistence.TokenError{
			Op: "ForkToken", InstanceID: instanceID, TokenID: parentID,
			Err: fmt.Errorf("%w: token is %s", persistence.ErrInvalidState, parent.Status),
		}
	}

	if len(targetNodeIDs) == 0 {
		return nil, &persistence.TokenError{
			Op: "ForkToken", InstanceID: instanceID, TokenID: parentID,
			Err: fmt.Errorf("%w: no fork targets", persistence.ErrInvalidState),
		}
	}

	now := time.Now().UTC()
	children := make([]*models.Token, 0, len(targetNodeIDs))

	for _, nodeID := range targetNodeIDs {
		child := &models.Token{
			ID:            uuid.New().String(),
			InstanceID:    instanceID,
			Position:      nodeID,
			Status:        models.TokenStatusActive,
			ParentTokenID: parent.ID,
			Variables:     models.DeepCopyMap(parent.Variables),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		child.AppendHistory("forked", nodeID, "parent "+parent.ID)

		parent.ChildTokenIDs = append(parent.ChildTokenIDs, child.ID)
		m.tokens[instanceID][child.ID] = child
		children = append(children, child)
	}

	parent.Status = models.TokenStatusSplit
	parent.AppendHistory("split", parent.Position, fmt.Sprintf("%d children", len(children)))

	m.logger.Debug("forked token",
		"instance_id", instanceID, "parent_token_id", parentID, "children", len(children))

	return children, nil
}

// MergeTokens creates one new active token at the target node whose
// variables are the last-writer-wins union over the listed tokens in
// argument order. All input tokens transition to merged.
func (m *Manager) MergeTokens(instanceID string, tokenIDs []string, targetNodeID string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(tokenIDs) == 0 {
		return nil, &persistence.TokenError{
			Op: "MergeTokens", InstanceID: instanceID,
			Err: fmt.Errorf("%w: no tokens to merge", persistence.ErrInvalidState),
		}
	}

	inputs := make([]*models.Token, 0, len(tokenIDs))

	for _, id := range tokenIDs {
		tok, err := m.get(instanceID, id)
		if err != nil {
			return nil, err
		}

		inputs = append(inputs, tok)
	}

	now := time.Now().UTC()
	merged := &models.Token{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Position:   targetNodeID,
		Status:     models.TokenStatusActive,
		Variables:  make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, input := range inputs {
		merged.Variables = models.MergeMaps(merged.Variables, input.Variables)
		input.Status = models.TokenStatusMerged
		input.AppendHistory("merged", input.Position, "into "+merged.ID)
	}

	merged.AppendHistory("created", targetNodeID, fmt.Sprintf("merge of %d tokens", len(inputs)))
	m.tokens[instanceID][merged.ID] = merged

	m.logger.Debug("merged tokens",
		"instance_id", instanceID, "merged_token_id", merged.ID, "inputs", len(inputs))

	return merged, nil
}

// MoveToken repositions an active token to the given node.
func (m *Manager) MoveToken(instanceID, tokenID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.get(instanceID, tokenID)
	if err != nil {
		return err
	}

	tok.Position = nodeID
	tok.AppendHistory("moved", nodeID, "")

	return nil
}

// UpdateTokenVariables merges the given values into the token's variable bag.
func (m *Manager) UpdateTokenVariables(instanceID, tokenID string, variables map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.get(instanceID, tokenID)
	if err != nil {
		return err
	}

	tok.Variables = models.MergeMaps(tok.Variables, variables)
	tok.AppendHistory("variables_updated", tok.Position, "")

	return nil
}

// CompleteToken transitions a token to completed at its current position.
func (m *Manager) CompleteToken(instanceID, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.get(instanceID, tokenID)
	if err != nil {
		return err
	}

	tok.Status = models.TokenStatusCompleted
	tok.AppendHistory("completed", tok.Position, "")

	return nil
}

// GetToken returns a copy-safe reference to a token.
func (m *Manager) GetToken(instanceID, tokenID string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.get(instanceID, tokenID)
}

// ActiveTokens returns the instance's active tokens.
func (m *Manager) ActiveTokens(instanceID string) []*models.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*models.Token

	for _, tok := range m.tokens[instanceID] {
		if tok.Status == models.TokenStatusActive {
			active = append(active, tok)
		}
	}

	return active
}

// ActiveCount returns how many active tokens the instance has.
func (m *Manager) ActiveCount(instanceID string) int {
	return len(m.ActiveTokens(instanceID))
}

// TokenCount returns how many tokens ever existed for the instance.
func (m *Manager) TokenCount(instanceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.tokens[instanceID])
}

// Export returns deep copies of every token of an instance, for snapshots.
func (m *Manager) Export(instanceID string) []*models.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens := make([]*models.Token, 0, len(m.tokens[instanceID]))
	for _, tok := range m.tokens[instanceID] {
		tokens = append(tokens, tok.Clone())
	}

	return tokens
}

// Restore replaces an instance's tokens with deep copies of the given set,
// used by snapshot rollback.
func (m *Manager) Restore(instanceID string, tokens []*models.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := make(map[string]*models.Token, len(tokens))
	for _, tok := range tokens {
		restored[tok.ID] = tok.Clone()
	}

	m.tokens[instanceID] = restored
}

// Clear removes all token state for an instance, part of terminal teardown.
func (m *Manager) Clear(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tokens, instanceID)
}

// get assumes the caller holds at least a read lock.
func (m *Manager) get(instanceID, tokenID string) (*models.Token, error) {
	instanceTokens, ok := m.tokens[instanceID]
	if !ok {
		return nil, &persistence.TokenError{
			Op: "Get", InstanceID: instanceID, TokenID: tokenID,
			Err: persistence.ErrInstanceNotFound,
		}
	}

	tok, ok := instanceTokens[tokenID]
	if !ok {
		return nil, &persistence.TokenError{
			Op: "Get", InstanceID: instanceID, TokenID: tokenID,
			Err: persistence.ErrTokenNotFound,
		}
	}

	return tok, nil
}
