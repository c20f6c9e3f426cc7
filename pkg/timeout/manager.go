// Package timeout enforces per-operation deadlines on node execution.
package timeout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
)

// Operation categories used for default timeout resolution.
const (
	OpNodeExecution     = "nodeExecution"
	OpGatewayEvaluation = "gatewayEvaluation"
	OpHTTPCall          = "httpCall"
	OpLLMCall           = "llmCall"
)

// Defaults are the per-category timeouts used when a node declares no
// override.
type Defaults struct {
	NodeExecution     time.Duration
	GatewayEvaluation time.Duration
	HTTPCall          time.Duration
	LLMCall           time.Duration
}

// DefaultTimeouts mirrors the categories' usual envelope.
var DefaultTimeouts = Defaults{
	NodeExecution:     30 * time.Second,
	GatewayEvaluation: 5 * time.Second,
	HTTPCall:          30 * time.Second,
	LLMCall:           2 * time.Minute,
}

// Manager races operations against deadlines and keeps timeout records.
// Expired operations are detached, not cancelled: the goroutine keeps
// running and its eventual result is discarded.
type Manager struct {
	defaults Defaults
	mu       sync.Mutex
	records  []models.TimeoutRecord
	logger   *slog.Logger
}

// NewManager creates a timeout manager.
func NewManager(defaults Defaults, logger *slog.Logger) *Manager {
	if defaults == (Defaults{}) {
		defaults = DefaultTimeouts
	}

	return &Manager{defaults: defaults, logger: logger}
}

// ResolveTimeout returns the effective timeout for a node: an explicit
// "timeout_ms" in the node's data wins, otherwise the category default for
// the node type.
func (m *Manager) ResolveTimeout(node *models.Node) (time.Duration, string) {
	if node.Data != nil {
		if raw, ok := node.Data["timeout_ms"]; ok {
			if ms, ok := toMillis(raw); ok && ms > 0 {
				return time.Duration(ms) * time.Millisecond, m.operationType(node.Type)
			}
		}
	}

	opType := m.operationType(node.Type)

	switch opType {
	case OpGatewayEvaluation:
		return m.defaults.GatewayEvaluation, opType
	case OpHTTPCall:
		return m.defaults.HTTPCall, opType
	case OpLLMCall:
		return m.defaults.LLMCall, opType
	default:
		return m.defaults.NodeExecution, opType
	}
}

func (m *Manager) operationType(nodeType string) string {
	switch nodeType {
	case models.NodeTypeExclusiveGateway, models.NodeTypeParallelGateway, models.NodeTypeInclusiveGateway:
		return OpGatewayEvaluation
	case models.NodeTypeHTTP:
		return OpHTTPCall
	case "ai_decision", "llm":
		return OpLLMCall
	default:
		return OpNodeExecution
	}
}

// ExecuteWithTimeout runs the operation in its own goroutine and races it
// against the deadline. On expiry it records the timeout and returns
// ErrTimeout; the operation itself keeps running detached and its result is
// dropped.
func (m *Manager) ExecuteWithTimeout(
	ctx context.Context,
	instanceID, nodeID, operationType string,
	timeout time.Duration,
	operation func(ctx context.Context) (map[string]any, error),
) (map[string]any, error) {
	type outcome struct {
		result map[string]any
		err    error
	}

	// Buffered so the detached goroutine can finish after expiry.
	done := make(chan outcome, 1)

	go func() {
		result, err := operation(ctx)
		done <- outcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		m.recordTimeout(instanceID, nodeID, operationType, timeout)

		m.logger.Warn("operation timed out",
			"instance_id", instanceID, "node_id", nodeID,
			"operation_type", operationType, "timeout", timeout)

		return nil, fmt.Errorf("%s exceeded %s: %w", operationType, timeout, persistence.ErrTimeout)
	}
}

// Records returns the timeout records attributed to an instance.
func (m *Manager) Records(instanceID string) []models.TimeoutRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.TimeoutRecord

	for _, record := range m.records {
		if record.InstanceID == instanceID {
			out = append(out, record)
		}
	}

	return out
}

// Clear drops timeout bookkeeping for an instance, part of terminal teardown.
func (m *Manager) Clear(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]

	for _, record := range m.records {
		if record.InstanceID != instanceID {
			kept = append(kept, record)
		}
	}

	m.records = kept
}

func (m *Manager) recordTimeout(instanceID, nodeID, operationType string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, models.TimeoutRecord{
		InstanceID:    instanceID,
		NodeID:        nodeID,
		OperationType: operationType,
		Timeout:       timeout,
		OccurredAt:    time.Now().UTC(),
	})
}

func toMillis(raw any) (int64, bool) {
	switch typed := raw.(type) {
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		return int64(typed), true
	default:
		return 0, false
	}
}
