// Package retry provides policy-driven retry with backoff for node
// execution.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
)

// DefaultPolicy is used when a node declares no retry configuration.
var DefaultPolicy = models.RetryPolicy{
	MaxRetries:        3,
	BackoffStrategy:   models.BackoffExponential,
	InitialDelay:      time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2,
	Jitter:            true,
}

// clearedRetention bounds how long a torn-down instance keeps rejecting
// stale record writes from detached retry loops.
const clearedRetention = 10 * time.Minute

// Manager tracks per-(instance, node) retry records and runs operations
// under a retry policy.
type Manager struct {
	mu      sync.Mutex
	records map[string]*models.RetryRecord
	cleared map[string]time.Time
	logger  *slog.Logger
}

// NewManager creates a retry manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		records: make(map[string]*models.RetryRecord),
		cleared: make(map[string]time.Time),
		logger:  logger,
	}
}

func recordKey(instanceID, nodeID string) string {
	return instanceID + ":" + nodeID
}

// ShouldRetry reports whether another attempt is allowed after the given
// failed attempt count. Attempts at or beyond MaxRetries are not retried;
// an explicit allow-list rejects errors not on it, and a deny-list rejects
// errors matching it.
func (m *Manager) ShouldRetry(policy models.RetryPolicy, attempts int, err error) bool {
	if attempts >= policy.MaxRetries {
		return false
	}

	if err == nil {
		return false
	}

	message := err.Error()

	for _, deny := range policy.NonRetryableErrors {
		if strings.Contains(message, deny) {
			return false
		}
	}

	if len(policy.RetryableErrors) > 0 {
		for _, allow := range policy.RetryableErrors {
			if strings.Contains(message, allow) {
				return true
			}
		}

		return false
	}

	return true
}

// CalculateDelay computes the sleep before the next attempt. attempt is
// zero-based: the delay before the first retry uses attempt 0.
func (m *Manager) CalculateDelay(policy models.RetryPolicy, attempt int) time.Duration {
	var delay time.Duration

	switch policy.BackoffStrategy {
	case models.BackoffExponential:
		scaled := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt))
		delay = time.Duration(scaled)
	case models.BackoffLinear:
		delay = policy.InitialDelay * time.Duration(attempt+1)
	case models.BackoffFixed:
		delay = policy.InitialDelay
	default:
		delay = policy.InitialDelay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	if policy.Jitter && delay > 0 {
		// +-10% jitter.
		jitter := (rand.Float64()*0.2 - 0.1) * float64(delay)
		delay += time.Duration(jitter)
	}

	if delay < 0 {
		delay = 0
	}

	return delay
}

// ExecuteWithRetry runs the operation until it succeeds or the policy is
// exhausted. It returns the result and the number of attempts made. On
// permanent failure the original error surfaces.
func (m *Manager) ExecuteWithRetry(
	ctx context.Context,
	instanceID, nodeID string,
	policy models.RetryPolicy,
	operation func(ctx context.Context) (map[string]any, error),
) (map[string]any, int, error) {
	// A fresh execution epoch re-enables bookkeeping for the instance.
	m.mu.Lock()
	delete(m.cleared, instanceID)
	m.mu.Unlock()

	attempts := 0

	for {
		result, err := operation(ctx)
		attempts++

		if err == nil {
			if attempts > 1 {
				m.recordSuccess(instanceID, nodeID)
			}

			return result, attempts, nil
		}

		failedAttempts := attempts - 1 // attempts counted after this failure: retries so far

		if !m.ShouldRetry(policy, failedAttempts, err) {
			m.recordFailure(instanceID, nodeID, attempts, err, 0)

			return nil, attempts, err
		}

		delay := m.CalculateDelay(policy, failedAttempts)
		m.recordAttempt(instanceID, nodeID, attempts, err, delay)

		m.logger.Warn("node execution failed, retrying",
			"instance_id", instanceID, "node_id", nodeID,
			"attempt", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, attempts, fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// Record returns the retry record for the node, or nil.
func (m *Manager) Record(instanceID, nodeID string) *models.RetryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.records[recordKey(instanceID, nodeID)]
}

// Clear drops retry bookkeeping for an instance, part of terminal teardown.
// A detached retry loop outliving the teardown keeps calling the record
// writers; the cleared mark makes those writes no-ops instead of letting
// them recreate records nothing will ever reclaim.
func (m *Manager) Clear(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, record := range m.records {
		if record.InstanceID == instanceID {
			delete(m.records, key)
		}
	}

	now := time.Now()
	m.cleared[instanceID] = now

	for id, clearedAt := range m.cleared {
		if now.Sub(clearedAt) > clearedRetention {
			delete(m.cleared, id)
		}
	}
}

func (m *Manager) record(instanceID, nodeID string) *models.RetryRecord {
	key := recordKey(instanceID, nodeID)

	record, ok := m.records[key]
	if !ok {
		record = &models.RetryRecord{InstanceID: instanceID, NodeID: nodeID}
		m.records[key] = record
	}

	return record
}

func (m *Manager) recordAttempt(instanceID, nodeID string, attempt int, err error, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.cleared[instanceID]; gone {
		return
	}

	record := m.record(instanceID, nodeID)
	record.AttemptCount = attempt
	record.Attempts = append(record.Attempts, models.RetryAttempt{
		Attempt:   attempt,
		Error:     err.Error(),
		Delay:     delay,
		Timestamp: time.Now().UTC(),
	})
	record.UpdatedAt = time.Now().UTC()
}

func (m *Manager) recordSuccess(instanceID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.cleared[instanceID]; gone {
		return
	}

	record := m.record(instanceID, nodeID)
	record.Succeeded = true
	record.UpdatedAt = time.Now().UTC()
}

func (m *Manager) recordFailure(instanceID, nodeID string, attempt int, err error, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.cleared[instanceID]; gone {
		return
	}

	record := m.record(instanceID, nodeID)
	record.AttemptCount = attempt
	record.Attempts = append(record.Attempts, models.RetryAttempt{
		Attempt:   attempt,
		Error:     err.Error(),
		Delay:     delay,
		Timestamp: time.Now().UTC(),
	})
	record.Failed = true
	record.UpdatedAt = time.Now().UTC()
}
