package models

import "time"

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy controls retry behavior for one node execution.
type RetryPolicy struct {
	MaxRetries        int             `json:"max_retries"`
	BackoffStrategy   BackoffStrategy `json:"backoff_strategy"`
	InitialDelay      time.Duration   `json:"initial_delay"`
	MaxDelay          time.Duration   `json:"max_delay"`
	BackoffMultiplier float64         `json:"backoff_multiplier"`
	Jitter            bool            `json:"jitter"`
	RetryableErrors   []string        `json:"retryable_errors,omitempty"`
	NonRetryableErrors []string       `json:"non_retryable_errors,omitempty"`
}

// RetryAttempt records one failed attempt.
type RetryAttempt struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Delay     time.Duration `json:"delay"`
	Timestamp time.Time `json:"timestamp"`
}

// RetryRecord is the per-(instance, node) retry bookkeeping. It is terminal
// once Succeeded or Failed is set.
type RetryRecord struct {
	InstanceID   string         `json:"instance_id"`
	NodeID       string         `json:"node_id"`
	AttemptCount int            `json:"attempt_count"`
	Attempts     []RetryAttempt `json:"attempts"`
	Succeeded    bool           `json:"succeeded"`
	Failed       bool           `json:"failed"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TimeoutRecord attributes one deadline expiry to an instance, node, and
// operation type.
type TimeoutRecord struct {
	InstanceID    string        `json:"instance_id"`
	NodeID        string        `json:"node_id"`
	OperationType string        `json:"operation_type"`
	Timeout       time.Duration `json:"timeout"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
