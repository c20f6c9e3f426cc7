// Package persistence provides the storage abstraction and standardized
// error types for the workflow runtime.
package persistence

import (
	"errors"
	"fmt"
)

// Standard error types that all implementations and managers should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates a process instance was not found.
	ErrInstanceNotFound = errors.New("process instance not found")

	// ErrTokenNotFound indicates a token was not found by the given identifier.
	ErrTokenNotFound = errors.New("token not found")

	// ErrSnapshotNotFound indicates a snapshot was not found.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrTransactionNotFound indicates a transaction was not found.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrVersionNotFound indicates a workflow version was not found.
	ErrVersionNotFound = errors.New("workflow version not found")

	// ErrLockNotFound indicates no lock record exists for the given key.
	ErrLockNotFound = errors.New("lock not found")

	// ErrLockHeld indicates a live lock record already exists for the key.
	ErrLockHeld = errors.New("lock already held")

	// ErrLockContention indicates lock acquisition gave up after its timeout.
	ErrLockContention = errors.New("lock acquisition timed out")

	// ErrNotLockHolder indicates the caller does not hold the lock it tried
	// to renew or release.
	ErrNotLockHolder = errors.New("caller is not the lock holder")

	// ErrInvalidState indicates an operation was attempted against an entity
	// whose lifecycle state forbids it.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrExecutionFailed indicates a task-level failure reported by the
	// execution collaborator.
	ErrExecutionFailed = errors.New("task execution failed")

	// ErrTimeout indicates an operation exceeded its configured deadline.
	ErrTimeout = errors.New("operation timed out")
)

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string // Operation being performed (e.g. "GetByID", "Save")
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates an instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// TokenError wraps token-related errors with operation context.
type TokenError struct {
	Op         string
	InstanceID string
	TokenID    string
	Err        error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s operation failed for token %s in instance %s: %v", e.Op, e.TokenID, e.InstanceID, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

func (e *TokenError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// VersionError wraps version-related errors with operation context.
type VersionError struct {
	Op         string
	WorkflowID string
	Version    int
	Err        error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s version %d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

func (e *VersionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// LockError wraps lock-related errors with operation context.
type LockError struct {
	Op  string
	Key string
	Err error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s operation failed for lock %s: %v", e.Op, e.Key, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

func (e *LockError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error is any of the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrLockNotFound)
}

// IsInvalidState checks if an error indicates an illegal lifecycle operation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsLockContention checks if an error indicates lock acquisition gave up.
func IsLockContention(err error) bool {
	return errors.Is(err, ErrLockContention)
}
