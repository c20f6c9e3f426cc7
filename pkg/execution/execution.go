// Package execution defines the task executor contract and the registry of
// builtin node executors the engine dispatches to.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/tokenflow/pkg/models"
)

// TaskContext carries everything an executor may read for one node
// execution. Variables is the merged instance and token view; executors
// never mutate it, they return output instead.
type TaskContext struct {
	InstanceID string
	WorkflowID string
	Node       *models.Node
	Variables  map[string]any
}

// TaskExecutor runs the work attached to one node type.
type TaskExecutor interface {
	Type() string
	Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error)
}

// Registry maps node types to executors. Unknown types fall back to the
// default executor when one is registered.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]TaskExecutor
	fallback  TaskExecutor
	logger    *slog.Logger
}

// NewRegistry creates an empty executor registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]TaskExecutor),
		logger:    logger,
	}
}

// NewDefaultRegistry creates a registry with every builtin executor wired.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(NewHTTPExecutor(logger))
	r.Register(NewTransformExecutor(logger))
	r.Register(NewDelayExecutor(logger))
	r.Register(NewUserTaskExecutor(models.NodeTypeUserTask, logger))
	r.Register(NewUserTaskExecutor(models.NodeTypeApproval, logger))
	r.SetFallback(NewEchoExecutor(logger))

	return r
}

// Register adds an executor for its declared node type.
func (r *Registry) Register(executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[executor.Type()] = executor
}

// SetFallback sets the executor used for unregistered node types.
func (r *Registry) SetFallback(executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = executor
}

// Resolve returns the executor for a node type.
func (r *Registry) Resolve(nodeType string) (TaskExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if executor, ok := r.executors[nodeType]; ok {
		return executor, nil
	}

	if r.fallback != nil {
		return r.fallback, nil
	}

	return nil, fmt.Errorf("node type '%s' not registered", nodeType)
}
