package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/tokenflow/pkg/models"
)

func taskContext(node *models.Node, vars map[string]any) *TaskContext {
	return &TaskContext{
		InstanceID: "inst-1",
		WorkflowID: "wf-1",
		Node:       node,
		Variables:  vars,
	}
}

func TestRegistry_ResolveAndFallback(t *testing.T) {
	r := NewDefaultRegistry(slog.Default())

	httpExec, err := r.Resolve(models.NodeTypeHTTP)
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeHTTP, httpExec.Type())

	// Unknown types fall through to the echo executor.
	fallback, err := r.Resolve("somebody_elses_node")
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeTask, fallback.Type())

	empty := NewRegistry(slog.Default())
	_, err = empty.Resolve("anything")
	assert.Error(t, err)
}

func TestTransformExecutor(t *testing.T) {
	exec := NewTransformExecutor(slog.Default())

	node := &models.Node{
		ID:   "map",
		Type: models.NodeTypeTransform,
		Data: map[string]any{
			"mapping": map[string]any{
				"customer": "{{.vars.name}}",
				"fixed":    "constant",
			},
		},
	}

	result, err := exec.Execute(context.Background(), taskContext(node, map[string]any{"name": "alice"}))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, "alice", result.Output["customer"])
	assert.Equal(t, "constant", result.Output["fixed"])
}

func TestTransformExecutor_RequiresMapping(t *testing.T) {
	exec := NewTransformExecutor(slog.Default())

	node := &models.Node{ID: "map", Type: models.NodeTypeTransform}

	_, err := exec.Execute(context.Background(), taskContext(node, nil))
	assert.Error(t, err)
}

func TestDelayExecutor(t *testing.T) {
	exec := NewDelayExecutor(slog.Default())

	node := &models.Node{
		ID:   "wait",
		Type: models.NodeTypeDelay,
		Data: map[string]any{"duration_ms": float64(20)},
	}

	started := time.Now()
	result, err := exec.Execute(context.Background(), taskContext(node, nil))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, int64(20), result.Output["delayed_ms"])
}

func TestDelayExecutor_CancelledContext(t *testing.T) {
	exec := NewDelayExecutor(slog.Default())

	node := &models.Node{
		ID:   "wait",
		Type: models.NodeTypeDelay,
		Data: map[string]any{"duration_ms": float64(5000)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := exec.Execute(ctx, taskContext(node, nil))
	assert.Error(t, err)
}

func TestUserTaskExecutor_ReturnsWaiting(t *testing.T) {
	exec := NewUserTaskExecutor(models.NodeTypeApproval, slog.Default())

	node := &models.Node{
		ID:   "approve",
		Type: models.NodeTypeApproval,
		Data: map[string]any{"assignee": "reviewer", "title": "Sign off"},
	}

	result, err := exec.Execute(context.Background(), taskContext(node, nil))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusWaiting, result.Status)
	assert.Equal(t, "approve", result.Output["node_id"])
	assert.Equal(t, "reviewer", result.Output["assignee"])
	assert.Equal(t, "Sign off", result.Output["title"])
}

func TestEchoExecutor(t *testing.T) {
	exec := NewEchoExecutor(slog.Default())

	node := &models.Node{
		ID:   "echo",
		Type: models.NodeTypeTask,
		Data: map[string]any{"output": map[string]any{"greeting": "hi {{.vars.name}}"}},
	}

	result, err := exec.Execute(context.Background(), taskContext(node, map[string]any{"name": "bob"}))
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, "hi bob", result.Output["greeting"])

	// A node with no declared output still completes.
	bare, err := exec.Execute(context.Background(), taskContext(&models.Node{ID: "n", Type: "custom"}, nil))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, bare.Status)
}

func TestHTTPExecutor_RendersRequestAndParsesResponse(t *testing.T) {
	var captured struct {
		method string
		path   string
		header string
		body   map[string]any
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.header = r.Header.Get("X-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&captured.body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	exec := NewHTTPExecutor(slog.Default())

	node := &models.Node{
		ID:   "call",
		Type: models.NodeTypeHTTP,
		Data: map[string]any{
			"url":     server.URL + "/orders/{{.vars.order_id}}",
			"method":  "POST",
			"headers": map[string]any{"X-Request-Id": "{{.execution.instance_id}}"},
			"body":    map[string]any{"amount": float64(10)},
		},
	}

	result, err := exec.Execute(context.Background(), taskContext(node, map[string]any{"order_id": "o-7"}))
	require.NoError(t, err)

	assert.Equal(t, "POST", captured.method)
	assert.Equal(t, "/orders/o-7", captured.path)
	assert.Equal(t, "inst-1", captured.header)
	assert.Equal(t, float64(10), captured.body["amount"])

	assert.Equal(t, models.TaskStatusCompleted, result.Status)
	assert.Equal(t, float64(http.StatusOK), asFloat(result.Output["status_code"]))
	assert.Equal(t, map[string]any{"ok": true}, result.Output["body"])
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(slog.Default())

	node := &models.Node{
		ID:   "call",
		Type: models.NodeTypeHTTP,
		Data: map[string]any{"url": server.URL},
	}

	_, err := exec.Execute(context.Background(), taskContext(node, nil))
	assert.Error(t, err)
}

func TestHTTPExecutor_RequiresURL(t *testing.T) {
	exec := NewHTTPExecutor(slog.Default())

	node := &models.Node{ID: "call", Type: models.NodeTypeHTTP}

	_, err := exec.Execute(context.Background(), taskContext(node, nil))
	assert.Error(t, err)
}

func asFloat(v any) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case int:
		return float64(typed)
	default:
		return -1
	}
}
