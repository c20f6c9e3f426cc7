package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/template"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor performs an HTTP request described by the node's data:
// url (required), method, headers, body. String values are rendered as
// templates against the task variables before the request is built.
type HTTPExecutor struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPExecutor(logger *slog.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: logger,
	}
}

func (e *HTTPExecutor) Type() string {
	return models.NodeTypeHTTP
}

func (e *HTTPExecutor) Execute(ctx context.Context, task *TaskContext) (*models.TaskResult, error) {
	scope := &template.Scope{
		InstanceID: task.InstanceID,
		WorkflowID: task.WorkflowID,
		NodeID:     task.Node.ID,
		Variables:  task.Variables,
	}

	config, err := template.RenderMap(task.Node.Data, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to render http config: %w", err)
	}

	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http node %s has no url", task.Node.ID)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader

	switch body := config["body"].(type) {
	case string:
		if body != "" {
			bodyReader = strings.NewReader(body)
		}
	case map[string]any, []any:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode http body: %w", err)
		}

		bodyReader = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if text, ok := value.(string); ok {
				req.Header.Set(key, text)
			}
		}
	}

	e.logger.Debug("executing http node",
		"instance_id", task.InstanceID, "node_id", task.Node.ID,
		"method", req.Method, "url", url)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read http response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http request returned status %d", resp.StatusCode)
	}

	var body any = string(raw)

	var jsonBody any
	if json.Unmarshal(raw, &jsonBody) == nil {
		body = jsonBody
	}

	return &models.TaskResult{
		Status: models.TaskStatusCompleted,
		Output: map[string]any{
			"status_code": resp.StatusCode,
			"body":        body,
		},
	}, nil
}
