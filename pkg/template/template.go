// Package template renders dynamic node configuration against instance and
// token variables using Go text templates.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Scope is the data tree a node configuration template renders against.
type Scope struct {
	InstanceID string
	WorkflowID string
	NodeID     string
	Variables  map[string]any
}

// RenderWithScope renders the input against the scope's variable tree.
// Templates address instance variables as .vars or .variables, the runtime
// identity as .execution, and process environment as .env.
func RenderWithScope(input string, scope *Scope) (any, error) {
	data := map[string]any{
		"variables": scope.Variables,
		"vars":      scope.Variables,
		"env":       getEnvVars(),
		"execution": map[string]any{
			"instance_id": scope.InstanceID,
			"workflow_id": scope.WorkflowID,
			"node_id":     scope.NodeID,
		},
	}

	return Render(input, data)
}

// Render executes the template and coerces the output: JSON documents and
// arrays are unmarshaled, numeric and boolean text is parsed, everything
// else stays a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("node").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderMap renders every string leaf of a configuration map in place depth
// first, returning a new map. Non-string values pass through untouched.
func RenderMap(config map[string]any, scope *Scope) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		out, err := renderValue(value, scope)
		if err != nil {
			return nil, err
		}

		rendered[key] = out
	}

	return rendered, nil
}

func renderValue(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return RenderWithScope(v, scope)
	case map[string]any:
		return RenderMap(v, scope)
	case []any:
		rendered := make([]any, len(v))

		for i, item := range v {
			out, err := renderValue(item, scope)
			if err != nil {
				return nil, err
			}

			rendered[i] = out
		}

		return rendered, nil
	default:
		return v, nil
	}
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
