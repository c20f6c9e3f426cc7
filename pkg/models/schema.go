package models

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the JSON Schema every registered workflow definition
// must satisfy before structural validation runs.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "data": {"type": "object"}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "condition": {"type": "string"},
          "is_default": {"type": "boolean"}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

// ValidateDefinition checks a definition against the JSON schema and then
// enforces structural rules the schema cannot express: connection endpoints
// must reference declared nodes, node ids must be unique, and each gateway
// may carry at most one default outgoing flow.
func ValidateDefinition(def *WorkflowDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to serialize definition: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to run schema validation: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("definition %q is invalid: %s", def.ID, errs[0].String())
		}

		return fmt.Errorf("definition %q is invalid", def.ID)
	}

	seen := make(map[string]bool, len(def.Nodes))
	for _, node := range def.Nodes {
		if seen[node.ID] {
			return fmt.Errorf("definition %q declares node %q twice", def.ID, node.ID)
		}

		seen[node.ID] = true
	}

	defaults := make(map[string]int)

	for _, conn := range def.Connections {
		if !seen[conn.Source] {
			return fmt.Errorf("connection references unknown source node %q", conn.Source)
		}

		if !seen[conn.Target] {
			return fmt.Errorf("connection references unknown target node %q", conn.Target)
		}

		if conn.IsDefault {
			defaults[conn.Source]++
			if defaults[conn.Source] > 1 {
				return fmt.Errorf("node %q declares more than one default flow", conn.Source)
			}
		}
	}

	return nil
}
