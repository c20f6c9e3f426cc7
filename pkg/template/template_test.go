package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() *Scope {
	return &Scope{
		InstanceID: "inst-1",
		WorkflowID: "wf-1",
		NodeID:     "n1",
		Variables: map[string]any{
			"name":   "alice",
			"amount": float64(42),
			"order":  map[string]any{"id": "o-7"},
		},
	}
}

func TestRenderWithScope_VariableAccess(t *testing.T) {
	out, err := RenderWithScope("hello {{.vars.name}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "hello alice", out)

	out, err = RenderWithScope("{{.variables.order.id}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "o-7", out)

	out, err = RenderWithScope("{{.execution.instance_id}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "inst-1", out)
}

func TestRender_OutputCoercion(t *testing.T) {
	out, err := RenderWithScope("{{.vars.amount}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)

	out, err = RenderWithScope("true", testScope())
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = RenderWithScope(`{"id": "{{.vars.order.id}}"}`, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "o-7"}, out)

	out, err = RenderWithScope(`[1, 2]`, testScope())
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, out)
}

func TestRender_ParseErrors(t *testing.T) {
	_, err := RenderWithScope("{{.vars.name", testScope())
	assert.Error(t, err)

	_, err = RenderWithScope(`{"broken": {{.vars.name}}`, testScope())
	assert.Error(t, err)
}

func TestRenderMap_RendersStringLeavesOnly(t *testing.T) {
	config := map[string]any{
		"url":    "https://api.example.com/orders/{{.vars.order.id}}",
		"plain":  "no templates here",
		"count":  3,
		"nested": map[string]any{"greeting": "hi {{.vars.name}}"},
		"list":   []any{"{{.vars.name}}", 7},
	}

	rendered, err := RenderMap(config, testScope())
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/orders/o-7", rendered["url"])
	assert.Equal(t, "no templates here", rendered["plain"])
	assert.Equal(t, 3, rendered["count"])
	assert.Equal(t, "hi alice", rendered["nested"].(map[string]any)["greeting"])
	assert.Equal(t, []any{"alice", 7}, rendered["list"])
}
