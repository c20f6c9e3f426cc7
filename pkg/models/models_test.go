package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceStatusTransitions(t *testing.T) {
	cases := []struct {
		from    InstanceStatus
		to      InstanceStatus
		allowed bool
	}{
		{InstanceStatusPending, InstanceStatusRunning, true},
		{InstanceStatusRunning, InstanceStatusPaused, true},
		{InstanceStatusRunning, InstanceStatusCompleted, true},
		{InstanceStatusRunning, InstanceStatusFailed, true},
		{InstanceStatusPaused, InstanceStatusRunning, true},
		{InstanceStatusFailed, InstanceStatusRunning, true},
		{InstanceStatusCompleted, InstanceStatusRunning, false},
		{InstanceStatusPaused, InstanceStatusCompleted, false},
		{InstanceStatusPending, InstanceStatusPaused, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}

	assert.True(t, InstanceStatusCompleted.IsTerminal())
	assert.True(t, InstanceStatusFailed.IsTerminal())
	assert.False(t, InstanceStatusPaused.IsTerminal())
}

func TestVersionStatusTransitions(t *testing.T) {
	assert.True(t, VersionStatusDraft.CanTransitionTo(VersionStatusPublished))
	assert.True(t, VersionStatusPublished.CanTransitionTo(VersionStatusDeprecated))
	assert.True(t, VersionStatusDeprecated.CanTransitionTo(VersionStatusArchived))

	assert.False(t, VersionStatusDraft.CanTransitionTo(VersionStatusDeprecated))
	assert.False(t, VersionStatusPublished.CanTransitionTo(VersionStatusArchived))
	assert.False(t, VersionStatusArchived.CanTransitionTo(VersionStatusPublished))
	assert.False(t, VersionStatusPublished.CanTransitionTo(VersionStatusDraft))
}

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:   "wf-1",
		Name: "order flow",
		Nodes: []*Node{
			{ID: "start", Type: NodeTypeStart},
			{ID: "task", Type: NodeTypeTask},
			{ID: "end", Type: NodeTypeEnd},
		},
		Connections: []*Connection{
			{Source: "start", Target: "task"},
			{Source: "task", Target: "end"},
		},
	}
}

func TestValidateDefinition(t *testing.T) {
	require.NoError(t, ValidateDefinition(validDefinition()))

	short := validDefinition()
	short.Name = "ab"
	assert.Error(t, ValidateDefinition(short), "name below minimum length")

	empty := validDefinition()
	empty.Nodes = nil
	assert.Error(t, ValidateDefinition(empty), "at least one node required")

	dangling := validDefinition()
	dangling.Connections = append(dangling.Connections, &Connection{Source: "task", Target: "ghost"})
	assert.Error(t, ValidateDefinition(dangling), "connection to undeclared node")

	duplicate := validDefinition()
	duplicate.Nodes = append(duplicate.Nodes, &Node{ID: "task", Type: NodeTypeTask})
	assert.Error(t, ValidateDefinition(duplicate), "duplicate node id")

	twoDefaults := validDefinition()
	twoDefaults.Connections = []*Connection{
		{Source: "start", Target: "task", IsDefault: true},
		{Source: "start", Target: "end", IsDefault: true},
	}
	assert.Error(t, ValidateDefinition(twoDefaults), "one default flow per node")
}

func TestDefinitionGraphHelpers(t *testing.T) {
	def := validDefinition()

	assert.Equal(t, "task", def.FindNode("task").ID)
	assert.Nil(t, def.FindNode("ghost"))
	assert.Equal(t, "start", def.StartNode().ID)

	out := def.OutgoingConnections("start")
	require.Len(t, out, 1)
	assert.Equal(t, "task", out[0].Target)

	in := def.IncomingConnections("end")
	require.Len(t, in, 1)
	assert.Equal(t, "task", in[0].Source)

	// No explicit start node: first declared node is the entry point.
	noStart := &WorkflowDefinition{
		ID: "wf-2", Name: "implicit start",
		Nodes: []*Node{{ID: "first", Type: NodeTypeTask}},
	}
	assert.Equal(t, "first", noStart.StartNode().ID)
}

func TestDeepCopyMap_Isolation(t *testing.T) {
	src := map[string]any{
		"scalar": 1,
		"nested": map[string]any{"inner": "a"},
		"list":   []any{map[string]any{"x": 1}},
	}

	dst := DeepCopyMap(src)

	dst["nested"].(map[string]any)["inner"] = "changed"
	dst["list"].([]any)[0].(map[string]any)["x"] = 99

	assert.Equal(t, "a", src["nested"].(map[string]any)["inner"])
	assert.Equal(t, 1, src["list"].([]any)[0].(map[string]any)["x"])

	assert.Nil(t, DeepCopyMap(nil))
}

func TestMergeMaps_LaterSourceWins(t *testing.T) {
	merged := MergeMaps(map[string]any{"a": 1, "shared": "old"}, map[string]any{"b": 2, "shared": "new"})

	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
	assert.Equal(t, "new", merged["shared"])

	// nil destination allocates.
	fromNil := MergeMaps(nil, map[string]any{"x": 1})
	assert.Equal(t, 1, fromNil["x"])
}

func TestGatewayJoinState(t *testing.T) {
	state := &GatewayJoinState{InstanceID: "inst-1", GatewayID: "join", ExpectedTokens: 2}

	assert.False(t, state.IsSatisfied())

	state.ArrivedTokenIDs = append(state.ArrivedTokenIDs, "tok-1")
	assert.True(t, state.HasArrived("tok-1"))
	assert.False(t, state.HasArrived("tok-2"))
	assert.False(t, state.IsSatisfied())

	state.ArrivedTokenIDs = append(state.ArrivedTokenIDs, "tok-2")
	assert.True(t, state.IsSatisfied())

	// An expectation of zero means the paired split has not reported yet.
	unset := &GatewayJoinState{ArrivedTokenIDs: []string{"tok-1"}}
	assert.False(t, unset.IsSatisfied())
}

func TestTokenClone(t *testing.T) {
	tok := &Token{
		ID:            "tok-1",
		Variables:     map[string]any{"x": 1},
		ChildTokenIDs: []string{"c1"},
	}
	tok.AppendHistory("created", "start", "")

	clone := tok.Clone()
	clone.Variables["x"] = 2
	clone.ChildTokenIDs[0] = "other"

	assert.Equal(t, 1, tok.Variables["x"])
	assert.Equal(t, "c1", tok.ChildTokenIDs[0])
	assert.Len(t, clone.History, 1)
}
