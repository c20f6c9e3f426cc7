// Package testutil provides workflow definition builders shared by tests.
package testutil

import "github.com/dukex/tokenflow/pkg/models"

// Builder assembles a workflow definition node by node.
type Builder struct {
	def *models.WorkflowDefinition
}

func NewBuilder(id, name string) *Builder {
	return &Builder{
		def: &models.WorkflowDefinition{
			ID:   id,
			Name: name,
		},
	}
}

func (b *Builder) Node(id, nodeType string, data map[string]any) *Builder {
	b.def.Nodes = append(b.def.Nodes, &models.Node{ID: id, Type: nodeType, Data: data})

	return b
}

func (b *Builder) Connect(source, target string) *Builder {
	b.def.Connections = append(b.def.Connections, &models.Connection{Source: source, Target: target})

	return b
}

func (b *Builder) ConnectIf(source, target, condition string) *Builder {
	b.def.Connections = append(b.def.Connections, &models.Connection{
		Source: source, Target: target, Condition: condition,
	})

	return b
}

func (b *Builder) ConnectDefault(source, target string) *Builder {
	b.def.Connections = append(b.def.Connections, &models.Connection{
		Source: source, Target: target, IsDefault: true,
	})

	return b
}

func (b *Builder) Build() *models.WorkflowDefinition {
	return b.def
}

// LinearDefinition is start -> task -> end.
func LinearDefinition(id string) *models.WorkflowDefinition {
	return NewBuilder(id, "linear workflow").
		Node("start", models.NodeTypeStart, nil).
		Node("task", models.NodeTypeTask, nil).
		Node("end", models.NodeTypeEnd, nil).
		Connect("start", "task").
		Connect("task", "end").
		Build()
}

// ParallelDefinition is start -> split -> [a b c] -> join -> after -> end.
func ParallelDefinition(id string) *models.WorkflowDefinition {
	return NewBuilder(id, "parallel workflow").
		Node("start", models.NodeTypeStart, nil).
		Node("split", models.NodeTypeParallelGateway, nil).
		Node("a", models.NodeTypeTask, nil).
		Node("b", models.NodeTypeTask, nil).
		Node("c", models.NodeTypeTask, nil).
		Node("join", models.NodeTypeParallelGateway, nil).
		Node("after", models.NodeTypeTask, nil).
		Node("end", models.NodeTypeEnd, nil).
		Connect("start", "split").
		Connect("split", "a").
		Connect("split", "b").
		Connect("split", "c").
		Connect("a", "join").
		Connect("b", "join").
		Connect("c", "join").
		Connect("join", "after").
		Connect("after", "end").
		Build()
}

// InclusiveDefinition is start -> split -> [high low] -> join -> end with
// conditions on both branches and no default.
func InclusiveDefinition(id string) *models.WorkflowDefinition {
	return NewBuilder(id, "inclusive workflow").
		Node("start", models.NodeTypeStart, nil).
		Node("split", models.NodeTypeInclusiveGateway, nil).
		Node("high", models.NodeTypeTask, nil).
		Node("low", models.NodeTypeTask, nil).
		Node("join", models.NodeTypeInclusiveGateway, nil).
		Node("end", models.NodeTypeEnd, nil).
		Connect("start", "split").
		ConnectIf("split", "high", "amount > 100").
		ConnectIf("split", "low", "amount <= 100").
		Connect("high", "join").
		Connect("low", "join").
		Connect("join", "end").
		Build()
}

// ApprovalDefinition is start -> approval -> end.
func ApprovalDefinition(id string) *models.WorkflowDefinition {
	return NewBuilder(id, "approval workflow").
		Node("start", models.NodeTypeStart, nil).
		Node("approval", models.NodeTypeApproval, map[string]any{"assignee": "reviewer"}).
		Node("end", models.NodeTypeEnd, nil).
		Connect("start", "approval").
		Connect("approval", "end").
		Build()
}
