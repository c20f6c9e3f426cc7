// Package models defines the core domain models for the token-based workflow runtime.
package models

// Node type identifiers understood by the runtime. Anything else falls
// through to the generic task executor.
const (
	NodeTypeStart            = "start"
	NodeTypeEnd              = "end"
	NodeTypeTask             = "task"
	NodeTypeHTTP             = "http"
	NodeTypeTransform        = "transform"
	NodeTypeDelay            = "delay"
	NodeTypeUserTask         = "user_task"
	NodeTypeApproval         = "approval"
	NodeTypeDecision         = "decision"
	NodeTypeExclusiveGateway = "exclusive_gateway"
	NodeTypeParallelGateway  = "parallel_gateway"
	NodeTypeInclusiveGateway = "inclusive_gateway"
)

// Node is a single step in a workflow definition.
type Node struct {
	ID   string         `json:"id"   validate:"required"`
	Type string         `json:"type" validate:"required"`
	Data map[string]any `json:"data,omitempty"`
}

// IsGateway reports whether the node branches or synchronizes control flow.
func (n *Node) IsGateway() bool {
	switch n.Type {
	case NodeTypeExclusiveGateway, NodeTypeParallelGateway, NodeTypeInclusiveGateway:
		return true
	}

	return false
}

// Connection is a directed, optionally conditional edge between two nodes.
type Connection struct {
	ID        string `json:"id,omitempty"`
	Source    string `json:"source" validate:"required"`
	Target    string `json:"target" validate:"required"`
	Condition string `json:"condition,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// WorkflowDefinition is a directed process graph: nodes plus conditional
// connections. Definitions are immutable once registered; edits go through
// the version manager.
type WorkflowDefinition struct {
	ID          string        `json:"id"   validate:"required"`
	Name        string        `json:"name" validate:"required,min=3"`
	Description string        `json:"description,omitempty"`
	Nodes       []*Node       `json:"nodes"       validate:"required,min=1,dive"`
	Connections []*Connection `json:"connections" validate:"dive"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FindNode returns the node with the given id, or nil.
func (d *WorkflowDefinition) FindNode(nodeID string) *Node {
	for _, node := range d.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// StartNode returns the explicit start node if present, otherwise the first
// node in declaration order.
func (d *WorkflowDefinition) StartNode() *Node {
	for _, node := range d.Nodes {
		if node.Type == NodeTypeStart {
			return node
		}
	}

	if len(d.Nodes) > 0 {
		return d.Nodes[0]
	}

	return nil
}

// OutgoingConnections returns the connections leaving nodeID in declaration order.
func (d *WorkflowDefinition) OutgoingConnections(nodeID string) []*Connection {
	var out []*Connection

	for _, conn := range d.Connections {
		if conn.Source == nodeID {
			out = append(out, conn)
		}
	}

	return out
}

// IncomingConnections returns the connections entering nodeID in declaration order.
func (d *WorkflowDefinition) IncomingConnections(nodeID string) []*Connection {
	var in []*Connection

	for _, conn := range d.Connections {
		if conn.Target == nodeID {
			in = append(in, conn)
		}
	}

	return in
}
