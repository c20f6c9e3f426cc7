package version

import (
	"context"
	"encoding/json"

	"github.com/dukex/tokenflow/pkg/models"
)

// CompareVersions produces a structural diff of node and connection sets
// between two versions of one workflow, keyed by id.
func (m *Manager) CompareVersions(ctx context.Context, workflowID string, from, to int) (*models.VersionDiff, error) {
	fromVersion, err := m.repo.GetByWorkflowAndVersion(ctx, workflowID, from)
	if err != nil {
		return nil, err
	}

	toVersion, err := m.repo.GetByWorkflowAndVersion(ctx, workflowID, to)
	if err != nil {
		return nil, err
	}

	diff := &models.VersionDiff{
		WorkflowID:  workflowID,
		FromVersion: from,
		ToVersion:   to,
	}

	fromNodes := nodeIndex(fromVersion.Definition)
	toNodes := nodeIndex(toVersion.Definition)

	for id, node := range toNodes {
		before, ok := fromNodes[id]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, id)

			continue
		}

		if !sameDocument(before, node) {
			diff.NodesModified = append(diff.NodesModified, id)
		}
	}

	for id := range fromNodes {
		if _, ok := toNodes[id]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
		}
	}

	fromConns := connectionIndex(fromVersion.Definition)
	toConns := connectionIndex(toVersion.Definition)

	for id, conn := range toConns {
		before, ok := fromConns[id]
		if !ok {
			diff.ConnectionsAdded = append(diff.ConnectionsAdded, id)

			continue
		}

		if !sameDocument(before, conn) {
			diff.ConnectionsModified = append(diff.ConnectionsModified, id)
		}
	}

	for id := range fromConns {
		if _, ok := toConns[id]; !ok {
			diff.ConnectionsRemoved = append(diff.ConnectionsRemoved, id)
		}
	}

	return diff, nil
}

func nodeIndex(def *models.WorkflowDefinition) map[string]*models.Node {
	index := make(map[string]*models.Node)

	if def == nil {
		return index
	}

	for _, node := range def.Nodes {
		index[node.ID] = node
	}

	return index
}

// connectionIndex keys connections by declared id, falling back to
// source->target for definitions that omit connection ids.
func connectionIndex(def *models.WorkflowDefinition) map[string]*models.Connection {
	index := make(map[string]*models.Connection)

	if def == nil {
		return index
	}

	for _, conn := range def.Connections {
		key := conn.ID
		if key == "" {
			key = conn.Source + "->" + conn.Target
		}

		index[key] = conn
	}

	return index
}

// sameDocument compares two values by their JSON serialization.
func sameDocument(a, b any) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)

	return errA == nil && errB == nil && string(rawA) == string(rawB)
}
