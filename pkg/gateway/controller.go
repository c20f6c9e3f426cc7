// Package gateway implements exclusive, parallel, and inclusive gateway
// semantics: condition-routed continuation, unconditional fan-out, and
// arrival-counted synchronization over the token manager.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/tokenflow/pkg/condition"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/token"
)

// Outcome classifies what a gateway did with the arriving token.
type Outcome string

const (
	// OutcomeContinued means the token moved along exactly one outgoing flow.
	OutcomeContinued Outcome = "continued"
	// OutcomeForked means the token split into the returned child tokens.
	OutcomeForked Outcome = "forked"
	// OutcomeWaiting means the token is parked at a join until its siblings
	// arrive. No tokens continue.
	OutcomeWaiting Outcome = "waiting"
	// OutcomeMerged means a join fired: the returned token is the merge of
	// every arrived sibling.
	OutcomeMerged Outcome = "merged"
)

// Result is the continuation the engine executes after a gateway: zero
// tokens (waiting), one token (continued or merged), or several (forked).
type Result struct {
	Outcome Outcome
	Tokens  []*models.Token
}

// Controller routes tokens through gateway nodes. Join state is shared by
// concurrently arriving sibling branches and is guarded by the controller's
// mutex so arrivals are never lost and a join never fires twice.
type Controller struct {
	tokens     *token.Manager
	conditions *condition.Evaluator
	logger     *slog.Logger

	mu    sync.Mutex
	joins map[string]*models.GatewayJoinState // instanceID/gatewayID
}

// NewController creates a gateway controller over the given token manager.
func NewController(tokens *token.Manager, conditions *condition.Evaluator, logger *slog.Logger) *Controller {
	return &Controller{
		tokens:     tokens,
		conditions: conditions,
		logger:     logger,
		joins:      make(map[string]*models.GatewayJoinState),
	}
}

// Process applies the gateway's semantics to the arriving token and returns
// the continuation. Configuration faults (no outgoing flow, no matching
// condition and no default) are returned as errors and fail the instance.
func (c *Controller) Process(ctx context.Context, gateway *models.Node, tok *models.Token, def *models.WorkflowDefinition, instance *models.ProcessInstance) (*Result, error) {
	switch gateway.Type {
	case models.NodeTypeExclusiveGateway:
		return c.processExclusive(gateway, tok, def, instance)
	case models.NodeTypeParallelGateway:
		if len(def.IncomingConnections(gateway.ID)) > 1 {
			return c.processJoin(gateway, tok, def, len(def.IncomingConnections(gateway.ID)))
		}

		return c.processParallelSplit(gateway, tok, def)
	case models.NodeTypeInclusiveGateway:
		if len(def.IncomingConnections(gateway.ID)) > 1 {
			// Expected count was recorded by the paired split.
			return c.processJoin(gateway, tok, def, 0)
		}

		return c.processInclusiveSplit(gateway, tok, def, instance)
	default:
		return nil, &persistence.InstanceError{
			Op: "Process", InstanceID: tok.InstanceID,
			Err: fmt.Errorf("%w: node %s is not a gateway", persistence.ErrInvalidState, gateway.ID),
		}
	}
}

// processExclusive evaluates non-default outgoing conditions in declared
// order. First true wins; the default flow is the fallback; neither is a
// configuration fault.
func (c *Controller) processExclusive(gateway *models.Node, tok *models.Token, def *models.WorkflowDefinition, instance *models.ProcessInstance) (*Result, error) {
	outgoing := def.OutgoingConnections(gateway.ID)
	if len(outgoing) == 0 {
		return nil, gatewayFault(tok.InstanceID, gateway.ID, "no outgoing flows")
	}

	vars := conditionVariables(instance, tok)

	var defaultFlow *models.Connection

	for _, conn := range outgoing {
		if conn.IsDefault {
			if defaultFlow == nil {
				defaultFlow = conn
			}

			continue
		}

		ok, err := c.conditions.Evaluate(conn.Condition, vars)
		if err != nil {
			c.logger.Warn("gateway condition failed, treating as false",
				"instance_id", tok.InstanceID, "gateway_id", gateway.ID,
				"condition", conn.Condition, "error", err)

			continue
		}

		if ok {
			return c.continueAlong(tok, conn)
		}
	}

	if defaultFlow != nil {
		return c.continueAlong(tok, defaultFlow)
	}

	return nil, gatewayFault(tok.InstanceID, gateway.ID, "no condition matched and no default flow")
}

// processParallelSplit forks the token across every outgoing flow
// unconditionally.
func (c *Controller) processParallelSplit(gateway *models.Node, tok *models.Token, def *models.WorkflowDefinition) (*Result, error) {
	outgoing := def.OutgoingConnections(gateway.ID)
	if len(outgoing) == 0 {
		return nil, gatewayFault(tok.InstanceID, gateway.ID, "no outgoing flows")
	}

	targets := make([]string, 0, len(outgoing))
	for _, conn := range outgoing {
		targets = append(targets, conn.Target)
	}

	children, err := c.tokens.ForkToken(tok.InstanceID, tok.ID, targets)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("parallel split",
		"instance_id", tok.InstanceID, "gateway_id", gateway.ID, "branches", len(children))

	return &Result{Outcome: OutcomeForked, Tokens: children}, nil
}

// processInclusiveSplit evaluates every outgoing condition without
// short-circuit, forks across the activated set, and records the activation
// count on the paired downstream join so it knows how many arrivals to
// expect.
func (c *Controller) processInclusiveSplit(gateway *models.Node, tok *models.Token, def *models.WorkflowDefinition, instance *models.ProcessInstance) (*Result, error) {
	outgoing := def.OutgoingConnections(gateway.ID)
	if len(outgoing) == 0 {
		return nil, gatewayFault(tok.InstanceID, gateway.ID, "no outgoing flows")
	}

	vars := conditionVariables(instance, tok)

	var (
		activated   []*models.Connection
		defaultFlow *models.Connection
	)

	for _, conn := range outgoing {
		if conn.IsDefault {
			if defaultFlow == nil {
				defaultFlow = conn
			}

			continue
		}

		ok, err := c.conditions.Evaluate(conn.Condition, vars)
		if err != nil {
			c.logger.Warn("gateway condition failed, treating as false",
				"instance_id", tok.InstanceID, "gateway_id", gateway.ID,
				"condition", conn.Condition, "error", err)

			continue
		}

		if ok {
			activated = append(activated, conn)
		}
	}

	if len(activated) == 0 {
		if defaultFlow == nil {
			return nil, gatewayFault(tok.InstanceID, gateway.ID, "no condition matched and no default flow")
		}

		activated = []*models.Connection{defaultFlow}
	}

	if joinID := c.findDownstreamJoin(def, gateway.ID); joinID != "" {
		c.expectArrivals(tok.InstanceID, joinID, len(activated))
	}

	if len(activated) == 1 {
		return c.continueAlong(tok, activated[0])
	}

	targets := make([]string, 0, len(activated))
	for _, conn := range activated {
		targets = append(targets, conn.Target)
	}

	children, err := c.tokens.ForkToken(tok.InstanceID, tok.ID, targets)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("inclusive split",
		"instance_id", tok.InstanceID, "gateway_id", gateway.ID, "branches", len(children))

	return &Result{Outcome: OutcomeForked, Tokens: children}, nil
}

// processJoin registers the arrival and fires the merge once every expected
// sibling has arrived. declaredExpected is the incoming-flow count for
// parallel joins and zero for inclusive joins, whose expectation was set by
// the paired split.
func (c *Controller) processJoin(gateway *models.Node, tok *models.Token, def *models.WorkflowDefinition, declaredExpected int) (*Result, error) {
	outgoing := def.OutgoingConnections(gateway.ID)
	if len(outgoing) == 0 {
		return nil, gatewayFault(tok.InstanceID, gateway.ID, "no outgoing flows")
	}

	c.mu.Lock()

	state := c.joins[joinKey(tok.InstanceID, gateway.ID)]
	if state == nil {
		state = &models.GatewayJoinState{
			InstanceID: tok.InstanceID,
			GatewayID:  gateway.ID,
			CreatedAt:  time.Now().UTC(),
		}
		c.joins[joinKey(tok.InstanceID, gateway.ID)] = state
	}

	if state.ExpectedTokens == 0 && declaredExpected > 0 {
		state.ExpectedTokens = declaredExpected
	}

	if !state.HasArrived(tok.ID) {
		state.ArrivedTokenIDs = append(state.ArrivedTokenIDs, tok.ID)
	}

	satisfied := state.IsSatisfied()

	// Counts are copied under the lock; sibling arrivals keep mutating the
	// state after release, even for log arguments.
	arrivedCount := len(state.ArrivedTokenIDs)
	expected := state.ExpectedTokens

	var arrived []string
	if satisfied {
		arrived = append([]string(nil), state.ArrivedTokenIDs...)
		delete(c.joins, joinKey(tok.InstanceID, gateway.ID))
	}

	c.mu.Unlock()

	if !satisfied {
		c.logger.Debug("join waiting",
			"instance_id", tok.InstanceID, "gateway_id", gateway.ID,
			"arrived", arrivedCount, "expected", expected)

		return &Result{Outcome: OutcomeWaiting}, nil
	}

	merged, err := c.tokens.MergeTokens(tok.InstanceID, arrived, outgoing[0].Target)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("join satisfied",
		"instance_id", tok.InstanceID, "gateway_id", gateway.ID,
		"merged_token_id", merged.ID, "inputs", len(arrived))

	return &Result{Outcome: OutcomeMerged, Tokens: []*models.Token{merged}}, nil
}

// expectArrivals records how many tokens the join must wait for. Called by
// an inclusive split before its branches start running.
func (c *Controller) expectArrivals(instanceID, gatewayID string, expected int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.joins[joinKey(instanceID, gatewayID)]
	if state == nil {
		state = &models.GatewayJoinState{
			InstanceID: instanceID,
			GatewayID:  gatewayID,
			CreatedAt:  time.Now().UTC(),
		}
		c.joins[joinKey(instanceID, gatewayID)] = state
	}

	state.ExpectedTokens = expected
}

// findDownstreamJoin locates the synchronizing inclusive gateway paired with
// a split via breadth-first reachability from the split's outgoing flows.
// Graphs whose branches re-converge before the intended join can mis-pair;
// definitions should keep one join per inclusive split.
func (c *Controller) findDownstreamJoin(def *models.WorkflowDefinition, splitID string) string {
	visited := map[string]bool{splitID: true}

	queue := make([]string, 0)
	for _, conn := range def.OutgoingConnections(splitID) {
		queue = append(queue, conn.Target)
	}

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		if visited[nodeID] {
			continue
		}

		visited[nodeID] = true

		node := def.FindNode(nodeID)
		if node == nil {
			continue
		}

		if node.Type == models.NodeTypeInclusiveGateway && len(def.IncomingConnections(nodeID)) > 1 {
			return nodeID
		}

		for _, conn := range def.OutgoingConnections(nodeID) {
			queue = append(queue, conn.Target)
		}
	}

	return ""
}

// continueAlong moves the token to the connection's target.
func (c *Controller) continueAlong(tok *models.Token, conn *models.Connection) (*Result, error) {
	if err := c.tokens.MoveToken(tok.InstanceID, tok.ID, conn.Target); err != nil {
		return nil, err
	}

	return &Result{Outcome: OutcomeContinued, Tokens: []*models.Token{tok}}, nil
}

// Export returns deep copies of the instance's pending join states, keyed by
// gateway id, for snapshots.
func (c *Controller) Export(instanceID string) map[string]*models.GatewayJoinState {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]*models.GatewayJoinState)

	for _, state := range c.joins {
		if state.InstanceID == instanceID {
			states[state.GatewayID] = state.Clone()
		}
	}

	return states
}

// Restore replaces the instance's join states with deep copies of the given
// set, used by snapshot rollback.
func (c *Controller) Restore(instanceID string, states map[string]*models.GatewayJoinState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, state := range c.joins {
		if state.InstanceID == instanceID {
			delete(c.joins, key)
		}
	}

	for gatewayID, state := range states {
		clone := state.Clone()
		clone.InstanceID = instanceID
		c.joins[joinKey(instanceID, gatewayID)] = clone
	}
}

// Clear removes all join state for an instance, part of terminal teardown.
func (c *Controller) Clear(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, state := range c.joins {
		if state.InstanceID == instanceID {
			delete(c.joins, key)
		}
	}
}

// conditionVariables builds the evaluation scope: instance variables with
// the token's branch-local values taking precedence.
func conditionVariables(instance *models.ProcessInstance, tok *models.Token) map[string]any {
	vars := make(map[string]any)
	if instance != nil {
		vars = models.MergeMaps(vars, instance.ProcessData)
	}

	return models.MergeMaps(vars, tok.Variables)
}

func joinKey(instanceID, gatewayID string) string {
	return instanceID + "/" + gatewayID
}

func gatewayFault(instanceID, gatewayID, reason string) error {
	return &persistence.InstanceError{
		Op: "Gateway", InstanceID: instanceID,
		Err: fmt.Errorf("%w: gateway %s: %s", persistence.ErrExecutionFailed, gatewayID, reason),
	}
}
