package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dukex/tokenflow/pkg/events"
	"github.com/dukex/tokenflow/pkg/execution"
	"github.com/dukex/tokenflow/pkg/gateway"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/otelhelper"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/retry"
)

// instanceRun is the shared halt flag for one execution epoch of an
// instance. Pausing or ending the instance halts every branch; resuming
// creates a fresh run so stale branches from the previous epoch never
// continue.
type instanceRun struct {
	mu     sync.Mutex
	halted bool
}

func (r *instanceRun) halt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.halted = true
}

func (r *instanceRun) isHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.halted
}

// runToken is the interpreter core: an explicit loop that walks one token
// along its node chain, so deep or cyclic workflows never grow the stack.
// Within one token's path execution is strictly causal; across sibling
// branches there is no ordering guarantee.
func (e *Engine) runToken(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, def *models.WorkflowDefinition, tok *models.Token) {
	for {
		if run.isHalted() {
			return
		}

		node := def.FindNode(tok.Position)
		if node == nil {
			e.failInstance(ctx, run, instance,
				fmt.Errorf("%w: unknown node %s", persistence.ErrInvalidState, tok.Position), tok.Position)

			return
		}

		e.setCurrentNode(instance, node.ID)

		if node.IsGateway() {
			if !e.runGateway(ctx, run, instance, def, node, &tok) {
				return
			}

			continue
		}

		if !e.runNode(ctx, run, instance, def, node, tok) {
			return
		}
	}
}

// runGateway delegates to the gateway controller. It returns true with the
// token replaced when the loop should continue; forked branches are run
// concurrently and the call returns only after every branch's chain has
// returned.
func (e *Engine) runGateway(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, def *models.WorkflowDefinition, node *models.Node, tok **models.Token) bool {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.gateway",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.GatewayIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type))
	defer span.End()

	result, err := e.gateways.Process(ctx, node, *tok, def, instance)
	if err != nil {
		otelhelper.SetError(span, err)
		e.failInstance(ctx, run, instance, err, node.ID)

		return false
	}

	switch result.Outcome {
	case gateway.OutcomeContinued, gateway.OutcomeMerged:
		if result.Outcome == gateway.OutcomeMerged {
			merged := result.Tokens[0]

			e.events.Emit(ctx, instance.ID, events.TokenMerged{
				BaseEvent:     events.NewBase(events.TokenMergedEvent, instance.WorkflowID, instance.ID),
				GatewayID:     node.ID,
				MergedTokenID: merged.ID,
			})
		}

		*tok = result.Tokens[0]

		return true

	case gateway.OutcomeWaiting:
		// The token stays parked at the join; a sibling fires it later.
		return false

	case gateway.OutcomeForked:
		childIDs := make([]string, 0, len(result.Tokens))
		for _, child := range result.Tokens {
			childIDs = append(childIDs, child.ID)
		}

		e.events.Emit(ctx, instance.ID, events.TokenForked{
			BaseEvent:     events.NewBase(events.TokenForkedEvent, instance.WorkflowID, instance.ID),
			GatewayID:     node.ID,
			ParentTokenID: (*tok).ID,
			ChildTokenIDs: childIDs,
		})

		var branches sync.WaitGroup

		for _, child := range result.Tokens {
			branches.Add(1)

			go func(child *models.Token) {
				defer branches.Done()
				e.runToken(ctx, run, instance, def, child)
			}(child)
		}

		branches.Wait()

		return false
	}

	return false
}

// runNode executes a non-gateway node through Timeout(Retry(task)) and
// advances the token. It returns true when the loop should continue with
// the same token.
func (e *Engine) runNode(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, def *models.WorkflowDefinition, node *models.Node, tok *models.Token) bool {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_node",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
		attribute.String(otelhelper.TokenIDKey, tok.ID))
	defer span.End()

	if node.Type == models.NodeTypeEnd {
		e.recordExecution(instance, node, tok, string(models.TaskStatusCompleted), nil, "")
		e.finishToken(ctx, run, instance, tok)

		return false
	}

	executor, err := e.executors.Resolve(node.Type)
	if err != nil {
		otelhelper.SetError(span, err)
		e.failInstance(ctx, run, instance, err, node.ID)

		return false
	}

	e.events.Emit(ctx, instance.ID, events.NodeStarted{
		BaseEvent: events.NewBase(events.NodeStartedEvent, instance.WorkflowID, instance.ID),
		NodeID:    node.ID,
		NodeType:  node.Type,
		TokenID:   tok.ID,
	})

	task := &execution.TaskContext{
		InstanceID: instance.ID,
		WorkflowID: instance.WorkflowID,
		Node:       node,
		Variables:  e.taskVariables(instance, tok),
	}

	policy := retryPolicyForNode(node)
	timeoutDur, operationType := e.timeouts.ResolveTimeout(node)

	started := time.Now()

	// The retry loop runs detached after a timeout, so anything it writes
	// for the engine to read later must go through atomics, not plain
	// captured variables.
	var (
		taskResult atomic.Pointer[models.TaskResult]
		attempts   atomic.Int64
	)

	operation := func(ctx context.Context) (map[string]any, error) {
		result, err := executor.Execute(ctx, task)
		if err != nil {
			return nil, err
		}

		if result.Status == models.TaskStatusFailed {
			return nil, fmt.Errorf("%s", result.Error)
		}

		taskResult.Store(result)

		return result.Output, nil
	}

	withRetry := func(ctx context.Context) (map[string]any, error) {
		output, tries, err := e.retries.ExecuteWithRetry(ctx, instance.ID, node.ID, policy, operation)
		attempts.Store(int64(tries))

		return output, err
	}

	output, err := e.timeouts.ExecuteWithTimeout(ctx, instance.ID, node.ID, operationType, timeoutDur, withRetry)
	if err != nil {
		otelhelper.SetError(span, err)
		e.recordExecution(instance, node, tok, string(models.TaskStatusFailed), nil, err.Error())

		e.events.Emit(ctx, instance.ID, events.NodeFailed{
			BaseEvent: events.NewBase(events.NodeFailedEvent, instance.WorkflowID, instance.ID),
			NodeID:    node.ID,
			NodeType:  node.Type,
			TokenID:   tok.ID,
			Error:     err.Error(),
			Attempts:  int(attempts.Load()),
		})

		e.failInstance(ctx, run, instance, err, node.ID)

		return false
	}

	if result := taskResult.Load(); result != nil && result.Status == models.TaskStatusWaiting {
		e.recordExecution(instance, node, tok, string(models.TaskStatusWaiting), result.Output, "")
		e.pauseInstance(ctx, run, instance, node, result.Output)

		return false
	}

	if err := e.tokens.UpdateTokenVariables(instance.ID, tok.ID, output); err != nil {
		e.logger.Warn("failed to update token variables",
			"instance_id", instance.ID, "token_id", tok.ID, "error", err)
	}

	e.mergeInstanceData(instance, output)
	e.recordExecution(instance, node, tok, string(models.TaskStatusCompleted), output, "")

	e.events.Emit(ctx, instance.ID, events.NodeCompleted{
		BaseEvent:  events.NewBase(events.NodeCompletedEvent, instance.WorkflowID, instance.ID),
		NodeID:     node.ID,
		NodeType:   node.Type,
		TokenID:    tok.ID,
		Status:     models.TaskStatusCompleted,
		Output:     output,
		Attempts:   int(attempts.Load()),
		DurationMs: time.Since(started).Milliseconds(),
	})

	e.checkpoint(ctx, instance, node.ID)

	next := e.nextConnection(node, output, instance, def)
	if next == nil {
		e.finishToken(ctx, run, instance, tok)

		return false
	}

	if err := e.tokens.MoveToken(instance.ID, tok.ID, next.Target); err != nil {
		otelhelper.SetError(span, err)
		e.failInstance(ctx, run, instance, err, node.ID)

		return false
	}

	return true
}

// nextConnection picks the token's next edge: a single connection is taken
// directly; a decision node honors an externally advised target from the
// node output, falling back deterministically to the first candidate; any
// other multi-connection node takes the first declared edge. Nil means the
// token's path ends here.
func (e *Engine) nextConnection(node *models.Node, output map[string]any, instance *models.ProcessInstance, def *models.WorkflowDefinition) *models.Connection {
	outgoing := def.OutgoingConnections(node.ID)
	if len(outgoing) == 0 {
		return nil
	}

	if len(outgoing) == 1 {
		return outgoing[0]
	}

	if node.Type == models.NodeTypeDecision {
		advised := advisedTarget(output, instance.ProcessData)
		for _, conn := range outgoing {
			if conn.Target == advised {
				return conn
			}
		}
	}

	return outgoing[0]
}

// advisedTarget reads the externally advised next node from the node output
// or the instance variable bag.
func advisedTarget(output, processData map[string]any) string {
	if target, ok := output["next_node"].(string); ok {
		return target
	}

	if target, ok := processData["next_node"].(string); ok {
		return target
	}

	return ""
}

// finishToken completes the token and checks instance drain.
func (e *Engine) finishToken(ctx context.Context, run *instanceRun, instance *models.ProcessInstance, tok *models.Token) {
	if err := e.tokens.CompleteToken(instance.ID, tok.ID); err != nil {
		e.logger.Warn("failed to complete token",
			"instance_id", instance.ID, "token_id", tok.ID, "error", err)
	}

	e.checkDrain(ctx, run, instance)
}

// checkDrain completes the instance once no active token remains and at
// least one ever existed.
func (e *Engine) checkDrain(ctx context.Context, run *instanceRun, instance *models.ProcessInstance) {
	if e.tokens.ActiveCount(instance.ID) == 0 && e.tokens.TokenCount(instance.ID) > 0 {
		e.completeInstance(ctx, run, instance)
	}
}

// taskVariables builds the merged view an executor sees: the instance bag
// with the token's branch-local variables taking precedence.
func (e *Engine) taskVariables(instance *models.ProcessInstance, tok *models.Token) map[string]any {
	e.mu.RLock()
	vars := models.MergeMaps(make(map[string]any), instance.ProcessData)
	e.mu.RUnlock()

	return models.MergeMaps(vars, tok.Variables)
}

func (e *Engine) setCurrentNode(instance *models.ProcessInstance, nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	instance.CurrentNodeID = nodeID
	instance.UpdatedAt = time.Now().UTC()
}

// mergeInstanceData folds node output into the flat instance variable bag.
// Sibling branches writing the same name race last-write-wins.
func (e *Engine) mergeInstanceData(instance *models.ProcessInstance, output map[string]any) {
	if len(output) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	instance.ProcessData = models.MergeMaps(instance.ProcessData, output)
	instance.UpdatedAt = time.Now().UTC()
}

func (e *Engine) recordExecution(instance *models.ProcessInstance, node *models.Node, tok *models.Token, status string, output map[string]any, errText string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	instance.RecordExecution(models.ExecutionEntry{
		NodeID:   node.ID,
		NodeType: node.Type,
		TokenID:  tok.ID,
		Status:   status,
		Output:   output,
		Error:    errText,
	})
}

// retryPolicyForNode reads the node's retry configuration, falling back to
// the default policy.
func retryPolicyForNode(node *models.Node) models.RetryPolicy {
	raw, ok := node.Data["retry"].(map[string]any)
	if !ok {
		return retry.DefaultPolicy
	}

	policy := retry.DefaultPolicy

	if v, ok := asInt(raw["max_retries"]); ok {
		policy.MaxRetries = int(v)
	}

	if v, ok := raw["backoff_strategy"].(string); ok {
		policy.BackoffStrategy = models.BackoffStrategy(v)
	}

	if v, ok := asInt(raw["initial_delay_ms"]); ok {
		policy.InitialDelay = time.Duration(v) * time.Millisecond
	}

	if v, ok := asInt(raw["max_delay_ms"]); ok {
		policy.MaxDelay = time.Duration(v) * time.Millisecond
	}

	if v, ok := raw["backoff_multiplier"].(float64); ok && v > 0 {
		policy.BackoffMultiplier = v
	}

	if v, ok := raw["jitter"].(bool); ok {
		policy.Jitter = v
	}

	return policy
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}

	return 0, false
}
