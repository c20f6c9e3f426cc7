// Package engine is the workflow runtime orchestrator: it interprets
// definitions token by token, delegating branching to the gateway
// controller, node work to task executors wrapped in timeout and retry, and
// durability to the persistence layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/tokenflow/pkg/condition"
	"github.com/dukex/tokenflow/pkg/events"
	"github.com/dukex/tokenflow/pkg/execution"
	"github.com/dukex/tokenflow/pkg/gateway"
	"github.com/dukex/tokenflow/pkg/lock"
	"github.com/dukex/tokenflow/pkg/models"
	"github.com/dukex/tokenflow/pkg/otelhelper"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/retry"
	"github.com/dukex/tokenflow/pkg/state"
	"github.com/dukex/tokenflow/pkg/timeout"
	"github.com/dukex/tokenflow/pkg/token"
	"github.com/dukex/tokenflow/pkg/version"
)

// Config wires the engine's collaborators. Persistence and Logger are
// required; nil managers are replaced with defaults so a single Config
// field is enough to customize one concern.
type Config struct {
	Persistence persistence.Persistence
	Tokens      *token.Manager
	State       *state.Manager
	Locks       *lock.Manager
	Retries     *retry.Manager
	Timeouts    *timeout.Manager
	Versions    *version.Manager
	Events      *events.Manager
	Gateways    *gateway.Controller
	Executors   *execution.Registry
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Engine drives workflow instances. Every manager is an explicit injected
// instance, so engines under test never share hidden state.
type Engine struct {
	persistence persistence.Persistence
	tokens      *token.Manager
	state       *state.Manager
	locks       *lock.Manager
	retries     *retry.Manager
	timeouts    *timeout.Manager
	versions    *version.Manager
	events      *events.Manager
	gateways    *gateway.Controller
	executors   *execution.Registry
	tracer      trace.Tracer
	logger      *slog.Logger

	mu          sync.RWMutex
	instances   map[string]*models.ProcessInstance // cache; persistence is the authority
	definitions map[string]*models.WorkflowDefinition
	runs        map[string]*instanceRun
	pending     map[string]*models.PendingTask

	wg sync.WaitGroup
}

// NewEngine creates an engine from the config, filling in default managers
// where none are given.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("engine requires a persistence layer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Tokens == nil {
		cfg.Tokens = token.NewManager(logger)
	}

	if cfg.State == nil {
		cfg.State = state.NewManager(cfg.Persistence.SnapshotRepository(), 0, logger)
	}

	if cfg.Locks == nil {
		cfg.Locks = lock.NewManager(cfg.Persistence.LockStore(), logger)
	}

	if cfg.Retries == nil {
		cfg.Retries = retry.NewManager(logger)
	}

	if cfg.Timeouts == nil {
		cfg.Timeouts = timeout.NewManager(timeout.Defaults{}, logger)
	}

	if cfg.Versions == nil {
		cfg.Versions = version.NewManager(cfg.Persistence.VersionRepository(), logger)
	}

	if cfg.Events == nil {
		cfg.Events = events.NewManager(nil, logger)
	}

	if cfg.Gateways == nil {
		cfg.Gateways = gateway.NewController(cfg.Tokens, condition.NewEvaluator(logger), logger)
	}

	if cfg.Executors == nil {
		cfg.Executors = execution.NewDefaultRegistry(logger)
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otel.GetTracerProvider().Tracer("tokenflow")
	}

	return &Engine{
		persistence: cfg.Persistence,
		tokens:      cfg.Tokens,
		state:       cfg.State,
		locks:       cfg.Locks,
		retries:     cfg.Retries,
		timeouts:    cfg.Timeouts,
		versions:    cfg.Versions,
		events:      cfg.Events,
		gateways:    cfg.Gateways,
		executors:   cfg.Executors,
		tracer:      cfg.Tracer,
		logger:      logger.With("module", "engine"),
		instances:   make(map[string]*models.ProcessInstance),
		definitions: make(map[string]*models.WorkflowDefinition),
		runs:        make(map[string]*instanceRun),
		pending:     make(map[string]*models.PendingTask),
	}, nil
}

// StartWorkflow resolves the effective definition, creates a RUNNING
// instance, binds it to the resolved version, and schedules execution
// asynchronously. It returns as soon as the instance is durable; a
// distributed lock scoped to the workflow id serializes instance-creation
// bookkeeping across replicas.
func (e *Engine) StartWorkflow(ctx context.Context, def *models.WorkflowDefinition, input map[string]any, initiator string, versionNumber int) (*models.ProcessInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_workflow",
		attribute.String(otelhelper.WorkflowIDKey, def.ID))
	defer span.End()

	if err := models.ValidateDefinition(def); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	lockKey := "workflow:" + def.ID

	if _, err := e.locks.AcquireLock(ctx, lockKey, lock.Options{}); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer func() {
		if err := e.locks.ReleaseLock(ctx, lockKey); err != nil {
			e.logger.Warn("failed to release workflow lock", "key", lockKey, "error", err)
		}
	}()

	effective, resolvedVersion, err := e.resolveDefinition(ctx, def, versionNumber)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	startNode := effective.StartNode()
	if startNode == nil {
		err := &persistence.InstanceError{
			Op: "StartWorkflow",
			Err: fmt.Errorf("%w: definition %s has no start node",
				persistence.ErrInvalidState, effective.ID),
		}
		otelhelper.SetError(span, err)

		return nil, err
	}

	now := time.Now().UTC()
	instance := &models.ProcessInstance{
		ID:          uuid.New().String(),
		WorkflowID:  effective.ID,
		Version:     resolvedVersion,
		Status:      models.InstanceStatusRunning,
		ProcessData: models.DeepCopyMap(input),
		Initiator:   initiator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if instance.ProcessData == nil {
		instance.ProcessData = make(map[string]any)
	}

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}

	if resolvedVersion > 0 {
		if err := e.versions.BindInstanceToVersion(ctx, instance.ID, effective.ID, resolvedVersion); err != nil {
			e.logger.Warn("failed to bind instance to version",
				"instance_id", instance.ID, "version", resolvedVersion, "error", err)
		}
	}

	run := &instanceRun{}

	e.mu.Lock()
	e.instances[instance.ID] = instance
	e.definitions[instance.ID] = effective
	e.runs[instance.ID] = run
	e.mu.Unlock()

	e.events.Emit(ctx, instance.ID, events.InstanceStarted{
		BaseEvent: events.NewBase(events.InstanceStartedEvent, effective.ID, instance.ID),
		Initiator: initiator,
		Version:   resolvedVersion,
		Input:     input,
	})

	initial := e.tokens.CreateInitialToken(instance.ID, startNode.ID)

	e.logger.Info("workflow started",
		"workflow_id", effective.ID, "instance_id", instance.ID,
		"version", resolvedVersion, "initiator", initiator)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runToken(context.WithoutCancel(ctx), run, instance, effective, initial)
	}()

	return instance, nil
}

// resolveDefinition picks the effective definition: an explicit version
// wins, then the workflow's current default version, then the raw
// definition as given.
func (e *Engine) resolveDefinition(ctx context.Context, def *models.WorkflowDefinition, versionNumber int) (*models.WorkflowDefinition, int, error) {
	if versionNumber > 0 {
		v, err := e.versions.GetVersion(ctx, def.ID, versionNumber)
		if err != nil {
			return nil, 0, err
		}

		return v.Definition, v.Version, nil
	}

	v, err := e.versions.GetDefaultVersion(ctx, def.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return def, 0, nil
		}

		return nil, 0, err
	}

	return v.Definition, v.Version, nil
}

// CompleteTask resumes a PAUSED instance with external input: the data is
// merged into the instance and the waiting token, and execution continues
// along the waiting node's outgoing connection.
func (e *Engine) CompleteTask(ctx context.Context, instanceID string, data map[string]any) (*models.ProcessInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.complete_task",
		attribute.String(otelhelper.InstanceIDKey, instanceID))
	defer span.End()

	instance, def, err := e.loadInstance(ctx, "CompleteTask", instanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.mu.Lock()

	if instance.Status != models.InstanceStatusPaused {
		e.mu.Unlock()

		err := persistence.NewInstanceError("CompleteTask", instanceID,
			fmt.Errorf("%w: instance is %s, not PAUSED", persistence.ErrInvalidState, instance.Status))
		otelhelper.SetError(span, err)

		return nil, err
	}

	waitingNodeID := instance.CurrentNodeID

	instance.Status = models.InstanceStatusRunning
	instance.ProcessData = models.MergeMaps(instance.ProcessData, data)
	instance.UpdatedAt = time.Now().UTC()

	run := &instanceRun{}
	e.runs[instanceID] = run

	delete(e.pending, instanceID)
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}

	e.events.Emit(ctx, instanceID, events.InstanceResumed{
		BaseEvent: events.NewBase(events.InstanceResumedEvent, instance.WorkflowID, instanceID),
		NodeID:    waitingNodeID,
	})

	waiting := e.tokenAt(instanceID, waitingNodeID)
	if waiting == nil {
		err := persistence.NewInstanceError("CompleteTask", instanceID,
			fmt.Errorf("%w: no active token at node %s", persistence.ErrTokenNotFound, waitingNodeID))
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := e.tokens.UpdateTokenVariables(instanceID, waiting.ID, data); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	node := def.FindNode(waitingNodeID)

	next := e.nextConnection(node, nil, instance, def)
	if next == nil {
		if err := e.tokens.CompleteToken(instanceID, waiting.ID); err != nil {
			e.logger.Warn("failed to complete token", "instance_id", instanceID, "error", err)
		}

		e.checkDrain(ctx, run, instance)

		return instance, nil
	}

	if err := e.tokens.MoveToken(instanceID, waiting.ID, next.Target); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runToken(context.WithoutCancel(ctx), run, instance, def, waiting)
	}()

	return instance, nil
}

// RecoverInstance flips a FAILED instance back to RUNNING and best-effort
// re-executes from its last node. It is explicit manual remediation, not a
// transactional replay.
func (e *Engine) RecoverInstance(ctx context.Context, instanceID string) (*models.ProcessInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.recover_instance",
		attribute.String(otelhelper.InstanceIDKey, instanceID))
	defer span.End()

	instance, def, err := e.loadInstance(ctx, "RecoverInstance", instanceID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.mu.Lock()

	if instance.Status != models.InstanceStatusFailed {
		e.mu.Unlock()

		err := persistence.NewInstanceError("RecoverInstance", instanceID,
			fmt.Errorf("%w: instance is %s, not FAILED", persistence.ErrInvalidState, instance.Status))
		otelhelper.SetError(span, err)

		return nil, err
	}

	resumeNodeID := instance.CurrentNodeID

	instance.Status = models.InstanceStatusRunning
	instance.Error = ""
	instance.CompletedAt = nil
	instance.UpdatedAt = time.Now().UTC()

	run := &instanceRun{}
	e.runs[instanceID] = run
	e.mu.Unlock()

	if err := e.persistence.InstanceRepository().Save(ctx, instance); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}

	if instance.Version > 0 {
		if err := e.versions.BindInstanceToVersion(ctx, instanceID, instance.WorkflowID, instance.Version); err != nil {
			e.logger.Warn("failed to rebind instance to version",
				"instance_id", instanceID, "version", instance.Version, "error", err)
		}
	}

	e.events.Emit(ctx, instanceID, events.InstanceRecovered{
		BaseEvent: events.NewBase(events.InstanceRecoveredEvent, instance.WorkflowID, instanceID),
		NodeID:    resumeNodeID,
	})

	// Failure teardown cleared the token state, so recovery starts a fresh
	// token at the last recorded node.
	tok := e.tokens.CreateInitialToken(instanceID, resumeNodeID)

	e.logger.Info("instance recovered",
		"instance_id", instanceID, "node_id", resumeNodeID)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.runToken(context.WithoutCancel(ctx), run, instance, def, tok)
	}()

	return instance, nil
}

// Status is an instance plus a summary of its live tokens.
type Status struct {
	Instance     *models.ProcessInstance `json:"instance"`
	ActiveTokens int                     `json:"active_tokens"`
	TotalTokens  int                     `json:"total_tokens"`
}

// GetStatus returns the instance and its token summary, falling back to
// durable storage when the instance is not in the cache.
func (e *Engine) GetStatus(ctx context.Context, instanceID string) (*Status, error) {
	e.mu.RLock()
	instance, ok := e.instances[instanceID]
	e.mu.RUnlock()

	if !ok {
		stored, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		instance = stored
	}

	return &Status{
		Instance:     instance,
		ActiveTokens: e.tokens.ActiveCount(instanceID),
		TotalTokens:  e.tokens.TokenCount(instanceID),
	}, nil
}

// ListPendingTasks returns every paused instance's waiting task.
func (e *Engine) ListPendingTasks() []*models.PendingTask {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tasks := make([]*models.PendingTask, 0, len(e.pending))
	for _, task := range e.pending {
		tasks = append(tasks, task)
	}

	return tasks
}

// Wait blocks until every scheduled execution has returned. Test and
// shutdown helper.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// loadInstance returns the cached instance and definition, rehydrating both
// from durable storage when the cache predates a restart. A rehydrated
// PAUSED instance gets a fresh token at its current node so the resume path
// has something to continue with.
func (e *Engine) loadInstance(ctx context.Context, op, instanceID string) (*models.ProcessInstance, *models.WorkflowDefinition, error) {
	e.mu.RLock()
	instance, ok := e.instances[instanceID]
	def := e.definitions[instanceID]
	e.mu.RUnlock()

	if ok {
		return instance, def, nil
	}

	stored, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, persistence.NewInstanceError(op, instanceID, err)
	}

	def, err = e.definitionFor(ctx, stored)
	if err != nil {
		return nil, nil, persistence.NewInstanceError(op, instanceID, err)
	}

	e.mu.Lock()

	if cached, ok := e.instances[instanceID]; ok {
		def = e.definitions[instanceID]
		e.mu.Unlock()

		return cached, def, nil
	}

	e.instances[instanceID] = stored
	e.definitions[instanceID] = def
	e.runs[instanceID] = &instanceRun{}
	e.mu.Unlock()

	if stored.Status == models.InstanceStatusPaused && stored.CurrentNodeID != "" &&
		e.tokens.ActiveCount(instanceID) == 0 {
		e.tokens.CreateInitialToken(instanceID, stored.CurrentNodeID)
	}

	e.logger.Info("instance rehydrated from storage",
		"instance_id", instanceID, "status", stored.Status, "node_id", stored.CurrentNodeID)

	return stored, def, nil
}

// definitionFor resolves the definition an instance runs on: its bound
// version first, then the registered definition.
func (e *Engine) definitionFor(ctx context.Context, instance *models.ProcessInstance) (*models.WorkflowDefinition, error) {
	if instance.Version > 0 {
		v, err := e.versions.GetVersion(ctx, instance.WorkflowID, instance.Version)
		if err == nil {
			return v.Definition, nil
		}
	}

	return e.persistence.DefinitionRepository().GetByID(ctx, instance.WorkflowID)
}

// tokenAt returns the active token positioned at the node, or nil.
func (e *Engine) tokenAt(instanceID, nodeID string) *models.Token {
	for _, tok := range e.tokens.ActiveTokens(instanceID) {
		if tok.Position == nodeID {
			return tok
		}
	}

	return nil
}
