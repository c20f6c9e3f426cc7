package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/tokenflow/pkg/eventbus"
)

// defaultHistoryCap bounds the per-instance event history.
const defaultHistoryCap = 1000

// Event is anything carrying an event type.
type Event interface {
	GetType() EventType
}

// Handler receives events published to a subscription.
type Handler func(ctx context.Context, event Event)

// Manager keeps an append-only per-instance event history, fans events out
// to in-process subscribers, and optionally broadcasts through an external
// event bus. A nil bus affects observability only, never correctness.
type Manager struct {
	mu          sync.RWMutex
	history     map[string][]Event // instanceID -> ordered events
	subscribers map[EventType][]Handler
	global      []Handler
	historyCap  int
	bus         eventbus.EventBus
	logger      *slog.Logger
}

// NewManager creates an event manager. bus may be nil.
func NewManager(bus eventbus.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		history:     make(map[string][]Event),
		subscribers: make(map[EventType][]Handler),
		historyCap:  defaultHistoryCap,
		bus:         bus,
		logger:      logger,
	}
}

// Subscribe registers a handler for one event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribers[eventType] = append(m.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (m *Manager) SubscribeAll(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.global = append(m.global, handler)
}

// Emit appends the event to the instance history, invokes subscribers
// synchronously, and broadcasts through the bus when configured. Broadcast
// failures are logged, never propagated.
func (m *Manager) Emit(ctx context.Context, instanceID string, event Event) {
	m.mu.Lock()
	list := append(m.history[instanceID], event)

	if len(list) > m.historyCap {
		list = list[len(list)-m.historyCap:]
	}

	m.history[instanceID] = list

	handlers := append([]Handler(nil), m.subscribers[event.GetType()]...)
	handlers = append(handlers, m.global...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}

	if m.bus != nil {
		if err := m.bus.Publish(ctx, instanceID, string(event.GetType()), event); err != nil {
			m.logger.Warn("event broadcast failed",
				"instance_id", instanceID, "event_type", event.GetType(), "error", err)
		}
	}
}

// History returns the instance's recorded events in emit order.
func (m *Manager) History(instanceID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Event(nil), m.history[instanceID]...)
}

// Clear drops the in-memory history for an instance.
func (m *Manager) Clear(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, instanceID)
}

// NewBase builds a BaseEvent with identity and timestamp filled in.
func NewBase(eventType EventType, workflowID, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		InstanceID: instanceID,
	}
}
