// Package eventbus provides the broadcast transport behind the event
// manager. It is payload-agnostic: events travel as JSON with their type in
// message metadata, so the bus has no dependency on the event schema.
package eventbus

import "context"

type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// Handler receives the raw payload of one event type.
type Handler func(ctx context.Context, eventType string, payload []byte) error

type EventSubscriber interface {
	Handle(eventType string, handler Handler)
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
