package event

import (
	"context"
	"fmt"

	"github.com/wmsync/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus dispatches events synchronously on the publishing goroutine.
// Handler errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
}

// NewInMemoryEventBus creates a synchronous event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{registry: NewHandlerRegistry(), logger: logger}
}

// Publish delivers events to their handlers in registration order
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, ev := range events {
		dispatch(ctx, b.registry, b.logger, ev)
	}
	return nil
}

// Subscribe registers handler; with no event types given the handler's own list is used
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
}

// Unsubscribe removes handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start implements shared.EventBus
func (b *InMemoryEventBus) Start(context.Context) error { return nil }

// Stop implements shared.EventBus
func (b *InMemoryEventBus) Stop(context.Context) error { return nil }

func dispatch(ctx context.Context, registry *HandlerRegistry, logger *zap.Logger, ev shared.DomainEvent) {
	for _, h := range registry.HandlersFor(ev.EventType()) {
		if err := safeHandle(ctx, h, ev); err != nil {
			logger.Error("event handler failed",
				zap.String("event_type", ev.EventType()),
				zap.String("event_id", ev.EventID().String()),
				zap.String("tenant_id", ev.TenantID().String()),
				zap.Error(err),
			)
		}
	}
}

func safeHandle(ctx context.Context, h shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
