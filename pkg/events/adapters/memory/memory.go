// Package memory provides an in-process implementation of events.Bus whose
// handlers run on the publishing goroutine, for single-instance deployments.
package memory

import (
	"context"

	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
	"github.com/chris-alexander-pop/system-design-library/pkg/events"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// Bus is an in-memory events.Bus. Subscribers on a topic run synchronously,
// in subscription order, on the publishing goroutine.
type Bus struct {
	mu       *concurrency.SmartRWMutex
	handlers map[string][]events.Handler
	closed   bool
}

// New creates an empty in-memory bus.
func New() *Bus {
	return &Bus{
		mu:       concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "events-memory-bus"}),
		handlers: make(map[string][]events.Handler),
	}
}

// Publish invokes every handler subscribed to topic. A handler error is
// logged and does not stop delivery to the remaining handlers.
func (b *Bus) Publish(ctx context.Context, topic string, event events.Event) error {
	b.mu.RLock()
	handlers := make([]events.Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			logger.L().ErrorContext(ctx, "event handler failed",
				"topic", topic, "event_type", event.Type, "error", err)
		}
	}
	return nil
}

// Subscribe registers handler to run on every future Publish to topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Close releases all subscriptions. Subsequent Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
