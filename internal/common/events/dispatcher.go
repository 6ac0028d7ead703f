package events

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher is an in-process EventPublisher that fans events out to
// registered handlers synchronously, in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Register subscribes a handler to every type it declares
func (d *Dispatcher) Register(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range h.EventTypes() {
		d.handlers[t] = append(d.handlers[t], h)
	}
}

// Publish delivers the event to its handlers. Handler failures are logged and
// do not stop delivery to the remaining handlers; the first one is returned.
func (d *Dispatcher) Publish(ctx context.Context, event *Event) error {
	d.mu.RLock()
	handlers := d.handlers[event.Type]
	d.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			d.logger.Error("event handler failed",
				"error", err,
				"event_id", event.ID,
				"type", event.Type,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
