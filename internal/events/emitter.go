package events

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// InMemoryEventEmitter dispatches events synchronously to the handlers
// registered with it, in registration order.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		logger: logger.With(slog.String("component", "event_emitter")),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	n := len(e.handlers)
	e.mu.Unlock()
	e.logger.Debug("registered event handler", slog.Int("handler_count", n))
}

// EmitEvent delivers event to every handler. A failing handler does not
// stop delivery to the others; their errors are combined.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *BoxChanged) error {
	e.mu.RLock()
	handlers := e.handlers[:len(e.handlers):len(e.handlers)]
	e.mu.RUnlock()

	log := e.logger.With(
		slog.String("event_id", event.ID.String()),
		slog.String("box_id", event.BoxID.String()),
		slog.String("reason", string(event.Reason)))
	log.Debug("emitting event", slog.Int("handler_count", len(handlers)))

	var errs error
	for i, h := range handlers {
		if err := h.HandleEvent(ctx, event); err != nil {
			log.Error("event handler failed", slog.Int("handler_index", i), slog.String("error", err.Error()))
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
