// Package runtime implements the driver that ties the decoder's event
// stream to the Indexing Cache: decoder → prefetch → {events → flush} →
// commit, per spec.md §2's control-flow paragraph. It is the only caller of
// the cache's suspension-point operations (spec.md §5) and owns the
// transaction each batch flushes into.
package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chainindex/internal/chainevent"
	"chainindex/internal/historystore"
)

// Handler processes one decoded event against the façade. Handlers mutate
// rows through store; they never see the Indexing Cache directly.
type Handler func(ctx context.Context, store *historystore.Store, event *chainevent.Event) error

// Registry maps event names to the handlers that process them, dispatched
// in registration order. Grounded in the teacher's event handler registry:
// same register/dispatch shape, narrowed to this engine's single-threaded,
// fail-the-batch-on-first-error semantics instead of best-effort fan-out.
type Registry struct {
	handlers map[string][]Handler
	logger   *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{handlers: make(map[string][]Handler), logger: logger}
}

// Register adds handler for eventName.
func (r *Registry) Register(eventName string, handler Handler) {
	r.handlers[eventName] = append(r.handlers[eventName], handler)
	if r.logger != nil {
		r.logger.Debug("registered event handler", zap.String("event", eventName))
	}
}

// Dispatch runs every handler registered for event.Name, in registration
// order, stopping at the first error: a handler failure must not let a
// later handler observe a half-applied mutation for the same event.
func (r *Registry) Dispatch(ctx context.Context, store *historystore.Store, event *chainevent.Event) error {
	handlers := r.handlers[event.Name]
	if len(handlers) == 0 {
		if r.logger != nil {
			r.logger.Debug("no handlers registered for event", zap.String("event", event.Name))
		}
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, store, event); err != nil {
			return fmt.Errorf("handler for event %s failed: %w", event.Name, err)
		}
	}
	return nil
}
