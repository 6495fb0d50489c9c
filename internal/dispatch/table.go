// ABOUTME: Last-writer-wins handler table for transport event subscriptions
// ABOUTME: Guarantees at most one active handler per event name across UI attach/detach churn

package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler processes the raw payload of one inbound transport event.
type Handler func(payload json.RawMessage)

// Table maps event names to handlers with last-writer-wins semantics.
//
// Consumers attach and detach far more often than the underlying connection
// is created, and stacking a handler per attach would fire each inbound
// event once per attachment. Register therefore swaps atomically: any
// existing handler for the name is dropped in the same step that installs
// the new one, so an event name has either zero or one active handler.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewTable creates an empty handler table. Pass nil logger for default.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "dispatch"),
	}
}

// Register installs handler for the given event name, replacing any handler
// previously registered for that name. Repeated calls with fresher closures
// are the expected usage; the latest registration always wins.
func (t *Table) Register(event string, handler Handler) {
	if handler == nil {
		t.Unregister(event)
		return
	}

	t.mu.Lock()
	_, replaced := t.handlers[event]
	t.handlers[event] = handler
	t.mu.Unlock()

	t.logger.Debug("handler registered", "event", event, "replaced", replaced)
}

// Unregister removes the handler for the given event name, if any.
// Unregistering an unknown event is a no-op.
func (t *Table) Unregister(event string) {
	t.mu.Lock()
	_, existed := t.handlers[event]
	delete(t.handlers, event)
	t.mu.Unlock()

	if existed {
		t.logger.Debug("handler unregistered", "event", event)
	}
}

// Dispatch invokes the handler registered for event with the given payload.
// Returns false if no handler is registered. The handler runs on the
// caller's goroutine; the table lock is not held during the call.
func (t *Table) Dispatch(event string, payload json.RawMessage) bool {
	t.mu.RLock()
	handler, ok := t.handlers[event]
	t.mu.RUnlock()

	if !ok {
		t.logger.Debug("no handler for event", "event", event)
		return false
	}

	handler(payload)
	return true
}

// Has reports whether a handler is currently registered for event.
func (t *Table) Has(event string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.handlers[event]
	return ok
}

// Reset drops every registered handler. Used on logout, when all consumers
// of the connection are going away at once.
func (t *Table) Reset() {
	t.mu.Lock()
	n := len(t.handlers)
	t.handlers = make(map[string]Handler)
	t.mu.Unlock()

	if n > 0 {
		t.logger.Debug("handler table reset", "dropped", n)
	}
}
