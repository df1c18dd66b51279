package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler consumes one validated event for a tenant. Returned errors are
// logged at the dispatch boundary and never propagate to the consume loop.
type Handler func(ctx context.Context, tenant string, fields map[string]any) error

// HandlerKey identifies one registration slot.
type HandlerKey struct {
	Type  MessageType
	Event EventKind
}

func (k HandlerKey) String() string {
	return string(k.Type) + "::" + string(k.Event)
}

// ErrDuplicateHandler is returned when a (type, event) slot is already
// occupied. It indicates a wiring bug that must be fixed before deployment.
var ErrDuplicateHandler = errors.New("handler already registered")

// Registry maps (message type, event kind) to at most one handler.
// Registration happens once at process start; lookups run concurrently from
// every connection goroutine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HandlerKey]Handler
}

// NewRegistry creates an empty handler registry. Each composition root owns
// its own instance; there is no process-wide registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[HandlerKey]Handler)}
}

// Register stores h for (t, k). Registering a second handler for an
// occupied slot fails with ErrDuplicateHandler; the first stays active.
func (r *Registry) Register(t MessageType, k EventKind, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %s::%s: handler is nil", t, k)
	}

	key := HandlerKey{Type: t, Event: k}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[key]; ok {
		return fmt.Errorf("%s: %w", key, ErrDuplicateHandler)
	}
	r.handlers[key] = h
	return nil
}

// MustRegister is Register panicking on error, and returns the handler
// unchanged so one function can be bound to several event kinds.
func (r *Registry) MustRegister(t MessageType, k EventKind, h Handler) Handler {
	if err := r.Register(t, k, h); err != nil {
		panic(err)
	}
	return h
}

// Lookup returns the handler for (t, k). A miss is an expected case, not an
// error; callers log it at informational level and drop the message.
func (r *Registry) Lookup(t MessageType, k EventKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[HandlerKey{Type: t, Event: k}]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Clear removes all registrations. Test/reset scenarios only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[HandlerKey]Handler)
}
