package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"

	"github.com/projects-backend/crisalidbus/internal/runtime"
	"github.com/projects-backend/crisalidbus/internal/runtime/jsoncodec"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
	"github.com/projects-backend/crisalidbus/internal/runtime/metrics"
)

// envelope is the wire form of one deferred handler invocation.
type envelope struct {
	Task   string         `json:"task"`
	Tenant string         `json:"tenant"`
	Fields map[string]any `json:"fields"`
}

// Bridge turns handlers into fire-and-forget task enqueues. The wrapping
// decision is explicit at registration time: only handlers passed through
// Task run on the queue, everything else stays in-process.
type Bridge struct {
	publisher message.Publisher
	log       logging.ServiceLogger
	metrics   *metrics.Bus

	mu    sync.RWMutex
	table map[string]runtime.Handler
}

// NewBridge creates a bridge publishing onto pub.
func NewBridge(pub message.Publisher, log logging.ServiceLogger, busMetrics *metrics.Bus) *Bridge {
	if pub == nil {
		panic("crisalidbus: bridge publisher cannot be nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Bridge{
		publisher: pub,
		log:       log,
		metrics:   busMetrics,
		table:     make(map[string]runtime.Handler),
	}
}

// Task registers fn under name and returns a handler that enqueues the
// invocation instead of running it inline. The returned handler never
// blocks on fn and never returns an error: enqueue failures are logged and
// dropped so they cannot bounce back into a consume loop.
//
// Task names must be unique; a duplicate is a wiring bug.
func (b *Bridge) Task(name string, fn runtime.Handler) runtime.Handler {
	if fn == nil {
		panic(fmt.Sprintf("crisalidbus: task %q: handler is nil", name))
	}

	b.mu.Lock()
	if _, ok := b.table[name]; ok {
		b.mu.Unlock()
		panic(fmt.Sprintf("crisalidbus: task %q already registered", name))
	}
	b.table[name] = fn
	b.mu.Unlock()

	return func(_ context.Context, tenant string, fields map[string]any) error {
		payload, err := jsoncodec.Marshal(envelope{Task: name, Tenant: tenant, Fields: fields})
		if err != nil {
			b.log.Error("encode task payload", err, logging.LogFields{"task": name, "tenant": tenant})
			b.metrics.TaskFailed(name)
			return nil
		}

		msg := message.NewMessage(ulid.Make().String(), payload)
		if err := b.publisher.Publish(Topic, msg); err != nil {
			b.log.Error("enqueue task", err, logging.LogFields{"task": name, "tenant": tenant})
			b.metrics.TaskFailed(name)
			return nil
		}

		b.log.Debug("task enqueued", logging.LogFields{"task": name, "tenant": tenant, "message_uuid": msg.UUID})
		b.metrics.TaskEnqueued(name)
		return nil
	}
}

// resolve returns the registered function for a task name.
func (b *Bridge) resolve(name string) (runtime.Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn, ok := b.table[name]
	return fn, ok
}
