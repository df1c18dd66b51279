package tasks

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/projects-backend/crisalidbus/internal/runtime"
	"github.com/projects-backend/crisalidbus/internal/runtime/jsoncodec"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
)

// Worker drains the task topic and executes bridged handlers off the
// connection goroutines. Execution is fire-and-forget: every message is
// acked exactly once regardless of the handler outcome, matching the
// autoAck semantics of the bus itself.
type Worker struct {
	router *message.Router
	bridge *Bridge
	log    logging.ServiceLogger
}

// NewWorker builds a worker consuming from sub.
func NewWorker(bridge *Bridge, sub message.Subscriber, log logging.ServiceLogger) (*Worker, error) {
	if bridge == nil {
		return nil, fmt.Errorf("tasks: worker bridge cannot be nil")
	}
	if log == nil {
		log = logging.Nop()
	}

	router, err := message.NewRouter(message.RouterConfig{}, logging.NewWatermillAdapter(log))
	if err != nil {
		return nil, fmt.Errorf("tasks: create worker router: %w", err)
	}

	w := &Worker{router: router, bridge: bridge, log: log}
	router.AddNoPublisherHandler("crisalid_task_worker", Topic, sub, w.handle)
	return w, nil
}

// Run blocks processing tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.router.Run(ctx)
}

// Close stops the underlying router.
func (w *Worker) Close() error {
	return w.router.Close()
}

// handle always returns nil so the router acks every message.
func (w *Worker) handle(msg *message.Message) error {
	var env envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
		w.log.Error("decode task payload", err, logging.LogFields{"message_uuid": msg.UUID})
		return nil
	}

	fn, ok := w.bridge.resolve(env.Task)
	if !ok {
		w.log.Info("no such task registered", logging.LogFields{"task": env.Task})
		return nil
	}

	w.invoke(fn, env)
	return nil
}

func (w *Worker) invoke(fn runtime.Handler, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panicked", fmt.Errorf("task panic: %v", r), logging.LogFields{
				"task":   env.Task,
				"tenant": env.Tenant,
			})
			w.bridge.metrics.TaskFailed(env.Task)
		}
	}()

	if err := fn(context.Background(), env.Tenant, env.Fields); err != nil {
		w.log.Error("task failed", err, logging.LogFields{"task": env.Task, "tenant": env.Tenant})
		w.bridge.metrics.TaskFailed(env.Task)
	}
}
