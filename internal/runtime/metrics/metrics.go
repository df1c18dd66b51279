// Package metrics exposes Prometheus collectors for the bus subsystem.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded on the dropped-messages counter.
const (
	DropDecode    = "decode"
	DropParse     = "parse"
	DropSchema    = "schema"
	DropUnchanged = "unchanged"
	DropNoHandler = "no_handler"
)

// Bus tracks consumer-side statistics across all tenant connections.
// A nil *Bus is valid and records nothing, so wiring metrics stays optional.
type Bus struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	consumedTotal   *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	connectionsLive *prometheus.GaugeVec
	tasksEnqueued   *prometheus.CounterVec
	tasksFailed     *prometheus.CounterVec
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crisalidbus",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "crisalidbus",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewBus creates the bus metrics collectors. A nil registerer falls back to
// the Prometheus default registerer.
func NewBus(registerer prometheus.Registerer) *Bus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Bus{
		registerer:      registerer,
		consumedTotal:   newCounterVec("messages_consumed_total", "Total number of deliveries received from the graph exchange", []string{"tenant", "type", "event"}),
		droppedTotal:    newCounterVec("messages_dropped_total", "Total number of deliveries dropped before handler invocation", []string{"tenant", "reason"}),
		handlerErrors:   newCounterVec("handler_errors_total", "Total number of handler invocations that failed", []string{"tenant", "type", "event"}),
		reconnectsTotal: newCounterVec("reconnects_total", "Total number of reconnect attempts after a lost broker connection", []string{"tenant"}),
		connectionsLive: newGaugeVec("connections_live", "Number of tenant connections currently consuming", []string{"tenant"}),
		tasksEnqueued:   newCounterVec("tasks_enqueued_total", "Total number of handler invocations deferred to the task queue", []string{"task"}),
		tasksFailed:     newCounterVec("tasks_failed_total", "Total number of task enqueues or executions that failed", []string{"task"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Bus) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.consumedTotal,
		m.droppedTotal,
		m.handlerErrors,
		m.reconnectsTotal,
		m.connectionsLive,
		m.tasksEnqueued,
		m.tasksFailed,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}

	m.registered = true
	return nil
}

func (m *Bus) MessageConsumed(tenant, typ, event string) {
	if m == nil {
		return
	}
	m.consumedTotal.WithLabelValues(tenant, typ, event).Inc()
}

func (m *Bus) MessageDropped(tenant, reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(tenant, reason).Inc()
}

func (m *Bus) HandlerFailed(tenant, typ, event string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(tenant, typ, event).Inc()
}

func (m *Bus) ConnectionRetried(tenant string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(tenant).Inc()
}

func (m *Bus) ConnectionUp(tenant string) {
	if m == nil {
		return
	}
	m.connectionsLive.WithLabelValues(tenant).Inc()
}

func (m *Bus) ConnectionDown(tenant string) {
	if m == nil {
		return
	}
	m.connectionsLive.WithLabelValues(tenant).Dec()
}

func (m *Bus) TaskEnqueued(task string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(task).Inc()
}

func (m *Bus) TaskFailed(task string) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(task).Inc()
}
