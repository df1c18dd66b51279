package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewBus(reg)

	require.NoError(t, bus.Register())
	require.NoError(t, bus.Register())
}

func TestBusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewBus(reg)
	require.NoError(t, bus.Register())

	bus.MessageConsumed("univ-a", "document", "created")
	bus.MessageConsumed("univ-a", "document", "created")
	bus.MessageDropped("univ-a", DropSchema)
	bus.HandlerFailed("univ-a", "person", "deleted")
	bus.ConnectionRetried("univ-a")
	bus.TaskEnqueued("upsert_document")
	bus.TaskFailed("upsert_document")

	assert.Equal(t, 2.0, testutil.ToFloat64(bus.consumedTotal.WithLabelValues("univ-a", "document", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.droppedTotal.WithLabelValues("univ-a", DropSchema)))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.handlerErrors.WithLabelValues("univ-a", "person", "deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.reconnectsTotal.WithLabelValues("univ-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.tasksEnqueued.WithLabelValues("upsert_document")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.tasksFailed.WithLabelValues("upsert_document")))
}

func TestBusConnectionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := NewBus(reg)
	require.NoError(t, bus.Register())

	bus.ConnectionUp("univ-a")
	bus.ConnectionUp("univ-b")
	bus.ConnectionDown("univ-a")

	assert.Equal(t, 0.0, testutil.ToFloat64(bus.connectionsLive.WithLabelValues("univ-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bus.connectionsLive.WithLabelValues("univ-b")))
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus

	assert.NotPanics(t, func() {
		require.NoError(t, bus.Register())
		bus.MessageConsumed("univ-a", "document", "created")
		bus.MessageDropped("univ-a", DropParse)
		bus.HandlerFailed("univ-a", "document", "created")
		bus.ConnectionRetried("univ-a")
		bus.ConnectionUp("univ-a")
		bus.ConnectionDown("univ-a")
		bus.TaskEnqueued("t")
		bus.TaskFailed("t")
	})
}
