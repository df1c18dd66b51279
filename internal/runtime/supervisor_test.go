package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projects-backend/crisalidbus/internal/runtime/config"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
)

// testSupervisor builds a supervisor whose connections talk to fresh fake
// channels, and records every connection it creates.
func testSupervisor(t *testing.T) (*Supervisor, func() []*Connection) {
	t.Helper()

	reg := NewRegistry()
	sup := NewSupervisor(reg, logging.Nop(), SupervisorOptions{StopTimeout: 2 * time.Second})

	var mu sync.Mutex
	var created []*Connection
	sup.newConn = func(cfg config.Tenant) *Connection {
		conn := NewConnection(cfg, reg, logging.Nop(), ConnectionOptions{Dial: dialTo(newFakeChannel())})
		mu.Lock()
		created = append(created, conn)
		mu.Unlock()
		return conn
	}

	t.Cleanup(func() {
		sup.Shutdown(context.Background())
	})

	return sup, func() []*Connection {
		mu.Lock()
		defer mu.Unlock()
		return append([]*Connection(nil), created...)
	}
}

func waitState(t *testing.T, conn *Connection, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.State() == want
	}, 2*time.Second, 10*time.Millisecond, "connection never reached %s", want)
}

func TestSupervisorStart(t *testing.T) {
	sup, created := testSupervisor(t)

	require.NoError(t, sup.Start(testTenant("univ-a")))
	assert.Equal(t, []string{"univ-a"}, sup.Running())

	conns := created()
	require.Len(t, conns, 1)
	waitState(t, conns[0], StateConsuming)
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	sup, created := testSupervisor(t)

	cfg := testTenant("univ-a")
	require.NoError(t, sup.Start(cfg))
	require.NoError(t, sup.Start(cfg))

	// Exactly one live connection for the tenant; the first one was fully
	// stopped before its replacement started.
	assert.Equal(t, []string{"univ-a"}, sup.Running())

	conns := created()
	require.Len(t, conns, 2)
	assert.Equal(t, StateDisconnected, conns[0].State())
	waitState(t, conns[1], StateConsuming)
}

func TestSupervisorRejectsInactiveConfig(t *testing.T) {
	sup, created := testSupervisor(t)

	cfg := testTenant("univ-a")
	cfg.Active = false

	assert.Error(t, sup.Start(cfg))
	assert.Empty(t, sup.Running())
	assert.Empty(t, created())
}

func TestSupervisorStop(t *testing.T) {
	sup, created := testSupervisor(t)

	cfg := testTenant("univ-a")
	require.NoError(t, sup.Start(cfg))
	conns := created()
	require.Len(t, conns, 1)
	waitState(t, conns[0], StateConsuming)

	sup.Stop(cfg)

	assert.Empty(t, sup.Running())
	assert.Equal(t, StateDisconnected, conns[0].State())
}

func TestSupervisorStopMissingTenant(t *testing.T) {
	sup, _ := testSupervisor(t)

	// Stopping and deleting an unknown tenant are no-ops.
	sup.Stop(testTenant("nowhere"))
	sup.Delete(testTenant("nowhere"))
	assert.Empty(t, sup.Running())
}

func TestSupervisorDelete(t *testing.T) {
	sup, _ := testSupervisor(t)

	cfg := testTenant("univ-a")
	require.NoError(t, sup.Start(cfg))
	sup.Delete(cfg)

	assert.NotContains(t, sup.Running(), "univ-a")
}

func TestSupervisorStartAll(t *testing.T) {
	sup, _ := testSupervisor(t)

	store := config.StaticStore{
		testTenant("univ-a"),
		testTenant("univ-b"),
		func() config.Tenant {
			cfg := testTenant("univ-c")
			cfg.Active = false
			return cfg
		}(),
	}

	require.NoError(t, sup.StartAll(context.Background(), store))
	assert.Equal(t, []string{"univ-a", "univ-b"}, sup.Running())
}

func TestSupervisorStartAllSkipsBrokenTenants(t *testing.T) {
	sup, _ := testSupervisor(t)

	broken := config.Tenant{Organization: "", Active: true}
	store := config.StaticStore{broken, testTenant("univ-b")}

	// A tenant that cannot start does not block the others. The broken one
	// still gets a record: its connection fails on its own goroutine with a
	// critical configuration error and never retries.
	require.NoError(t, sup.StartAll(context.Background(), store))
	assert.Contains(t, sup.Running(), "univ-b")
}

func TestSupervisorShutdownDrainsAll(t *testing.T) {
	sup, created := testSupervisor(t)

	require.NoError(t, sup.Start(testTenant("univ-a")))
	require.NoError(t, sup.Start(testTenant("univ-b")))
	for _, conn := range created() {
		waitState(t, conn, StateConsuming)
	}

	sup.Shutdown(context.Background())

	assert.Empty(t, sup.Running())
	for _, conn := range created() {
		assert.Equal(t, StateDisconnected, conn.State())
	}
}
