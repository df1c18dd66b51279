package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/projects-backend/crisalidbus/internal/runtime/config"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
	"github.com/projects-backend/crisalidbus/internal/runtime/metrics"
)

// record pairs one tenant's running connection with its goroutine handle.
type record struct {
	cfg  config.Tenant
	conn *Connection
	done chan struct{}
}

// SupervisorOptions tune a Supervisor. Zero values use production defaults.
type SupervisorOptions struct {
	// StopTimeout bounds how long Stop waits for a connection goroutine to
	// finish. Defaults to three seconds.
	StopTimeout time.Duration
	// Metrics receives consumer statistics. Optional.
	Metrics *metrics.Bus
	// Connection is passed through to every connection the supervisor
	// builds.
	Connection ConnectionOptions
}

// Supervisor owns the tenant → connection map. At most one connection runs
// per tenant key; all map mutations are serialized under one lock, while
// the blocking broker work runs on each connection's own goroutine.
type Supervisor struct {
	mu      sync.Mutex
	records map[string]*record

	registry    *Registry
	log         logging.ServiceLogger
	stopTimeout time.Duration

	// newConn builds the connection for a tenant; replaced in tests.
	newConn func(cfg config.Tenant) *Connection
}

// NewSupervisor creates a supervisor dispatching into registry.
func NewSupervisor(registry *Registry, log logging.ServiceLogger, opts SupervisorOptions) *Supervisor {
	if registry == nil {
		panic("crisalidbus: supervisor registry cannot be nil")
	}
	if log == nil {
		log = logging.Nop()
	}

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 3 * time.Second
	}

	connOpts := opts.Connection
	if connOpts.Metrics == nil {
		connOpts.Metrics = opts.Metrics
	}

	s := &Supervisor{
		records:     make(map[string]*record),
		registry:    registry,
		log:         log,
		stopTimeout: stopTimeout,
	}
	s.newConn = func(cfg config.Tenant) *Connection {
		return NewConnection(cfg, registry, log, connOpts)
	}
	return s
}

// Start launches a connection for cfg. When one is already running for the
// tenant key it is fully stopped first, so the broker never sees two
// exclusive consumers for the same tenant. Inactive configs are rejected.
func (s *Supervisor) Start(cfg config.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[cfg.Organization]; ok {
		s.stopLocked(cfg.Organization)
	}

	if !cfg.Active {
		return fmt.Errorf("tenant %q: cannot start an inactive configuration", cfg.Organization)
	}

	conn := s.newConn(cfg)
	rec := &record{cfg: cfg, conn: conn, done: make(chan struct{})}
	s.records[cfg.Organization] = rec

	s.log.Info("starting bus connection", logging.LogFields{"tenant": cfg.Organization})
	go func() {
		defer close(rec.done)
		if err := conn.Connect(); err != nil {
			s.log.Error("bus connection terminated", err, logging.LogFields{"tenant": cfg.Organization})
		}
	}()
	return nil
}

// Stop stops the tenant's connection and removes its record. A missing
// record is a no-op.
func (s *Supervisor) Stop(cfg config.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(cfg.Organization)
}

// Delete is Stop with the additional guarantee that the tenant key is
// absent from the map afterwards, also under concurrent access.
func (s *Supervisor) Delete(cfg config.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(cfg.Organization)
}

// stopLocked must be called with s.mu held. It waits at most stopTimeout
// for the connection goroutine; a goroutine that outlives the wait is
// abandoned, never blocking process exit.
func (s *Supervisor) stopLocked(key string) {
	rec, ok := s.records[key]
	if !ok {
		return
	}

	s.log.Info("stopping bus connection", logging.LogFields{"tenant": key})
	rec.conn.Stop()

	select {
	case <-rec.done:
	case <-time.After(s.stopTimeout):
		s.log.Error("bus connection did not stop in time", nil, logging.LogFields{"tenant": key})
	}

	delete(s.records, key)
}

// StartAll starts a connection for every active tenant in the store. Used
// once at process boot to resume connections after a restart. A tenant that
// fails to start does not block the others.
func (s *Supervisor) StartAll(ctx context.Context, store config.Store) error {
	tenants, err := store.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("load tenant configurations: %w", err)
	}

	for _, tenant := range tenants {
		if !tenant.Active {
			continue
		}
		if err := s.Start(tenant); err != nil {
			s.log.Error("cannot start tenant connection", err, logging.LogFields{"tenant": tenant.Organization})
		}
	}
	return nil
}

// Shutdown drains every live connection. Each stop is bounded by
// StopTimeout and the whole drain stops early when ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if ctx.Err() != nil {
			s.log.Error("shutdown deadline exceeded, abandoning remaining connections", ctx.Err(), logging.LogFields{
				"remaining": len(s.records),
			})
			return
		}
		s.stopLocked(key)
	}
}

// Running returns the tenant keys with a live record, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
