package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/projects-backend/crisalidbus/internal/runtime/config"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
	"github.com/projects-backend/crisalidbus/internal/runtime/metrics"
)

// Exchange is the durable topic exchange the research graph publishes on.
const Exchange = "graph"

// queuePrefix scopes the per-tenant exclusive queues.
const queuePrefix = "projects-backend"

const tracerName = "crisalidbus"

// Reconnect backoff: 1, 2, 4, ... time units, capped at 60. The counter
// lives for one Connect call and is never reset mid-loop.
const (
	backoffInitialUnits = 1
	backoffMaxUnits     = 60
)

// routedEntities maps each message type to its routing-key domain/entity
// segment on the graph exchange.
var routedEntities = map[MessageType]string{
	TypePerson:            "people.person",
	TypeResearchStructure: "structures.structure",
	TypeDocument:          "documents.document",
	TypeHarvestingResult:  "harvesting.harvesting_result",
}

// RoutingKeys returns every binding consumed from the graph exchange: the
// cross product of tracked entities and non-ignored event kinds, as
// "event.<domain>.<entity>.<kind>".
func RoutingKeys() []string {
	keys := make([]string, 0, len(routedEntities)*3)
	for _, t := range MessageTypes() {
		for _, k := range EventKinds() {
			if k.Ignored() {
				continue
			}
			keys = append(keys, fmt.Sprintf("event.%s.%s", routedEntities[t], k))
		}
	}
	return keys
}

// ConnState is the lifecycle phase of a Connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConsuming
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// BrokerChannel is the slice of *amqp091.Channel used by the consume loop.
// The real type satisfies it directly; tests substitute fakes.
type BrokerChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// BrokerConn is one physical connection to the broker.
type BrokerConn interface {
	Channel() (BrokerChannel, error)
	Close() error
}

// DialFunc opens a broker connection from an AMQP URL.
type DialFunc func(url string) (BrokerConn, error)

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (BrokerChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func amqpDial(url string) (BrokerConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{Connection: conn}, nil
}

// ErrAlreadyConnected is returned when Connect is called on a running
// connection. Like duplicate handler registration, it is a wiring bug.
var ErrAlreadyConnected = errors.New("bus connection already running")

// ConnectionOptions tune a Connection. Zero values use production defaults.
type ConnectionOptions struct {
	// Dial overrides how the broker connection is opened. Defaults to
	// amqp091.Dial.
	Dial DialFunc
	// RetryUnit is the backoff time unit. Defaults to one second.
	RetryUnit time.Duration
	// Metrics receives consumer statistics. Optional.
	Metrics *metrics.Bus
}

// Connection owns one broker connection for one tenant configuration and
// feeds every delivery through validate → lookup → invoke. The transport
// handles are owned exclusively by the goroutine running Connect; Stop only
// signals, it never touches them.
//
// A Connection is single-use: once stopped it stays disconnected and the
// supervisor builds a fresh one on restart.
type Connection struct {
	cfg      config.Tenant
	registry *Registry
	log      logging.ServiceLogger
	metrics  *metrics.Bus

	dial      DialFunc
	retryUnit time.Duration
	sleep     func(d time.Duration, cancel <-chan struct{})

	state    atomic.Int32
	running  atomic.Bool
	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConnection builds a connection for one tenant. Connect must be called
// on its own goroutine; it blocks until Stop or a configuration error.
func NewConnection(cfg config.Tenant, registry *Registry, log logging.ServiceLogger, opts ConnectionOptions) *Connection {
	if registry == nil {
		panic("crisalidbus: connection registry cannot be nil")
	}
	if log == nil {
		log = logging.Nop()
	}

	c := &Connection{
		cfg:       cfg,
		registry:  registry,
		log:       log.With(logging.LogFields{"tenant": cfg.Organization}),
		metrics:   opts.Metrics,
		dial:      opts.Dial,
		retryUnit: opts.RetryUnit,
		stopCh:    make(chan struct{}),
	}
	if c.dial == nil {
		c.dial = amqpDial
	}
	if c.retryUnit <= 0 {
		c.retryUnit = time.Second
	}
	c.sleep = waitOrCancel
	return c
}

// State returns the current lifecycle phase.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Stop requests a cooperative shutdown. It is idempotent and a no-op on a
// connection that never started; the consume loop observes it at the next
// delivery or backoff check.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopCh)
	})
}

func (c *Connection) stopRequested() bool {
	return c.stopped.Load()
}

// Connect dials the broker and consumes until Stop is called. Lost
// connections reconnect with exponential backoff; invalid tenant parameters
// terminate immediately since retrying a bad static config cannot help.
func (c *Connection) Connect() error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	defer c.running.Store(false)
	defer c.setState(StateDisconnected)

	url, err := c.cfg.BrokerURL()
	if err != nil {
		c.log.Error("cannot start bus connection: invalid parameters", err, logging.LogFields{
			"severity":   "critical",
			"parameters": c.cfg.String(),
		})
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitialUnits * c.retryUnit
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = backoffMaxUnits * c.retryUnit

	for !c.stopRequested() {
		err := c.consumeOnce(url)
		if err == nil || c.stopRequested() {
			break
		}

		c.log.Error("bus connection lost", err, nil)
		c.metrics.ConnectionRetried(c.cfg.Organization)

		delay := bo.NextBackOff()
		c.log.Info("reconnecting after backoff", logging.LogFields{"delay": delay.String()})
		c.sleep(delay, c.stopCh)
	}

	c.setState(StateDisconnecting)
	c.log.Info("bus connection closed", nil)
	c.setState(StateDisconnected)
	return nil
}

// consumeOnce runs one connect-and-consume attempt. It owns the transport
// handles for its whole lifetime and closes them on every exit path. A nil
// return means stop was requested; any error is recoverable.
func (c *Connection) consumeOnce(url string) error {
	c.setState(StateConnecting)
	c.log.Info("connecting to crisalid bus", logging.LogFields{"host": c.cfg.Host, "port": c.cfg.Port})

	conn, err := c.dial(url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", Exchange, err)
	}

	queue := c.queueName()
	if _, err := ch.QueueDeclare(queue, false, false, true, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", queue, err)
	}
	for _, key := range RoutingKeys() {
		if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %q to %q: %w", queue, key, err)
		}
	}

	// autoAck: deliveries are fire-and-forget, no redelivery on handler
	// failure.
	deliveries, err := ch.Consume(queue, queue, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.setState(StateConsuming)
	c.log.Info("consuming from crisalid bus", logging.LogFields{"queue": queue})
	c.metrics.ConnectionUp(c.cfg.Organization)
	defer c.metrics.ConnectionDown(c.cfg.Organization)

	for {
		select {
		case <-c.stopCh:
			c.setState(StateDisconnecting)
			if err := ch.Cancel(queue, false); err != nil {
				c.log.Error("cancel consumer", err, nil)
			}
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			c.dispatch(d)
		}
	}
}

func (c *Connection) queueName() string {
	return fmt.Sprintf("%s.%s.%s", queuePrefix, Exchange, c.cfg.Organization)
}

// dispatch runs one delivery through the validate → lookup → invoke
// pipeline. Nothing here may kill the consume loop.
func (c *Connection) dispatch(d amqp.Delivery) {
	tenant := c.cfg.Organization
	c.log.Debug("delivery received", logging.LogFields{"routing_key": d.RoutingKey})

	ev, err := ValidateEnvelope(d.Body)
	if err != nil {
		var (
			decodeErr *DecodeError
			parseErr  *ParseError
		)
		reason := metrics.DropSchema
		switch {
		case errors.As(err, &decodeErr):
			reason = metrics.DropDecode
		case errors.As(err, &parseErr):
			reason = metrics.DropParse
		}
		c.log.Error("dropping undecodable delivery", err, logging.LogFields{"routing_key": d.RoutingKey})
		c.metrics.MessageDropped(tenant, reason)
		return
	}

	c.metrics.MessageConsumed(tenant, string(ev.Type), string(ev.Event))

	// "unchanged" events are filtered before lookup.
	if ev.Event.Ignored() {
		c.metrics.MessageDropped(tenant, metrics.DropUnchanged)
		return
	}

	handler, ok := c.registry.Lookup(ev.Type, ev.Event)
	if !ok {
		c.log.Info("no handler for event", logging.LogFields{"type": ev.Type, "event": ev.Event})
		c.metrics.MessageDropped(tenant, metrics.DropNoHandler)
		return
	}

	c.invoke(handler, ev)
}

func (c *Connection) invoke(handler Handler, ev *InboundEvent) {
	tenant := c.cfg.Organization

	ctx, span := otel.Tracer(tracerName).Start(context.Background(), "bus.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("crisalid.tenant", tenant),
		attribute.String("crisalid.type", string(ev.Type)),
		attribute.String("crisalid.event", string(ev.Event)),
	)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			c.log.Error("handler panicked", err, logging.LogFields{"type": ev.Type, "event": ev.Event})
			span.SetStatus(codes.Error, "handler panic")
			c.metrics.HandlerFailed(tenant, string(ev.Type), string(ev.Event))
		}
	}()

	if err := handler(ctx, tenant, ev.Fields); err != nil {
		c.log.Error("handler failed", err, logging.LogFields{"type": ev.Type, "event": ev.Event})
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		c.metrics.HandlerFailed(tenant, string(ev.Type), string(ev.Event))
	}
}

// waitOrCancel sleeps for d unless cancel closes first.
func waitOrCancel(d time.Duration, cancel <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-cancel:
	}
}
