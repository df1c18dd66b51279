// Package crisalidbus is the event-bus client for the projects directory's
// Crisalid (research knowledge graph) integration. It maintains one
// long-lived AMQP connection per active tenant organization, binds a
// tenant-scoped exclusive queue to the graph topic exchange, and feeds every
// delivery through schema validation and a typed (message type, event kind)
// handler registry.
//
// Connections reconnect on transport failures with exponential backoff
// (1s doubling up to 60s) and stop cooperatively: the ConnectionSupervisor
// owns the tenant → connection map, restarts connections on configuration
// changes, and drains the whole fleet on shutdown with a bounded wait per
// connection.
//
// Handlers are plain functions registered once at startup. Wrapping one
// through the task Bridge defers its execution onto a Watermill-backed task
// queue (in-process channels or a durable AMQP queue) so domain work never
// blocks a consume loop; deliveries are auto-acked either way, so delivery
// is at-most-once.
//
// cmd/busd is the standalone daemon: it loads tenant configurations from a
// YAML store, registers the standard directory handlers, starts every
// active tenant, exposes Prometheus metrics, and drains on SIGINT/SIGTERM.
package crisalidbus
