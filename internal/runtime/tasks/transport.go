// Package tasks defers handler execution onto a task queue so domain work
// never runs on a connection's consume goroutine.
package tasks

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic is the watermill topic task invocations travel on.
const Topic = "crisalid.tasks"

// Transport names understood by NewTransport.
const (
	TransportChannel = "channel"
	TransportAMQP    = "amqp"
)

// Transport bundles the publisher/subscriber pair the task queue runs on.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// TransportOptions carry the transport-specific settings.
type TransportOptions struct {
	// AMQPURL is required by the amqp transport.
	AMQPURL string
}

// NewTransport builds the named task transport. "channel" keeps everything
// in-process; "amqp" puts the queue on a durable broker queue so a separate
// worker process can drain it.
func NewTransport(name string, opts TransportOptions, logger watermill.LoggerAdapter) (Transport, error) {
	switch name {
	case "", TransportChannel:
		ps := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return Transport{Publisher: ps, Subscriber: ps}, nil

	case TransportAMQP:
		if opts.AMQPURL == "" {
			return Transport{}, fmt.Errorf("tasks: amqp transport requires a broker URL")
		}
		cfg := wamqp.NewDurableQueueConfig(opts.AMQPURL)
		pub, err := wamqp.NewPublisher(cfg, logger)
		if err != nil {
			return Transport{}, fmt.Errorf("tasks: create amqp publisher: %w", err)
		}
		sub, err := wamqp.NewSubscriber(cfg, logger)
		if err != nil {
			return Transport{}, fmt.Errorf("tasks: create amqp subscriber: %w", err)
		}
		return Transport{Publisher: pub, Subscriber: sub}, nil
	}

	return Transport{}, fmt.Errorf("tasks: unknown transport %q", name)
}
