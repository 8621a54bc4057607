package messaging

import (
	"context"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
)

// Message interface for any message protocol to use
type Message interface {
	ID() string
	DeliveryCount() int
	Wire() events.WireMessage
	// Accept mark the message as processed (don't redeliver)
	Accept(ctx context.Context) error
	// Reject mark the message for redelivery
	Reject(ctx context.Context) error
}

// Publisher sends messages to one topic
type Publisher interface {
	Topic() string
	Publish(ctx context.Context, msg events.WireMessage) error
	Close(ctx context.Context) error
}

// Subscriber receives messages from one subscription
type Subscriber interface {
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// Broker creates publishers and subscribers on a message bus
type Broker interface {
	CreateProducer(ctx context.Context, topic string) (Publisher, error)
	CreateSubscription(ctx context.Context, topic, group string) (Subscriber, error)
	// IsTransient reports whether err is a connection failure worth retrying
	IsTransient(err error) bool
	Close() error
}
