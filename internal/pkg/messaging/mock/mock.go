package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
)

// ErrNoMessages is returned by Subscriber.Receive once the queue is drained
var ErrNoMessages = errors.New("mock: no messages queued")

// Message is an in-memory messaging.Message recording how it was settled
type Message struct {
	MessageID          string
	DeliveryCountValue int
	Value              events.WireMessage
	AcceptErr          error

	mu       sync.Mutex
	accepted int
	rejected int
}

// ID returns the message id
func (m *Message) ID() string { return m.MessageID }

// DeliveryCount returns the number of previous deliveries
func (m *Message) DeliveryCount() int { return m.DeliveryCountValue }

// Wire returns the message contents
func (m *Message) Wire() events.WireMessage { return m.Value }

// Accept records an ack
func (m *Message) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
	return m.AcceptErr
}

// Reject records a nack
func (m *Message) Reject(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
	return nil
}

// Accepted returns how many times the message was acked
func (m *Message) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// Rejected returns how many times the message was nacked
func (m *Message) Rejected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}

// Publisher stores every published message in memory
type Publisher struct {
	TopicName  string
	PublishErr error

	mu        sync.Mutex
	published []events.WireMessage
	closed    bool
}

// Topic returns the topic name
func (p *Publisher) Topic() string { return p.TopicName }

// Publish stores msg unless PublishErr is set
func (p *Publisher) Publish(ctx context.Context, msg events.WireMessage) error {
	if p.PublishErr != nil {
		return p.PublishErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

// Close marks the publisher closed
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Published returns the decoded events published so far
func (p *Publisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, 0, len(p.published))
	for _, w := range p.published {
		e, err := events.Decode(w)
		if err != nil {
			panic(fmt.Sprintf("mock publisher holds undecodable message: %v", err))
		}
		out = append(out, e)
	}
	return out
}

// Closed reports whether Close was called
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out queued messages in order
type Subscriber struct {
	mu     sync.Mutex
	queue  []*Message
	closed bool
}

// NewSubscriber returns a subscriber preloaded with messages
func NewSubscriber(msgs ...*Message) *Subscriber {
	return &Subscriber{queue: msgs}
}

// Push queues another message
func (s *Subscriber) Push(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, m)
}

// Receive pops the next message, or returns ErrNoMessages
func (s *Subscriber) Receive(ctx context.Context) (messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, ErrNoMessages
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m, nil
}

// Close marks the subscriber closed
func (s *Subscriber) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Broker is an in-memory messaging.Broker. The create funcs can be replaced to inject failures.
type Broker struct {
	Publishers map[string]*Publisher
	Sub        *Subscriber
	Transient  func(err error) bool

	CreateProducerFunc     func(ctx context.Context, topic string) (messaging.Publisher, error)
	CreateSubscriptionFunc func(ctx context.Context, topic, group string) (messaging.Subscriber, error)

	mu     sync.Mutex
	closed bool
}

// NewBroker returns a broker whose subscription serves sub
func NewBroker(sub *Subscriber) *Broker {
	return &Broker{
		Publishers: map[string]*Publisher{},
		Sub:        sub,
	}
}

// CreateProducer returns a mock publisher for topic
func (b *Broker) CreateProducer(ctx context.Context, topic string) (messaging.Publisher, error) {
	if b.CreateProducerFunc != nil {
		return b.CreateProducerFunc(ctx, topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Publisher{TopicName: topic}
	b.Publishers[topic] = p
	return p, nil
}

// CreateSubscription returns the preloaded subscriber
func (b *Broker) CreateSubscription(ctx context.Context, topic, group string) (messaging.Subscriber, error) {
	if b.CreateSubscriptionFunc != nil {
		return b.CreateSubscriptionFunc(ctx, topic, group)
	}
	return b.Sub, nil
}

// IsTransient defers to Transient, false when unset
func (b *Broker) IsTransient(err error) bool {
	if b.Transient == nil {
		return false
	}
	return b.Transient(err)
}

// Close marks the broker closed
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
