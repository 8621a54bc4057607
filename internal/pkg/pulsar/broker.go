// Package pulsar implements messaging.Broker on Apache Pulsar
package pulsar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	apachepulsar "github.com/apache/pulsar-client-go/pulsar"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"
	log "github.com/sirupsen/logrus"
)

// Broker is a connection to a Pulsar cluster
type Broker struct {
	client apachepulsar.Client
	URL    string
}

// NewBroker creates a Pulsar client for the configured host and port.
// The client connects lazily, when the first producer or consumer is created.
func NewBroker(cfg *types.Configuration) (*Broker, error) {
	return newBroker(cfg, 10*time.Second, 30*time.Second)
}

func newBroker(cfg *types.Configuration, connectionTimeout, operationTimeout time.Duration) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("nil config not allowed")
	}

	opts := apachepulsar.ClientOptions{
		URL:               ServiceURL(cfg),
		ConnectionTimeout: connectionTimeout,
		OperationTimeout:  operationTimeout,
	}
	if cfg.TLS.Available() {
		opts.TLSTrustCertsFilePath = cfg.TLS.CACertFile
		opts.Authentication = apachepulsar.NewAuthenticationTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}

	client, err := apachepulsar.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating pulsar client for %s: %w", opts.URL, err)
	}
	return &Broker{client: client, URL: opts.URL}, nil
}

// ServiceURL returns the pulsar:// (or pulsar+ssl:// when TLS certs are set) url of the broker
func ServiceURL(cfg *types.Configuration) string {
	scheme := "pulsar"
	if cfg.TLS.Available() {
		scheme = "pulsar+ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(cfg.BrokerHost, fmt.Sprint(cfg.BrokerPort)))
}

// CreateProducer creates a producer on topic. The client call itself has no
// context, so a cancelled ctx returns early and the late producer is closed.
func (b *Broker) CreateProducer(ctx context.Context, topic string) (messaging.Publisher, error) {
	producer, err := withContext(ctx, func() (apachepulsar.Producer, error) {
		return b.client.CreateProducer(apachepulsar.ProducerOptions{
			Topic: topic,
		})
	}, func(p apachepulsar.Producer) { p.Close() })
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

// CreateSubscription subscribes to topic with group as subscription name
func (b *Broker) CreateSubscription(ctx context.Context, topic, group string) (messaging.Subscriber, error) {
	consumer, err := withContext(ctx, func() (apachepulsar.Consumer, error) {
		return b.client.Subscribe(apachepulsar.ConsumerOptions{
			Topic:            topic,
			SubscriptionName: group,
			Type:             apachepulsar.Exclusive,
		})
	}, func(c apachepulsar.Consumer) { c.Close() })
	if err != nil {
		return nil, err
	}
	return &Subscriber{consumer: consumer}, nil
}

// withContext runs create in the background and stops waiting when ctx is done.
// A handle created after that is released with discard.
func withContext[T any](ctx context.Context, create func() (T, error), discard func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		handle T
		err    error
	}
	done := make(chan result, 1)
	go func() {
		h, err := create()
		done <- result{handle: h, err: err}
	}()

	select {
	case r := <-done:
		return r.handle, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				discard(r.handle)
			}
		}()
		return zero, ctx.Err()
	}
}

// IsTransient reports connection level failures: refused or timed out dials and pulsar connect errors
func (b *Broker) IsTransient(err error) bool {
	return IsConnectError(err)
}

// Errors the client raises from its connection pool and rpc layer as plain
// errors.New values, so only their text identifies them.
var connectionErrorTexts = []string{
	"connection error",
	"connection closed",
	"request timed out",
	"connection refused",
	"connection reset",
}

// IsConnectError reports whether err is a connection failure
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var pulsarErr *apachepulsar.Error
	if errors.As(err, &pulsarErr) {
		switch pulsarErr.Result() {
		case apachepulsar.ConnectError, apachepulsar.TimeoutError, apachepulsar.NotConnectedError,
			apachepulsar.ServiceUnitNotReady, apachepulsar.TooManyLookupRequestException:
			return true
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, text := range connectionErrorTexts {
		if strings.Contains(msg, text) {
			return true
		}
	}
	return false
}

// Close closes the client
func (b *Broker) Close() error {
	b.client.Close()
	return nil
}

// Publisher sends events to a pulsar topic
type Publisher struct {
	producer apachepulsar.Producer
	topic    string
}

// Topic returns the topic name
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends msg and waits for the broker to persist it
func (p *Publisher) Publish(ctx context.Context, msg events.WireMessage) error {
	id, err := p.producer.Send(ctx, &apachepulsar.ProducerMessage{
		Payload:    msg.Payload,
		Properties: msg.Properties,
		EventTime:  msg.EventTime,
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"topic":     p.topic,
		"messageID": fmt.Sprintf("%v", id),
	}).Debug("message published")
	return nil
}

// Close flushes and closes the producer
func (p *Publisher) Close(ctx context.Context) error {
	p.producer.Close()
	return nil
}

// Subscriber receives messages from a pulsar subscription
type Subscriber struct {
	consumer apachepulsar.Consumer
}

// Receive blocks until a message arrives or ctx is done
func (s *Subscriber) Receive(ctx context.Context) (messaging.Message, error) {
	msg, err := s.consumer.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return NewMessageWrapper(msg, s.consumer), nil
}

// Close closes the consumer
func (s *Subscriber) Close(ctx context.Context) error {
	s.consumer.Close()
	return nil
}

// acker is the part of a pulsar consumer needed to settle a message
type acker interface {
	Ack(apachepulsar.Message) error
	Nack(apachepulsar.Message)
}

// Message wraps a received pulsar message
type Message struct {
	original apachepulsar.Message
	consumer acker
}

// NewMessageWrapper wraps a message received by consumer
func NewMessageWrapper(m apachepulsar.Message, consumer acker) messaging.Message {
	if m == nil {
		log.Panic("Message cannot be nil")
	}
	return &Message{original: m, consumer: consumer}
}

// ID get the ID
func (m *Message) ID() string {
	return fmt.Sprintf("%v", m.original.ID())
}

// DeliveryCount get number of times the message has been redelivered
func (m *Message) DeliveryCount() int {
	return int(m.original.RedeliveryCount())
}

// Wire returns payload, properties and event time
func (m *Message) Wire() events.WireMessage {
	return events.WireMessage{
		Payload:    m.original.Payload(),
		Properties: m.original.Properties(),
		EventTime:  m.original.EventTime(),
	}
}

// Accept acknowledges the message
func (m *Message) Accept(ctx context.Context) error {
	return m.consumer.Ack(m.original)
}

// Reject negatively acknowledges the message so pulsar redelivers it
func (m *Message) Reject(ctx context.Context) error {
	m.consumer.Nack(m.original)
	return nil
}
