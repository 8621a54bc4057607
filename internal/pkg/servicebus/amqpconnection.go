package servicebus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"
	log "github.com/sirupsen/logrus"
)

// AmqpConnection provides an AMQP 1.0 connection and creates the senders and receivers used for topics
type AmqpConnection struct {
	Endpoint    string
	connOptions *amqp.ConnOptions

	mu      sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
}

// NewAmqpConnection prepares a connection from configuration. Dialing happens on first use.
func NewAmqpConnection(config *types.Configuration) (*AmqpConnection, error) {
	if config == nil {
		return nil, errors.New("nil config not allowed")
	}
	if config.AMQP == nil {
		return nil, errors.New("amqp config required")
	}

	opts := &amqp.ConnOptions{
		ContainerID: config.AppName,
		IdleTimeout: time.Minute,
	}
	if config.AMQP.Username != "" {
		opts.SASLType = amqp.SASLTypePlain(config.AMQP.Username, config.AMQP.Password)
	} else {
		opts.SASLType = amqp.SASLTypeAnonymous()
	}
	if config.TLS.Available() {
		tlsConfig, err := config.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("amqp tls: %w", err)
		}
		tlsConfig.ServerName = config.BrokerHost
		opts.TLSConfig = tlsConfig
	}

	return &AmqpConnection{
		Endpoint:    getAmqpEndpoint(config),
		connOptions: opts,
	}, nil
}

func getAmqpEndpoint(config *types.Configuration) string {
	scheme := "amqp"
	if config.AMQP.UseTLS || config.TLS.Available() {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(config.BrokerHost, fmt.Sprint(config.BrokerPort)))
}

// getSession dials the broker and opens a session unless one is open already
func (l *AmqpConnection) getSession(ctx context.Context) (*amqp.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		return l.session, nil
	}

	conn, err := amqp.Dial(ctx, l.Endpoint, l.connOptions)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.WithField("endpoint", l.Endpoint).Debug("amqp session created")

	l.conn = conn
	l.session = session
	return session, nil
}

// dropSession discards a session after a connection failure so the next attempt redials
func (l *AmqpConnection) dropSession(err error) {
	if !IsTransient(err) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.conn = nil
	l.session = nil
}

// CreateProducer opens a sender on the topic address
func (l *AmqpConnection) CreateProducer(ctx context.Context, topic string) (messaging.Publisher, error) {
	session, err := l.getSession(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := session.NewSender(ctx, getTopicAmqpPath(topic), nil)
	if err != nil {
		l.dropSession(err)
		return nil, err
	}
	return &Sender{sender: sender, topic: topic}, nil
}

// CreateSubscription opens a receiver on the subscription of group to topic.
// A credit of one keeps a single message in flight.
func (l *AmqpConnection) CreateSubscription(ctx context.Context, topic, group string) (messaging.Subscriber, error) {
	session, err := l.getSession(ctx)
	if err != nil {
		return nil, err
	}
	receiver, err := session.NewReceiver(ctx, getSubscriptionAmqpPath(topic, group), &amqp.ReceiverOptions{
		Credit: 1,
	})
	if err != nil {
		l.dropSession(err)
		return nil, err
	}
	return &Receiver{receiver: receiver}, nil
}

// IsTransient reports whether err is a connection failure
func (l *AmqpConnection) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient reports connection and session failures and network errors.
// Errors sent by the peer (unknown address, unauthorized) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var connErr *amqp.ConnError
	var sessionErr *amqp.SessionError
	if errors.As(err, &connErr) || errors.As(err, &sessionErr) {
		return true
	}
	var remoteErr *amqp.Error
	if errors.As(err, &remoteErr) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Close closes the connection
func (l *AmqpConnection) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.session = nil
	return err
}

// Sender publishes to a topic
type Sender struct {
	sender *amqp.Sender
	topic  string
}

// Topic returns the topic name
func (s *Sender) Topic() string {
	return s.topic
}

// Publish sends msg and waits for the broker to settle it
func (s *Sender) Publish(ctx context.Context, msg events.WireMessage) error {
	return s.sender.Send(ctx, toAmqpMessage(msg), nil)
}

// Close closes the sender link
func (s *Sender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}

// Receiver receives from a subscription
type Receiver struct {
	receiver *amqp.Receiver
}

// Receive blocks until a message arrives or ctx is done
func (r *Receiver) Receive(ctx context.Context) (messaging.Message, error) {
	m, err := r.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}
	return NewAmqpMessageWrapper(m, r.receiver), nil
}

// Close closes the receiver link
func (r *Receiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}

// settler settles received messages, implemented by *amqp.Receiver
type settler interface {
	AcceptMessage(ctx context.Context, msg *amqp.Message) error
	ModifyMessage(ctx context.Context, msg *amqp.Message, options *amqp.ModifyMessageOptions) error
}

// AmqpMessage Wrapper for amqp
type AmqpMessage struct {
	OriginalMessage *amqp.Message
	settler         settler
}

// NewAmqpMessageWrapper wraps a message received by s
func NewAmqpMessageWrapper(m *amqp.Message, s settler) messaging.Message {
	if m == nil {
		log.Panic("Message cannot be nil")
	}
	return &AmqpMessage{
		OriginalMessage: m,
		settler:         s,
	}
}

// DeliveryCount get number of times the message has been redelivered
func (m *AmqpMessage) DeliveryCount() int {
	if m.OriginalMessage.Header == nil {
		return 0
	}
	return int(m.OriginalMessage.Header.DeliveryCount)
}

// ID get the ID
func (m *AmqpMessage) ID() string {
	if m.OriginalMessage.Properties == nil || m.OriginalMessage.Properties.MessageID == nil {
		return ""
	}
	return fmt.Sprintf("%v", m.OriginalMessage.Properties.MessageID)
}

// Wire returns the body, application properties and creation time
func (m *AmqpMessage) Wire() events.WireMessage {
	wire := events.WireMessage{
		Payload:    m.OriginalMessage.GetData(),
		Properties: make(map[string]string, len(m.OriginalMessage.ApplicationProperties)),
	}
	for k, v := range m.OriginalMessage.ApplicationProperties {
		wire.Properties[k] = fmt.Sprintf("%v", v)
	}
	if p := m.OriginalMessage.Properties; p != nil && p.CreationTime != nil {
		wire.EventTime = *p.CreationTime
	}
	return wire
}

// Accept mark the message as processed successfully (don't re-queue)
func (m *AmqpMessage) Accept(ctx context.Context) error {
	return m.settler.AcceptMessage(ctx, m.OriginalMessage)
}

// Reject mark message to be requeued, counting it as a failed delivery
func (m *AmqpMessage) Reject(ctx context.Context) error {
	return m.settler.ModifyMessage(ctx, m.OriginalMessage, &amqp.ModifyMessageOptions{
		DeliveryFailed: true,
	})
}

func toAmqpMessage(msg events.WireMessage) *amqp.Message {
	m := amqp.NewMessage(msg.Payload)

	props := &amqp.MessageProperties{}
	if id := msg.Properties[events.PropID]; id != "" {
		props.MessageID = id
	}
	if correlationID := msg.Properties[events.PropCorrelationID]; correlationID != "" {
		props.CorrelationID = correlationID
	}
	if contentType := msg.Properties[events.PropContentType]; contentType != "" {
		props.ContentType = &contentType
	}
	if !msg.EventTime.IsZero() {
		eventTime := msg.EventTime
		props.CreationTime = &eventTime
	}
	m.Properties = props

	m.ApplicationProperties = make(map[string]any, len(msg.Properties))
	for k, v := range msg.Properties {
		m.ApplicationProperties[k] = v
	}
	return m
}

func getTopicAmqpPath(topic string) string {
	return "/" + strings.ToLower(topic)
}

func getSubscriptionAmqpPath(eventName, moduleName string) string {
	return "/" + strings.ToLower(eventName) + "/subscriptions/" + getSubscriptionName(eventName, moduleName)
}

func getSubscriptionName(eventName, moduleName string) string {
	return strings.ToLower(eventName) + "_" + strings.ToLower(moduleName)
}
