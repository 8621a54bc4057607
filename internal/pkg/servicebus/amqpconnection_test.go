package servicebus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"
)

type mockSettler struct {
	accepted int
	modified []*amqp.ModifyMessageOptions
}

func (s *mockSettler) AcceptMessage(ctx context.Context, msg *amqp.Message) error {
	s.accepted++
	return nil
}

func (s *mockSettler) ModifyMessage(ctx context.Context, msg *amqp.Message, options *amqp.ModifyMessageOptions) error {
	s.modified = append(s.modified, options)
	return nil
}

func TestGetSubscriptionAmqpPath(t *testing.T) {
	path := getSubscriptionAmqpPath("be.meemoo.sipin.bag.unzip", "SIP-Validator")
	if path != "/be.meemoo.sipin.bag.unzip/subscriptions/be.meemoo.sipin.bag.unzip_sip-validator" {
		t.Errorf("unexpected subscription path %s", path)
	}
	if getTopicAmqpPath("Topic") != "/topic" {
		t.Errorf("unexpected topic path %s", getTopicAmqpPath("Topic"))
	}
}

func TestGetAmqpEndpoint(t *testing.T) {
	cfg := &types.Configuration{BrokerHost: "broker", BrokerPort: 5672, AMQP: &types.AMQPConfig{}}
	if got := getAmqpEndpoint(cfg); got != "amqp://broker:5672" {
		t.Errorf("unexpected endpoint %s", got)
	}
	cfg.AMQP.UseTLS = true
	if got := getAmqpEndpoint(cfg); got != "amqps://broker:5672" {
		t.Errorf("unexpected tls endpoint %s", got)
	}
}

func TestNewAmqpConnectionRequiresConfig(t *testing.T) {
	if _, err := NewAmqpConnection(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewAmqpConnection(&types.Configuration{}); err == nil {
		t.Error("expected error for missing amqp config")
	}
	conn, err := NewAmqpConnection(&types.Configuration{
		AppName:    "sip-validator",
		BrokerHost: "localhost",
		BrokerPort: 5672,
		AMQP:       &types.AMQPConfig{Username: "guest", Password: "guest"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("closing an unopened connection should succeed, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn", &amqp.ConnError{}, true},
		{"session", fmt.Errorf("creating sender: %w", &amqp.SessionError{}), true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"remote not found", &amqp.Error{Condition: amqp.ErrCondNotFound}, false},
		{"plain", errors.New("bad address"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsTransient(c.err); got != c.want {
				t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	eventTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	wire := events.WireMessage{
		Payload: []byte(`{"specversion":"1.0"}`),
		Properties: map[string]string{
			events.PropID:            "event-1",
			events.PropCorrelationID: "abc",
			events.PropContentType:   events.ContentTypeStructured,
		},
		EventTime: eventTime,
	}

	original := toAmqpMessage(wire)
	if original.Properties.CorrelationID != "abc" || original.Properties.MessageID != "event-1" {
		t.Errorf("amqp properties not set: %+v", original.Properties)
	}
	original.Header = &amqp.MessageHeader{DeliveryCount: 3}

	s := &mockSettler{}
	message := NewAmqpMessageWrapper(original, s)

	got := message.Wire()
	if string(got.Payload) != string(wire.Payload) {
		t.Errorf("payload changed: %s", got.Payload)
	}
	if got.Properties[events.PropCorrelationID] != "abc" {
		t.Errorf("properties lost: %v", got.Properties)
	}
	if !got.EventTime.Equal(eventTime) {
		t.Errorf("event time lost: %v", got.EventTime)
	}
	if message.ID() != "event-1" || message.DeliveryCount() != 3 {
		t.Errorf("unexpected id %q or delivery count %d", message.ID(), message.DeliveryCount())
	}

	if err := message.Accept(context.Background()); err != nil {
		t.Error(err)
	}
	if err := message.Reject(context.Background()); err != nil {
		t.Error(err)
	}
	if s.accepted != 1 || len(s.modified) != 1 || !s.modified[0].DeliveryFailed {
		t.Errorf("unexpected settlement: accepted=%d modified=%+v", s.accepted, s.modified)
	}
}

func TestMessageWithoutHeaderOrProperties(t *testing.T) {
	message := NewAmqpMessageWrapper(amqp.NewMessage([]byte("x")), &mockSettler{})
	if message.ID() != "" || message.DeliveryCount() != 0 {
		t.Errorf("expected zero values, got %q %d", message.ID(), message.DeliveryCount())
	}
	if !message.Wire().EventTime.IsZero() {
		t.Error("expected zero event time")
	}
}
