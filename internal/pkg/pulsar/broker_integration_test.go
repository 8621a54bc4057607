package pulsar

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"
)

func integrationConfig(t *testing.T) *types.Configuration {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode...")
	}
	host := os.Getenv("PULSAR_HOST")
	if host == "" {
		t.Skip("PULSAR_HOST not set, skipping integration test")
	}
	port, err := strconv.Atoi(os.Getenv("PULSAR_PORT"))
	if err != nil {
		port = 6650
	}
	return &types.Configuration{BrokerHost: host, BrokerPort: port}
}

// TestIntegrationPublishReceive sends an event through a real pulsar and checks redelivery after a nack
func TestIntegrationPublishReceive(t *testing.T) {
	cfg := integrationConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute*2)
	defer cancel()

	broker, err := NewBroker(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Close()

	topic := "persistent://public/default/sip-validator-test-" + uuid.NewString()
	sub, err := broker.CreateSubscription(ctx, topic, "integration")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close(ctx)

	pub, err := broker.CreateProducer(ctx, topic)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close(ctx)

	codec := events.NewCodec("integration-test")
	wire, err := events.Encode(codec.Build(topic, events.OutcomeSuccess, "/data/bag", "abc", nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(ctx, wire); err != nil {
		t.Fatal(err)
	}

	first, err := sub.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Reject(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := sub.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.DeliveryCount() < 1 {
		t.Errorf("expected a redelivery, got delivery count %d", second.DeliveryCount())
	}
	e, err := events.Decode(second.Wire())
	if err != nil {
		t.Fatal(err)
	}
	if e.CorrelationID != "abc" {
		t.Errorf("correlation id lost: %q", e.CorrelationID)
	}
	if err := second.Accept(ctx); err != nil {
		t.Error(err)
	}
}
