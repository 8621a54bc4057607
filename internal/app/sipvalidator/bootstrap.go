package sipvalidator

import (
	"context"
	"fmt"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/retry"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"
	log "github.com/sirupsen/logrus"
)

// Connections are the long lived broker handles used by the dispatcher
type Connections struct {
	BagProducer messaging.Publisher
	SIPProducer messaging.Publisher
	Subscriber  messaging.Subscriber
}

// Close closes every handle that was opened
func (c *Connections) Close(ctx context.Context) {
	if c.Subscriber != nil {
		if err := c.Subscriber.Close(ctx); err != nil {
			log.WithError(err).Warn("failed closing subscriber")
		}
	}
	for _, p := range []messaging.Publisher{c.BagProducer, c.SIPProducer} {
		if p == nil {
			continue
		}
		if err := p.Close(ctx); err != nil {
			log.WithError(err).WithField("topic", p.Topic()).Warn("failed closing producer")
		}
	}
}

// Bootstrap creates both producers and the subscription, retrying transient
// connection errors. It fails without returning partial connections.
func Bootstrap(ctx context.Context, broker messaging.Broker, cfg *types.Configuration) (*Connections, error) {
	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}

	conns := &Connections{}
	var err error

	conns.BagProducer, err = createProducer(ctx, broker, policy, cfg.ProducerBagTopic)
	if err != nil {
		conns.Close(ctx)
		return nil, err
	}
	conns.SIPProducer, err = createProducer(ctx, broker, policy, cfg.ProducerSIPTopic)
	if err != nil {
		conns.Close(ctx)
		return nil, err
	}
	conns.Subscriber, err = retry.Value(ctx, policy, broker.IsTransient, func(ctx context.Context) (messaging.Subscriber, error) {
		return broker.CreateSubscription(ctx, cfg.ConsumerTopic, cfg.AppName)
	})
	if err != nil {
		conns.Close(ctx)
		return nil, fmt.Errorf("subscribing to %s as %s: %w", cfg.ConsumerTopic, cfg.AppName, err)
	}

	log.WithFields(log.Fields{
		"consumerTopic":    cfg.ConsumerTopic,
		"producerBagTopic": cfg.ProducerBagTopic,
		"producerSIPTopic": cfg.ProducerSIPTopic,
	}).Info("connected to broker")

	return conns, nil
}

func createProducer(ctx context.Context, broker messaging.Broker, policy retry.Policy, topic string) (messaging.Publisher, error) {
	p, err := retry.Value(ctx, policy, broker.IsTransient, func(ctx context.Context) (messaging.Publisher, error) {
		return broker.CreateProducer(ctx, topic)
	})
	if err != nil {
		return nil, fmt.Errorf("creating producer for %s: %w", topic, err)
	}
	return p, nil
}
