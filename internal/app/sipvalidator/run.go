package sipvalidator

import (
	"context"
	"fmt"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/pulsar"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/servicebus"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"

	log "github.com/sirupsen/logrus"
)

// Version is set at build time with -ldflags
var Version = "dev"

// Run connects to the configured broker and validates bags until ctx is cancelled.
// Only a failed bootstrap makes it return an error.
func Run(ctx context.Context, cfg *types.Configuration) error {
	broker, err := NewBroker(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			log.WithError(err).Warn("failed closing broker client")
		}
	}()

	conns, err := Bootstrap(ctx, broker, cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s broker: %w", cfg.Broker, err)
	}
	defer conns.Close(context.WithoutCancel(ctx))

	dispatcher := NewDispatcher(
		conns,
		events.NewCodec(cfg.AppName),
		NewBagItValidator(cfg.Bag.ChecksumWorkers),
		AlwaysEligible{},
		cfg.Retry.InitialDelay,
	)

	log.WithField("version", Version).Info("sip validator started")
	err = dispatcher.Run(ctx)
	log.Info("sip validator stopped")
	return err
}

// NewBroker returns the broker client selected by cfg.Broker
func NewBroker(cfg *types.Configuration) (messaging.Broker, error) {
	switch cfg.Broker {
	case types.BrokerAMQP:
		log.Info("Using AMQP broker...")
		conn, err := servicebus.NewAmqpConnection(cfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case types.BrokerPulsar:
		log.Info("Using Pulsar broker...")
		client, err := pulsar.NewBroker(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}
