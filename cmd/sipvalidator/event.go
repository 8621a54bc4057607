package main

import (
	"context"
	"fmt"
	"time"

	"github.com/meemoo/sipin-sip-validator/internal/app/sipvalidator"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/logger"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type sendOptions struct {
	destination   string
	correlationID string
	outcome       string
	timeout       time.Duration
}

// NewEventCommand groups helpers to inject events while testing a deployment
func NewEventCommand() *cobra.Command {
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events on the broker",
	}
	eventCmd.AddCommand(newSendCommand())
	return eventCmd
}

func newSendCommand() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Publish a bag unzipped event on the consumer topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendEvent(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.destination, "destination", "d", "", "Path of the unzipped bag")
	cmd.Flags().StringVarP(&opts.correlationID, "correlation-id", "c", "", "Correlation id (random when empty)")
	cmd.Flags().StringVarP(&opts.outcome, "outcome", "o", string(events.OutcomeSuccess), "Outcome of the unzip (success|fail)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 30*time.Second, "Timeout for connecting and sending")
	cmd.MarkFlagRequired("destination") //nolint: errcheck

	return cmd
}

func sendEvent(ctx context.Context, opts sendOptions) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel, cfg.LogFormat, cfg.Secrets())

	outcome, err := events.ParseOutcome(opts.outcome)
	if err != nil {
		return err
	}
	if opts.correlationID == "" {
		opts.correlationID = uuid.NewString()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	broker, err := sipvalidator.NewBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close() //nolint: errcheck

	producer, err := broker.CreateProducer(ctx, cfg.ConsumerTopic)
	if err != nil {
		return fmt.Errorf("creating producer for %s: %w", cfg.ConsumerTopic, err)
	}
	defer producer.Close(context.WithoutCancel(ctx)) //nolint: errcheck

	e := events.NewCodec(cfg.AppName).Build(cfg.ConsumerTopic, outcome, opts.destination, opts.correlationID, map[string]interface{}{
		events.DataDestination: opts.destination,
		events.DataMessage:     fmt.Sprintf("Sent by %s event send", cfg.AppName),
	})
	wire, err := events.Encode(e)
	if err != nil {
		return err
	}
	if err := producer.Publish(ctx, wire); err != nil {
		return fmt.Errorf("publishing to %s: %w", cfg.ConsumerTopic, err)
	}

	log.WithFields(log.Fields{
		"eventID":       e.ID,
		"correlationID": e.CorrelationID,
		"topic":         cfg.ConsumerTopic,
	}).Info("event sent")
	return nil
}
