package sipvalidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/logger"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	log "github.com/sirupsen/logrus"
)

// ErrMissingDestination is returned when an event carries no bag path
var ErrMissingDestination = errors.New("event data has no destination")

const settleTimeout = 30 * time.Second

// Dispatcher receives bag unzip events one at a time, validates the bag and publishes the outcomes
type Dispatcher struct {
	codec          *events.Codec
	subscriber     messaging.Subscriber
	bagProducer    messaging.Publisher
	sipProducer    messaging.Publisher
	validator      BagValidator
	eligibility    EligibilityChecker
	receiveBackoff time.Duration
}

// NewDispatcher wires the dispatcher to live connections
func NewDispatcher(conns *Connections, codec *events.Codec, validator BagValidator, eligibility EligibilityChecker, receiveBackoff time.Duration) *Dispatcher {
	return &Dispatcher{
		codec:          codec,
		subscriber:     conns.Subscriber,
		bagProducer:    conns.BagProducer,
		sipProducer:    conns.SIPProducer,
		validator:      validator,
		eligibility:    eligibility,
		receiveBackoff: receiveBackoff,
	}
}

// Run handles messages until ctx is cancelled. Receive failures are logged and retried.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		message, err := d.subscriber.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("error received dequeuing message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.receiveBackoff):
			}
			continue
		}

		d.Handle(ctx, message)
	}
}

// job is the state of one message while it is handled
type job struct {
	message messaging.Message
	log     *log.Entry
}

// Handle processes a single message and settles it: accepted when handled
// (including negative outcomes), rejected for redelivery on any error.
func (d *Dispatcher) Handle(ctx context.Context, message messaging.Message) {
	j := &job{
		message: message,
		log:     logger.ForMessage(message, log.NewEntry(log.StandardLogger())),
	}
	j.log.Debug("message received")

	err := d.process(ctx, j)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err != nil {
		var decodeErr *events.DecodeError
		if errors.As(err, &decodeErr) {
			j.log.WithError(err).Error("couldn't decode message, rejecting")
		} else {
			j.log.WithError(err).Error("failed processing message, rejecting")
		}
		if rejectErr := message.Reject(settleCtx); rejectErr != nil {
			j.log.WithError(rejectErr).Error("failed to reject message")
		}
		return
	}

	if acceptErr := message.Accept(settleCtx); acceptErr != nil {
		j.log.WithError(acceptErr).Error("failed to accept message")
		return
	}
	j.log.Debug("message accepted")
}

func (d *Dispatcher) process(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	event, err := events.Decode(j.message.Wire())
	if err != nil {
		return err
	}
	j.log = logger.ForEvent(event, j.log)

	if !event.HasSuccessfulOutcome() {
		j.log.WithField("outcome", event.DataOutcome()).Info("upstream outcome not successful, nothing to validate")
		return nil
	}
	j.log.WithField("data", event.Data).Info("incoming event")

	path, ok := event.DataString(events.DataDestination)
	if !ok {
		return ErrMissingDestination
	}
	j.log = j.log.WithField("bag", path)

	result, err := d.validator.Validate(ctx, path)
	if err != nil {
		return fmt.Errorf("validating bag %s: %w", path, err)
	}

	bagFields := map[string]interface{}{
		events.DataMessage: bagMessage(path, result),
	}
	if result.Valid {
		bagFields[events.DataDestination] = path
	}
	if err := d.publish(ctx, d.bagProducer, events.OutcomeOf(result.Valid), path, event.CorrelationID, bagFields); err != nil {
		return err
	}
	if !result.Valid {
		j.log.WithField("detail", result.Detail).Warn("invalid bag event sent")
		return nil
	}
	j.log.Info("valid bag event sent")

	eligibility := d.eligibility.Check(path)
	sipFields := map[string]interface{}{
		events.DataDestination: path,
		events.DataMessage:     sipMessage(path, eligibility),
	}
	if err := d.publish(ctx, d.sipProducer, events.OutcomeOf(eligibility.Valid), path, event.CorrelationID, sipFields); err != nil {
		return err
	}
	j.log.WithField("eligible", eligibility.Valid).Info("sip event sent")

	return nil
}

func (d *Dispatcher) publish(ctx context.Context, producer messaging.Publisher, outcome events.Outcome, subject, correlationID string, fields map[string]interface{}) error {
	e := d.codec.Build(producer.Topic(), outcome, subject, correlationID, fields)
	wire, err := events.Encode(e)
	if err != nil {
		return err
	}
	if err := producer.Publish(ctx, wire); err != nil {
		return fmt.Errorf("publishing %s event: %w", producer.Topic(), err)
	}
	return nil
}
