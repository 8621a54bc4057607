// Package retry runs an operation with bounded exponential backoff
package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultPolicy is 10 attempts, starting at one second and doubling
var DefaultPolicy = Policy{
	MaxAttempts:  10,
	InitialDelay: time.Second,
	Multiplier:   2,
}

// Delay returns how long to wait after the given failed attempt (1 based)
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do calls op until it succeeds, returns an error retryable rejects, or the
// attempts are used up. The last error is returned as is.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		delay := p.Delay(attempt)
		log.WithError(err).WithFields(log.Fields{
			"attempt":     attempt,
			"maxAttempts": attempts,
			"delay":       delay.String(),
		}).Warn("retrying after transient error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Value is Do for operations producing a result
func Value[T any](ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, retryable, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
