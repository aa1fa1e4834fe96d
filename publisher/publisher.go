// Package publisher publishes events to an event hub channel, retrying
// publication failures.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	publishAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_publish_attempts_total",
		Help: "The total number of publish attempts, retries included",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubsub_publish_failures_total",
		Help: "The total number of publishes that failed after all retries",
	})
)

// ErrPublication marks a failure worth retrying, such as an unreachable hub
var ErrPublication = errors.New("event publication failed")

// Failed wraps err so it matches ErrPublication
func Failed(err error) error {
	return fmt.Errorf("%w: %w", ErrPublication, err)
}

// Publisher sends one event to the hub and reports whether the hub accepted it
type Publisher interface {
	Publish(ctx context.Context, contentType string, payload string) (bool, error)
}

// Retrying decorates a Publisher, retrying calls that fail with ErrPublication
type Retrying struct {
	inner    Publisher
	attempts int
	delay    time.Duration
}

// NewRetrying retries up to attempts times after the first call, waiting delay
// between calls
func NewRetrying(inner Publisher, attempts int, delay time.Duration) *Retrying {
	if attempts < 0 {
		attempts = 0
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		delay:    delay,
	}
}

// Publish returns the inner result of the first call that did not fail with
// ErrPublication. Once retries are exhausted the last failure is returned.
func (r *Retrying) Publish(ctx context.Context, contentType string, payload string) (bool, error) {
	var accepted bool

	operation := func() error {
		publishAttempts.Inc()
		ok, err := r.inner.Publish(ctx, contentType, payload)
		if err != nil {
			if errors.Is(err, ErrPublication) {
				return err
			}
			return backoff.Permanent(err)
		}
		accepted = ok
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.attempts)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"contentType": contentType,
			"wait":        wait,
			"error":       err,
		}).Warn("Publishing event failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		publishFailures.Inc()
		return false, err
	}

	return accepted, nil
}
