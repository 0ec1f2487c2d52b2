package dispatcher

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

type options struct {
	// pollInterval is the time between dispatch passes.
	pollInterval time.Duration

	// workflowID restricts dispatching to a single workflow instance. Empty
	// means all workflows.
	workflowID string

	// retryPolicy produces a fresh backoff for every command dispatch.
	retryPolicy func() backoff.BackOff

	// dedupTTL is how long dispatched idempotency keys are remembered.
	dedupTTL time.Duration

	clock clock.Clock
}

func defaultOptions() *options {
	return &options{
		pollInterval: time.Second,
		retryPolicy: func() backoff.BackOff {
			p := backoff.NewExponentialBackOff()
			p.MaxElapsedTime = 30 * time.Second

			return p
		},
		dedupTTL: 5 * time.Minute,
		clock:    clock.New(),
	}
}

type Option func(*options)

func WithPollInterval(interval time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
	}
}

func WithWorkflowID(workflowID string) Option {
	return func(o *options) {
		o.workflowID = workflowID
	}
}

func WithRetryPolicy(policy func() backoff.BackOff) Option {
	return func(o *options) {
		o.retryPolicy = policy
	}
}

func WithDedupTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.dedupTTL = ttl
	}
}

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}
