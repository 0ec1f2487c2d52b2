package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deciderhq/go-decider/backend"
	"github.com/deciderhq/go-decider/backend/metrics"
	"github.com/deciderhq/go-decider/core"
	"github.com/deciderhq/go-decider/internal/metrickeys"
)

// Handler executes the side effect for a single outbound command. key is the
// command's idempotency key; handlers should attach it to the external
// dispatch so redelivery of the same logical command can be detected
// downstream.
type Handler func(ctx context.Context, key string, command *core.Message) error

// Dispatcher polls the backend for outbound commands that have not been
// processed yet, executes them through the handler and acknowledges them
// with MarkCommandProcessed. Failed handlers are retried with exponential
// backoff. Recently dispatched keys are remembered for a while so a command
// whose acknowledgment failed is not handed to the handler twice by this
// process.
type Dispatcher struct {
	backend backend.Backend
	handler Handler
	options *options

	cache  *ttlcache.Cache[string, struct{}]
	logger *slog.Logger
	tracer trace.Tracer
}

func New(b backend.Backend, handler Handler, opts ...Option) *Dispatcher {
	options := defaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	return &Dispatcher{
		backend: b,
		handler: handler,
		options: options,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](options.dedupTTL),
		),
		logger: b.Options().Logger,
		tracer: b.Tracer(),
	}
}

// IdempotencyKey derives the dispatch identity of an outbound command from
// its workflow id, command name and position.
func IdempotencyKey(m *core.Message) string {
	return fmt.Sprintf("%s:%s:%d", m.WorkflowID, m.Name, m.Position)
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	go d.cache.Start()
	defer d.cache.Stop()

	ticker := d.options.clock.Ticker(d.options.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			d.logger.ErrorContext(ctx, "dispatching pending commands", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchPending performs a single dispatch pass and returns the number of
// commands acknowledged.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	ctx, span := d.tracer.Start(ctx, "DispatchPending")
	defer span.End()

	pending, err := d.backend.GetPendingCommands(ctx, d.options.workflowID)
	if err != nil {
		return 0, fmt.Errorf("querying pending commands: %w", err)
	}

	mc := d.backend.Metrics()

	processed := 0
	for _, m := range pending {
		key := IdempotencyKey(m)

		logger := d.logger.With("workflow_id", m.WorkflowID, "position", m.Position, "command", m.Name)

		if d.cache.Get(key) != nil {
			// Handler already ran for this key, only the acknowledgment is
			// outstanding.
			mc.Counter(metrickeys.DuplicateSuppressed, metrics.Tags{metrickeys.CommandName: m.Name}, 1)
			logger.DebugContext(ctx, "suppressing duplicate dispatch")
		} else {
			start := time.Now()

			err := backoff.Retry(func() error {
				return d.handler(ctx, key, m)
			}, backoff.WithContext(d.options.retryPolicy(), ctx))
			if err != nil {
				mc.Counter(metrickeys.DispatchFailed, metrics.Tags{metrickeys.CommandName: m.Name}, 1)
				logger.ErrorContext(ctx, "dispatching command", "error", err)

				continue
			}

			mc.Counter(metrickeys.CommandsDispatched, metrics.Tags{metrickeys.CommandName: m.Name}, 1)
			mc.Timing(metrickeys.DispatchTime, metrics.Tags{metrickeys.CommandName: m.Name}, time.Since(start))

			d.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
		}

		if err := d.backend.MarkCommandProcessed(ctx, m.WorkflowID, m.Position); err != nil {
			// Consistency errors indicate a dispatcher bug or a concurrent
			// acknowledgment, either way they are not retried here.
			return processed, fmt.Errorf("acknowledging command %s: %w", key, err)
		}

		span.AddEvent("dispatched", trace.WithAttributes(
			attribute.String("key", key),
		))

		processed++
	}

	return processed, nil
}
