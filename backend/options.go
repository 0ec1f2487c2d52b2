package backend

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/deciderhq/go-decider/backend/converter"
	"github.com/deciderhq/go-decider/backend/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is the converter used for serializing and deserializing
	// message payloads. If not explicitly set, converter.DefaultConverter is
	// used.
	Converter converter.Converter
}

func DefaultOptions() *Options {
	return &Options{
		Logger:         slog.Default(),
		Metrics:        metrics.NewNoopMetricsClient(),
		TracerProvider: noop.NewTracerProvider(),
		Converter:      converter.DefaultConverter,
	}
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func ApplyOptions(opts ...BackendOption) *Options {
	options := DefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}
