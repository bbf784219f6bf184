package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	tracing bool
	metrics bool
	service string
	tp      trace.TracerProvider
	mp      metric.MeterProvider
}

func newOptions(opts ...Option) *options {
	o := &options{
		tracing: true,
		metrics: true,
		service: "docxfer",
		tp:      otel.GetTracerProvider(),
		mp:      otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures an instrumented archive store.
type Option func(*options)

// WithTracing turns upload, load and delete spans on or off (on by default).
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracing = enabled }
}

// WithMetrics turns the docxfer.archive.* instruments on or off (on by
// default).
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// WithServiceName sets the service.name span attribute.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.service = name
		}
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tp = tp
		}
	}
}

// WithMeterProvider replaces the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.mp = mp
		}
	}
}
