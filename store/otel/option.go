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

// Option configures the instrumentation added by New.
type Option func(*options)

// WithTracing controls whether every document operation gets a span.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracing = enabled }
}

// WithMetrics controls the docxfer.store.* instruments.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// WithServiceName overrides the service.name attribute, "docxfer" by default.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.service = name
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tp = tp
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.mp = mp
		}
	}
}

func newInstruments(opts ...Option) (*instruments, error) {
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

	ins := &instruments{opts: o}
	if o.tracing {
		ins.tracer = o.tp.Tracer(instrumentationName)
	}
	if o.metrics {
		if err := ins.initMetrics(o.mp); err != nil {
			return nil, err
		}
	}
	return ins, nil
}
