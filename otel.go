package docxfer

import (
	"context"
	"time"

	"github.com/rbaliyan/docxfer/importer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/docxfer"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	serviceName string

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	exportLatency metric.Float64Histogram
	importLatency metric.Float64Histogram
	exported      metric.Int64Counter
	imported      metric.Int64Counter
	skipped       metric.Int64Counter
	failures      metric.Int64Counter
	batches       metric.Int64Counter
	batchBytes    metric.Int64Histogram
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		serviceName:    opts.serviceName,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.exportLatency, err = meter.Float64Histogram(
		"docxfer.export.duration",
		metric.WithDescription("Duration of database exports"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.importLatency, err = meter.Float64Histogram(
		"docxfer.import.duration",
		metric.WithDescription("Duration of database imports"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.exported, err = meter.Int64Counter(
		"docxfer.documents.exported",
		metric.WithDescription("Number of documents written to archives"),
	)
	if err != nil {
		return err
	}

	o.imported, err = meter.Int64Counter(
		"docxfer.documents.imported",
		metric.WithDescription("Number of documents submitted to stores"),
	)
	if err != nil {
		return err
	}

	o.skipped, err = meter.Int64Counter(
		"docxfer.documents.skipped",
		metric.WithDescription("Number of documents left out of a transfer"),
	)
	if err != nil {
		return err
	}

	o.failures, err = meter.Int64Counter(
		"docxfer.database.errors",
		metric.WithDescription("Number of failed database transfers"),
	)
	if err != nil {
		return err
	}

	o.batches, err = meter.Int64Counter(
		"docxfer.batches.committed",
		metric.WithDescription("Number of bulk writes"),
	)
	if err != nil {
		return err
	}

	o.batchBytes, err = meter.Int64Histogram(
		"docxfer.batch.bytes",
		metric.WithDescription("Size of bulk writes"),
		metric.WithUnit("By"),
	)
	return err
}

// startSpan starts a span; call the returned function with the outcome.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	attrs = append(attrs, attribute.String("service.name", o.serviceName))
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (o *otelInstrumentation) recordExport(ctx context.Context, database string, duration time.Duration, exported, skipped int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("database", database))
	o.exportLatency.Record(ctx, duration.Seconds(), attrs)
	o.exported.Add(ctx, int64(exported), attrs)
	o.skipped.Add(ctx, int64(skipped), attrs)
	if err != nil {
		o.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("database", database),
			attribute.String("operation", "export"),
		))
	}
}

func (o *otelInstrumentation) recordImport(ctx context.Context, database string, duration time.Duration, stats importer.Stats, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("database", database))
	o.importLatency.Record(ctx, duration.Seconds(), attrs)
	o.imported.Add(ctx, int64(stats.Submitted), attrs)
	o.skipped.Add(ctx, int64(stats.Skipped), attrs)
	if err != nil {
		o.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("database", database),
			attribute.String("operation", "import"),
		))
	}
}

func (o *otelInstrumentation) recordCommit(ctx context.Context, info importer.CommitInfo) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("database", info.Database),
		attribute.Bool("success", info.Err == nil),
	)
	o.batches.Add(ctx, 1, attrs)
	o.batchBytes.Record(ctx, info.Bytes, attrs)
}
