// Package otel provides OpenTelemetry instrumentation for document stores.
//
// Wrap an Instance with New; every Database it hands out is instrumented
// with a span per operation and duration, count, error and byte metrics
// tagged with the operation and database name.
package otel

import (
	"context"
	"io"
	"time"

	"github.com/rbaliyan/docxfer/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/docxfer/store/otel"
)

// instruments is shared by an Instance and its databases.
type instruments struct {
	opts   *options
	tracer trace.Tracer

	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
	bytes   metric.Int64Counter
}

func (ins *instruments) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	ins.latency, err = meter.Float64Histogram(
		"docxfer.store.duration",
		metric.WithDescription("Duration of document store operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	ins.count, err = meter.Int64Counter(
		"docxfer.store.count",
		metric.WithDescription("Number of document store operations"),
	)
	if err != nil {
		return err
	}

	ins.errors, err = meter.Int64Counter(
		"docxfer.store.errors",
		metric.WithDescription("Number of failed document store operations"),
	)
	if err != nil {
		return err
	}

	ins.bytes, err = meter.Int64Counter(
		"docxfer.store.bytes",
		metric.WithDescription("Document bytes read or written"),
		metric.WithUnit("By"),
	)
	return err
}

// operation is one instrumented call in flight.
type operation struct {
	ins   *instruments
	ctx   context.Context
	span  trace.Span
	attrs []attribute.KeyValue
	start time.Time
}

func (ins *instruments) start(ctx context.Context, op, database string, extra ...attribute.KeyValue) *operation {
	attrs := append([]attribute.KeyValue{
		attribute.String("store.operation", op),
		attribute.String("service.name", ins.opts.service),
	}, extra...)
	if database != "" {
		attrs = append(attrs, attribute.String("store.database", database))
	}

	o := &operation{ins: ins, ctx: ctx, attrs: attrs, start: time.Now()}
	if ins.tracer != nil {
		o.ctx, o.span = ins.tracer.Start(ctx, "docxfer.store."+op,
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}
	return o
}

// end records the outcome. A negative n records no bytes.
func (o *operation) end(err error, n int64) {
	if o.ins.opts.metrics {
		metricAttrs := metric.WithAttributes(o.attrs...)
		o.ins.latency.Record(o.ctx, time.Since(o.start).Seconds(), metricAttrs)
		o.ins.count.Add(o.ctx, 1, metricAttrs)
		if n >= 0 {
			o.ins.bytes.Add(o.ctx, n, metricAttrs)
		}
		if err != nil {
			o.ins.errors.Add(o.ctx, 1, metricAttrs)
		}
	}

	if o.span == nil {
		return
	}
	if n >= 0 {
		o.span.SetAttributes(attribute.Int64("store.bytes", n))
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, err.Error())
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()
}

// Instance wraps a store.Instance with OpenTelemetry instrumentation.
type Instance struct {
	backend store.Instance
	ins     *instruments
}

var _ store.Instance = (*Instance)(nil)

// New creates an instrumented instance wrapping backend.
func New(backend store.Instance, opts ...Option) (*Instance, error) {
	ins, err := newInstruments(opts...)
	if err != nil {
		return nil, err
	}
	return &Instance{backend: backend, ins: ins}, nil
}

// WrapDatabase instruments a single database.
func WrapDatabase(backend store.Database, opts ...Option) (*Database, error) {
	ins, err := newInstruments(opts...)
	if err != nil {
		return nil, err
	}
	return &Database{backend: backend, ins: ins}, nil
}

func (i *Instance) Connect(ctx context.Context) error {
	op := i.ins.start(ctx, "connect", "")
	err := i.backend.Connect(op.ctx)
	op.end(err, -1)
	return err
}

func (i *Instance) Close(ctx context.Context) error {
	return i.backend.Close(ctx)
}

func (i *Instance) Databases(ctx context.Context) ([]string, error) {
	op := i.ins.start(ctx, "databases", "")
	names, err := i.backend.Databases(op.ctx)
	op.end(err, -1)
	return names, err
}

// Database returns the backend database wrapped with the same instruments.
func (i *Instance) Database(ctx context.Context, name string, create bool) (store.Database, error) {
	op := i.ins.start(ctx, "database", name, attribute.Bool("store.create", create))
	db, err := i.backend.Database(op.ctx, name, create)
	op.end(err, -1)
	if err != nil {
		return nil, err
	}
	return &Database{backend: db, ins: i.ins}, nil
}

// Database wraps a store.Database with OpenTelemetry instrumentation.
type Database struct {
	backend store.Database
	ins     *instruments
}

var _ store.Database = (*Database)(nil)

func (d *Database) Name() string {
	return d.backend.Name()
}

// Get starts a span that ends when the returned body is closed, so it
// covers the read of the body.
func (d *Database) Get(ctx context.Context, id, rev string) (*store.Document, error) {
	op := d.ins.start(ctx, "get", d.backend.Name(), attribute.String("document.id", id))
	doc, err := d.backend.Get(op.ctx, id, rev)
	if err != nil {
		op.end(err, -1)
		return nil, err
	}
	doc.Body = &instrumentedReader{reader: doc.Body, op: op}
	return doc, nil
}

func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	op := d.ins.start(ctx, "exists", d.backend.Name(), attribute.String("document.id", id))
	ok, err := d.backend.Exists(op.ctx, id)
	op.end(err, -1)
	return ok, err
}

func (d *Database) RevisionHistory(ctx context.Context, id string) ([]string, error) {
	op := d.ins.start(ctx, "revision_history", d.backend.Name(), attribute.String("document.id", id))
	history, err := d.backend.RevisionHistory(op.ctx, id)
	if store.IsNotFound(err) {
		op.end(nil, -1)
	} else {
		op.end(err, -1)
	}
	return history, err
}

func (d *Database) AllDocs(ctx context.Context) ([]store.DocRef, error) {
	op := d.ins.start(ctx, "all_docs", d.backend.Name())
	refs, err := d.backend.AllDocs(op.ctx)
	op.end(err, -1)
	return refs, err
}

func (d *Database) Write(ctx context.Context, id string, body io.Reader, length int64, opts store.WriteOptions) error {
	op := d.ins.start(ctx, "write", d.backend.Name(), attribute.String("document.id", id))
	counter := &countingReader{reader: body}
	err := d.backend.Write(op.ctx, id, counter, length, opts)
	op.end(err, counter.bytes)
	return err
}

func (d *Database) WriteMultipart(ctx context.Context, id string, body io.Reader, boundary string, length int64, opts store.WriteOptions) error {
	op := d.ins.start(ctx, "write_multipart", d.backend.Name(), attribute.String("document.id", id))
	counter := &countingReader{reader: body}
	err := d.backend.WriteMultipart(op.ctx, id, counter, boundary, length, opts)
	op.end(err, counter.bytes)
	return err
}

func (d *Database) WriteBulk(ctx context.Context, array io.Reader) error {
	op := d.ins.start(ctx, "write_bulk", d.backend.Name())
	counter := &countingReader{reader: array}
	err := d.backend.WriteBulk(op.ctx, counter)
	op.end(err, counter.bytes)
	return err
}

// countingReader wraps an io.Reader and counts bytes read.
type countingReader struct {
	reader io.Reader
	bytes  int64
}

func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

// instrumentedReader ends its operation when closed.
type instrumentedReader struct {
	reader io.ReadCloser
	op     *operation
	bytes  int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()
	r.op.end(err, r.bytes)
	return err
}
