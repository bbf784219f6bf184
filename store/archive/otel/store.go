// Package otel provides OpenTelemetry instrumentation for archive stores.
package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/docxfer/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/docxfer/store/archive/otel"
)

// Store wraps a store.ArchiveStore with OpenTelemetry instrumentation.
type Store struct {
	backend store.ArchiveStore
	opts    *options
	tracer  trace.Tracer

	latency metric.Float64Histogram
	count   metric.Int64Counter
	bytes   metric.Int64Counter
	errors  metric.Int64Counter
}

var _ store.ArchiveStore = (*Store)(nil)

// New creates an instrumented archive store wrapping backend.
func New(backend store.ArchiveStore, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	s := &Store{backend: backend, opts: o}
	if o.tracing {
		s.tracer = o.tp.Tracer(instrumentationName)
	}
	if o.metrics {
		if err := s.initMetrics(o.mp); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	s.latency, err = meter.Float64Histogram(
		"docxfer.archive.duration",
		metric.WithDescription("Duration of archive store operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.count, err = meter.Int64Counter(
		"docxfer.archive.count",
		metric.WithDescription("Number of archive store operations"),
	)
	if err != nil {
		return err
	}

	s.bytes, err = meter.Int64Counter(
		"docxfer.archive.bytes",
		metric.WithDescription("Archive bytes uploaded or loaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	s.errors, err = meter.Int64Counter(
		"docxfer.archive.errors",
		metric.WithDescription("Number of failed archive store operations"),
	)
	return err
}

func (s *Store) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, []attribute.KeyValue) {
	attrs = append(attrs,
		attribute.String("archive.operation", op),
		attribute.String("service.name", s.opts.service),
	)
	if s.tracer == nil {
		return ctx, nil, attrs
	}
	ctx, span := s.tracer.Start(ctx, "docxfer.archive."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return ctx, span, attrs
}

// finish records metrics and ends the span. A negative n records no bytes.
func (s *Store) finish(ctx context.Context, span trace.Span, attrs []attribute.KeyValue, start time.Time, n int64, err error) {
	if s.opts.metrics {
		metricAttrs := metric.WithAttributes(attrs...)
		s.latency.Record(ctx, time.Since(start).Seconds(), metricAttrs)
		s.count.Add(ctx, 1, metricAttrs)
		if n >= 0 {
			s.bytes.Add(ctx, n, metricAttrs)
		}
		if err != nil {
			s.errors.Add(ctx, 1, metricAttrs)
		}
	}

	if span == nil {
		return
	}
	if n >= 0 {
		span.SetAttributes(attribute.Int64("archive.bytes", n))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Upload uploads content with tracing and metrics.
func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	ctx, span, attrs := s.start(ctx, "upload", attribute.String("archive.name", name))
	start := time.Now()

	counter := &countingReader{reader: content}
	uri, err := s.backend.Upload(ctx, name, contentType, counter)
	if span != nil && err == nil {
		span.SetAttributes(attribute.String("archive.uri", uri))
	}
	s.finish(ctx, span, attrs, start, counter.bytes, err)
	return uri, err
}

// Load starts a span that ends when the returned reader is closed. The
// reader keeps the backend's ReaderAt and Stat methods when it has them.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	ctx, span, attrs := s.start(ctx, "load", attribute.String("archive.uri", uri))
	start := time.Now()

	r, err := s.backend.Load(ctx, uri)
	if err != nil {
		s.finish(ctx, span, attrs, start, -1, err)
		return nil, err
	}

	ir := &instrumentedReader{reader: r, done: func(n int64, err error) {
		s.finish(ctx, span, attrs, start, n, err)
	}}
	if f, ok := r.(fileLike); ok {
		return &instrumentedFile{instrumentedReader: ir, file: f}, nil
	}
	return ir, nil
}

// Delete removes the archive with tracing and metrics.
func (s *Store) Delete(ctx context.Context, uri string) error {
	ctx, span, attrs := s.start(ctx, "delete", attribute.String("archive.uri", uri))
	start := time.Now()

	err := s.backend.Delete(ctx, uri)
	s.finish(ctx, span, attrs, start, -1, err)
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

// instrumentedReader reports the bytes read when closed.
type instrumentedReader struct {
	reader io.ReadCloser
	done   func(n int64, err error)
	bytes  atomic.Int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytes.Add(int64(n))
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.reader.Close()
	r.done(r.bytes.Load(), err)
	return err
}

// fileLike is what local and cached stores return: a random-access file.
type fileLike interface {
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// instrumentedFile is an instrumentedReader that also counts ReadAt, which
// may be called concurrently.
type instrumentedFile struct {
	*instrumentedReader
	file fileLike
}

func (f *instrumentedFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.file.ReadAt(p, off)
	f.bytes.Add(int64(n))
	return n, err
}

func (f *instrumentedFile) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}
