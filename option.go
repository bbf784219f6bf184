package docxfer

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/docxfer/filter"
	"github.com/rbaliyan/docxfer/importer"
	"github.com/rbaliyan/docxfer/stream"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultBatchBytes             = importer.DefaultBatchBytes // 1 MiB
	DefaultConcurrency            = 1                          // databases imported at once
	MaxConcurrency                = 64
	DefaultMaxConcurrentTransfers = 8                // transfers running at once per service
	DefaultShutdownTimeout        = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout            = 1 * time.Second  // minimum shutdown timeout
)

// options holds service configuration.
type options struct {
	logger *slog.Logger

	// Import
	batchBytes  int64
	concurrency int
	spooler     stream.Spooler
	filter      filter.Filter
	tempDir     string

	// Concurrency limits
	maxConcurrentTransfers int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Events; noop transport when neither is set.
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc // never nil after newOptions
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "DatabaseImported"), and err
// is an *EventPublishError.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                 slog.Default(),
		batchBytes:             DefaultBatchBytes,
		concurrency:            DefaultConcurrency,
		spooler:                stream.MemorySpooler{},
		filter:                 filter.IncludeAll,
		maxConcurrentTransfers: DefaultMaxConcurrentTransfers,
		shutdownTimeout:        DefaultShutdownTimeout,
		serviceName:            "docxfer",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a service.
type Option func(*options)

// --- Core Options ---

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Import Options ---

// WithBatchBytes sets the byte threshold of buffered imports. Plain JSON
// documents are grouped into bulk writes until their combined size reaches
// n. Zero or less writes every document immediately.
// Default is 1 MiB.
func WithBatchBytes(n int64) Option {
	return func(o *options) {
		o.batchBytes = max(n, 0)
	}
}

// WithConcurrency sets how many databases of a multi-database archive are
// imported at once. Documents within one database are always written in
// order. Values are clamped to [1, 64].
// Default is 1.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = min(max(n, 1), MaxConcurrency)
	}
}

// WithSpooler sets where buffered documents wait for their batch to be
// committed. Default keeps them in memory; stream.FileSpooler keeps them in
// temporary files.
func WithSpooler(s stream.Spooler) Option {
	return func(o *options) {
		if s != nil {
			o.spooler = s
		}
	}
}

// WithFilter sets the filter deciding which documents an import writes.
// Default writes every document.
func WithFilter(f filter.Filter) Option {
	return func(o *options) {
		if f != nil {
			o.filter = f
		}
	}
}

// WithTempDir sets where archives without random access and compressed
// nested archives are spooled during an import.
// Default is os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// --- Limit Options ---

// WithMaxConcurrentTransfers limits how many exports and imports a service
// runs at once. Further calls wait for a slot.
// Default is 8.
func WithMaxConcurrentTransfers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentTransfers = n
		}
	}
}

// WithShutdownTimeout sets how long Close waits for running transfers.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing adds a docxfer.export_database or docxfer.import_database span
// around every database transferred. Off by default.
func WithTracing(enabled bool) Option {
	return func(o *options) { o.tracingEnabled = enabled }
}

// WithMetrics records transfer durations, document and batch counters.
// Off by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metricsEnabled = enabled }
}

// WithOTel is WithTracing and WithMetrics together.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName names the service in spans and prefixes its event names.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider replaces otel.GetTracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider replaces otel.GetMeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the transport of the service event bus. It takes
// precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes service events through Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets the callback for events that could not
// be published. Default logs the failure.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
