package mongo

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/docxfer/retry"
)

// Default configuration values.
const (
	DefaultDatabasePrefix = "docxfer_"
	DefaultCollection     = "documents"
	DefaultBucket         = "attachments"
	DefaultTimeout        = 10 * time.Second
	DefaultBulkSize       = 500
)

// options holds MongoDB store configuration.
type options struct {
	prefix     string
	collection string
	bucket     string
	timeout    time.Duration
	bulkSize   int
	retry      retry.Policy
	logger     *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:     DefaultDatabasePrefix,
		collection: DefaultCollection,
		bucket:     DefaultBucket,
		timeout:    DefaultTimeout,
		bulkSize:   DefaultBulkSize,
		retry:      retry.DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabasePrefix sets the prefix of the MongoDB database backing each
// logical database. Only databases with the prefix are listed.
func WithDatabasePrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithCollection sets the documents collection name.
func WithCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithBucket sets the GridFS bucket holding multipart bodies.
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithTimeout sets the timeout of metadata operations.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBulkSize sets how many documents go into one BulkWrite call.
func WithBulkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bulkSize = n
		}
	}
}

// WithRetry sets the retry policy for the connection check.
func WithRetry(p retry.Policy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
