package postgres

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/docxfer/retry"
)

const (
	// DefaultTablePrefix names the tables docxfer_databases and
	// docxfer_documents.
	DefaultTablePrefix = "docxfer_"
	DefaultTimeout     = 10 * time.Second
)

type options struct {
	prefix  string
	timeout time.Duration
	schema  bool
	retry   retry.Policy
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:  DefaultTablePrefix,
		timeout: DefaultTimeout,
		schema:  true,
		retry:   retry.DefaultPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix sets the prefix of the databases and documents tables.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout bounds every statement and transaction.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithSchema controls whether Connect creates missing tables. Turn it off
// when the schema is managed by migrations and the role cannot run DDL.
func WithSchema(create bool) Option {
	return func(o *options) { o.schema = create }
}

// WithRetry sets the backoff for the initial ping. Statements are never
// retried.
func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.retry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
