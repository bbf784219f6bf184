package couch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rbaliyan/docxfer/retry"
)

// Default configuration values.
const (
	DefaultTimeout = 30 * time.Second
)

type options struct {
	client   *http.Client
	username string
	password string
	timeout  time.Duration
	retry    retry.Policy
	logger   *slog.Logger
}

// Option configures the CouchDB store.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		timeout: DefaultTimeout,
		retry:   retry.DefaultPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	return o
}

// WithHTTPClient sets the HTTP client. Requests carry their own deadlines,
// so the client needs no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithBasicAuth sets credentials sent with every request. Credentials in
// the server URL are used when this option is absent.
func WithBasicAuth(username, password string) Option {
	return func(o *options) {
		o.username = username
		o.password = password
	}
}

// WithTimeout bounds metadata requests (existence checks, listings,
// database creation). Document transfers are bounded by the caller's context
// only, since bodies can be arbitrarily large.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry sets the retry policy for the connection check.
func WithRetry(p retry.Policy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
