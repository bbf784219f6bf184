package cached

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/docxfer/retry"
)

const (
	DefaultMaxSize = 4 << 30 // 4 GiB
	DefaultTTL     = 24 * time.Hour
)

type options struct {
	cacheDir string
	maxSize  int64
	ttl      time.Duration
	retry    retry.Policy
	logger   *slog.Logger
}

// Option configures the cached store.
type Option func(*options)

// WithCacheDir sets where downloaded archives are kept, os.TempDir by
// default.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.cacheDir = dir
		}
	}
}

// WithMaxSize caps the bytes kept on disk. An archive larger than the cap is
// still served from a temporary file, then removed.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets how long a downloaded archive stays valid. Zero means until
// ClearCache or eviction.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= 0 {
			o.ttl = ttl
		}
	}
}

// WithRetry sets the backoff for downloads that fail midway.
func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.retry = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
