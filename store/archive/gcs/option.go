package gcs

import (
	"log/slog"

	"github.com/rbaliyan/docxfer/retry"
)

type options struct {
	bucket   string
	prefix   string
	endpoint string

	// At most one credential source; none means Application Default
	// Credentials.
	credentialsJSON []byte
	credentialsFile string
	apiKey          string

	chunkSize int
	retry     retry.Policy
	logger    *slog.Logger
}

// Option configures the GCS store.
type Option func(*options)

// WithBucket names the bucket archives are written to. Required.
func WithBucket(bucket string) Option {
	return func(o *options) { o.bucket = bucket }
}

// WithPrefix sets the object name prefix, "archives" by default.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEndpoint points the client at an emulator such as fake-gcs-server.
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithCredentialsJSON authenticates with a service account key.
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) { o.credentialsJSON = json }
}

// WithCredentialsFile is WithCredentialsJSON reading the key from path.
func WithCredentialsFile(path string) Option {
	return func(o *options) { o.credentialsFile = path }
}

func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithChunkSize sets the resumable upload chunk size. The writer buffers one
// chunk in memory while an archive streams in.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithRetry sets the backoff for Load and Delete.
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
