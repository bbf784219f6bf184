package s3

import (
	"log/slog"

	"github.com/rbaliyan/docxfer/retry"
)

type options struct {
	bucket string
	prefix string
	region string

	// S3-compatible services (MinIO, LocalStack) need an endpoint and
	// usually path-style addressing.
	endpoint  string
	pathStyle bool

	creds credentialSource

	retry  retry.Policy
	logger *slog.Logger
}

// Option configures the S3 store.
type Option func(*options)

// WithBucket names the bucket archives are written to. Required.
func WithBucket(bucket string) Option {
	return func(o *options) { o.bucket = bucket }
}

// WithPrefix sets the key prefix archives are written under, "archives" by
// default. Keys are <prefix>/<yyyy>/<mm>/<dd>/<uuid>/<name>.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithRegion sets the AWS region, "us-east-1" by default.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

func WithPathStyle(enabled bool) Option {
	return func(o *options) { o.pathStyle = enabled }
}

// WithStaticCredentials uses an access key pair instead of the SDK default
// chain (environment, shared config, instance and pod roles).
func WithStaticCredentials(accessKey, secretKey string) Option {
	return func(o *options) {
		o.creds.accessKey = accessKey
		o.creds.secretKey = secretKey
	}
}

// WithSessionToken adds the session token of temporary static credentials.
func WithSessionToken(token string) Option {
	return func(o *options) { o.creds.sessionToken = token }
}

// WithAssumeRole assumes roleARN through STS. sessionName defaults to
// "docxfer-archive-store".
func WithAssumeRole(roleARN, sessionName string) Option {
	return func(o *options) {
		if sessionName == "" {
			sessionName = "docxfer-archive-store"
		}
		o.creds.roleARN = roleARN
		o.creds.sessionName = sessionName
	}
}

func WithExternalID(externalID string) Option {
	return func(o *options) { o.creds.externalID = externalID }
}

// WithRetry sets the backoff for downloads and deletes. Uploads read their
// content once and are never retried.
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
