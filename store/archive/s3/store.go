// Package s3 provides an S3 archive store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
)

// Store implements store.ArchiveStore using AWS S3.
type Store struct {
	client *s3.Client
	tm     *transfermanager.Client
	opts   *options
}

var _ store.ArchiveStore = (*Store)(nil)

func newOptions(opts ...Option) *options {
	o := &options{
		region: "us-east-1",
		prefix: "archives",
		retry:  retry.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates an S3 archive store. The context is used for credential
// loading.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	cfg, err := loadConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.pathStyle
		}
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a store over an existing client. Credential and
// endpoint options are ignored.
func NewFromClient(client *s3.Client, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	return &Store{
		client: client,
		tm:     transfermanager.New(client),
		opts:   o,
	}, nil
}

// Upload streams content to S3 with a multipart upload and returns an
// s3://bucket/key URI. The content is read once, so uploads are not retried.
func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	key := objectKey(s.opts.prefix, name, time.Now())

	input := &transfermanager.UploadObjectInput{
		Bucket: aws.String(s.opts.bucket),
		Key:    aws.String(key),
		Body:   content,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.tm.UploadObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	s.opts.logger.Debug("uploaded archive to s3", "bucket", s.opts.bucket, "key", key)
	return "s3://" + s.opts.bucket + "/" + key, nil
}

// Load opens the object, retrying transient failures of the request.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := retry.Value(ctx, s.opts.retry, func(ctx context.Context) (*s3.GetObjectOutput, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, retry.Permanent(fmt.Errorf("%w: %s", store.ErrNotFound, uri))
		}
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, s.opts.retry, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete object from s3: %w", err)
	}

	s.opts.logger.Debug("deleted archive from s3", "bucket", bucket, "key", key)
	return nil
}

// objectKey partitions keys by day and makes them unique.
func objectKey(prefix, name string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.New().String(), path.Base(name))
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri (no key): %s", uri)
	}
	return bucket, key, nil
}
