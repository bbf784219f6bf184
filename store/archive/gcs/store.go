// Package gcs provides a Google Cloud Storage archive store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
	"google.golang.org/api/option"
)

const scope = "https://www.googleapis.com/auth/cloud-platform"

// Store implements store.ArchiveStore using Google Cloud Storage.
type Store struct {
	client *storage.Client
	opts   *options
}

var _ store.ArchiveStore = (*Store)(nil)

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:    "archives",
		chunkSize: 16 << 20,
		retry:     retry.DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates a GCS archive store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)
	if o.bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}

	clientOpts, err := clientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("gcs: %w", err)
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &Store{client: client, opts: o}, nil
}

func clientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil || o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{scope},
			CredentialsJSON: o.credentialsJSON,
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Upload streams content into a new object with a resumable upload and
// returns a gs://bucket/name URI.
func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	key := objectName(s.opts.prefix, name, time.Now())

	w := s.client.Bucket(s.opts.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = s.opts.chunkSize

	if _, err := io.Copy(w, content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy content to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}

	s.opts.logger.Debug("uploaded archive to gcs", "bucket", s.opts.bucket, "object", key)
	return "gs://" + s.opts.bucket + "/" + key, nil
}

// Load opens the object, retrying transient failures of the request.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	r, err := retry.Value(ctx, s.opts.retry, func(ctx context.Context) (*storage.Reader, error) {
		r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, retry.Permanent(fmt.Errorf("%w: %s", store.ErrNotFound, uri))
		}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	return r, nil
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, s.opts.retry, func(ctx context.Context) error {
		err := s.client.Bucket(bucket).Object(key).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return retry.Permanent(fmt.Errorf("%w: %s", store.ErrNotFound, uri))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete gcs object: %w", err)
	}

	s.opts.logger.Debug("deleted archive from gcs", "bucket", bucket, "object", key)
	return nil
}

// Close closes the GCS client.
func (s *Store) Close() error {
	return s.client.Close()
}

func objectName(prefix, name string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01/02"), uuid.New().String(), path.Base(name))
}

// ParseURI splits a gs://bucket/name URI.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid gcs uri: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid gcs uri (no object): %s", uri)
	}
	return bucket, key, nil
}
