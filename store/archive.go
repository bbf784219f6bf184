package store

import (
	"context"
	"io"
)

// ArchiveStore holds finished archive files. Implementations can support
// the local filesystem, S3, GCS, etc. See store/archive.
type ArchiveStore interface {
	// Upload stores content under a key derived from name and returns a URI
	// for later retrieval. Content is read exactly once.
	Upload(ctx context.Context, name, contentType string, content io.Reader) (uri string, err error)

	// Load returns a reader for the archive content.
	// Caller is responsible for closing the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the archive from storage.
	Delete(ctx context.Context, uri string) error
}
