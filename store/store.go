// Package store provides the document store capability consumed by docxfer.
// Implementations are in store/memory, store/couch, store/mongo and
// store/postgres; store/otel decorates any of them with telemetry.
//
// # Contract
//
// A Database is one logical document database. Every call may fail with a
// transport error (see TransportError). Callers in this module never retry
// document writes: a failed write is reported, not replayed.
//
// Bodies handed to Write, WriteMultipart and WriteBulk are one-shot readers.
// Implementations read them at most once and never close them; the caller
// owns their lifetime.
//
// Concurrency: a Database must be safe for use by one goroutine at a time.
// Distinct Database values obtained from the same Instance may be used from
// different goroutines concurrently.
package store

import (
	"context"
	"io"
)

// WriteOptions controls how a write treats revision identity.
type WriteOptions struct {
	// NoNewRevisions stores the revision carried by the document body as-is
	// (including its _revisions history) instead of generating a new one.
	// Imports always set this so revision identity survives the transfer.
	NoNewRevisions bool
}

// Document is the result of Get: the stored representation of one revision.
type Document struct {
	// ContentType is the media type of Body. A multipart type indicates the
	// body carries attachments.
	ContentType string
	// Length is the byte length of Body as declared by the store.
	Length int64
	// Revision is the revision token of the returned document. An empty
	// revision means the store could not identify the revision.
	Revision string
	// Body streams the document. The caller must close it.
	Body io.ReadCloser
}

// DocRef identifies one document revision in a database listing.
type DocRef struct {
	ID       string
	Revision string
}

// DocumentReader provides read access to documents.
type DocumentReader interface {
	// Get returns the given revision of a document. An empty rev returns the
	// current revision. Returns ErrNotFound if the document or revision does
	// not exist.
	Get(ctx context.Context, id, rev string) (*Document, error)

	// Exists reports whether a document with the given id exists.
	Exists(ctx context.Context, id string) (bool, error)

	// RevisionHistory returns the known revision tokens of a document,
	// newest first. Returns ErrNotFound if the document does not exist.
	RevisionHistory(ctx context.Context, id string) ([]string, error)

	// AllDocs lists the current revision of every document.
	AllDocs(ctx context.Context) ([]DocRef, error)
}

// DocumentWriter provides write access to documents.
type DocumentWriter interface {
	// Write stores a JSON document body of the given length.
	Write(ctx context.Context, id string, body io.Reader, length int64, opts WriteOptions) error

	// WriteMultipart stores a multipart/related body (JSON document followed
	// by its attachments) delimited by boundary.
	WriteMultipart(ctx context.Context, id string, body io.Reader, boundary string, length int64, opts WriteOptions) error

	// WriteBulk stores every document in a JSON array body in one call.
	// Documents keep the revisions they carry.
	WriteBulk(ctx context.Context, array io.Reader) error
}

// Database is one logical document database.
type Database interface {
	// Name returns the database name.
	Name() string

	DocumentReader
	DocumentWriter
}

// Instance is a server hosting many databases, addressed by name.
type Instance interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Databases lists the database names hosted by the instance.
	Databases(ctx context.Context) ([]string, error)

	// Database returns a handle to the named database. If create is true the
	// database is created when missing; otherwise a missing database yields
	// ErrNotFound.
	Database(ctx context.Context, name string, create bool) (Database, error)
}
