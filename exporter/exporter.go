// Package exporter reads documents from a store and writes them as archive
// entries.
package exporter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/rbaliyan/docxfer/mimestream"
	"github.com/rbaliyan/docxfer/store"
)

// EntryCreator creates archive entries. *archive.Writer implements it.
type EntryCreator interface {
	Create(name string) (io.Writer, error)
}

// Stats counts what a DocumentExporter has done.
type Stats struct {
	Exported int
	Skipped  int
	Bytes    int64
}

// DocumentExporter writes documents of one database into archive entries.
// Not safe for concurrent use.
type DocumentExporter struct {
	source store.Database
	logger *slog.Logger
	stats  Stats
}

// Option configures a DocumentExporter.
type Option func(*DocumentExporter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *DocumentExporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an exporter reading from source.
func New(source store.Database, opts ...Option) *DocumentExporter {
	e := &DocumentExporter{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export fetches one revision of a document with its attachments and writes
// it as an entry named by id. A document the store returns without a
// revision is skipped, and no entry is created for it.
func (e *DocumentExporter) Export(ctx context.Context, id, rev string, dst EntryCreator) (bool, error) {
	doc, err := e.source.Get(ctx, id, rev)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", id, err)
	}
	defer doc.Body.Close()

	if doc.Revision == "" {
		e.stats.Skipped++
		e.logger.Warn("skipped document without revision", "database", e.source.Name(), "id", id)
		return false, nil
	}

	w, err := dst.Create(id)
	if err != nil {
		return false, fmt.Errorf("create entry %s: %w", id, err)
	}

	headers := mimestream.Headers{
		{Name: mimestream.HeaderContentID, Value: id},
		{Name: mimestream.HeaderContentLength, Value: strconv.FormatInt(doc.Length, 10)},
		{Name: mimestream.HeaderContentType, Value: doc.ContentType},
		{Name: mimestream.HeaderETag, Value: doc.Revision},
	}
	n, err := mimestream.Encode(w, headers, doc.Body)
	if err != nil {
		return false, fmt.Errorf("write entry %s: %w", id, err)
	}

	e.stats.Exported++
	e.stats.Bytes += n
	e.logger.Debug("exported document", "database", e.source.Name(), "id", id, "rev", doc.Revision, "size", doc.Length)
	return true, nil
}

// ExportAll exports the current revision of every document of the source.
func (e *DocumentExporter) ExportAll(ctx context.Context, dst EntryCreator) error {
	refs, err := e.source.AllDocs(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.Export(ctx, ref.ID, ref.Revision, dst); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the counters so far.
func (e *DocumentExporter) Stats() Stats {
	return e.stats
}
