// Package importer writes archived documents into a document store.
//
// Each archive entry is decoded into an envelope, checked against a filter,
// turned into a live Command over the entry body and handed to a Strategy.
// Immediate writes every document as it arrives; Buffered groups plain JSON
// documents into bulk writes bounded by a byte threshold.
//
// Documents of one database are processed strictly in order. Run one
// DocumentImporter (and one Strategy) per database to import several
// databases concurrently.
package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/rbaliyan/docxfer/mimestream"
	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/stream"
)

// Stats counts what a DocumentImporter has done.
type Stats struct {
	// Submitted documents, including those still waiting in a batch.
	Submitted int
	// Skipped documents excluded by the filter.
	Skipped int
	// Bytes is the declared size of submitted documents.
	Bytes int64
}

// DocumentImporter feeds archive entries of one database into a Strategy.
// Not safe for concurrent use.
type DocumentImporter struct {
	target   store.Database
	strategy Strategy
	opts     *options
	stats    Stats
}

// NewDocumentImporter returns an importer writing into target through strategy.
func NewDocumentImporter(target store.Database, strategy Strategy, opts ...Option) *DocumentImporter {
	return &DocumentImporter{
		target:   target,
		strategy: strategy,
		opts:     newOptions(opts...),
	}
}

// Import reads one archive entry from r and submits it. Decode errors are
// fatal for the document. A document excluded by the filter is skipped
// without error.
//
// When Import returns, r has been read up to the end of the document body.
func (d *DocumentImporter) Import(ctx context.Context, r io.Reader) error {
	env, err := mimestream.ReadEnvelope(r)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	include, err := d.opts.filter.Include(ctx, d.target, env.ID, env.Revision)
	if err != nil {
		return fmt.Errorf("filter %s: %w", env.ID, err)
	}
	if !include {
		if _, err := stream.Borrow(env.Body).Release(); err != nil {
			return fmt.Errorf("skip %s: %w", env.ID, err)
		}
		d.stats.Skipped++
		d.opts.logger.Debug("skipped document", "database", d.target.Name(), "id", env.ID, "rev", env.Revision)
		return nil
	}

	cmd := NewCommand(d.target, env.ID, env.Body, env.Length, env.Boundary)
	err = d.strategy.Submit(ctx, cmd)
	if _, rerr := cmd.Release(); rerr != nil && err == nil {
		err = fmt.Errorf("drain %s: %w", env.ID, rerr)
	}
	if err != nil {
		return err
	}

	d.stats.Submitted++
	d.stats.Bytes += env.Length
	d.opts.logger.Debug("submitted document", "database", d.target.Name(),
		"id", env.ID, "rev", env.Revision, "size", env.Length)
	return nil
}

// Finish flushes the strategy.
func (d *DocumentImporter) Finish(ctx context.Context) error {
	return d.strategy.Finish(ctx)
}

// Stats returns the counters so far.
func (d *DocumentImporter) Stats() Stats {
	return d.stats
}
