package importer

import (
	"context"
	"errors"

	"github.com/rbaliyan/docxfer/stream"
)

// Strategy decides when submitted commands reach the store.
//
// A Strategy is not safe for concurrent use. Use one per database.
type Strategy interface {
	// Submit hands a command to the strategy. When Submit returns, a live
	// command's body is no longer needed.
	Submit(ctx context.Context, cmd Command) error
	// Finish writes anything still held.
	Finish(ctx context.Context) error
}

var (
	_ Strategy = (*Immediate)(nil)
	_ Strategy = (*Buffered)(nil)
)

// Immediate writes every command as it is submitted.
type Immediate struct{}

// NewImmediate returns the immediate strategy.
func NewImmediate() *Immediate {
	return &Immediate{}
}

// Submit writes cmd: multipart when it has a boundary, plain otherwise.
func (*Immediate) Submit(ctx context.Context, cmd Command) error {
	return apply(ctx, cmd)
}

// Finish does nothing.
func (*Immediate) Finish(context.Context) error {
	return nil
}

// Buffered collects plain documents into batches written with one bulk call
// each. Documents with attachments are written immediately.
//
// A batch is committed before adding a document that would bring it to the
// threshold, and again as soon as it reaches the threshold, so a single
// document at or above the threshold is written as a batch of one.
//
// All members of a batch share a target database. Submitting a command for a
// different database commits the current batch first.
type Buffered struct {
	threshold int64
	opts      *options

	batch []*BufferedCommand
	size  int64
}

// NewBuffered returns a buffered strategy committing at threshold bytes.
// A threshold of zero or less commits every document on its own.
func NewBuffered(threshold int64, opts ...Option) *Buffered {
	return &Buffered{
		threshold: threshold,
		opts:      newOptions(opts...),
	}
}

// Pending returns the number of buffered documents and their declared size.
func (b *Buffered) Pending() (documents int, bytes int64) {
	return len(b.batch), b.size
}

// Submit implements Strategy.
func (b *Buffered) Submit(ctx context.Context, cmd Command) error {
	if cmd.Boundary() != "" {
		return apply(ctx, cmd)
	}

	if len(b.batch) > 0 {
		if b.batch[0].Target() != cmd.Target() || b.size+cmd.Size() >= b.threshold {
			if err := b.commit(ctx); err != nil {
				return err
			}
		}
	}

	bc, err := Buffer(cmd, b.opts.spooler)
	if err != nil {
		return err
	}
	b.batch = append(b.batch, bc)
	b.size += bc.Size()

	if b.size >= b.threshold {
		return b.commit(ctx)
	}
	return nil
}

// Discard drops the current batch without writing it and returns how many
// documents were dropped. Use it when an import is abandoned.
func (b *Buffered) Discard() int {
	n := len(b.batch)
	for _, c := range b.batch {
		if err := c.Release(); err != nil {
			b.opts.logger.Warn("release buffered document", "id", c.ID(), "error", err)
		}
	}
	b.batch, b.size = nil, 0
	return n
}

// Finish commits the current batch, if any.
func (b *Buffered) Finish(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	return b.commit(ctx)
}

// commit writes the batch as one JSON array. The batch is cleared whether or
// not the write succeeds.
func (b *Buffered) commit(ctx context.Context) error {
	batch, size := b.batch, b.size
	b.batch, b.size = nil, 0

	target := batch[0].Target()
	openers := make([]stream.Opener, len(batch))
	for i, c := range batch {
		openers[i] = c.Body
	}

	array := stream.NewLazyArrayReader(openers...)
	err := target.WriteBulk(ctx, array)
	err = errors.Join(err, array.Close())
	for _, c := range batch {
		if rerr := c.Release(); rerr != nil {
			b.opts.logger.Warn("release buffered document", "id", c.ID(), "error", rerr)
		}
	}

	info := CommitInfo{Database: target.Name(), Documents: len(batch), Bytes: size, Err: err}
	if b.opts.onCommit != nil {
		b.opts.onCommit(ctx, info)
	}

	if err != nil {
		b.opts.logger.Error("bulk commit failed",
			"database", info.Database, "documents", info.Documents, "bytes", info.Bytes, "error", err)
		return &BatchError{Database: info.Database, Documents: info.Documents, Bytes: info.Bytes, Err: err}
	}
	b.opts.logger.Debug("committed batch",
		"database", info.Database, "documents", info.Documents, "bytes", info.Bytes)
	return nil
}

// New returns Buffered when threshold is positive, Immediate otherwise.
func New(threshold int64, opts ...Option) Strategy {
	if threshold > 0 {
		return NewBuffered(threshold, opts...)
	}
	return NewImmediate()
}
