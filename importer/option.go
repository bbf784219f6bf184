package importer

import (
	"context"
	"log/slog"

	"github.com/rbaliyan/docxfer/filter"
	"github.com/rbaliyan/docxfer/stream"
)

// DefaultBatchBytes is the default buffered batch threshold (1 MiB).
const DefaultBatchBytes = 1 << 20

// CommitInfo describes one bulk commit.
type CommitInfo struct {
	Database  string
	Documents int
	Bytes     int64
	Err       error
}

// CommitHook is called after every bulk commit, successful or not.
type CommitHook func(ctx context.Context, info CommitInfo)

type options struct {
	logger   *slog.Logger
	spooler  stream.Spooler
	onCommit CommitHook
	filter   filter.Filter
}

// Option configures strategies and the document importer.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:  slog.Default(),
		spooler: stream.MemorySpooler{},
		filter:  filter.IncludeAll,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpooler sets where buffered documents are kept until their batch is
// committed. Default: memory.
func WithSpooler(s stream.Spooler) Option {
	return func(o *options) {
		if s != nil {
			o.spooler = s
		}
	}
}

// WithCommitHook registers a function called after each bulk commit.
func WithCommitHook(hook CommitHook) Option {
	return func(o *options) {
		o.onCommit = hook
	}
}

// WithFilter sets the document filter used by the document importer.
// Default: filter.IncludeAll.
func WithFilter(f filter.Filter) Option {
	return func(o *options) {
		if f != nil {
			o.filter = f
		}
	}
}
