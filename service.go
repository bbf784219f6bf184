package docxfer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/docxfer/archive"
	"github.com/rbaliyan/docxfer/exporter"
	"github.com/rbaliyan/docxfer/importer"
	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/stream"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ArchiveContentType is the content type archives are uploaded with.
const ArchiveContentType = "application/zip"

// errUploadStopped is what the export side of ExportTo sees once the upload
// has returned.
var errUploadStopped = errors.New("docxfer: upload stopped")

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	logger      *slog.Logger
	opts        *options
	state       int32 // stateDisconnected, stateConnecting, or stateConnected
	otel        *otelInstrumentation
	transferSem *semaphore.Weighted // Limits concurrent transfers; Close drains it
	eventBus    *event.Bus
	events      *ServiceEvents
}

var _ Service = (*service)(nil)

// NewService creates a new transfer service.
// Call Connect() before starting transfers.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		logger:      o.logger,
		opts:        o,
		otel:        otelInstr,
		transferSem: semaphore.NewWeighted(int64(o.maxConcurrentTransfers)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect initializes the event bus.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.initEventBus(ctx); err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("docxfer service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates the service's own bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	s.eventBus = bus
	s.events = events
	return nil
}

// Close waits for running transfers, then closes the event bus.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	s.logger.Info("waiting for running transfers to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.transferSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentTransfers)); err != nil {
		s.logger.Warn("timeout waiting for running transfers, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.transferSem.Release(int64(s.opts.maxConcurrentTransfers))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	return errors.Join(errs...)
}

// begin takes a transfer slot. Call the returned function when the
// transfer is done.
func (s *service) begin(ctx context.Context) (func(), error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := s.transferSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// Close may have run while we waited.
	if !s.IsConnected() {
		s.transferSem.Release(1)
		return nil, ErrNotConnected
	}
	return func() { s.transferSem.Release(1) }, nil
}

// --- Export ---

func (s *service) ExportDatabase(ctx context.Context, db store.Database, w io.Writer) error {
	if db == nil {
		return ErrStoreRequired
	}
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	aw := archive.NewWriter(w)
	if err := s.exportDatabase(ctx, db, aw); err != nil {
		return err
	}
	return aw.Close()
}

func (s *service) ExportDatabases(ctx context.Context, dbs []store.Database, w io.Writer) error {
	if err := checkDatabases(dbs); err != nil {
		return err
	}
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	return s.exportDatabases(ctx, dbs, w)
}

func checkDatabases(dbs []store.Database) error {
	if len(dbs) == 0 {
		return ErrNoDatabases
	}
	if slices.Contains(dbs, nil) {
		return ErrStoreRequired
	}
	return nil
}

// exportDatabases stops at the first failing database: the archive is
// written sequentially and cannot be resumed past a broken entry.
func (s *service) exportDatabases(ctx context.Context, dbs []store.Database, w io.Writer) error {
	aw := archive.NewWriter(w)
	for _, db := range dbs {
		nested := aw.Nested(db.Name())
		err := s.exportDatabase(ctx, db, nested)
		if err == nil {
			err = nested.Close()
		}
		if err != nil {
			return &DatabaseError{Database: db.Name(), Op: "export", Err: err}
		}
	}
	return aw.Close()
}

func (s *service) exportDatabase(ctx context.Context, db store.Database, aw *archive.Writer) (err error) {
	start := time.Now()
	name := db.Name()
	ctx, end := s.otel.startSpan(ctx, "docxfer.export_database", attribute.String("database", name))

	exp := exporter.New(db, exporter.WithLogger(s.logger))
	defer func() {
		stats := exp.Stats()
		s.otel.recordExport(ctx, name, time.Since(start), stats.Exported, stats.Skipped, err)
		end(err)
	}()

	if err = exp.ExportAll(ctx, aw); err != nil {
		s.logger.Error("export failed", "database", name, "error", err)
		return err
	}

	stats := exp.Stats()
	s.logger.Info("exported database",
		"database", name, "documents", stats.Exported, "skipped", stats.Skipped, "bytes", stats.Bytes)
	s.publishExported(ctx, DatabaseExportedEvent{
		Database:   name,
		Documents:  stats.Exported,
		Skipped:    stats.Skipped,
		Bytes:      stats.Bytes,
		ExportedAt: time.Now().UTC(),
	})
	return nil
}

// --- Import ---

func (s *service) ImportDatabase(ctx context.Context, db store.Database, src io.ReaderAt, size int64) error {
	if db == nil {
		return ErrStoreRequired
	}
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	r, err := archive.NewReader(src, size)
	if err != nil {
		return err
	}
	r.SetTempDir(s.opts.tempDir)
	return s.importDatabase(ctx, db, r)
}

func (s *service) ImportDatabases(ctx context.Context, inst store.Instance, src io.ReaderAt, size int64) error {
	if inst == nil {
		return ErrStoreRequired
	}
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	return s.importDatabases(ctx, inst, src, size)
}

func (s *service) importDatabases(ctx context.Context, inst store.Instance, src io.ReaderAt, size int64) error {
	r, err := archive.NewReader(src, size)
	if err != nil {
		return err
	}
	r.SetTempDir(s.opts.tempDir)

	var (
		mu     sync.Mutex
		failed []*DatabaseError
		g      errgroup.Group
	)
	g.SetLimit(s.opts.concurrency)
	for _, entry := range r.Entries() {
		g.Go(func() error {
			if err := s.importNested(ctx, inst, entry); err != nil {
				mu.Lock()
				failed = append(failed, &DatabaseError{Database: entry.Name(), Op: "import", Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(failed, func(a, b *DatabaseError) int {
		return cmp.Compare(a.Database, b.Database)
	})
	errs := make([]error, len(failed))
	for i, de := range failed {
		errs[i] = de
	}
	return errors.Join(errs...)
}

func (s *service) importNested(ctx context.Context, inst store.Instance, entry *archive.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nested, release, err := entry.Archive()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil {
			s.logger.Warn("failed to release nested archive", "database", entry.Name(), "error", rerr)
		}
	}()

	db, err := inst.Database(ctx, entry.Name(), true)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	return s.importDatabase(ctx, db, nested)
}

// discarder is implemented by strategies that hold documents back.
type discarder interface {
	Discard() int
}

// importDatabase writes the entries of r into db, one at a time and in
// archive order.
func (s *service) importDatabase(ctx context.Context, db store.Database, r *archive.Reader) (err error) {
	start := time.Now()
	name := db.Name()
	ctx, end := s.otel.startSpan(ctx, "docxfer.import_database",
		attribute.String("database", name),
		attribute.Int64("batch_bytes", s.opts.batchBytes),
	)

	batches := 0
	opts := []importer.Option{
		importer.WithLogger(s.logger),
		importer.WithSpooler(s.opts.spooler),
		importer.WithFilter(s.opts.filter),
		importer.WithCommitHook(func(ctx context.Context, info importer.CommitInfo) {
			if info.Err == nil {
				batches++
			}
			s.otel.recordCommit(ctx, info)
			ev := BatchCommittedEvent{
				Database:    info.Database,
				Documents:   info.Documents,
				Bytes:       info.Bytes,
				CommittedAt: time.Now().UTC(),
			}
			if info.Err != nil {
				ev.Error = info.Err.Error()
			}
			s.publishCommitted(ctx, ev)
		}),
	}
	strategy := importer.New(s.opts.batchBytes, opts...)
	imp := importer.NewDocumentImporter(db, strategy, opts...)

	defer func() {
		if err != nil {
			if d, ok := strategy.(discarder); ok {
				if n := d.Discard(); n > 0 {
					s.logger.Warn("discarded pending batch", "database", name, "documents", n)
				}
			}
			s.logger.Error("import failed", "database", name, "error", err)
		}
		s.otel.recordImport(ctx, name, time.Since(start), imp.Stats(), err)
		end(err)
	}()

	for _, entry := range r.Entries() {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = importEntry(ctx, imp, entry); err != nil {
			return err
		}
	}
	if err = imp.Finish(ctx); err != nil {
		return err
	}

	stats := imp.Stats()
	s.logger.Info("imported database",
		"database", name, "documents", stats.Submitted, "skipped", stats.Skipped,
		"batches", batches, "bytes", stats.Bytes)
	s.publishImported(ctx, DatabaseImportedEvent{
		Database:   name,
		Documents:  stats.Submitted,
		Skipped:    stats.Skipped,
		Batches:    batches,
		Bytes:      stats.Bytes,
		ImportedAt: time.Now().UTC(),
	})
	return nil
}

func importEntry(ctx context.Context, imp *importer.DocumentImporter, entry *archive.Entry) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", entry.Name(), err)
	}
	defer rc.Close()
	return imp.Import(ctx, rc)
}

// --- Archive stores ---

func (s *service) ExportTo(ctx context.Context, dbs []store.Database, archives store.ArchiveStore, name string) (string, error) {
	if archives == nil {
		return "", ErrStoreRequired
	}
	if err := checkDatabases(dbs); err != nil {
		return "", err
	}
	done, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	pr, pw := io.Pipe()
	exported := make(chan error, 1)
	go func() {
		err := s.exportDatabases(ctx, dbs, pw)
		pw.CloseWithError(err)
		exported <- err
	}()

	uri, uploadErr := archives.Upload(ctx, name, ArchiveContentType, pr)
	pr.CloseWithError(errUploadStopped)
	exportErr := <-exported

	if exportErr != nil && !errors.Is(exportErr, errUploadStopped) {
		if uploadErr == nil {
			s.deleteArchive(ctx, archives, uri)
		}
		return "", exportErr
	}
	if uploadErr != nil {
		return "", fmt.Errorf("upload archive: %w", uploadErr)
	}
	if exportErr != nil {
		// The store returned before reading the whole archive.
		s.deleteArchive(ctx, archives, uri)
		return "", exportErr
	}

	s.logger.Info("uploaded archive", "uri", uri, "databases", len(dbs))
	return uri, nil
}

// deleteArchive removes an archive whose export failed after the upload
// completed.
func (s *service) deleteArchive(ctx context.Context, archives store.ArchiveStore, uri string) {
	if err := archives.Delete(context.WithoutCancel(ctx), uri); err != nil {
		s.logger.Warn("failed to delete incomplete archive", "uri", uri, "error", err)
	}
}

func (s *service) ImportFrom(ctx context.Context, inst store.Instance, archives store.ArchiveStore, uri string) error {
	if inst == nil || archives == nil {
		return ErrStoreRequired
	}
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	rc, err := archives.Load(ctx, uri)
	if err != nil {
		return fmt.Errorf("load archive: %w", err)
	}
	defer rc.Close()

	src, size, release, err := s.randomAccess(rc)
	if err != nil {
		return err
	}
	defer release()

	s.logger.Info("importing archive", "uri", uri, "size", size)
	return s.importDatabases(ctx, inst, src, size)
}

// file is what local and cached archive stores hand out.
type file interface {
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// randomAccess returns r as an io.ReaderAt with its size. Readers that are
// not files are spooled to a temporary file first.
func (s *service) randomAccess(r io.Reader) (io.ReaderAt, int64, func(), error) {
	if f, ok := r.(file); ok {
		if info, err := f.Stat(); err == nil {
			return f, info.Size(), func() {}, nil
		}
	}

	s.logger.Debug("spooling archive for random access", "dir", s.opts.tempDir)
	payload, err := stream.FileSpooler{Dir: s.opts.tempDir}.Spool(r, -1)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("spool archive: %w", err)
	}
	release := func() {
		if err := payload.Release(); err != nil {
			s.logger.Warn("failed to remove spooled archive", "error", err)
		}
	}

	rc, err := payload.Open()
	if err != nil {
		release()
		return nil, 0, nil, fmt.Errorf("open spooled archive: %w", err)
	}
	f, ok := rc.(file)
	if !ok {
		rc.Close()
		release()
		return nil, 0, nil, fmt.Errorf("spooled archive %T has no random access", rc)
	}
	return f, payload.Size(), func() {
		rc.Close()
		release()
	}, nil
}
