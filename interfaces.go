package docxfer

import (
	"context"
	"io"

	"github.com/rbaliyan/docxfer/store"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Exporter writes databases into archives.
type Exporter interface {
	// ExportDatabase writes every document of db into a database archive
	// on w. The archive is valid, possibly empty, when ExportDatabase
	// returns nil.
	ExportDatabase(ctx context.Context, db store.Database, w io.Writer) error
	// ExportDatabases writes a multi-database archive with one nested
	// archive per database, in the given order. Databases without documents
	// leave no entry.
	ExportDatabases(ctx context.Context, dbs []store.Database, w io.Writer) error
}

// Importer writes archives into databases.
type Importer interface {
	// ImportDatabase writes every document of the database archive in src,
	// which is size bytes long, into db.
	ImportDatabase(ctx context.Context, db store.Database, src io.ReaderAt, size int64) error
	// ImportDatabases writes each nested archive of the multi-database
	// archive in src into the database of the same name in inst, creating
	// it when missing. A failed database does not stop the others; the
	// returned error joins one *DatabaseError per failure.
	ImportDatabases(ctx context.Context, inst store.Instance, src io.ReaderAt, size int64) error
}

// ArchiveTransfer moves multi-database archives through an archive store.
type ArchiveTransfer interface {
	// ExportTo streams a multi-database archive of dbs into archives under
	// name and returns its URI.
	ExportTo(ctx context.Context, dbs []store.Database, archives store.ArchiveStore, name string) (string, error)
	// ImportFrom loads the multi-database archive at uri and imports it
	// into inst.
	ImportFrom(ctx context.Context, inst store.Instance, archives store.ArchiveStore, uri string) error
}

// Service transfers document databases to and from archives.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - Exporter: database to archive (ExportDatabase, ExportDatabases)
//   - Importer: archive to database (ImportDatabase, ImportDatabases)
//   - ArchiveTransfer: the same through an archive store (ExportTo, ImportFrom)
type Service interface {
	ServiceHealth
	Exporter
	Importer
	ArchiveTransfer

	// Connect initializes the event bus. Transfers fail with
	// ErrNotConnected until it is called.
	Connect(ctx context.Context) error
	// Close waits for running transfers and releases the event bus.
	// Stores passed to transfers are owned by the caller and stay open.
	Close(ctx context.Context) error
	// Events returns per-service event instances for subscribing.
	// It is nil before Connect.
	Events() *ServiceEvents
}
