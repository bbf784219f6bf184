package docxfer

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for transfer events.
const (
	EventNameDatabaseExported = "docxfer.database.exported"
	EventNameDatabaseImported = "docxfer.database.imported"
	EventNameBatchCommitted   = "docxfer.batch.committed"
)

// DatabaseExportedEvent is published when a database has been written to an
// archive.
type DatabaseExportedEvent struct {
	Database   string    `json:"database"`
	Documents  int       `json:"documents"`
	Skipped    int       `json:"skipped"`
	Bytes      int64     `json:"bytes"`
	ExportedAt time.Time `json:"exported_at"`
}

// DatabaseImportedEvent is published when every document of a database
// archive has been written.
type DatabaseImportedEvent struct {
	Database   string    `json:"database"`
	Documents  int       `json:"documents"`
	Skipped    int       `json:"skipped"`
	Batches    int       `json:"batches"`
	Bytes      int64     `json:"bytes"`
	ImportedAt time.Time `json:"imported_at"`
}

// BatchCommittedEvent is published after every bulk write of a buffered
// import, including failed ones. Error is empty on success.
type BatchCommittedEvent struct {
	Database    string    `json:"database"`
	Documents   int       `json:"documents"`
	Bytes       int64     `json:"bytes"`
	Error       string    `json:"error,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// ServiceEvents provides access to per-service event instances.
//
// Subscribe to events:
//
//	svc.Events().DatabaseImported.Subscribe(ctx, handler)
//	svc.Events().BatchCommitted.Subscribe(ctx, handler)
type ServiceEvents struct {
	// DatabaseExported is published when a database export completes.
	DatabaseExported event.Event[DatabaseExportedEvent]

	// DatabaseImported is published when a database import completes.
	DatabaseImported event.Event[DatabaseImportedEvent]

	// BatchCommitted is published after each bulk write.
	BatchCommitted event.Event[BatchCommittedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		DatabaseExported: event.New[DatabaseExportedEvent](namePrefix + "." + EventNameDatabaseExported),
		DatabaseImported: event.New[DatabaseImportedEvent](namePrefix + "." + EventNameDatabaseImported),
		BatchCommitted:   event.New[BatchCommittedEvent](namePrefix + "." + EventNameBatchCommitted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.DatabaseExported); err != nil {
		return fmt.Errorf("register DatabaseExported: %w", err)
	}
	if err := event.Register(ctx, bus, events.DatabaseImported); err != nil {
		return fmt.Errorf("register DatabaseImported: %w", err)
	}
	if err := event.Register(ctx, bus, events.BatchCommitted); err != nil {
		return fmt.Errorf("register BatchCommitted: %w", err)
	}
	return nil
}

func (s *service) publishExported(ctx context.Context, e DatabaseExportedEvent) {
	if err := s.events.DatabaseExported.Publish(ctx, e); err != nil {
		s.opts.safeEventPublishFailure("DatabaseExported",
			&EventPublishError{Event: "DatabaseExported", Database: e.Database, Err: err})
	}
}

func (s *service) publishImported(ctx context.Context, e DatabaseImportedEvent) {
	if err := s.events.DatabaseImported.Publish(ctx, e); err != nil {
		s.opts.safeEventPublishFailure("DatabaseImported",
			&EventPublishError{Event: "DatabaseImported", Database: e.Database, Err: err})
	}
}

func (s *service) publishCommitted(ctx context.Context, e BatchCommittedEvent) {
	if err := s.events.BatchCommitted.Publish(ctx, e); err != nil {
		s.opts.safeEventPublishFailure("BatchCommitted",
			&EventPublishError{Event: "BatchCommitted", Database: e.Database, Err: err})
	}
}
