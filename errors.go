package docxfer

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/docxfer/store"
)

// Sentinel errors for the docxfer package.
// Use errors.Is() to check for these errors.
var (
	// ErrStoreRequired is returned when a database, store instance or
	// archive store argument is nil.
	ErrStoreRequired = errors.New("docxfer: store is required")

	// ErrNoDatabases is returned when a multi-database export is given no
	// databases.
	ErrNoDatabases = errors.New("docxfer: no databases")

	// ErrNotConnected is returned when a transfer is started before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("docxfer: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("docxfer: %w", store.ErrAlreadyConnected)
)

// DatabaseError reports the failure of one database in a multi-database
// transfer. Failures of several databases are joined with errors.Join.
type DatabaseError struct {
	Database string // The database name
	Op       string // "export" or "import"
	Err      error  // The underlying error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("docxfer: %s database %s: %v", e.Op, e.Database, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// FailedDatabases returns the names of the databases that failed in err, in
// the order they are reported.
func FailedDatabases(err error) []string {
	var names []string
	collectDatabaseErrors(err, func(de *DatabaseError) {
		names = append(names, de.Database)
	})
	return names
}

func collectDatabaseErrors(err error, fn func(*DatabaseError)) {
	switch e := err.(type) {
	case nil:
	case *DatabaseError:
		fn(e)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collectDatabaseErrors(inner, fn)
		}
	case interface{ Unwrap() error }:
		collectDatabaseErrors(e.Unwrap(), fn)
	}
}

// EventPublishError describes an event that could not be published. It is
// only passed to the publish failure handler; transfers never return it.
type EventPublishError struct {
	Event    string // The event name (e.g., "DatabaseImported")
	Database string // The database the event was for
	Err      error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("docxfer: event %s publish failed for database %s: %v", e.Event, e.Database, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}
