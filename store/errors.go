package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a document, revision or database cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidDocument is returned when a document body cannot be parsed.
	ErrInvalidDocument = errors.New("store: invalid document")

	// ErrConflict is returned when a write is rejected because of a revision conflict.
	ErrConflict = errors.New("store: revision conflict")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransport matches every TransportError.
	ErrTransport = errors.New("store: transport error")
)

// TransportError reports a rejected request or a failed connection to the
// backing database. It matches ErrTransport, and ErrNotFound or ErrConflict
// when the status says so.
type TransportError struct {
	// Op is the store operation, e.g. "write_bulk".
	Op string
	// Status is the backend status code when there is one (HTTP status for
	// CouchDB), zero otherwise.
	Status int
	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return true
	case ErrNotFound:
		return e.Status == 404
	case ErrConflict:
		return e.Status == 409
	}
	return false
}

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
