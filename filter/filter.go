// Package filter decides which incoming documents an import writes.
//
// A filter is consulted with the document id and revision before the body is
// read. Excluding a document is not an error: the importer skips its body and
// moves on.
package filter

import (
	"context"
	"slices"

	"github.com/rbaliyan/docxfer/store"
)

// Filter reports whether a document revision should be written to db.
type Filter interface {
	Include(ctx context.Context, db store.Database, id, rev string) (bool, error)
}

// Func adapts a function to the Filter interface.
type Func func(ctx context.Context, db store.Database, id, rev string) (bool, error)

// Include calls f.
func (f Func) Include(ctx context.Context, db store.Database, id, rev string) (bool, error) {
	return f(ctx, db, id, rev)
}

// IncludeAll includes every document.
var IncludeAll Filter = Func(func(context.Context, store.Database, string, string) (bool, error) {
	return true, nil
})

// ExcludeExistingRevision includes a document unless the target already
// knows that exact revision. Documents missing from the target are always
// included.
func ExcludeExistingRevision() Filter {
	return Func(func(ctx context.Context, db store.Database, id, rev string) (bool, error) {
		history, err := knownRevisions(ctx, db, id)
		if err != nil {
			return false, err
		}
		return !slices.Contains(history, rev), nil
	})
}

// knownRevisions returns the revision history of id in db, or nil when the
// document does not exist.
func knownRevisions(ctx context.Context, db store.Database, id string) ([]string, error) {
	exists, err := db.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	history, err := db.RevisionHistory(ctx, id)
	if store.IsNotFound(err) {
		return nil, nil
	}
	return history, err
}
