package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/docxfer/store"
)

const contentTypeJSON = "application/json"

// Database is one logical database: the rows of the documents table with
// a given db value.
type Database struct {
	s    *Store
	name string
}

var _ store.Database = (*Database)(nil)

// row is the stored state of one document.
type row struct {
	ID          string         `db:"id"`
	Rev         string         `db:"rev"`
	Revisions   pq.StringArray `db:"revisions"`
	ContentType string         `db:"content_type"`
	Body        []byte         `db:"body"`
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Get returns the winning revision. Only the winning body is stored, so any
// other revision yields ErrNotFound.
func (d *Database) Get(ctx context.Context, id, rev string) (*store.Document, error) {
	if err := d.s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	var r row
	query := fmt.Sprintf(`SELECT id, rev, revisions, content_type, body FROM %s WHERE db = $1 AND id = $2`, d.s.documents)
	err := d.s.db.GetContext(ctx, &r, query, d.name, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransportError{Op: "get", Err: err}
	}
	if rev != "" && rev != r.Rev {
		return nil, store.ErrNotFound
	}

	return &store.Document{
		ContentType: r.ContentType,
		Length:      int64(len(r.Body)),
		Revision:    r.Rev,
		Body:        io.NopCloser(bytes.NewReader(r.Body)),
	}, nil
}

// Exists reports whether id is stored.
func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	if err := d.s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE db = $1 AND id = $2)`, d.s.documents)
	if err := d.s.db.GetContext(ctx, &exists, query, d.name, id); err != nil {
		return false, &store.TransportError{Op: "exists", Err: err}
	}
	return exists, nil
}

// RevisionHistory returns every revision known for id, the winning
// revision's history first.
func (d *Database) RevisionHistory(ctx context.Context, id string) ([]string, error) {
	if err := d.s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	var revisions pq.StringArray
	query := fmt.Sprintf(`SELECT revisions FROM %s WHERE db = $1 AND id = $2`, d.s.documents)
	err := d.s.db.GetContext(ctx, &revisions, query, d.name, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransportError{Op: "revision_history", Err: err}
	}
	return []string(revisions), nil
}

// AllDocs lists the winning revision of every document, ordered by id.
func (d *Database) AllDocs(ctx context.Context) ([]store.DocRef, error) {
	if err := d.s.checkConnected(); err != nil {
		return nil, err
	}

	var rows []struct {
		ID  string `db:"id"`
		Rev string `db:"rev"`
	}
	query := fmt.Sprintf(`SELECT id, rev FROM %s WHERE db = $1 ORDER BY id`, d.s.documents)
	if err := d.s.db.SelectContext(ctx, &rows, query, d.name); err != nil {
		return nil, &store.TransportError{Op: "all_docs", Err: err}
	}

	refs := make([]store.DocRef, len(rows))
	for i, r := range rows {
		refs[i] = store.DocRef{ID: r.ID, Revision: r.Rev}
	}
	return refs, nil
}

// Write stores a JSON document.
func (d *Database) Write(ctx context.Context, id string, body io.Reader, _ int64, opts store.WriteOptions) error {
	if err := d.s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	ri, err := store.ParseRevisionInfo(data)
	if err != nil {
		return err
	}

	return d.inTx(ctx, "write", func(tx *sqlx.Tx) error {
		history := ri.History()
		if !opts.NoNewRevisions {
			rev, prior, err := d.nextRevision(ctx, tx, id, ri.Rev)
			if err != nil {
				return err
			}
			if data, err = store.SetRevision(data, id, rev); err != nil {
				return err
			}
			ri.Rev = rev
			history = append([]string{rev}, prior...)
		}
		return d.put(ctx, tx, id, ri.Rev, contentTypeJSON, data, history)
	})
}

// WriteMultipart stores a multipart/related body verbatim, indexed by the
// revision of its leading JSON part.
func (d *Database) WriteMultipart(ctx context.Context, id string, body io.Reader, boundary string, _ int64, opts store.WriteOptions) error {
	if err := d.s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	part, err := store.MultipartDocument(bytes.NewReader(data), boundary)
	if err != nil {
		return err
	}
	ri, err := store.ParseRevisionInfo(part)
	if err != nil {
		return err
	}
	ct := mime.FormatMediaType("multipart/related", map[string]string{"boundary": boundary})

	return d.inTx(ctx, "write_multipart", func(tx *sqlx.Tx) error {
		history := ri.History()
		if !opts.NoNewRevisions {
			rev, prior, err := d.nextRevision(ctx, tx, id, ri.Rev)
			if err != nil {
				return err
			}
			ri.Rev = rev
			history = append([]string{rev}, prior...)
		}
		return d.put(ctx, tx, id, ri.Rev, ct, data, history)
	})
}

// WriteBulk stores every element of a JSON array in one transaction.
// Elements are decoded one at a time.
func (d *Database) WriteBulk(ctx context.Context, array io.Reader) error {
	if err := d.s.checkConnected(); err != nil {
		return err
	}

	return d.inTx(ctx, "write_bulk", func(tx *sqlx.Tx) error {
		return store.DecodeArray(array, func(raw json.RawMessage) error {
			ri, err := store.ParseRevisionInfo(raw)
			if err != nil {
				return err
			}
			if ri.ID == "" {
				return fmt.Errorf("%w: bulk element without _id", store.ErrInvalidDocument)
			}
			return d.put(ctx, tx, ri.ID, ri.Rev, contentTypeJSON, raw, ri.History())
		})
	})
}

// inTx runs fn in a transaction. Document errors from fn pass through; any
// other failure is a transport error for op.
func (d *Database) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &store.TransportError{Op: op, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, store.ErrInvalidDocument) || errors.Is(err, store.ErrConflict) {
			return err
		}
		return &store.TransportError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &store.TransportError{Op: op, Err: err}
	}
	return nil
}

// current locks and returns the row of id, or nil when there is none.
func (d *Database) current(ctx context.Context, tx *sqlx.Tx, id string) (*row, error) {
	var r row
	query := fmt.Sprintf(`SELECT id, rev, revisions FROM %s WHERE db = $1 AND id = $2 FOR UPDATE`, d.s.documents)
	err := tx.GetContext(ctx, &r, query, d.name, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// nextRevision returns the revision following the stored one and the stored
// history. rev must match the stored revision when there is one.
func (d *Database) nextRevision(ctx context.Context, tx *sqlx.Tx, id, rev string) (string, []string, error) {
	cur, err := d.current(ctx, tx, id)
	if err != nil {
		return "", nil, err
	}
	if cur == nil {
		return store.NextRevision(""), nil, nil
	}
	if rev != cur.Rev {
		return "", nil, store.ErrConflict
	}
	return store.NextRevision(cur.Rev), cur.Revisions, nil
}

// put records one revision of id. The body replaces the stored one only
// when the revision wins; otherwise only its history is added.
func (d *Database) put(ctx context.Context, tx *sqlx.Tx, id, rev, contentType string, body []byte, history []string) error {
	if rev == "" {
		return fmt.Errorf("%w: missing _rev", store.ErrInvalidDocument)
	}

	cur, err := d.current(ctx, tx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	switch {
	case cur == nil:
		query := fmt.Sprintf(`
			INSERT INTO %s (db, id, rev, revisions, content_type, body, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, d.s.documents)
		_, err = tx.ExecContext(ctx, query, d.name, id, rev, pq.Array(history), contentType, body, now)

	case store.Wins(rev, cur.Rev):
		query := fmt.Sprintf(`
			UPDATE %s
			SET rev = $3, revisions = $4, content_type = $5, body = $6, updated_at = $7
			WHERE db = $1 AND id = $2
		`, d.s.documents)
		merged := store.MergeHistory(history, cur.Revisions)
		_, err = tx.ExecContext(ctx, query, d.name, id, rev, pq.Array(merged), contentType, body, now)

	default:
		query := fmt.Sprintf(`UPDATE %s SET revisions = $3 WHERE db = $1 AND id = $2`, d.s.documents)
		merged := store.MergeHistory(cur.Revisions, history)
		_, err = tx.ExecContext(ctx, query, d.name, id, pq.Array(merged))
	}
	return err
}
