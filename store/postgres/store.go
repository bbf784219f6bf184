// Package postgres provides a PostgreSQL implementation of the document store.
//
// Logical databases are rows of the databases table; documents are rows of
// the documents table keyed by (db, id), holding the winning revision's body
// as bytea and every known revision as a text array.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
)

// Compile-time check
var _ store.Instance = (*Store)(nil)

// Store implements store.Instance using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger

	databases string
	documents string
}

// New returns a store over db. Tables are created by Connect.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:        db,
		opts:      o,
		logger:    o.logger,
		databases: o.prefix + "databases",
		documents: o.prefix + "documents",
	}
}

// NewFromDB wraps a database/sql handle opened with the pq driver.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect pings the server and creates the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	err := retry.Do(ctx, s.opts.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
		return s.db.PingContext(ctx)
	})
	if err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return &store.TransportError{Op: "connect", Err: err}
	}

	if s.opts.schema {
		ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
		if err := s.ensureSchema(ctx); err != nil {
			atomic.StoreInt32(&s.connected, 0)
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	s.logger.Info("connected to PostgreSQL", "documents", s.documents)
	return nil
}

// Close marks the store disconnected. db stays open; it belongs to the caller.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`, s.databases),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				db TEXT NOT NULL REFERENCES %s(name) ON DELETE CASCADE,
				id TEXT NOT NULL,
				rev TEXT NOT NULL,
				revisions TEXT[] NOT NULL DEFAULT '{}',
				content_type TEXT NOT NULL,
				body BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (db, id)
			)
		`, s.documents, s.databases),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_revisions ON %s USING GIN(revisions)`, s.documents, s.documents)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		s.logger.Warn("failed to create index", "error", err, "sql", idx)
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Databases lists the logical databases by name.
func (s *Store) Databases(ctx context.Context) ([]string, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var names []string
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.databases)
	if err := s.db.SelectContext(ctx, &names, query); err != nil {
		return nil, &store.TransportError{Op: "databases", Err: err}
	}
	return names, nil
}

// Database returns the named database, registering it when create is true.
func (s *Store) Database(ctx context.Context, name string, create bool) (store.Database, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if create {
		query := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, s.databases)
		if _, err := s.db.ExecContext(ctx, query, name); err != nil {
			return nil, &store.TransportError{Op: "create_database", Err: err}
		}
	} else {
		var found string
		query := fmt.Sprintf(`SELECT name FROM %s WHERE name = $1`, s.databases)
		err := s.db.GetContext(ctx, &found, query, name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, &store.TransportError{Op: "database", Err: err}
		}
	}

	return &Database{s: s, name: name}, nil
}
