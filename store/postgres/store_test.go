package postgres

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rbaliyan/docxfer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotConnected(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Databases(ctx)
	assert.ErrorIs(t, err, store.ErrNotConnected)
	_, err = s.Database(ctx, "db", true)
	assert.ErrorIs(t, err, store.ErrNotConnected)

	assert.Error(t, s.Connect(ctx))
	// A failed connect leaves the store usable for another attempt.
	assert.NotErrorIs(t, s.Connect(ctx), store.ErrAlreadyConnected)
}

func TestTableNames(t *testing.T) {
	s := New(nil, WithTablePrefix("x_"))
	assert.Equal(t, "x_databases", s.databases)
	assert.Equal(t, "x_documents", s.documents)

	s = New(nil, WithTablePrefix(""))
	assert.Equal(t, "docxfer_documents", s.documents)
	assert.True(t, s.opts.schema)
	assert.False(t, New(nil, WithSchema(false)).opts.schema)
}

// integrationStore connects to DOCXFER_POSTGRES_DSN, skipping the test when
// it is unset. Each test gets its own tables.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DOCXFER_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCXFER_POSTGRES_DSN not set")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)

	prefix := fmt.Sprintf("docxfer_test_%d_", time.Now().UnixNano())
	s := New(db, WithTablePrefix(prefix))
	require.NoError(t, s.Connect(context.Background()))

	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.documents)
		_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.databases)
		_ = s.Close(ctx)
		_ = db.Close()
	})
	return s
}

func readAll(t *testing.T, doc *store.Document) string {
	t.Helper()
	defer doc.Body.Close()
	data, err := io.ReadAll(doc.Body)
	require.NoError(t, err)
	return string(data)
}

func TestIntegrationWrite(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	_, err := s.Database(ctx, "users", false)
	assert.ErrorIs(t, err, store.ErrNotFound)

	db, err := s.Database(ctx, "users", true)
	require.NoError(t, err)

	keep := store.WriteOptions{NoNewRevisions: true}
	body := `{"_id":"a","_rev":"2-bb","_revisions":{"start":2,"ids":["bb","aa"]}}`
	require.NoError(t, db.Write(ctx, "a", strings.NewReader(body), int64(len(body)), keep))
	loser := `{"_id":"a","_rev":"1-zz"}`
	require.NoError(t, db.Write(ctx, "a", strings.NewReader(loser), int64(len(loser)), keep))

	doc, err := db.Get(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "2-bb", doc.Revision)
	assert.Equal(t, body, readAll(t, doc))

	history, err := db.RevisionHistory(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"2-bb", "1-aa", "1-zz"}, history)

	err = db.Write(ctx, "a", strings.NewReader(`{"_rev":"1-aa"}`), 0, store.WriteOptions{})
	assert.ErrorIs(t, err, store.ErrConflict)

	names, err := s.Databases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, names)
}

func TestIntegrationBulkAndMultipart(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	db, err := s.Database(ctx, "bulk", true)
	require.NoError(t, err)

	array := `[{"_id":"a","_rev":"1-a"},{"_id":"b","_rev":"1-b"},{"_id":"a","_rev":"2-a"}]`
	require.NoError(t, db.WriteBulk(ctx, strings.NewReader(array)))

	err = db.WriteBulk(ctx, strings.NewReader(`[{"_id":"c","_rev":"1-c"},{"_rev":"1-x"}]`))
	assert.ErrorIs(t, err, store.ErrInvalidDocument)

	body := "--b\r\nContent-Type: application/json\r\n\r\n" +
		`{"_id":"f","_rev":"1-aa"}` +
		"\r\n--b\r\n\r\nhello\r\n--b--"
	require.NoError(t, db.WriteMultipart(ctx, "f", strings.NewReader(body), "b", int64(len(body)),
		store.WriteOptions{NoNewRevisions: true}))

	refs, err := db.AllDocs(ctx)
	require.NoError(t, err)
	// The failed bulk rolled back, so "c" is absent.
	assert.Equal(t, []store.DocRef{
		{ID: "a", Revision: "2-a"},
		{ID: "b", Revision: "1-b"},
		{ID: "f", Revision: "1-aa"},
	}, refs)

	doc, err := db.Get(ctx, "f", "")
	require.NoError(t, err)
	assert.Equal(t, "multipart/related; boundary=b", doc.ContentType)
	assert.Equal(t, body, readAll(t, doc))
}
