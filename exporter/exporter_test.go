package exporter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/docxfer/archive"
	"github.com/rbaliyan/docxfer/mimestream"
	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferEntries collects entries in memory.
type bufferEntries struct {
	names  []string
	bodies map[string]*bytes.Buffer
}

func (b *bufferEntries) Create(name string) (io.Writer, error) {
	if b.bodies == nil {
		b.bodies = map[string]*bytes.Buffer{}
	}
	b.names = append(b.names, name)
	buf := &bytes.Buffer{}
	b.bodies[name] = buf
	return buf, nil
}

func source(t *testing.T) store.Database {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Connect(ctx))
	db, err := s.Database(ctx, "db", true)
	require.NoError(t, err)

	opts := store.WriteOptions{NoNewRevisions: true}
	require.NoError(t, db.Write(ctx, "a", strings.NewReader(`{"_id":"a","_rev":"1-a"}`), 0, opts))
	mp := "--B\r\nContent-Type: application/json\r\n\r\n{\"_id\":\"m\",\"_rev\":\"2-m\"}\r\n--B--"
	require.NoError(t, db.WriteMultipart(ctx, "m", strings.NewReader(mp), "B", 0, opts))
	return db
}

func TestExport_HeaderOrder(t *testing.T) {
	ctx := context.Background()
	var dst bufferEntries

	ok, err := New(source(t)).Export(ctx, "a", "1-a", &dst)
	require.NoError(t, err)
	assert.True(t, ok)

	want := "Content-ID: a\r\n" +
		"Content-Length: 24\r\n" +
		"Content-Type: application/json\r\n" +
		"ETag: 1-a\r\n" +
		"\r\n" +
		`{"_id":"a","_rev":"1-a"}`
	assert.Equal(t, want, dst.bodies["a"].String())
}

func TestExport_RoundTripsThroughEnvelope(t *testing.T) {
	ctx := context.Background()
	var dst bufferEntries
	exp := New(source(t))

	require.NoError(t, exp.ExportAll(ctx, &dst))
	assert.Equal(t, []string{"a", "m"}, dst.names)
	assert.Equal(t, 2, exp.Stats().Exported)

	env, err := mimestream.ReadEnvelope(dst.bodies["m"])
	require.NoError(t, err)
	assert.Equal(t, "m", env.ID)
	assert.Equal(t, "2-m", env.Revision)
	assert.Equal(t, "B", env.Boundary)

	body, err := io.ReadAll(env.Body)
	require.NoError(t, err)
	assert.Equal(t, env.Length, int64(len(body)))
}

// norev returns documents without a revision.
type norev struct{ store.Database }

func (n norev) Get(ctx context.Context, id, rev string) (*store.Document, error) {
	doc, err := n.Database.Get(ctx, id, rev)
	if err != nil {
		return nil, err
	}
	doc.Revision = ""
	return doc, nil
}

func TestExport_SkipsDocumentWithoutRevision(t *testing.T) {
	var dst bufferEntries
	exp := New(norev{source(t)})

	ok, err := exp.Export(context.Background(), "a", "", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, dst.names)
	assert.Equal(t, 1, exp.Stats().Skipped)
}

func TestExport_MissingDocument(t *testing.T) {
	var dst bufferEntries
	_, err := New(source(t)).Export(context.Background(), "nope", "", &dst)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Empty(t, dst.names)
}

func TestExport_IntoArchive(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := archive.NewWriter(&buf)

	require.NoError(t, New(source(t)).ExportAll(ctx, w))
	require.NoError(t, w.Close())

	r, err := archive.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name())
	assert.Equal(t, "m", entries[1].Name())
}
