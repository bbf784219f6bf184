package archive

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, w *Writer, name, content string) {
	t.Helper()
	ew, err := w.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(ew, content)
	require.NoError(t, err)
}

func read(t *testing.T, e *Entry) string {
	t.Helper()
	rc, err := e.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	write(t, w, "doc-1", "one")
	write(t, w, "_design/app", "two")
	assert.Equal(t, 2, w.Entries())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Create("late")
	assert.ErrorIs(t, err, ErrClosed)

	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "doc-1", entries[0].Name())
	assert.Equal(t, "one", read(t, entries[0]))
	assert.Equal(t, "_design/app", entries[1].Name())
	assert.Equal(t, int64(3), entries[1].Size())
	assert.Equal(t, "two", read(t, entries[1]))
}

func TestEmptyArchives(t *testing.T) {
	t.Run("closed without entries is readable", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewWriter(&buf).Close())

		r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		require.NoError(t, err)
		assert.Empty(t, r.Entries())
	})

	t.Run("zero-length source", func(t *testing.T) {
		r, err := NewReader(bytes.NewReader(nil), 0)
		require.NoError(t, err)
		assert.Empty(t, r.Entries())
	})

	t.Run("garbage", func(t *testing.T) {
		data := []byte("this is not an archive")
		_, err := NewReader(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrInvalidArchive)
	})
}

func TestNested(t *testing.T) {
	var buf bytes.Buffer
	outer := NewWriter(&buf)

	users := outer.Nested("users")
	write(t, users, "u1", "alice")
	write(t, users, "u2", "bob")
	require.NoError(t, users.Close())

	empty := outer.Nested("empty")
	require.NoError(t, empty.Close())

	orders := outer.Nested("orders")
	write(t, orders, "o1", "order")
	require.NoError(t, orders.Close())

	assert.Equal(t, 2, outer.Entries(), "empty nested archive leaves no entry")
	require.NoError(t, outer.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	dbs := r.Entries()
	require.Len(t, dbs, 2)
	assert.Equal(t, "users", dbs[0].Name())
	assert.Equal(t, "orders", dbs[1].Name())

	nested, release, err := dbs[0].Archive()
	require.NoError(t, err)
	docs := nested.Entries()
	require.Len(t, docs, 2)
	assert.Equal(t, "u1", docs[0].Name())
	assert.Equal(t, "alice", read(t, docs[0]))
	assert.Equal(t, "bob", read(t, docs[1]))
	require.NoError(t, release())
}

func TestNested_CompressedEntryIsSpooled(t *testing.T) {
	var inner bytes.Buffer
	iw := NewWriter(&inner)
	write(t, iw, "doc", "content")
	require.NoError(t, iw.Close())

	// Build an outer archive the way another tool might: compressed entries.
	var outer bytes.Buffer
	zw := zip.NewWriter(&outer)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, method := range []uint16{zip.Deflate, zstd.ZipMethodWinZip} {
		ew, err := zw.CreateHeader(&zip.FileHeader{Name: "db", Method: method})
		require.NoError(t, err)
		_, err = ew.Write(inner.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	r, err := NewReader(bytes.NewReader(outer.Bytes()), int64(outer.Len()))
	require.NoError(t, err)
	r.SetTempDir(dir)

	for _, e := range r.Entries() {
		nested, release, err := e.Archive()
		require.NoError(t, err)
		docs := nested.Entries()
		require.Len(t, docs, 1)
		assert.Equal(t, "content", read(t, docs[0]))

		spooled, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, spooled, 1)

		require.NoError(t, release())
		spooled, err = os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, spooled)
	}
}
