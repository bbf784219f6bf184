package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbaliyan/docxfer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadLoadDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	uri, err := s.Upload(ctx, "../users.zip", "application/zip", strings.NewReader("archive"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "/users.zip"))

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	_, isFile := r.(*os.File)
	assert.True(t, isFile)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "archive", string(data))

	require.NoError(t, s.Delete(ctx, uri))
	_, err = s.Load(ctx, uri)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, uri), store.ErrNotFound)
}

func TestFailedUploadLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "x.zip", "", io.MultiReader(strings.NewReader("part"), errReader{}))
	require.Error(t, err)

	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	assert.Empty(t, files)
}

func TestRejectsPathsOutsideRoot(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	for _, uri := range []string{"file:///etc/passwd", "../outside.zip", "file://" + s.root} {
		_, err := s.Load(context.Background(), uri)
		assert.Error(t, err, uri)
		assert.NotErrorIs(t, err, store.ErrNotFound, uri)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
