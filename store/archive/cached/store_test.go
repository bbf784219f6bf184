package cached

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend keeps objects in memory. failReads makes the next loads break
// off after a few bytes.
type fakeBackend struct {
	mu        sync.Mutex
	objects   map[string][]byte
	loads     int
	failReads int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (f *fakeBackend) Upload(_ context.Context, name, _ string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	uri := "mem://" + name
	f.objects[uri] = data
	return uri, nil
}

func (f *fakeBackend) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	data, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, uri)
	}
	if f.failReads > 0 {
		f.failReads--
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:2]), brokenReader{})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBackend) Delete(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[uri]; !ok {
		return store.ErrNotFound
	}
	delete(f.objects, uri)
	return nil
}

func (f *fakeBackend) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

var fastRetry = retry.Policy{Attempts: 3, Base: time.Millisecond}

func newStore(t *testing.T, backend store.ArchiveStore, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithCacheDir(t.TempDir()), WithRetry(fastRetry)}, opts...)
	s, err := New(backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(data)
}

func TestLoadCachesArchive(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	s := newStore(t, backend)

	uri, err := s.Upload(ctx, "db.zip", "application/zip", strings.NewReader("zipdata"))
	require.NoError(t, err)

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	_, isFile := r.(*os.File)
	assert.True(t, isFile)
	assert.Equal(t, "zipdata", readAll(t, r))
	assert.Equal(t, int64(7), s.Size())

	r, err = s.Load(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "zipdata", readAll(t, r))
	assert.Equal(t, 1, backend.loadCount())

	require.NoError(t, s.Delete(ctx, uri))
	assert.Zero(t, s.Size())
	_, err = s.Load(ctx, uri)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadRetriesBrokenDownload(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.failReads = 2
	s := newStore(t, backend)

	uri, err := backend.Upload(ctx, "db.zip", "", strings.NewReader("abcdefgh"))
	require.NoError(t, err)

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", readAll(t, r))
	assert.Equal(t, 3, backend.loadCount())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	backend := newFakeBackend()
	s := newStore(t, backend)

	_, err := s.Load(context.Background(), "mem://missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, backend.loadCount())
}

func TestOversizedArchiveIsNotKept(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	s := newStore(t, backend, WithMaxSize(4))

	uri, err := backend.Upload(ctx, "big.zip", "", strings.NewReader("too large"))
	require.NoError(t, err)

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	tf, ok := r.(*tempFile)
	require.True(t, ok)
	name := tf.Name()
	assert.Equal(t, "too large", readAll(t, r))

	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, s.Size())
}

func TestExpiredEntriesAreRefetched(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	s := newStore(t, backend, WithTTL(time.Hour))

	uri, err := backend.Upload(ctx, "db.zip", "", strings.NewReader("v1"))
	require.NoError(t, err)
	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	readAll(t, r)

	old := time.Now().Add(-2 * time.Hour)
	path := s.cacheDir + string(os.PathSeparator) + cacheKey(uri)
	require.NoError(t, os.Chtimes(path, old, old))

	r, err = s.Load(ctx, uri)
	require.NoError(t, err)
	readAll(t, r)
	assert.Equal(t, 2, backend.loadCount())
}

func TestClearCacheAndScan(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend := newFakeBackend()

	s, err := New(backend, WithCacheDir(dir), WithTTL(0))
	require.NoError(t, err)

	uri, err := backend.Upload(ctx, "db.zip", "", strings.NewReader("12345"))
	require.NoError(t, err)
	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	readAll(t, r)
	require.NoError(t, s.Close())

	// A reopened cache counts what is on disk.
	reopened, err := New(backend, WithCacheDir(dir), WithTTL(0))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, int64(5), reopened.Size())

	require.NoError(t, reopened.ClearCache())
	assert.Zero(t, reopened.Size())
}
