// Package cached provides a local disk cache in front of a remote archive
// store.
//
// Loads download the whole archive to disk before returning it, so the
// reader handed back is always a file: it supports ReadAt and Stat, which
// reading a zip needs. Archives that fit the cache are kept for later loads.
package cached

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
	"golang.org/x/crypto/blake2b"
)

// Store wraps a store.ArchiveStore with a local file cache.
type Store struct {
	backend  store.ArchiveStore
	cacheDir string
	opts     *options
	logger   *slog.Logger

	mu        sync.Mutex
	cacheSize int64

	stop chan struct{}
	done chan struct{}
}

var _ store.ArchiveStore = (*Store)(nil)

// New creates a cached store wrapping backend. Call Close to stop the
// expiry loop.
func New(backend store.ArchiveStore, opts ...Option) (*Store, error) {
	o := &options{
		cacheDir: os.TempDir(),
		maxSize:  DefaultMaxSize,
		ttl:      DefaultTTL,
		retry:    retry.DefaultPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cacheDir := filepath.Join(o.cacheDir, "docxfer-archives")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		backend:  backend,
		cacheDir: cacheDir,
		opts:     o,
		logger:   o.logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.cacheSize = s.scan()

	if o.ttl > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Close stops the expiry loop. Cached files stay on disk.
func (s *Store) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

// Upload passes through to the backend.
func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	return s.backend.Upload(ctx, name, contentType, content)
}

// Load returns the archive as a local file, downloading it on a miss.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	cachePath := filepath.Join(s.cacheDir, cacheKey(uri))

	if f, ok := s.hit(cachePath); ok {
		s.logger.Debug("archive cache hit", "uri", uri)
		return f, nil
	}

	s.logger.Debug("archive cache miss", "uri", uri)
	tmp, size, err := s.download(ctx, uri)
	if err != nil {
		return nil, err
	}

	if s.reserve(size) {
		if err := os.Rename(tmp, cachePath); err == nil {
			s.logger.Debug("cached archive", "uri", uri, "size", size)
			f, err := os.Open(cachePath)
			if err != nil {
				return nil, fmt.Errorf("open cached archive: %w", err)
			}
			return f, nil
		}
		s.release(size)
		s.logger.Warn("failed to move download into cache", "uri", uri)
	}

	f, err := os.Open(tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("open download: %w", err)
	}
	return &tempFile{File: f}, nil
}

// Delete removes the archive from the backend and the cache.
func (s *Store) Delete(ctx context.Context, uri string) error {
	s.evict(filepath.Join(s.cacheDir, cacheKey(uri)))
	return s.backend.Delete(ctx, uri)
}

// ClearCache removes all cached files.
func (s *Store) ClearCache() error {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && !isTemp(entry.Name()) {
			s.evict(filepath.Join(s.cacheDir, entry.Name()))
		}
	}
	s.logger.Info("archive cache cleared")
	return nil
}

// Size returns the bytes currently held by the cache.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheSize
}

func cacheKey(uri string) string {
	sum := blake2b.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (s *Store) hit(path string) (*os.File, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if s.opts.ttl > 0 && time.Since(info.ModTime()) >= s.opts.ttl {
		s.evict(path)
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return f, true
}

// download copies the archive into a temporary file, retrying from the
// start when the transfer fails.
func (s *Store) download(ctx context.Context, uri string) (string, int64, error) {
	var size int64
	tmp, err := retry.Value(ctx, s.opts.retry, func(ctx context.Context) (string, error) {
		r, err := s.backend.Load(ctx, uri)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", retry.Permanent(err)
			}
			return "", err
		}
		defer r.Close()

		f, err := os.CreateTemp(s.cacheDir, "tmp-*")
		if err != nil {
			return "", retry.Permanent(fmt.Errorf("create download file: %w", err))
		}
		n, err := io.Copy(f, r)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
			return "", err
		}
		size = n
		return f.Name(), nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("download archive: %w", err)
	}
	return tmp, size, nil
}

func (s *Store) reserve(size int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cacheSize+size > s.opts.maxSize {
		return false
	}
	s.cacheSize += size
	return true
}

func (s *Store) release(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheSize = max(s.cacheSize-size, 0)
}

func (s *Store) evict(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if os.Remove(path) == nil {
		s.release(info.Size())
	}
}

// scan sums the cached files and removes downloads left over by a crash.
func (s *Store) scan() int64 {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to scan archive cache", "error", err)
		return 0
	}
	var size int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.cacheDir, entry.Name())
		if isTemp(entry.Name()) {
			os.Remove(path)
			continue
		}
		if info, err := entry.Info(); err == nil {
			size += info.Size()
		}
	}
	return size
}

func (s *Store) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *Store) cleanupExpired() {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		s.logger.Warn("failed to read cache dir for cleanup", "error", err)
		return
	}

	now := time.Now()
	var removed int
	for _, entry := range entries {
		if entry.IsDir() || isTemp(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.opts.ttl {
			continue
		}
		s.evict(filepath.Join(s.cacheDir, entry.Name()))
		removed++
	}
	if removed > 0 {
		s.logger.Info("archive cache cleanup completed", "removed", removed)
	}
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, "tmp-")
}

// tempFile is a download that did not fit the cache. It is removed on
// close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.Remove(t.Name())
	return err
}
