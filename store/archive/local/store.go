// Package local provides a filesystem archive store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/docxfer/store"
)

const scheme = "file://"

// Store implements store.ArchiveStore on a local directory.
type Store struct {
	root   string
	logger *slog.Logger
}

var _ store.ArchiveStore = (*Store)(nil)

// Option configures the local store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	s := &Store{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Upload writes content under root/yyyy/mm/dd/<uuid>/name. The file only
// appears once it is complete.
func (s *Store) Upload(_ context.Context, name, _ string, content io.Reader) (string, error) {
	dir := filepath.Join(s.root, time.Now().UTC().Format("2006/01/02"), uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}

	target := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write archive: %w", err)
	}

	s.logger.Debug("stored archive", "path", target)
	return scheme + filepath.ToSlash(target), nil
}

// Load opens the archive file. The returned reader is an *os.File.
func (s *Store) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	path, err := s.path(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return f, nil
}

// Delete removes the archive file.
func (s *Store) Delete(_ context.Context, uri string) error {
	path, err := s.path(uri)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, uri)
	}
	if err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	// Drop the now empty upload directory.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// path resolves a file:// URI or a plain path. Paths outside root are
// rejected.
func (s *Store) path(uri string) (string, error) {
	p := filepath.FromSlash(strings.TrimPrefix(uri, scheme))
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid archive uri: %s", uri)
	}
	return p, nil
}
