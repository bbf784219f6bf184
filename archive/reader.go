package archive

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ErrInvalidArchive is returned when the source is not a readable archive.
var ErrInvalidArchive = errors.New("archive: invalid archive")

// Reader gives random access to the entries of an archive.
type Reader struct {
	src     io.ReaderAt
	zr      *zip.Reader
	tempDir string
}

// NewReader opens the archive in src, which is size bytes long. An empty
// source is an archive without entries.
func NewReader(src io.ReaderAt, size int64) (*Reader, error) {
	r := &Reader{src: src}
	if size == 0 {
		return r, nil
	}

	zr, err := zip.NewReader(src, size)
	if zr == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	// Archives written by other tools may use zstd.
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	r.zr = zr
	return r, nil
}

// SetTempDir sets where compressed nested archives are spooled.
// Default: os.TempDir.
func (r *Reader) SetTempDir(dir string) {
	r.tempDir = dir
}

// Entries returns the entries in archive order. Directory entries are left
// out.
func (r *Reader) Entries() []*Entry {
	if r.zr == nil {
		return nil
	}
	entries := make([]*Entry, 0, len(r.zr.File))
	for _, f := range r.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, &Entry{r: r, f: f})
	}
	return entries
}

// Entry is one archive entry.
type Entry struct {
	r *Reader
	f *zip.File
}

// Name returns the entry name.
func (e *Entry) Name() string {
	return e.f.Name
}

// Size returns the uncompressed size of the entry.
func (e *Entry) Size() int64 {
	return int64(e.f.UncompressedSize64)
}

// Open returns a reader for the entry content.
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.f.Open()
}

// Archive opens the entry as a nested archive. A stored entry is read in
// place; a compressed one is first spooled to a temporary file. The returned
// function releases whatever Archive allocated.
func (e *Entry) Archive() (*Reader, func() error, error) {
	if e.f.Method == zip.Store {
		off, err := e.f.DataOffset()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, e.f.Name, err)
		}
		section := io.NewSectionReader(e.r.src, off, e.Size())
		nested, err := NewReader(section, e.Size())
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", e.f.Name, err)
		}
		nested.tempDir = e.r.tempDir
		return nested, func() error { return nil }, nil
	}

	f, err := os.CreateTemp(e.r.tempDir, "docxfer-archive-*")
	if err != nil {
		return nil, nil, err
	}
	release := func() error {
		cerr := f.Close()
		if rerr := os.Remove(f.Name()); rerr != nil {
			return rerr
		}
		return cerr
	}

	n, err := e.copyTo(f)
	if err != nil {
		release()
		return nil, nil, err
	}
	nested, err := NewReader(f, n)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("%s: %w", e.f.Name, err)
	}
	nested.tempDir = e.r.tempDir
	return nested, release, nil
}

func (e *Entry) copyTo(w io.Writer) (int64, error) {
	rc, err := e.f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}
