package archive

import (
	"errors"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrClosed is returned when an entry is created on a closed Writer.
var ErrClosed = errors.New("archive: writer closed")

// Writer writes an archive one entry at a time. Entries are stored
// uncompressed and streamed: no entry is held in memory.
//
// An entry's writer is valid until the next Create or Close.
type Writer struct {
	open    func() (io.Writer, error)
	zw      *zip.Writer
	entries int
	closed  bool
	now     func() time.Time
}

// NewWriter returns a Writer writing an archive to w. Close writes the
// archive directory; the archive is valid even when no entry was created.
func NewWriter(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w), now: time.Now}
}

// Nested returns a Writer for an archive stored as entry name of w.
// The entry is only created with the nested archive's first entry, so a
// nested archive that stays empty leaves no trace in w.
//
// The nested Writer must be closed before anything else is written to w.
func (w *Writer) Nested(name string) *Writer {
	return &Writer{
		open: func() (io.Writer, error) { return w.Create(name) },
		now:  w.now,
	}
}

// Create adds an entry and returns a writer for its content.
func (w *Writer) Create(name string) (io.Writer, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if w.zw == nil {
		dst, err := w.open()
		if err != nil {
			return nil, err
		}
		w.zw = zip.NewWriter(dst)
	}

	fh := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: w.now().UTC(),
	}
	ew, err := w.zw.CreateHeader(fh)
	if err != nil {
		return nil, err
	}
	w.entries++
	return ew, nil
}

// Entries returns the number of entries created so far.
func (w *Writer) Entries() int {
	return w.entries
}

// Close finishes the archive. Closing a nested Writer with no entries is a
// no-op. Close does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.zw == nil {
		return nil
	}
	return w.zw.Close()
}
