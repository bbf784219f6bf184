package stream

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxPrealloc caps how much a size hint may preallocate.
const maxPrealloc = 64 << 20

// Spooler copies a one-shot reader into storage it owns, so the data can
// outlive the reader's source and be read again later.
//
// This is the one place where the transfer spends memory (or disk)
// proportional to a document's size.
type Spooler interface {
	Spool(r io.Reader, sizeHint int64) (Payload, error)
}

// Payload is spooled data.
type Payload interface {
	// Open returns a fresh reader positioned at the start of the data.
	Open() (io.ReadCloser, error)
	// Size returns the number of bytes spooled.
	Size() int64
	// Release frees the storage. The payload must not be opened afterwards.
	Release() error
}

// MemorySpooler keeps payloads in memory.
type MemorySpooler struct{}

// Spool reads r fully into memory.
func (MemorySpooler) Spool(r io.Reader, sizeHint int64) (Payload, error) {
	var buf bytes.Buffer
	if sizeHint > 0 {
		buf.Grow(int(min(sizeHint, maxPrealloc)))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("spool to memory: %w", err)
	}
	return &memoryPayload{data: buf.Bytes()}, nil
}

type memoryPayload struct {
	data []byte
}

func (p *memoryPayload) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

func (p *memoryPayload) Size() int64 {
	return int64(len(p.data))
}

func (p *memoryPayload) Release() error {
	p.data = nil
	return nil
}

// FileSpooler keeps payloads in temporary files under Dir (os.TempDir when
// empty). Use it when batches would not fit comfortably in memory.
type FileSpooler struct {
	Dir string
}

// Spool copies r into a new temporary file.
func (s FileSpooler) Spool(r io.Reader, _ int64) (Payload, error) {
	f, err := os.CreateTemp(s.Dir, "docxfer-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool to file: %w", err)
	}
	return &filePayload{path: f.Name(), size: n}, nil
}

type filePayload struct {
	path string
	size int64
}

func (p *filePayload) Open() (io.ReadCloser, error) {
	return os.Open(p.path)
}

func (p *filePayload) Size() int64 {
	return p.size
}

func (p *filePayload) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
