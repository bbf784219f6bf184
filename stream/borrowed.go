package stream

import (
	"errors"
	"io"
)

// ErrReleased is returned when a Borrowed reader is read after Release.
var ErrReleased = errors.New("stream: borrowed reader released")

// Borrowed is a single-use view over a reader owned by someone else, such as
// the body of an archive entry whose source also yields the next entry.
//
// Precondition: the owner must not read its source again until the borrowed
// view has reached EOF or been released. Close never closes the source.
type Borrowed struct {
	r        io.Reader
	eof      bool
	released bool
}

// Borrow returns a single-use view of r.
func Borrow(r io.Reader) *Borrowed {
	return &Borrowed{r: r}
}

func (b *Borrowed) Read(p []byte) (int, error) {
	if b.released {
		return 0, ErrReleased
	}
	if b.eof {
		return 0, io.EOF
	}
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.eof = true
	}
	return n, err
}

// Close is a no-op; the source belongs to the lender.
func (b *Borrowed) Close() error {
	return nil
}

// Drained reports whether the view has been read to EOF or released.
func (b *Borrowed) Drained() bool {
	return b.eof || b.released
}

// Release discards whatever is left unread so the source is positioned past
// this view, and invalidates the view. It returns the number of bytes
// discarded. Release is idempotent.
func (b *Borrowed) Release() (int64, error) {
	if b.released {
		return 0, nil
	}
	var n int64
	var err error
	if !b.eof {
		n, err = io.Copy(io.Discard, b.r)
		if err == nil {
			b.eof = true
		}
	}
	b.released = true
	return n, err
}
