package stream

import (
	"io"
)

// Opener opens one element of an ArrayReader when its turn comes.
type Opener func() (io.ReadCloser, error)

type arrayState int

const (
	stateOpenBracket arrayState = iota
	stateElement
	stateComma
	stateCloseBracket
	stateDone
)

// ArrayReader presents a sequence of independent JSON values as one JSON
// array: "[", the first element, then "," and the next element for each
// remaining one, then "]". Elements are copied through untouched.
//
// Elements are opened lazily, strictly in order, and each is closed as soon
// as it reaches EOF, so at most one element is open at a time. Memory use
// does not depend on the number or size of the elements.
type ArrayReader struct {
	elements []Opener
	idx      int
	current  io.ReadCloser
	state    arrayState
	err      error
}

// NewArrayReader returns an ArrayReader over already open readers.
// The readers are not closed.
func NewArrayReader(elements ...io.Reader) *ArrayReader {
	openers := make([]Opener, len(elements))
	for i, r := range elements {
		openers[i] = func() (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		}
	}
	return NewLazyArrayReader(openers...)
}

// NewLazyArrayReader returns an ArrayReader that opens each element only
// when reading reaches it. An empty sequence reads as "[]".
func NewLazyArrayReader(elements ...Opener) *ArrayReader {
	return &ArrayReader{elements: elements}
}

func (a *ArrayReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if a.err != nil {
		return 0, a.err
	}

	for {
		switch a.state {
		case stateOpenBracket:
			p[0] = '['
			a.state = stateElement
			if len(a.elements) == 0 {
				a.state = stateCloseBracket
			}
			return 1, nil

		case stateComma:
			p[0] = ','
			a.state = stateElement
			return 1, nil

		case stateCloseBracket:
			p[0] = ']'
			a.state = stateDone
			return 1, nil

		case stateDone:
			return 0, io.EOF

		case stateElement:
			if a.current == nil {
				rc, err := a.elements[a.idx]()
				if err != nil {
					a.err = err
					return 0, err
				}
				a.current = rc
			}

			n, err := a.current.Read(p)
			if err == io.EOF {
				if cerr := a.closeCurrent(); cerr != nil {
					a.err = cerr
					return n, cerr
				}
				a.idx++
				if a.idx < len(a.elements) {
					a.state = stateComma
				} else {
					a.state = stateCloseBracket
				}
				if n > 0 {
					return n, nil
				}
				continue
			}
			if err != nil {
				a.err = err
			}
			return n, err
		}
	}
}

// Close closes the element currently open, if any.
func (a *ArrayReader) Close() error {
	return a.closeCurrent()
}

func (a *ArrayReader) closeCurrent() error {
	if a.current == nil {
		return nil
	}
	err := a.current.Close()
	a.current = nil
	return err
}
