package mimestream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// byteSource is what the decoder scans. The body view is the same value, so
// bytes read ahead while scanning headers are never lost or repeated.
type byteSource interface {
	io.Reader
	io.ByteReader
}

// Decoder splits one entry into its header block and the remaining body.
// Headers are parsed on first use of either Headers or Body; both calls are
// idempotent. A Decoder is not safe for concurrent use.
type Decoder struct {
	src     byteSource
	headers Headers
	err     error
	parsed  bool
}

// NewDecoder returns a decoder reading from r. If r already implements
// io.ByteReader it is scanned directly; otherwise it is buffered.
func NewDecoder(r io.Reader) *Decoder {
	src, ok := r.(byteSource)
	if !ok {
		src = bufio.NewReader(r)
	}
	return &Decoder{src: src}
}

// Headers returns the header block in wire order.
func (d *Decoder) Headers() (Headers, error) {
	if err := d.parse(); err != nil {
		return nil, err
	}
	return d.headers, nil
}

// Body returns the bytes following the header block. The reader is
// forward-only and shared with the source: it must be consumed once, and
// the source must not be read by anyone else until it is.
func (d *Decoder) Body() (io.Reader, error) {
	if err := d.parse(); err != nil {
		return nil, err
	}
	return d.src, nil
}

func (d *Decoder) parse() error {
	if d.parsed {
		return d.err
	}
	d.parsed = true

	var headers Headers
	for {
		line, err := readLine(d.src)
		if err != nil {
			d.err = err
			return err
		}
		if len(line) == 0 {
			break
		}
		h, err := parseHeader(line)
		if err != nil {
			d.err = err
			return err
		}
		headers = append(headers, h)
	}
	d.headers = headers
	return nil
}

// readLine reads up to the next CR and requires an LF right after it.
func readLine(src byteSource) ([]byte, error) {
	var line []byte
	for {
		c, err := src.ReadByte()
		if err == io.EOF {
			return nil, ErrTruncated
		}
		if err != nil {
			return nil, fmt.Errorf("read header line: %w", err)
		}
		if c == '\r' {
			break
		}
		line = append(line, c)
	}

	c, err := src.ReadByte()
	if err == io.EOF {
		return nil, ErrTruncated
	}
	if err != nil {
		return nil, fmt.Errorf("read header line: %w", err)
	}
	if c != '\n' {
		return nil, ErrMalformedLine
	}
	return line, nil
}

func parseHeader(line []byte) (Header, error) {
	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return Header{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return Header{
		Name:  string(name),
		Value: string(bytes.TrimSpace(value)),
	}, nil
}
