package mimestream

import (
	"bytes"
	"io"
)

const crlf = "\r\n"

// NewReader returns a reader over the wire form of one entry: each header as
// "Name: Value\r\n" in order, a blank "\r\n", then body byte for byte.
//
// Body is not touched until the whole header block has been read from the
// returned reader. Header values are written verbatim.
func NewReader(headers Headers, body io.Reader) io.Reader {
	var block bytes.Buffer
	for _, h := range headers {
		block.WriteString(h.Name)
		block.WriteString(": ")
		block.WriteString(h.Value)
		block.WriteString(crlf)
	}
	block.WriteString(crlf)
	return io.MultiReader(&block, body)
}

// Encode writes the wire form of one entry to w and returns the number of
// bytes written.
func Encode(w io.Writer, headers Headers, body io.Reader) (int64, error) {
	return io.Copy(w, NewReader(headers, body))
}
