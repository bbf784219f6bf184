package mimestream

import (
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
)

// Envelope is the decoded form of one archive entry.
type Envelope struct {
	ID          string
	Revision    string
	Length      int64
	ContentType string
	// Boundary is set only for multipart content types that declare one.
	Boundary string
	// Headers is the full header block in wire order.
	Headers Headers
	// Body is the unread remainder of the entry. It is one-shot.
	Body io.Reader
}

// HasAttachments reports whether the body is a multipart document.
func (e *Envelope) HasAttachments() bool {
	return e.Boundary != ""
}

// Envelope decodes the header block and extracts the entry metadata.
// Content-ID, ETag, Content-Length and Content-Type are required.
func (d *Decoder) Envelope() (*Envelope, error) {
	headers, err := d.Headers()
	if err != nil {
		return nil, err
	}

	required := func(name string) (string, error) {
		v, ok := headers.Lookup(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
		return v, nil
	}

	env := &Envelope{Headers: headers}
	if env.ID, err = required(HeaderContentID); err != nil {
		return nil, err
	}
	if env.Revision, err = required(HeaderETag); err != nil {
		return nil, err
	}

	length, err := required(HeaderContentLength)
	if err != nil {
		return nil, err
	}
	env.Length, err = strconv.ParseInt(length, 10, 64)
	if err != nil || env.Length < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLength, length)
	}

	if env.ContentType, err = required(HeaderContentType); err != nil {
		return nil, err
	}
	env.Boundary = Boundary(env.ContentType)

	env.Body, err = d.Body()
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ReadEnvelope decodes one entry from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	return NewDecoder(r).Envelope()
}

// Boundary returns the boundary parameter of a multipart content type.
// Non-multipart types, unparsable types and multipart types without a
// boundary all yield "".
func Boundary(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return ""
	}
	return params["boundary"]
}
