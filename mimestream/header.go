package mimestream

import "strings"

// Well-known header names of an archive entry.
// Every entry carries all four; lookups ignore case.
const (
	// HeaderContentID is the document identifier.
	HeaderContentID = "Content-ID"

	// HeaderContentLength is the declared byte length of the body.
	HeaderContentLength = "Content-Length"

	// HeaderContentType is the media type of the body. A multipart type
	// with a boundary parameter marks an attachment-bearing document.
	// Example: "application/json", "multipart/related; boundary=abc".
	HeaderContentType = "Content-Type"

	// HeaderETag is the revision token of the document.
	HeaderETag = "ETag"
)

// Header is one name/value pair of a header block.
type Header struct {
	Name  string
	Value string
}

// String renders the header as it appears on the wire, without terminator.
func (h Header) String() string {
	return h.Name + ": " + h.Value
}

// Headers is an ordered header block. Order is preserved on the wire and
// duplicate names are kept.
type Headers []Header

// Lookup returns the value of the first header whose name matches name,
// ignoring case.
func (hs Headers) Lookup(name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Get returns the value of the first header matching name, or "".
func (hs Headers) Get(name string) string {
	v, _ := hs.Lookup(name)
	return v
}
