package mimestream

import (
	"errors"
	"fmt"
)

// ErrDecode matches every error produced while decoding an entry.
var ErrDecode = errors.New("mimestream: decode error")

// Decode errors. All of them match ErrDecode.
var (
	// ErrMalformedLine is returned when a CR in the header block is not
	// immediately followed by LF.
	ErrMalformedLine = fmt.Errorf("%w: carriage return without line feed", ErrDecode)

	// ErrTruncated is returned when the stream ends before the blank line
	// terminating the header block.
	ErrTruncated = fmt.Errorf("%w: stream ended inside header block", ErrDecode)

	// ErrMalformedHeader is returned for a header line without a colon.
	ErrMalformedHeader = fmt.Errorf("%w: header line without name separator", ErrDecode)

	// ErrMissingHeader is returned when a required header is absent.
	ErrMissingHeader = fmt.Errorf("%w: missing required header", ErrDecode)

	// ErrInvalidLength is returned when the content length is not a
	// non-negative integer.
	ErrInvalidLength = fmt.Errorf("%w: invalid content length", ErrDecode)
)
