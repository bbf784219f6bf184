// Package mimestream encodes and decodes the archive entry format: one
// MIME-style section per document.
//
// # Wire Format
//
//	Content-ID: <document id>\r\n
//	Content-Length: <body length>\r\n
//	Content-Type: <media type>\r\n
//	ETag: <revision>\r\n
//	\r\n
//	<body bytes>
//
// The body is raw: a JSON document, or a multipart/related body carrying the
// document and its attachments. There is no framing after the body; the
// archive container delimits entries.
//
// Both directions stream. NewReader never reads the body before its header
// block has been consumed, and a Decoder makes exactly one pass over its
// source, handing the unread remainder out as the body.
package mimestream
