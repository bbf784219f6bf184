// Package stream holds the reader plumbing of a transfer: the virtual JSON
// array used for bulk writes, the borrowed single-use view over a shared
// source, and spoolers that detach a body from its source.
package stream
