package store

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RevisionInfo is the revision identity carried inside a JSON document body.
type RevisionInfo struct {
	ID        string     `json:"_id"`
	Rev       string     `json:"_rev"`
	Revisions *Revisions `json:"_revisions,omitempty"`
	Deleted   bool       `json:"_deleted,omitempty"`
}

// Revisions is the compact revision history form: the generation of the
// newest revision and the hashes of every revision, newest first.
type Revisions struct {
	Start int      `json:"start"`
	IDs   []string `json:"ids"`
}

// History expands the revision info into full revision tokens, newest first.
// A document without _revisions has a history of just its own revision.
func (ri RevisionInfo) History() []string {
	if ri.Revisions == nil || len(ri.Revisions.IDs) == 0 {
		if ri.Rev == "" {
			return nil
		}
		return []string{ri.Rev}
	}
	history := make([]string, 0, len(ri.Revisions.IDs))
	for i, hash := range ri.Revisions.IDs {
		history = append(history, fmt.Sprintf("%d-%s", ri.Revisions.Start-i, hash))
	}
	return history
}

// ParseRevisionInfo reads the revision identity of a JSON document.
func ParseRevisionInfo(doc []byte) (RevisionInfo, error) {
	var ri RevisionInfo
	if err := json.Unmarshal(doc, &ri); err != nil {
		return RevisionInfo{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return ri, nil
}

// MultipartDocument returns the JSON document part of a multipart/related
// body. Only the first part is read; attachments are left unread.
func MultipartDocument(body io.Reader, boundary string) ([]byte, error) {
	part, err := multipart.NewReader(body, boundary).NextPart()
	if err != nil {
		return nil, fmt.Errorf("%w: read document part: %w", ErrInvalidDocument, err)
	}
	defer part.Close()

	doc, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("%w: read document part: %w", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Generation returns the numeric prefix of a revision token, or 0 when the
// token has none.
func Generation(rev string) int {
	prefix, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}

// NextRevision generates the revision token following prev.
func NextRevision(prev string) string {
	hash := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", Generation(prev)+1, hash)
}

// SetRevision rewrites the identity fields of a JSON document: _id and _rev
// are set and _revisions is dropped.
func SetRevision(doc []byte, id, rev string) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	fields["_id"] = id
	fields["_rev"] = rev
	delete(fields, "_revisions")
	return json.Marshal(fields)
}

// Wins reports whether revision a beats revision b: the higher generation
// wins, then the lexically greater token.
func Wins(a, b string) bool {
	ga, gb := Generation(a), Generation(b)
	if ga != gb {
		return ga > gb
	}
	return a > b
}

// MergeHistory joins two newest-first revision lists, keeping the first
// occurrence of each revision.
func MergeHistory(first, rest []string) []string {
	seen := make(map[string]struct{}, len(first)+len(rest))
	out := make([]string, 0, len(first)+len(rest))
	for _, list := range [][]string{first, rest} {
		for _, rev := range list {
			if _, dup := seen[rev]; dup {
				continue
			}
			seen[rev] = struct{}{}
			out = append(out, rev)
		}
	}
	return out
}

// CompactHistory turns a newest-first list of consecutive revisions into
// the _revisions form.
func CompactHistory(history []string) *Revisions {
	if len(history) == 0 {
		return nil
	}
	revs := &Revisions{Start: Generation(history[0])}
	for _, rev := range history {
		_, hash, _ := strings.Cut(rev, "-")
		revs.IDs = append(revs.IDs, hash)
	}
	return revs
}

// DecodeArray calls fn with each element of a JSON array, in order, holding
// at most one element in memory at a time.
func DecodeArray(r io.Reader, fn func(doc json.RawMessage) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("%w: expected array", ErrInvalidDocument)
	}

	for dec.More() {
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}
