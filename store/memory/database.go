package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"sort"
	"sync"

	"github.com/rbaliyan/docxfer/store"
)

const contentTypeJSON = "application/json"

// Database is one in-memory document database.
type Database struct {
	s    *Store
	name string

	mu   sync.RWMutex
	docs map[string]*document
}

var _ store.Database = (*Database)(nil)

// document keeps every revision body written for an id. The winning
// revision is the one with the highest generation.
type document struct {
	rev     string
	history []string
	bodies  map[string]stored
}

type stored struct {
	contentType string
	body        []byte
}

func newDatabase(s *Store, name string) *Database {
	return &Database{s: s, name: name, docs: make(map[string]*document)}
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Len returns the number of documents.
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

// Get returns a copy of the requested revision.
func (d *Database) Get(_ context.Context, id, rev string) (*store.Document, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rev == "" {
		rev = doc.rev
	}
	st, ok := doc.bodies[rev]
	if !ok {
		return nil, store.ErrNotFound
	}

	body := bytes.Clone(st.body)
	return &store.Document{
		ContentType: st.contentType,
		Length:      int64(len(body)),
		Revision:    rev,
		Body:        io.NopCloser(bytes.NewReader(body)),
	}, nil
}

// Exists reports whether id is stored.
func (d *Database) Exists(_ context.Context, id string) (bool, error) {
	if !d.s.isConnected() {
		return false, store.ErrNotConnected
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.docs[id]
	return ok, nil
}

// RevisionHistory returns the winning revision's history followed by any
// other revision written for id.
func (d *Database) RevisionHistory(_ context.Context, id string) ([]string, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]string(nil), doc.history...), nil
}

// AllDocs lists the winning revision of every document, ordered by id.
func (d *Database) AllDocs(_ context.Context) ([]store.DocRef, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	refs := make([]store.DocRef, 0, len(d.docs))
	for id, doc := range d.docs {
		refs = append(refs, store.DocRef{ID: id, Revision: doc.rev})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// Write stores a JSON document.
func (d *Database) Write(_ context.Context, id string, body io.Reader, _ int64, opts store.WriteOptions) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	ri, err := store.ParseRevisionInfo(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if opts.NoNewRevisions {
		return d.put(id, ri, contentTypeJSON, data)
	}

	ri, data, err = d.assignRevision(id, ri, data)
	if err != nil {
		return err
	}
	return d.put(id, ri, contentTypeJSON, data)
}

// WriteMultipart stores a multipart/related body verbatim. Only the leading
// JSON part is inspected, for revision identity.
func (d *Database) WriteMultipart(_ context.Context, id string, body io.Reader, boundary string, _ int64, opts store.WriteOptions) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	part, err := store.MultipartDocument(bytes.NewReader(data), boundary)
	if err != nil {
		return err
	}
	ri, err := store.ParseRevisionInfo(part)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !opts.NoNewRevisions {
		// The body is stored verbatim, so the new revision lives only in
		// the index.
		if ri, _, err = d.assignRevision(id, ri, nil); err != nil {
			return err
		}
	}
	ct := mime.FormatMediaType("multipart/related", map[string]string{"boundary": boundary})
	return d.put(id, ri, ct, data)
}

// WriteBulk stores every element of a JSON array, keeping the revisions they
// carry. Elements are decoded one at a time.
func (d *Database) WriteBulk(_ context.Context, array io.Reader) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return store.DecodeArray(array, func(raw json.RawMessage) error {
		ri, err := store.ParseRevisionInfo(raw)
		if err != nil {
			return err
		}
		if ri.ID == "" {
			return fmt.Errorf("%w: bulk element without _id", store.ErrInvalidDocument)
		}
		return d.put(ri.ID, ri, contentTypeJSON, bytes.Clone(raw))
	})
}

// assignRevision gives a document the revision following the stored one.
// The body must carry the current revision when the document exists. When
// data is non-nil the new _rev is written into it.
func (d *Database) assignRevision(id string, ri store.RevisionInfo, data []byte) (store.RevisionInfo, []byte, error) {
	var prev string
	var history []string
	if doc, ok := d.docs[id]; ok {
		if ri.Rev != doc.rev {
			return ri, nil, store.ErrConflict
		}
		prev = doc.rev
		history = doc.history
	}

	next := store.NextRevision(prev)
	ri.ID = id
	ri.Rev = next
	ri.Revisions = store.CompactHistory(append([]string{next}, history...))

	if data != nil {
		out, err := store.SetRevision(data, id, next)
		if err != nil {
			return ri, nil, err
		}
		data = out
	}
	return ri, data, nil
}

// put records one revision of id and recomputes the winner.
func (d *Database) put(id string, ri store.RevisionInfo, contentType string, body []byte) error {
	if ri.Rev == "" {
		return fmt.Errorf("%w: missing _rev", store.ErrInvalidDocument)
	}

	doc, ok := d.docs[id]
	if !ok {
		doc = &document{bodies: make(map[string]stored)}
		d.docs[id] = doc
	}
	doc.bodies[ri.Rev] = stored{contentType: contentType, body: body}

	history := ri.History()
	if doc.rev == "" || store.Wins(ri.Rev, doc.rev) {
		doc.rev = ri.Rev
		doc.history = store.MergeHistory(history, doc.history)
	} else {
		doc.history = store.MergeHistory(doc.history, history)
	}
	return nil
}
