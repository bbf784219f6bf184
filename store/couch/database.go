package couch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/stream"
)

// Database is one CouchDB database.
type Database struct {
	s    *Store
	name string
	path string
}

var _ store.Database = (*Database)(nil)

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// docPath returns the path of a document. Design documents keep their
// "_design/" prefix unescaped, as CouchDB expects.
func (d *Database) docPath(id string) string {
	if rest, ok := strings.CutPrefix(id, "_design/"); ok {
		return d.path + "/_design/" + url.PathEscape(rest)
	}
	return d.path + "/" + url.PathEscape(id)
}

// Get fetches a revision with its attachments and revision history. When
// the server streams the body without a length, the body is buffered to
// learn it.
func (d *Database) Get(ctx context.Context, id, rev string) (*store.Document, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	query := url.Values{"revs": {"true"}, "attachments": {"true"}}
	if rev != "" {
		query.Set("rev", rev)
	}
	header := http.Header{"Accept": {"multipart/related"}}

	resp, err := d.s.do(ctx, "get", http.MethodGet, d.docPath(id), query, header, nil, -1)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
		Revision:    strings.Trim(resp.Header.Get("ETag"), `"`),
		Body:        resp.Body,
	}
	if doc.Length >= 0 {
		return doc, nil
	}

	defer resp.Body.Close()
	payload, err := stream.MemorySpooler{}.Spool(resp.Body, 0)
	if err != nil {
		return nil, &store.TransportError{Op: "get", Err: err}
	}
	body, _ := payload.Open()
	doc.Length = payload.Size()
	doc.Body = body
	return doc, nil
}

// Exists sends a HEAD request for the document.
func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	if !d.s.isConnected() {
		return false, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	resp, err := d.s.do(ctx, "exists", http.MethodHead, d.docPath(id), nil, nil, nil, -1)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	drain(resp)
	return true, nil
}

type revsInfo struct {
	RevsInfo []struct {
		Rev    string `json:"rev"`
		Status string `json:"status"`
	} `json:"_revs_info"`
}

// RevisionHistory returns the revisions CouchDB knows for the winning
// branch, newest first, whether or not their bodies are still available.
func (d *Database) RevisionHistory(ctx context.Context, id string) ([]string, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	var info revsInfo
	if err := d.s.getJSON(ctx, "revision_history", d.docPath(id), url.Values{"revs_info": {"true"}}, &info); err != nil {
		return nil, err
	}
	history := make([]string, 0, len(info.RevsInfo))
	for _, ri := range info.RevsInfo {
		history = append(history, ri.Rev)
	}
	return history, nil
}

type allDocsResponse struct {
	Rows []struct {
		ID    string `json:"id"`
		Value struct {
			Rev string `json:"rev"`
		} `json:"value"`
	} `json:"rows"`
}

// AllDocs lists every document, design documents included.
func (d *Database) AllDocs(ctx context.Context) ([]store.DocRef, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	var all allDocsResponse
	if err := d.s.getJSON(ctx, "all_docs", d.path+"/_all_docs", nil, &all); err != nil {
		return nil, err
	}
	refs := make([]store.DocRef, 0, len(all.Rows))
	for _, row := range all.Rows {
		refs = append(refs, store.DocRef{ID: row.ID, Revision: row.Value.Rev})
	}
	return refs, nil
}

// Write PUTs a JSON document with the declared length as its Content-Length.
// The length is not checked against the body.
func (d *Database) Write(ctx context.Context, id string, body io.Reader, length int64, opts store.WriteOptions) error {
	return d.put(ctx, "write", id, body, length, "application/json", opts)
}

// WriteMultipart PUTs a multipart/related document with its attachments.
func (d *Database) WriteMultipart(ctx context.Context, id string, body io.Reader, boundary string, length int64, opts store.WriteOptions) error {
	ct := mime.FormatMediaType("multipart/related", map[string]string{"boundary": boundary})
	return d.put(ctx, "write_multipart", id, body, length, ct, opts)
}

func (d *Database) put(ctx context.Context, op, id string, body io.Reader, length int64, contentType string, opts store.WriteOptions) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	var query url.Values
	if opts.NoNewRevisions {
		query = url.Values{"new_edits": {"false"}}
	}
	header := http.Header{"Content-Type": {contentType}}

	resp, err := d.s.do(ctx, op, http.MethodPut, d.docPath(id), query, header, body, length)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// WriteBulk POSTs the array to _bulk_docs with new_edits=false. The array is
// streamed inside the request envelope without being buffered.
func (d *Database) WriteBulk(ctx context.Context, array io.Reader) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}

	body := io.MultiReader(
		strings.NewReader(`{"new_edits":false,"docs":`),
		array,
		strings.NewReader(`}`),
	)
	header := http.Header{"Content-Type": {"application/json"}}

	resp, err := d.s.do(ctx, "write_bulk", http.MethodPost, d.path+"/_bulk_docs", nil, header, body, -1)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}
