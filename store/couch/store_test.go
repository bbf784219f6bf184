package couch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
)

type request struct {
	method      string
	path        string
	query       string
	accept      string
	contentType string
	body        string
	user        string
	length      int64
	chunked     bool
}

// fakeCouch answers the handful of CouchDB endpoints the store uses.
type fakeCouch struct {
	mu       sync.Mutex
	requests []request
	dbs      map[string]bool
	docs     map[string]string // "db/id" -> body
	failRoot int
	chunked  bool
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{dbs: map[string]bool{}, docs: map[string]string{}}
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, _, _ := r.BasicAuth()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request{
		method:      r.Method,
		path:        r.URL.EscapedPath(),
		query:       r.URL.RawQuery,
		accept:      r.Header.Get("Accept"),
		contentType: r.Header.Get("Content-Type"),
		body:        string(body),
		user:        user,
		length:      r.ContentLength,
		chunked:     len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked",
	})

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case path == "":
		if f.failRoot > 0 {
			f.failRoot--
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"couchdb":"Welcome"}`)
	case path == "_all_dbs":
		json.NewEncoder(w).Encode([]string{"_users", "alpha", "beta"})
	default:
		db, rest, _ := strings.Cut(path, "/")
		switch {
		case rest == "":
			f.serveDatabase(w, r, db)
		case rest == "_all_docs":
			io.WriteString(w, `{"rows":[{"id":"a","key":"a","value":{"rev":"1-a"}}]}`)
		case rest == "_bulk_docs":
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `[]`)
		default:
			f.serveDocument(w, r, db+"/"+rest, string(body))
		}
	}
}

func (f *fakeCouch) serveDatabase(w http.ResponseWriter, r *http.Request, db string) {
	switch r.Method {
	case http.MethodHead:
		if !f.dbs[db] {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		if f.dbs[db] {
			w.WriteHeader(http.StatusPreconditionFailed)
			io.WriteString(w, `{"error":"file_exists"}`)
			return
		}
		f.dbs[db] = true
		w.WriteHeader(http.StatusCreated)
	}
}

func (f *fakeCouch) serveDocument(w http.ResponseWriter, r *http.Request, key, body string) {
	doc, ok := f.docs[key]
	switch r.Method {
	case http.MethodPut:
		if strings.Contains(body, "conflict") {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":"conflict","reason":"Document update conflict."}`)
			return
		}
		f.docs[key] = body
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead:
		if !ok {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"not_found","reason":"missing"}`)
			return
		}
		if r.URL.Query().Get("revs_info") == "true" {
			io.WriteString(w, `{"_id":"a","_revs_info":[{"rev":"2-b","status":"available"},{"rev":"1-a","status":"missing"}]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"2-b"`)
		if f.chunked {
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, doc)
	}
}

func (f *fakeCouch) last() request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeCouch) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// opaque hides the length of s from net/http, as archive entry readers do.
func opaque(s string) io.Reader {
	return io.MultiReader(strings.NewReader(s))
}

func setup(t *testing.T) (*fakeCouch, *Store, *Database) {
	t.Helper()
	fake := newFakeCouch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u := strings.Replace(srv.URL, "http://", "http://admin:secret@", 1)
	s, err := New(u+"/", WithRetry(retry.Policy{Attempts: 3, Base: time.Millisecond}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	db, err := s.Database(ctx, "alpha", true)
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	return fake, s, db.(*Database)
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := New("ftp://host"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestDatabasePath(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"db", "/db"},
		{"/db", "/db"},
		{"db/", "/db"},
		{"/db/", "/db"},
		{"a/b", "/a%2Fb"},
		{"", "/"},
	}
	for _, tt := range tests {
		if got := DatabasePath(tt.name); got != tt.want {
			t.Errorf("DatabasePath(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestConnect_RetriesUntilAvailable(t *testing.T) {
	fake := newFakeCouch()
	fake.failRoot = 2
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := New(srv.URL, WithRetry(retry.Policy{Attempts: 3, Base: time.Millisecond}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if n := fake.count(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnect_GivesUp(t *testing.T) {
	fake := newFakeCouch()
	fake.failRoot = 10
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, _ := New(srv.URL, WithRetry(retry.Policy{Attempts: 2, Base: time.Millisecond}))
	err := s.Connect(context.Background())
	if !errors.Is(err, retry.ErrExhausted) || !store.IsTransport(err) {
		t.Errorf("err = %v", err)
	}
	if _, err := s.Databases(context.Background()); !store.IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestStore_DatabasesAndCreate(t *testing.T) {
	fake, s, _ := setup(t)
	ctx := context.Background()

	names, err := s.Databases(ctx)
	if err != nil {
		t.Fatalf("databases: %v", err)
	}
	if strings.Join(names, ",") != "alpha,beta" {
		t.Errorf("databases = %v", names)
	}
	if fake.last().user != "admin" {
		t.Errorf("credentials from the URL were not used")
	}

	if _, err := s.Database(ctx, "missing", false); !store.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.Database(ctx, "alpha", true); err != nil {
		t.Errorf("existing database: %v", err)
	}
}

func TestDatabase_Write(t *testing.T) {
	fake, _, db := setup(t)
	ctx := context.Background()

	body := `{"_id":"a","_rev":"1-a"}`
	if err := db.Write(ctx, "a", opaque(body), int64(len(body)), store.WriteOptions{NoNewRevisions: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	req := fake.last()
	if req.length != int64(len(body)) || req.chunked {
		t.Errorf("declared length not sent: Content-Length=%d chunked=%v", req.length, req.chunked)
	}
	if req.method != http.MethodPut || req.path != "/alpha/a" || req.query != "new_edits=false" {
		t.Errorf("request = %+v", req)
	}
	if req.body != body || req.contentType != "application/json" {
		t.Errorf("body/content type = %q/%q", req.body, req.contentType)
	}

	if err := db.Write(ctx, "_design/app", strings.NewReader(`{}`), 2, store.WriteOptions{}); err != nil {
		t.Fatalf("write design doc: %v", err)
	}
	req = fake.last()
	if req.path != "/alpha/_design/app" || req.query != "" {
		t.Errorf("design doc request = %+v", req)
	}

	err := db.Write(ctx, "c", strings.NewReader(`{"conflict":true}`), 0, store.WriteOptions{})
	if !store.IsConflict(err) || !store.IsTransport(err) {
		t.Errorf("expected conflict transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Document update conflict") {
		t.Errorf("error lacks reason: %v", err)
	}
}

func TestDatabase_WriteMultipart(t *testing.T) {
	fake, _, db := setup(t)
	body := "--B\r\nContent-Type: application/json\r\n\r\n{\"_id\":\"m\"}\r\n--B--"
	if err := db.WriteMultipart(context.Background(), "m", opaque(body), "B", int64(len(body)), store.WriteOptions{NoNewRevisions: true}); err != nil {
		t.Fatalf("write multipart: %v", err)
	}
	req := fake.last()
	if req.contentType != "multipart/related; boundary=B" || req.body != body {
		t.Errorf("request = %+v", req)
	}
	if req.length != int64(len(body)) || req.chunked {
		t.Errorf("declared length not sent: Content-Length=%d chunked=%v", req.length, req.chunked)
	}
}

func TestDatabase_WriteUnknownLengthStreams(t *testing.T) {
	fake, _, db := setup(t)
	body := `{"_id":"u"}`
	if err := db.Write(context.Background(), "u", strings.NewReader(body), -1, store.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	req := fake.last()
	if req.body != body || !req.chunked || req.length != -1 {
		t.Errorf("request = %+v", req)
	}
}

func TestDatabase_WriteBulk(t *testing.T) {
	fake, _, db := setup(t)
	if err := db.WriteBulk(context.Background(), strings.NewReader(`[{"_id":"a"},{"_id":"b"}]`)); err != nil {
		t.Fatalf("write bulk: %v", err)
	}
	req := fake.last()
	if req.method != http.MethodPost || req.path != "/alpha/_bulk_docs" {
		t.Errorf("request = %+v", req)
	}
	if req.body != `{"new_edits":false,"docs":[{"_id":"a"},{"_id":"b"}]}` {
		t.Errorf("body = %s", req.body)
	}
}

func TestDatabase_Get(t *testing.T) {
	for _, chunked := range []bool{false, true} {
		fake, _, db := setup(t)
		fake.chunked = chunked
		fake.docs["alpha/a"] = `{"_id":"a","_rev":"2-b"}`

		doc, err := db.Get(context.Background(), "a", "2-b")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		data, _ := io.ReadAll(doc.Body)
		doc.Body.Close()

		if doc.Revision != "2-b" {
			t.Errorf("revision = %q, want unquoted 2-b", doc.Revision)
		}
		if doc.Length != int64(len(data)) || string(data) != fake.docs["alpha/a"] {
			t.Errorf("chunked=%v: length %d, body %q", chunked, doc.Length, data)
		}
		req := fake.last()
		if req.accept != "multipart/related" || req.query != "attachments=true&rev=2-b&revs=true" {
			t.Errorf("request = %+v", req)
		}
	}

	_, _, db := setup(t)
	if _, err := db.Get(context.Background(), "nope", ""); !store.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDatabase_ExistsHistoryAllDocs(t *testing.T) {
	fake, _, db := setup(t)
	ctx := context.Background()
	fake.docs["alpha/a"] = `{}`

	ok, err := db.Exists(ctx, "a")
	if err != nil || !ok {
		t.Errorf("exists(a) = %v, %v", ok, err)
	}
	ok, err = db.Exists(ctx, "b")
	if err != nil || ok {
		t.Errorf("exists(b) = %v, %v", ok, err)
	}

	history, err := db.RevisionHistory(ctx, "a")
	if err != nil || strings.Join(history, ",") != "2-b,1-a" {
		t.Errorf("history = %v, %v", history, err)
	}

	refs, err := db.AllDocs(ctx)
	if err != nil || len(refs) != 1 || refs[0] != (store.DocRef{ID: "a", Revision: "1-a"}) {
		t.Errorf("all docs = %v, %v", refs, err)
	}
}
