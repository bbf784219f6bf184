package mongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/rbaliyan/docxfer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

const contentTypeJSON = "application/json"

// record is the stored form of a document: the winning revision's body and
// every revision known for the id.
type record struct {
	ID          string         `bson:"_id"`
	Rev         string         `bson:"rev"`
	Revisions   []string       `bson:"revisions"`
	ContentType string         `bson:"content_type"`
	Length      int64          `bson:"length"`
	Body        []byte         `bson:"body,omitempty"`
	FileID      *bson.ObjectID `bson:"file_id,omitempty"`
	UpdatedAt   time.Time      `bson:"updated_at"`
}

// Database is one logical database backed by a MongoDB database.
type Database struct {
	s      *Store
	name   string
	coll   *mongo.Collection
	bucket *mongo.GridFSBucket
}

var _ store.Database = (*Database)(nil)

// Name returns the logical database name.
func (d *Database) Name() string {
	return d.name
}

// Get returns the winning revision of a document. Only the winning body is
// kept, so asking for any other revision yields ErrNotFound.
func (d *Database) Get(ctx context.Context, id, rev string) (*store.Document, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	rec, err := d.find(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if rec == nil || (rev != "" && rev != rec.Rev) {
		return nil, store.ErrNotFound
	}

	doc := &store.Document{
		ContentType: rec.ContentType,
		Length:      rec.Length,
		Revision:    rec.Rev,
	}
	if rec.FileID == nil {
		doc.Body = io.NopCloser(bytes.NewReader(rec.Body))
		return doc, nil
	}

	stream, err := d.bucket.OpenDownloadStream(ctx, *rec.FileID)
	if err != nil {
		return nil, &store.TransportError{Op: "get", Err: err}
	}
	doc.Body = stream
	return doc, nil
}

// Exists reports whether a document with id is stored.
func (d *Database) Exists(ctx context.Context, id string) (bool, error) {
	if !d.s.isConnected() {
		return false, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	n, err := d.coll.CountDocuments(ctx, bson.M{"_id": id}, mongoopts.Count().SetLimit(1))
	if err != nil {
		return false, &store.TransportError{Op: "exists", Err: err}
	}
	return n > 0, nil
}

// RevisionHistory returns every revision known for id, the winning
// revision's history first.
func (d *Database) RevisionHistory(ctx context.Context, id string) ([]string, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	rec, err := d.find(ctx, id, bson.M{"revisions": 1})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, store.ErrNotFound
	}
	return rec.Revisions, nil
}

// AllDocs lists the winning revision of every document, ordered by id.
func (d *Database) AllDocs(ctx context.Context) ([]store.DocRef, error) {
	if !d.s.isConnected() {
		return nil, store.ErrNotConnected
	}

	opts := mongoopts.Find().
		SetProjection(bson.M{"_id": 1, "rev": 1}).
		SetSort(bson.M{"_id": 1})
	cursor, err := d.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &store.TransportError{Op: "all_docs", Err: err}
	}
	defer cursor.Close(ctx)

	var refs []store.DocRef
	for cursor.Next(ctx) {
		var rec record
		if err := cursor.Decode(&rec); err != nil {
			return nil, &store.TransportError{Op: "all_docs", Err: err}
		}
		refs = append(refs, store.DocRef{ID: rec.ID, Revision: rec.Rev})
	}
	if err := cursor.Err(); err != nil {
		return nil, &store.TransportError{Op: "all_docs", Err: err}
	}
	return refs, nil
}

// Write stores a JSON document inline.
func (d *Database) Write(ctx context.Context, id string, body io.Reader, _ int64, opts store.WriteOptions) error {
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

	history := ri.History()
	if !opts.NoNewRevisions {
		rev, prior, err := d.nextRevision(ctx, id, ri.Rev)
		if err != nil {
			return err
		}
		if data, err = store.SetRevision(data, id, rev); err != nil {
			return err
		}
		ri.Rev = rev
		history = append([]string{rev}, prior...)
	}

	_, err = d.put(ctx, "write", &record{
		ID:          id,
		Rev:         ri.Rev,
		ContentType: contentTypeJSON,
		Length:      int64(len(data)),
		Body:        data,
	}, history)
	return err
}

// WriteMultipart streams a multipart/related body into GridFS and indexes
// it by the revision of its leading JSON part.
func (d *Database) WriteMultipart(ctx context.Context, id string, body io.Reader, boundary string, _ int64, opts store.WriteOptions) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	counter := &countingReader{r: body}
	fileID, err := d.bucket.UploadFromStream(ctx, id, counter)
	if err != nil {
		return &store.TransportError{Op: "write_multipart", Err: err}
	}

	kept := false
	defer func() {
		if !kept {
			d.deleteFile(fileID)
		}
	}()

	ri, err := d.multipartRevision(ctx, fileID, boundary)
	if err != nil {
		return err
	}

	history := ri.History()
	if !opts.NoNewRevisions {
		// The body is stored verbatim, so the new revision lives only in
		// the index.
		rev, prior, err := d.nextRevision(ctx, id, ri.Rev)
		if err != nil {
			return err
		}
		ri.Rev = rev
		history = append([]string{rev}, prior...)
	}

	kept, err = d.put(ctx, "write_multipart", &record{
		ID:          id,
		Rev:         ri.Rev,
		ContentType: mime.FormatMediaType("multipart/related", map[string]string{"boundary": boundary}),
		Length:      counter.n,
		FileID:      &fileID,
	}, history)
	return err
}

// WriteBulk upserts the elements of a JSON array in unordered BulkWrite
// calls of at most bulkSize documents.
func (d *Database) WriteBulk(ctx context.Context, array io.Reader) error {
	if !d.s.isConnected() {
		return store.ErrNotConnected
	}

	var batch []*record
	var histories [][]string
	inBatch := make(map[string]struct{})

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := d.putMany(ctx, batch, histories)
		batch, histories = batch[:0], histories[:0]
		clear(inBatch)
		return err
	}

	err := store.DecodeArray(array, func(raw json.RawMessage) error {
		ri, err := store.ParseRevisionInfo(raw)
		if err != nil {
			return err
		}
		if ri.ID == "" {
			return fmt.Errorf("%w: bulk element without _id", store.ErrInvalidDocument)
		}
		if ri.Rev == "" {
			return fmt.Errorf("%w: missing _rev", store.ErrInvalidDocument)
		}
		// Unordered writes to one id would race each other.
		if _, dup := inBatch[ri.ID]; dup || len(batch) >= d.s.opts.bulkSize {
			if err := flush(); err != nil {
				return err
			}
		}
		inBatch[ri.ID] = struct{}{}
		batch = append(batch, &record{
			ID:          ri.ID,
			Rev:         ri.Rev,
			ContentType: contentTypeJSON,
			Length:      int64(len(raw)),
			Body:        bytes.Clone(raw),
		})
		histories = append(histories, ri.History())
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// find loads the record of id, or nil when there is none.
func (d *Database) find(ctx context.Context, id string, projection any) (*record, error) {
	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}
	var rec record
	err := d.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &store.TransportError{Op: "find", Err: err}
	}
	return &rec, nil
}

// nextRevision returns the revision following the stored one and the stored
// history. The caller's rev must match the stored revision when there is one.
func (d *Database) nextRevision(ctx context.Context, id, rev string) (string, []string, error) {
	cur, err := d.find(ctx, id, bson.M{"rev": 1, "revisions": 1})
	if err != nil {
		return "", nil, err
	}
	if cur == nil {
		return store.NextRevision(""), nil, nil
	}
	if rev != cur.Rev {
		return "", nil, store.ErrConflict
	}
	return store.NextRevision(cur.Rev), cur.Revisions, nil
}

// put records one revision. The body replaces the stored one only when the
// revision wins; otherwise only its history is added. Reports whether the
// body was kept.
func (d *Database) put(ctx context.Context, op string, rec *record, history []string) (bool, error) {
	if rec.Rev == "" {
		return false, fmt.Errorf("%w: missing _rev", store.ErrInvalidDocument)
	}

	cur, err := d.find(ctx, rec.ID, bson.M{"rev": 1, "revisions": 1, "file_id": 1})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	if cur != nil && !store.Wins(rec.Rev, cur.Rev) {
		_, err := d.coll.UpdateOne(ctx, bson.M{"_id": rec.ID}, addRevisions(history))
		if err != nil {
			return false, &store.TransportError{Op: op, Err: err}
		}
		return false, nil
	}

	rec.Revisions = history
	if cur != nil {
		rec.Revisions = store.MergeHistory(history, cur.Revisions)
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err = d.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, mongoopts.Replace().SetUpsert(true))
	if err != nil {
		return false, &store.TransportError{Op: op, Err: err}
	}
	if cur != nil && cur.FileID != nil {
		d.deleteFile(*cur.FileID)
	}
	return true, nil
}

// putMany is put for a batch of inline documents with distinct ids.
func (d *Database) putMany(ctx context.Context, batch []*record, histories [][]string) error {
	ctx, cancel := context.WithTimeout(ctx, d.s.opts.timeout)
	defer cancel()

	ids := make([]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
	}
	current, err := d.current(ctx, ids)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var orphans []bson.ObjectID
	models := make([]mongo.WriteModel, 0, len(batch))
	for i, rec := range batch {
		cur, ok := current[rec.ID]
		if ok && !store.Wins(rec.Rev, cur.Rev) {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": rec.ID}).
				SetUpdate(addRevisions(histories[i])))
			continue
		}
		rec.Revisions = histories[i]
		if ok {
			rec.Revisions = store.MergeHistory(histories[i], cur.Revisions)
			if cur.FileID != nil {
				orphans = append(orphans, *cur.FileID)
			}
		}
		rec.UpdatedAt = now
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetReplacement(rec).
			SetUpsert(true))
	}

	if _, err := d.coll.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(false)); err != nil {
		return &store.TransportError{Op: "write_bulk", Err: err}
	}
	for _, id := range orphans {
		d.deleteFile(id)
	}
	return nil
}

// current loads the revision state of the given ids.
func (d *Database) current(ctx context.Context, ids []string) (map[string]record, error) {
	opts := mongoopts.Find().SetProjection(bson.M{"rev": 1, "revisions": 1, "file_id": 1})
	cursor, err := d.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, &store.TransportError{Op: "write_bulk", Err: err}
	}
	var recs []record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, &store.TransportError{Op: "write_bulk", Err: err}
	}
	current := make(map[string]record, len(recs))
	for _, rec := range recs {
		current[rec.ID] = rec
	}
	return current, nil
}

// multipartRevision reads the revision identity from an uploaded body.
func (d *Database) multipartRevision(ctx context.Context, fileID bson.ObjectID, boundary string) (store.RevisionInfo, error) {
	stream, err := d.bucket.OpenDownloadStream(ctx, fileID)
	if err != nil {
		return store.RevisionInfo{}, &store.TransportError{Op: "write_multipart", Err: err}
	}
	defer stream.Close()

	part, err := store.MultipartDocument(stream, boundary)
	if err != nil {
		return store.RevisionInfo{}, err
	}
	return store.ParseRevisionInfo(part)
}

// deleteFile removes a GridFS file that no record points at. Failures leave
// an orphan behind and are only logged.
func (d *Database) deleteFile(id bson.ObjectID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.s.opts.timeout)
	defer cancel()

	if err := d.bucket.Delete(ctx, id); err != nil {
		d.s.opts.logger.Warn("failed to delete attachment body",
			"database", d.name, "file_id", id.Hex(), "error", err)
	}
}

func addRevisions(history []string) bson.M {
	return bson.M{"$addToSet": bson.M{"revisions": bson.M{"$each": history}}}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
