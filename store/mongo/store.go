// Package mongo provides a MongoDB implementation of the document store.
//
// Each logical database maps to a MongoDB database named with a prefix.
// Documents live in one collection, keyed by id, holding the winning
// revision and its history. Plain JSON bodies are stored inline; multipart
// bodies (documents with attachments) are streamed into a GridFS bucket.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store implements store.Instance using MongoDB.
type Store struct {
	client    *mongo.Client
	opts      *options
	connected int32
}

var _ store.Instance = (*Store)(nil)

// New creates a new MongoDB store with the provided client.
// Call Connect() before use. The caller owns the client.
func New(client *mongo.Client, opts ...Option) *Store {
	return &Store{
		client: client,
		opts:   newOptions(opts...),
	}
}

// Connect pings the server, retrying with backoff.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	err := retry.Do(ctx, s.opts.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
		return s.client.Ping(ctx, nil)
	})
	if err != nil {
		return &store.TransportError{Op: "connect", Err: err}
	}

	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.opts.logger.Info("connected to MongoDB", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) isConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// Databases lists logical databases: MongoDB databases carrying the prefix.
func (s *Store) Databases(ctx context.Context) ([]string, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	all, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, &store.TransportError{Op: "databases", Err: err}
	}
	return logicalNames(s.opts.prefix, all), nil
}

// Database returns the named database. With create, the documents
// collection and its index are created when missing.
func (s *Store) Database(ctx context.Context, name string, create bool) (store.Database, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if name == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	physical := s.opts.prefix + name
	db := s.client.Database(physical)
	coll := db.Collection(s.opts.collection)

	if create {
		// Creating the index creates the collection, so the database is
		// listed from now on.
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "revisions", Value: 1}},
		})
		if err != nil {
			return nil, &store.TransportError{Op: "create_database", Err: err}
		}
	} else {
		names, err := s.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: physical}})
		if err != nil {
			return nil, &store.TransportError{Op: "database", Err: err}
		}
		if len(names) == 0 {
			return nil, store.ErrNotFound
		}
	}

	return &Database{
		s:      s,
		name:   name,
		coll:   coll,
		bucket: db.GridFSBucket(mongoopts.GridFSBucket().SetName(s.opts.bucket)),
	}, nil
}

// logicalNames keeps the names carrying prefix, with the prefix removed.
func logicalNames(prefix string, physical []string) []string {
	names := make([]string, 0, len(physical))
	for _, p := range physical {
		if name, ok := strings.CutPrefix(p, prefix); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}
