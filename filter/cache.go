package filter

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/rbaliyan/docxfer/store"
	"github.com/redis/go-redis/v9"
)

// Default cache configuration.
const (
	DefaultKeyPrefix = "docxfer:revs:"
	DefaultCacheTTL  = 24 * time.Hour
)

// RevisionCache is ExcludeExistingRevision backed by a Redis set per
// document, so repeated imports into the same target skip the store lookups
// for revisions seen before.
//
// The cache only ever answers "known"; a miss always goes to the store, and
// the history found there is added to the set. Redis failures fall back to
// the store and are logged.
type RevisionCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// CacheOption configures a RevisionCache.
type CacheOption func(*RevisionCache)

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *RevisionCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL sets how long a document's cached history is kept. Zero keeps it
// forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *RevisionCache) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger for cache failures.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *RevisionCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRevisionCache returns a RevisionCache using client.
func NewRevisionCache(client redis.UniversalClient, opts ...CacheOption) *RevisionCache {
	c := &RevisionCache{
		client: client,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Filter = (*RevisionCache)(nil)

// Include implements Filter.
func (c *RevisionCache) Include(ctx context.Context, db store.Database, id, rev string) (bool, error) {
	key := c.key(db.Name(), id)

	known, err := c.client.SIsMember(ctx, key, rev).Result()
	if err != nil {
		c.logger.Warn("revision cache lookup failed", "database", db.Name(), "id", id, "error", err)
	} else if known {
		return false, nil
	}

	history, err := knownRevisions(ctx, db, id)
	if err != nil {
		return false, err
	}
	if len(history) > 0 {
		c.remember(ctx, key, history)
	}

	return !slices.Contains(history, rev), nil
}

// Forget drops the cached history of a document.
func (c *RevisionCache) Forget(ctx context.Context, database, id string) error {
	return c.client.Del(ctx, c.key(database, id)).Err()
}

func (c *RevisionCache) remember(ctx context.Context, key string, history []string) {
	members := make([]any, len(history))
	for i, h := range history {
		members[i] = h
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, members...)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("revision cache update failed", "key", key, "error", err)
	}
}

func (c *RevisionCache) key(database, id string) string {
	return c.prefix + database + ":" + id
}
