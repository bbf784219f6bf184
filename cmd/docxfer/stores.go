package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/store/archive/cached"
	"github.com/rbaliyan/docxfer/store/archive/gcs"
	"github.com/rbaliyan/docxfer/store/archive/local"
	archiveotel "github.com/rbaliyan/docxfer/store/archive/otel"
	"github.com/rbaliyan/docxfer/store/archive/s3"
	"github.com/rbaliyan/docxfer/store/couch"
	"github.com/rbaliyan/docxfer/store/memory"
	mongostore "github.com/rbaliyan/docxfer/store/mongo"
	storeotel "github.com/rbaliyan/docxfer/store/otel"
	"github.com/rbaliyan/docxfer/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// closers runs cleanup functions in reverse order.
type closers []func(context.Context) error

func (c *closers) add(fn func(context.Context) error) {
	*c = append(*c, fn)
}

func (c closers) close(ctx context.Context) error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i](ctx))
	}
	return errors.Join(errs...)
}

// openStore builds and connects the document store described by cfg.
func openStore(ctx context.Context, cfg StoreConfig, telemetry bool, logger *slog.Logger, cl *closers) (store.Instance, error) {
	var inst store.Instance

	switch cfg.Kind {
	case "couch":
		opts := []couch.Option{couch.WithLogger(logger)}
		if cfg.Username != "" {
			opts = append(opts, couch.WithBasicAuth(cfg.Username, cfg.Password))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, couch.WithTimeout(cfg.Timeout))
		}
		s, err := couch.New(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		inst = s

	case "mongo":
		clientOpts := mongoopts.Client().ApplyURI(cfg.URL)
		if cfg.Username != "" {
			clientOpts.SetAuth(mongoopts.Credential{Username: cfg.Username, Password: cfg.Password})
		}
		client, err := mongo.Connect(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("mongo client: %w", err)
		}
		cl.add(client.Disconnect)

		opts := []mongostore.Option{mongostore.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, mongostore.WithDatabasePrefix(cfg.Prefix))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, mongostore.WithTimeout(cfg.Timeout))
		}
		inst = mongostore.New(client, opts...)

	case "postgres":
		db, err := sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		cl.add(func(context.Context) error { return db.Close() })

		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, postgres.WithTablePrefix(cfg.Prefix))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, postgres.WithTimeout(cfg.Timeout))
		}
		inst = postgres.New(db, opts...)

	case "memory":
		inst = memory.New()

	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}

	if telemetry {
		wrapped, err := storeotel.New(inst)
		if err != nil {
			return nil, err
		}
		inst = wrapped
	}

	if err := inst.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s store: %w", cfg.Kind, err)
	}
	cl.add(inst.Close)
	return inst, nil
}

// databases opens the named databases of inst, or all of them when names
// is empty.
func databases(ctx context.Context, inst store.Instance, names []string) ([]store.Database, error) {
	if len(names) == 0 {
		all, err := inst.Databases(ctx)
		if err != nil {
			return nil, fmt.Errorf("list databases: %w", err)
		}
		names = all
	}
	dbs := make([]store.Database, 0, len(names))
	for _, name := range names {
		db, err := inst.Database(ctx, name, false)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", name, err)
		}
		dbs = append(dbs, db)
	}
	return dbs, nil
}

// location is a parsed archive location.
type location struct {
	scheme string // "file", "s3" or "gs"
	bucket string
	path   string // directory, key prefix or object key
}

func parseLocation(uri string) (location, error) {
	for _, scheme := range []string{"s3", "gs"} {
		rest, ok := strings.CutPrefix(uri, scheme+"://")
		if !ok {
			continue
		}
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return location{}, fmt.Errorf("no bucket in %s", uri)
		}
		return location{scheme: scheme, bucket: bucket, path: key}, nil
	}

	path := strings.TrimPrefix(uri, "file://")
	if path == "" {
		return location{}, errors.New("archive location is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return location{}, err
	}
	return location{scheme: "file", path: abs}, nil
}

// uri returns the location in the form archive stores hand out.
func (l location) uri() string {
	switch l.scheme {
	case "file":
		return "file://" + l.path
	default:
		return l.scheme + "://" + l.bucket + "/" + l.path
	}
}

// openArchiveStore builds the archive store for loc. For exports loc is a
// directory or key prefix; for imports it is the archive itself, and remote
// archives go through the disk cache when one is configured.
func openArchiveStore(ctx context.Context, cfg ArchiveConfig, loc location, forImport, telemetry bool, logger *slog.Logger, cl *closers) (store.ArchiveStore, error) {
	var archives store.ArchiveStore

	switch loc.scheme {
	case "file":
		dir := loc.path
		if forImport {
			dir = filepath.Dir(loc.path)
		}
		s, err := local.New(dir, local.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		archives = s

	case "s3":
		opts := []s3.Option{s3.WithBucket(loc.bucket), s3.WithLogger(logger)}
		if !forImport && loc.path != "" {
			opts = append(opts, s3.WithPrefix(loc.path))
		}
		if c := cfg.S3; c.Region != "" {
			opts = append(opts, s3.WithRegion(c.Region))
		}
		if c := cfg.S3; c.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(c.Endpoint), s3.WithPathStyle(c.PathStyle))
		}
		if c := cfg.S3; c.AccessKey != "" {
			opts = append(opts, s3.WithStaticCredentials(c.AccessKey, c.SecretKey), s3.WithSessionToken(c.SessionToken))
		}
		if c := cfg.S3; c.RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(c.RoleARN, ""), s3.WithExternalID(c.ExternalID))
		}
		s, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		archives = s

	case "gs":
		opts := []gcs.Option{gcs.WithBucket(loc.bucket), gcs.WithLogger(logger)}
		if !forImport && loc.path != "" {
			opts = append(opts, gcs.WithPrefix(loc.path))
		}
		if c := cfg.GCS; c.Endpoint != "" {
			opts = append(opts, gcs.WithEndpoint(c.Endpoint))
		}
		if c := cfg.GCS; c.CredentialsFile != "" {
			opts = append(opts, gcs.WithCredentialsFile(c.CredentialsFile))
		}
		if c := cfg.GCS; c.APIKey != "" {
			opts = append(opts, gcs.WithAPIKey(c.APIKey))
		}
		s, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		cl.add(func(context.Context) error { return s.Close() })
		archives = s
	}

	if telemetry {
		wrapped, err := archiveotel.New(archives)
		if err != nil {
			return nil, err
		}
		archives = wrapped
	}

	if forImport && loc.scheme != "file" && cfg.CacheDir != "" {
		opts := []cached.Option{
			cached.WithCacheDir(cfg.CacheDir),
			cached.WithTTL(cfg.CacheTTL),
			cached.WithLogger(logger),
		}
		if cfg.CacheMaxSize > 0 {
			opts = append(opts, cached.WithMaxSize(cfg.CacheMaxSize))
		}
		c, err := cached.New(archives, opts...)
		if err != nil {
			return nil, err
		}
		cl.add(func(context.Context) error { return c.Close() })
		archives = c
	}
	return archives, nil
}

// newRedisClient returns nil when no address is configured.
func newRedisClient(cfg RedisConfig, cl *closers) redis.UniversalClient {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	cl.add(func(context.Context) error { return client.Close() })
	return client
}

// output opens the file export writes to when no archive store is used.
func output(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
