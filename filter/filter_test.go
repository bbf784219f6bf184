package filter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/store/memory"
	"github.com/redis/go-redis/v9"
)

func seeded(t *testing.T) store.Database {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	db, err := s.Database(ctx, "db", true)
	if err != nil {
		t.Fatalf("database: %v", err)
	}
	body := `{"_id":"a","_rev":"2-b","_revisions":{"start":2,"ids":["b","a"]}}`
	if err := db.Write(ctx, "a", strings.NewReader(body), int64(len(body)), store.WriteOptions{NoNewRevisions: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func TestIncludeAll(t *testing.T) {
	ok, err := IncludeAll.Include(context.Background(), seeded(t), "a", "2-b")
	if err != nil || !ok {
		t.Errorf("IncludeAll = %v, %v", ok, err)
	}
}

func TestExcludeExistingRevision(t *testing.T) {
	db := seeded(t)
	f := ExcludeExistingRevision()

	tests := []struct {
		name string
		id   string
		rev  string
		want bool
	}{
		{"missing document", "zzz", "1-x", true},
		{"current revision", "a", "2-b", false},
		{"ancestor revision", "a", "1-a", false},
		{"unknown revision", "a", "3-c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Include(context.Background(), db, tt.id, tt.rev)
			if err != nil {
				t.Fatalf("include: %v", err)
			}
			if got != tt.want {
				t.Errorf("Include(%s, %s) = %v, want %v", tt.id, tt.rev, got, tt.want)
			}
		})
	}
}

func TestExcludeExistingRevision_StoreError(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.Connect(ctx)
	db, _ := s.Database(ctx, "db", true)
	_ = s.Close(ctx)

	_, err := ExcludeExistingRevision().Include(ctx, db, "a", "1-a")
	if !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestRevisionCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	db := seeded(t)
	cache := NewRevisionCache(client, WithKeyPrefix("test:"), WithTTL(time.Hour))

	ok, err := cache.Include(ctx, db, "a", "1-a")
	if err != nil {
		t.Fatalf("include: %v", err)
	}
	if ok {
		t.Error("known ancestor revision should be excluded")
	}

	members, err := mr.Members("test:db:a")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if strings.Join(members, ",") != "1-a,2-b" {
		t.Errorf("cached members = %v", members)
	}
	if ttl := mr.TTL("test:db:a"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	ok, err = cache.Include(ctx, db, "a", "3-c")
	if err != nil || !ok {
		t.Errorf("unknown revision: %v, %v", ok, err)
	}
	ok, err = cache.Include(ctx, db, "new", "1-n")
	if err != nil || !ok {
		t.Errorf("missing document: %v, %v", ok, err)
	}
	if mr.Exists("test:db:new") {
		t.Error("missing document should not be cached")
	}

	if err := cache.Forget(ctx, "db", "a"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if mr.Exists("test:db:a") {
		t.Error("forget left the key behind")
	}
}

func TestRevisionCache_AnswersFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	if _, err := mr.SAdd(DefaultKeyPrefix+"db:a", "9-z"); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	// Store is disconnected; a cache hit must not reach it.
	s := memory.New()
	_ = s.Connect(ctx)
	db, _ := s.Database(ctx, "db", true)
	_ = s.Close(ctx)

	ok, err := NewRevisionCache(client).Include(ctx, db, "a", "9-z")
	if err != nil {
		t.Fatalf("include: %v", err)
	}
	if ok {
		t.Error("cached revision should be excluded")
	}
}

func TestRevisionCache_RedisDownFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	ok, err := NewRevisionCache(client).Include(context.Background(), seeded(t), "a", "2-b")
	if err != nil {
		t.Fatalf("include: %v", err)
	}
	if ok {
		t.Error("store fallback should exclude the existing revision")
	}
}
