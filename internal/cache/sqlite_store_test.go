package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/cache-proxy/internal/config"
)

func TestSQLiteStoreSetAndGet(t *testing.T) {
	store, _ := newTestSQLiteStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "GET:http://origin/a", Envelope{Status: 200, Body: []byte("hello")}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	got, err := store.Get(ctx, "GET:http://origin/a")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Status != 200 || string(got.Body) != "hello" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestSQLiteStoreExpiresEntries(t *testing.T) {
	store, clock := newTestSQLiteStore(t, 300*time.Second)
	ctx := context.Background()

	if err := store.Set(ctx, "k", Envelope{Status: 200}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	*clock = clock.Add(299 * time.Second)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("entry should still be fresh: %v", err)
	}
	*clock = clock.Add(2 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after ttl, got %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired row should be purged, %d rows left", count)
	}
}

func TestSQLiteStoreOverwriteRefreshesTTL(t *testing.T) {
	store, clock := newTestSQLiteStore(t, 10*time.Second)
	ctx := context.Background()

	if err := store.Set(ctx, "k", Envelope{Status: 200, Body: []byte("v1")}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	*clock = clock.Add(8 * time.Second)
	if err := store.Set(ctx, "k", Envelope{Status: 200, Body: []byte("v2")}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	*clock = clock.Add(8 * time.Second)
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "v2" {
		t.Fatalf("expected overwritten body, got %s", got.Body)
	}
}

func TestSQLiteStoreClearAndClose(t *testing.T) {
	store, _ := newTestSQLiteStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "k", Envelope{Status: 200}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestSQLiteStoreMalformedValue(t *testing.T) {
	store, clock := newTestSQLiteStore(t, time.Minute)
	if _, err := store.db.Exec("INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)",
		"broken", "garbage", clock.Add(time.Minute).UnixMilli()); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if _, err := store.Get(context.Background(), "broken"); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	cfg := &config.Config{
		CacheBackend: config.BackendSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "cache.db"),
		CacheTTL:     config.Duration(time.Minute),
	}
	store, err := NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", store)
	}

	cfg.CacheBackend = "memcached"
	if _, err := NewStore(context.Background(), cfg); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func newTestSQLiteStore(t *testing.T, ttl time.Duration) (*SQLiteStore, *time.Time) {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "cache.db"), ttl)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	return store, &clock
}
