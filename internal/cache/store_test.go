package cache_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"bookdrop/internal/cache"
	"bookdrop/internal/services"
	"bookdrop/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPutGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	if err := store.Put(ctx, "fp-1", []byte(`{"stage":"resolved"}`), cache.StatusResolved, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, ok, err := store.Get(ctx, "fp-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if entry.Status != cache.StatusResolved {
		t.Fatalf("expected resolved, got %s", entry.Status)
	}
	if string(entry.Payload) != `{"stage":"resolved"}` {
		t.Fatalf("unexpected payload %q", entry.Payload)
	}
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		t.Fatalf("expected ExpiresAt after CreatedAt: %+v", entry)
	}
	if got := entry.ExpiresAt.Sub(entry.CreatedAt); got != cache.DefaultTTL {
		t.Fatalf("expected default ttl %s, got %s", cache.DefaultTTL, got)
	}

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing entry absent, ok=%v err=%v", ok, err)
	}
}

func TestPutLastWriteWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	_ = store.Put(ctx, "fp", []byte("a"), cache.StatusPending, 0)
	_ = store.Put(ctx, "fp", []byte("b"), cache.StatusDownloaded, 0)
	entry, ok, err := store.Get(ctx, "fp")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if entry.Status != cache.StatusDownloaded || string(entry.Payload) != "b" {
		t.Fatalf("expected last write, got %+v", entry)
	}
}

func TestPutClampsTTL(t *testing.T) {
	clock := newFakeClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg, cache.WithClock(clock.Now))
	ctx := context.Background()

	cases := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"below minimum", time.Minute, cache.MinTTL},
		{"negative", -time.Hour, cache.MinTTL},
		{"above maximum", 1000 * time.Hour, cache.MaxTTL},
		{"within range", 48 * time.Hour, 48 * time.Hour},
		{"zero uses default", 0, cache.DefaultTTL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.Put(ctx, tc.name, nil, cache.StatusPending, tc.ttl); err != nil {
				t.Fatalf("Put: %v", err)
			}
			entry, ok, err := store.Get(ctx, tc.name)
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if got := entry.ExpiresAt.Sub(entry.CreatedAt); got != tc.want {
				t.Fatalf("ttl = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	if err := store.Put(ctx, "", nil, cache.StatusPending, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty fingerprint, got %v", err)
	}
	if err := store.Put(ctx, "fp", nil, cache.Status("bogus"), 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestExpiryHonorsDelivery(t *testing.T) {
	clock := newFakeClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg, cache.WithClock(clock.Now))
	ctx := context.Background()

	if err := store.Put(ctx, "pending", nil, cache.StatusDownloaded, time.Hour); err != nil {
		t.Fatalf("Put pending: %v", err)
	}
	if err := store.Put(ctx, "sent", nil, cache.StatusDownloaded, time.Hour); err != nil {
		t.Fatalf("Put sent: %v", err)
	}
	if err := store.MarkDelivered(ctx, "sent"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	clock.Advance(2 * time.Hour)

	if _, ok, err := store.Get(ctx, "pending"); err != nil || ok {
		t.Fatalf("expected expired undelivered entry absent, ok=%v err=%v", ok, err)
	}
	entry, ok, err := store.Get(ctx, "sent")
	if err != nil || !ok {
		t.Fatalf("expected delivered entry present after ttl, ok=%v err=%v", ok, err)
	}
	if entry.Status != cache.StatusDelivered {
		t.Fatalf("expected delivered status, got %s", entry.Status)
	}
}

func TestMarkDeliveredIsIdempotentAndSurvivesClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	_ = store.Put(ctx, "fp", nil, cache.StatusDownloaded, 0)
	for range 2 {
		if err := store.MarkDelivered(ctx, "fp"); err != nil {
			t.Fatalf("MarkDelivered: %v", err)
		}
	}
	_ = store.Put(ctx, "other", nil, cache.StatusPending, 0)

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}

	delivered, err := store.Delivered(ctx, "fp")
	if err != nil || !delivered {
		t.Fatalf("expected delivery fact to survive Clear, delivered=%v err=%v", delivered, err)
	}
	entry, ok, err := store.Get(ctx, "fp")
	if err != nil || !ok || entry.Status != cache.StatusDelivered {
		t.Fatalf("expected delivered entry from delivery fact, entry=%+v ok=%v err=%v", entry, ok, err)
	}
	if _, ok, _ := store.Get(ctx, "other"); ok {
		t.Fatal("expected cleared entry to be absent")
	}

	if _, err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if delivered, _ := store.Delivered(ctx, "fp"); delivered {
		t.Fatal("expected ClearAll to remove delivery facts")
	}
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg, cache.WithClock(clock.Now))
	ctx := context.Background()

	_ = store.Put(ctx, "short", nil, cache.StatusPending, time.Hour)
	_ = store.Put(ctx, "long", nil, cache.StatusPending, 72*time.Hour)
	_ = store.Put(ctx, "sent", nil, cache.StatusDownloaded, time.Hour)
	_ = store.MarkDelivered(ctx, "sent")

	clock.Advance(3 * time.Hour)
	removed, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 row swept, got %d", removed)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats after sweep: %+v", stats)
	}
}

func TestSignatures(t *testing.T) {
	clock := newFakeClock()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg, cache.WithClock(clock.Now))
	ctx := context.Background()

	if _, ok, err := store.GetSignature(ctx, "wishlist_user_agent"); err != nil || ok {
		t.Fatalf("expected no signature, ok=%v err=%v", ok, err)
	}
	if err := store.PutSignature(ctx, "wishlist_user_agent", "Mozilla/5.0 test", 2*time.Hour); err != nil {
		t.Fatalf("PutSignature: %v", err)
	}
	value, ok, err := store.GetSignature(ctx, "wishlist_user_agent")
	if err != nil || !ok || value != "Mozilla/5.0 test" {
		t.Fatalf("GetSignature = %q ok=%v err=%v", value, ok, err)
	}
	// Signatures live in their own namespace.
	if _, ok, _ := store.Get(ctx, "wishlist_user_agent"); ok {
		t.Fatal("expected signature to be invisible to Get")
	}

	clock.Advance(3 * time.Hour)
	if _, ok, _ := store.GetSignature(ctx, "wishlist_user_agent"); ok {
		t.Fatal("expected expired signature to be absent")
	}
	listed, err := store.Signatures(ctx)
	if err != nil {
		t.Fatalf("Signatures: %v", err)
	}
	if len(listed) != 1 || listed[0].Value != "Mozilla/5.0 test" {
		t.Fatalf("expected the expired signature to stay listed, got %+v", listed)
	}
	if listed[0].Fresh(store.Now()) {
		t.Fatal("expected listed signature to be stale")
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCache(t, cfg)
	ctx := context.Background()

	_ = store.Put(ctx, "a", nil, cache.StatusPending, 0)
	_ = store.Put(ctx, "b", nil, cache.StatusResolved, 0)
	_ = store.Put(ctx, "c", nil, cache.StatusResolved, 0)
	_ = store.PutSignature(ctx, "ua", "agent", 0)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.Entries[cache.StatusResolved] != 2 || stats.Signatures != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Path != cfg.CacheDBPath() {
		t.Fatalf("expected stats path %q, got %q", cfg.CacheDBPath(), stats.Path)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store, err := cache.Open(cfg.CacheDBPath())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.MarkDelivered(ctx, "fp"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenCache(t, cfg)
	if reopened.Recovered() != nil {
		t.Fatalf("unexpected recovery: %v", reopened.Recovered())
	}
	delivered, err := reopened.Delivered(ctx, "fp")
	if err != nil || !delivered {
		t.Fatalf("expected delivery to persist, delivered=%v err=%v", delivered, err)
	}
}

func TestOpenRecoversFromGarbageFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := cfg.CacheDBPath()
	if err := os.WriteFile(path, []byte(strings.Repeat("not a sqlite database ", 200)), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	store := testsupport.MustOpenCache(t, cfg)
	if !errors.Is(store.Recovered(), cache.ErrCorruptOnLoad) {
		t.Fatalf("expected ErrCorruptOnLoad, got %v", store.Recovered())
	}
	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v (err=%v)", matches, err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "fp", nil, cache.StatusPending, 0); err != nil {
		t.Fatalf("fresh store unusable: %v", err)
	}
}

func TestOpenRecoversFromSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := cfg.CacheDBPath()

	store, err := cache.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	reopened := testsupport.MustOpenCache(t, cfg)
	if !errors.Is(reopened.Recovered(), cache.ErrCorruptOnLoad) {
		t.Fatalf("expected recovery after schema mismatch, got %v", reopened.Recovered())
	}
	if !strings.Contains(reopened.Recovered().Error(), "schema version mismatch") {
		t.Fatalf("expected mismatch detail, got %v", reopened.Recovered())
	}
}

func TestOpenLeavesLockedDatabaseInPlace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := cfg.CacheDBPath()
	ctx := context.Background()

	store, err := cache.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.MarkDelivered(ctx, "fp1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	_ = store.Close()

	holder, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	conn, err := holder.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	for _, stmt := range []string{
		"PRAGMA locking_mode=EXCLUSIVE",
		"BEGIN EXCLUSIVE",
		"UPDATE entries SET status = status",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	_, err = cache.Open(path, cache.WithBusyTimeout(100*time.Millisecond))
	if err == nil {
		t.Fatal("expected Open to fail while another connection holds the lock")
	}
	if errors.Is(err, cache.ErrCorruptOnLoad) {
		t.Fatalf("locked database treated as corrupt: %v", err)
	}
	if matches, _ := filepath.Glob(path + ".corrupt-*"); len(matches) != 0 {
		t.Fatalf("locked database was quarantined: %v", matches)
	}

	_, _ = conn.ExecContext(ctx, "ROLLBACK")
	_ = conn.Close()
	_ = holder.Close()

	reopened := testsupport.MustOpenCache(t, cfg)
	if reopened.Recovered() != nil {
		t.Fatalf("unexpected recovery: %v", reopened.Recovered())
	}
	delivered, err := reopened.Delivered(ctx, "fp1")
	if err != nil || !delivered {
		t.Fatalf("expected delivery fact to survive the lock, delivered=%v err=%v", delivered, err)
	}
}
