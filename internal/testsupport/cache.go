package testsupport

import (
	"testing"

	"bookdrop/internal/cache"
	"bookdrop/internal/config"
)

// MustOpenCache opens the cache configured by cfg and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config, opts ...cache.Option) *cache.Store {
	t.Helper()

	store, err := cache.Open(cfg.CacheDBPath(), opts...)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
