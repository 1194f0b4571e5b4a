package testsupport

import (
	"path/filepath"
	"testing"

	"bookdrop/internal/config"
)

// NewConfig produces a config seeded with unique temp directories per test.
// Delivery and wishlist fields are filled so ValidateForRun passes; callers
// point the URLs at httptest servers as needed.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Wishlist.URL = "https://wishlist.invalid/hz/wishlist/ls/TEST"
	cfg.Wishlist.RequestIntervalMS = 0
	cfg.Catalog.RequestIntervalMS = 0
	cfg.Delivery.Destination = "reader@kindle.invalid"
	cfg.Delivery.FromAddress = "sender@example.invalid"
	cfg.Delivery.SMTPHost = "smtp.example.invalid"

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}
