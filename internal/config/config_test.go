package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"bookdrop/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("BOOKDROP_WISHLIST_URL", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "bookdrop")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.CacheDBPath() != filepath.Join(wantState, "cache.db") {
		t.Fatalf("unexpected cache db path: %q", cfg.CacheDBPath())
	}
	if cfg.Cache.TTLHours != 24 {
		t.Fatalf("expected 24h default ttl, got %d", cfg.Cache.TTLHours)
	}
	if got := strings.Join(cfg.Catalog.PreferredFormats, ","); got != "epub,pdf,mobi" {
		t.Fatalf("unexpected preferred formats: %s", got)
	}
	if cfg.Logging.StreamCapacity != 100 {
		t.Fatalf("unexpected stream capacity: %d", cfg.Logging.StreamCapacity)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.DownloadDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if err := cfg.ValidateForRun(); err == nil {
		t.Fatal("expected run validation to fail without a wishlist url")
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bookdrop.toml")
	t.Setenv("BOOKDROP_WISHLIST_URL", "")
	t.Setenv("BOOKDROP_SMTP_PASSWORD", "")

	type payload struct {
		Wishlist struct {
			URL string `toml:"url"`
		} `toml:"wishlist"`
		Catalog struct {
			PreferredFormats []string `toml:"preferred_formats"`
		} `toml:"catalog"`
		Cache struct {
			TTLHours int `toml:"ttl_hours"`
		} `toml:"cache"`
		Delivery struct {
			Destination  string `toml:"destination"`
			SMTPHost     string `toml:"smtp_host"`
			SMTPUsername string `toml:"smtp_username"`
		} `toml:"delivery"`
	}
	custom := payload{}
	custom.Wishlist.URL = "https://www.example.com/hz/wishlist/ls/ABC"
	custom.Catalog.PreferredFormats = []string{" EPUB", ".mobi", "epub"}
	custom.Cache.TTLHours = 48
	custom.Delivery.Destination = "reader@kindle.example"
	custom.Delivery.SMTPHost = "smtp.example.com"
	custom.Delivery.SMTPUsername = "sender@example.com"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if got := strings.Join(cfg.Catalog.PreferredFormats, ","); got != "epub,mobi" {
		t.Fatalf("expected normalized formats, got %s", got)
	}
	if cfg.Cache.TTLHours != 48 {
		t.Fatalf("expected ttl 48, got %d", cfg.Cache.TTLHours)
	}
	if cfg.Delivery.FromAddress != "sender@example.com" {
		t.Fatalf("expected from address to default to username, got %q", cfg.Delivery.FromAddress)
	}
	if err := cfg.ValidateForRun(); err != nil {
		t.Fatalf("ValidateForRun returned error: %v", err)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "bookdrop.toml")
	content := "[wishlist]\nurl = \"https://file.example/list\"\n\n[delivery]\nsmtp_password = \"file-secret\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BOOKDROP_WISHLIST_URL", "https://env.example/list")
	t.Setenv("BOOKDROP_SMTP_PASSWORD", "env-secret")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Wishlist.URL != "https://env.example/list" {
		t.Errorf("expected wishlist url from env, got %q", cfg.Wishlist.URL)
	}
	if cfg.Delivery.SMTPPassword != "env-secret" {
		t.Errorf("expected smtp password from env, got %q", cfg.Delivery.SMTPPassword)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"ttl too low", func(c *config.Config) { c.Cache.TTLHours = 0 }, "cache.ttl_hours"},
		{"ttl too high", func(c *config.Config) { c.Cache.TTLHours = 169 }, "cache.ttl_hours"},
		{"unknown format", func(c *config.Config) { c.Catalog.PreferredFormats = []string{"cbz"} }, "preferred_formats"},
		{"bad destination", func(c *config.Config) { c.Delivery.Destination = "not an address" }, "delivery.destination"},
		{"bad port", func(c *config.Config) { c.Delivery.SMTPPort = 70000 }, "smtp_port"},
		{"negative threshold", func(c *config.Config) { c.Notifications.FailureThreshold = -1 }, "failure_threshold"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("BOOKDROP_WISHLIST_URL", "")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Cache.TTLHours != 24 {
		t.Fatalf("unexpected sample ttl: %d", cfg.Cache.TTLHours)
	}
}

func TestDeliveryValidationIgnoresWishlist(t *testing.T) {
	cfg := config.Default()
	cfg.Delivery.Destination = "reader@kindle.example"
	cfg.Delivery.FromAddress = "sender@example.com"
	cfg.Delivery.SMTPHost = "smtp.example.com"

	if err := cfg.ValidateForDelivery(); err != nil {
		t.Fatalf("ValidateForDelivery returned error: %v", err)
	}
	if err := cfg.ValidateWishlist(); err == nil {
		t.Fatal("expected wishlist validation to fail without a url")
	}
	if err := cfg.ValidateForRun(); err == nil || !strings.Contains(err.Error(), "wishlist.url") {
		t.Fatalf("expected run validation to name wishlist.url, got %v", err)
	}

	cfg.Delivery.SMTPHost = ""
	if err := cfg.ValidateForDelivery(); err == nil {
		t.Fatal("expected delivery validation to require smtp_host")
	}
}
