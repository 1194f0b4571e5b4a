package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
}

// Wishlist contains configuration for the public list crawler.
type Wishlist struct {
	URL               string `toml:"url"`
	MaxPages          int    `toml:"max_pages"`
	RequestIntervalMS int    `toml:"request_interval_ms"`
	RequestTimeout    int    `toml:"request_timeout"`
	// UserAgent seeds the cached client signature when none has been observed yet.
	UserAgent string `toml:"user_agent"`
}

// Catalog contains configuration for the third-party document catalog.
type Catalog struct {
	BaseURL           string   `toml:"base_url"`
	PreferredFormats  []string `toml:"preferred_formats"`
	MinSimilarity     float64  `toml:"min_similarity"`
	RequestTimeout    int      `toml:"request_timeout"`
	RequestIntervalMS int      `toml:"request_interval_ms"`
	MaxRetries        int      `toml:"max_retries"`
}

// Cache contains configuration for the content cache.
type Cache struct {
	TTLHours int `toml:"ttl_hours"`
}

// Delivery contains configuration for emailing documents to the reading device.
type Delivery struct {
	Destination     string `toml:"destination"`
	FromAddress     string `toml:"from_address"`
	SMTPHost        string `toml:"smtp_host"`
	SMTPPort        int    `toml:"smtp_port"`
	SMTPUsername    string `toml:"smtp_username"`
	SMTPPassword    string `toml:"smtp_password"`
	UseStartTLS     bool   `toml:"use_starttls"`
	MaxAttachmentMB int    `toml:"max_attachment_mb"`
	SendTimeout     int    `toml:"send_timeout"`
	// Convert asks the device service to convert the attachment (subject "convert").
	Convert bool `toml:"convert"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	FailureThreshold int    `toml:"failure_threshold"`
	RunSummary       bool   `toml:"run_summary"`
}

// Workflow contains per-stage timing limits for the batch pipeline.
type Workflow struct {
	StageTimeout  int `toml:"stage_timeout"`
	FetchTimeout  int `toml:"fetch_timeout"`
	MaxDownloadMB int `toml:"max_download_mb"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string `toml:"format"`
	Level          string `toml:"level"`
	StreamCapacity int    `toml:"stream_capacity"`
}

// Config encapsulates all configuration values for bookdrop.
//
// Configuration sections by subsystem:
//   - Paths: state (cache database, lock, audit log), downloads, and logs
//   - Wishlist: list URL, pagination ceiling, request pacing
//   - Catalog: search endpoint, format preference, match threshold
//   - Cache: metadata TTL
//   - Delivery: destination inbox and SMTP credentials
//   - Notifications: ntfy push settings and failure threshold
//   - Workflow: per-stage timeouts
//   - Logging: log format, level, and in-memory stream size
type Config struct {
	Paths         Paths         `toml:"paths"`
	Wishlist      Wishlist      `toml:"wishlist"`
	Catalog       Catalog       `toml:"catalog"`
	Cache         Cache         `toml:"cache"`
	Delivery      Delivery      `toml:"delivery"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bookdrop.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, download, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.DownloadDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CacheDBPath returns the location of the content cache database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.StateDir, "cache.db")
}

// RunLockPath returns the lock file guarding against concurrent runs.
func (c *Config) RunLockPath() string {
	return filepath.Join(c.Paths.StateDir, "run.lock")
}

// AuditLogPath returns the append-only delivery audit log location.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.Paths.StateDir, "deliveries.jsonl")
}

// CacheTTL returns the configured metadata TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// MaxAttachmentBytes returns the attachment size ceiling in bytes.
func (c *Config) MaxAttachmentBytes() int64 {
	return int64(c.Delivery.MaxAttachmentMB) << 20
}

// MaxDownloadBytes returns the download size ceiling in bytes.
func (c *Config) MaxDownloadBytes() int64 {
	return int64(c.Workflow.MaxDownloadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
