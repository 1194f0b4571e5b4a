package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWishlist()
	c.normalizeCatalog()
	c.normalizeDelivery()
	c.normalizeNotifications()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWishlist() {
	c.Wishlist.URL = strings.TrimSpace(c.Wishlist.URL)
	if value := envOverride("BOOKDROP_WISHLIST_URL"); value != "" {
		c.Wishlist.URL = value
	}
	c.Wishlist.UserAgent = strings.TrimSpace(c.Wishlist.UserAgent)
	if c.Wishlist.MaxPages <= 0 {
		c.Wishlist.MaxPages = defaultWishlistMaxPages
	}
	if c.Wishlist.RequestIntervalMS < 0 {
		c.Wishlist.RequestIntervalMS = 0
	}
	if c.Wishlist.RequestTimeout <= 0 {
		c.Wishlist.RequestTimeout = defaultWishlistRequestTimeout
	}
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultCatalogBaseURL
	}
	c.Catalog.PreferredFormats = normalizeFormatList(c.Catalog.PreferredFormats)
	if len(c.Catalog.PreferredFormats) == 0 {
		c.Catalog.PreferredFormats = append([]string(nil), defaultPreferredFormats...)
	}
	if c.Catalog.MinSimilarity == 0 {
		c.Catalog.MinSimilarity = defaultCatalogMinSimilarity
	}
	if c.Catalog.RequestTimeout <= 0 {
		c.Catalog.RequestTimeout = defaultCatalogRequestTimeout
	}
	if c.Catalog.RequestIntervalMS < 0 {
		c.Catalog.RequestIntervalMS = 0
	}
	if c.Catalog.MaxRetries < 0 {
		c.Catalog.MaxRetries = 0
	}
}

func (c *Config) normalizeDelivery() {
	c.Delivery.Destination = strings.TrimSpace(c.Delivery.Destination)
	c.Delivery.FromAddress = strings.TrimSpace(c.Delivery.FromAddress)
	c.Delivery.SMTPHost = strings.TrimSpace(c.Delivery.SMTPHost)
	c.Delivery.SMTPUsername = strings.TrimSpace(c.Delivery.SMTPUsername)
	if value := envOverride("BOOKDROP_SMTP_PASSWORD"); value != "" {
		c.Delivery.SMTPPassword = value
	}
	if c.Delivery.FromAddress == "" {
		c.Delivery.FromAddress = c.Delivery.SMTPUsername
	}
	if c.Delivery.SMTPPort == 0 {
		c.Delivery.SMTPPort = defaultSMTPPort
	}
	if c.Delivery.MaxAttachmentMB <= 0 {
		c.Delivery.MaxAttachmentMB = defaultMaxAttachmentMB
	}
	if c.Delivery.SendTimeout <= 0 {
		c.Delivery.SendTimeout = defaultSendTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.StageTimeout <= 0 {
		c.Workflow.StageTimeout = defaultWorkflowStageTimeout
	}
	if c.Workflow.FetchTimeout <= 0 {
		c.Workflow.FetchTimeout = defaultWorkflowFetchTimeout
	}
	if c.Workflow.MaxDownloadMB <= 0 {
		c.Workflow.MaxDownloadMB = defaultWorkflowMaxDownloadMB
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.StreamCapacity <= 0 {
		c.Logging.StreamCapacity = defaultLogStreamCapacity
	}
}

// envOverride returns the trimmed environment value for key. Environment
// values take precedence over the config file.
func envOverride(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func normalizeFormatList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "."))
		if format == "" {
			continue
		}
		if _, ok := seen[format]; ok {
			continue
		}
		seen[format] = struct{}{}
		out = append(out, format)
	}
	return out
}
