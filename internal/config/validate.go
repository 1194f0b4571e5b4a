package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
)

var knownFormats = map[string]struct{}{
	"epub": {},
	"pdf":  {},
	"mobi": {},
	"azw3": {},
	"txt":  {},
	"djvu": {},
}

// Validate ensures the configuration is usable. Settings that only the run
// command needs (wishlist URL, delivery credentials) are checked by
// ValidateForRun so administrative commands work on a partial config.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateForRun checks the settings a pipeline run cannot start without.
func (c *Config) ValidateForRun() error {
	if err := c.ValidateWishlist(); err != nil {
		return err
	}
	return c.ValidateForDelivery()
}

// ValidateWishlist checks that a crawlable wishlist URL is configured.
func (c *Config) ValidateWishlist() error {
	if c.Wishlist.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("wishlist.url is required. Set BOOKDROP_WISHLIST_URL or edit %s (create with 'bookdrop config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Wishlist.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("wishlist.url %q is not an absolute URL", c.Wishlist.URL)
	}
	return nil
}

// ValidateForDelivery checks the settings needed to mail a book, which a
// manual search needs even without a wishlist.
func (c *Config) ValidateForDelivery() error {
	if c.Delivery.Destination == "" {
		return errors.New("delivery.destination is required")
	}
	if c.Delivery.SMTPHost == "" {
		return errors.New("delivery.smtp_host is required")
	}
	if c.Delivery.FromAddress == "" {
		return errors.New("delivery.from_address (or delivery.smtp_username) is required")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTLHours < minCacheTTLHours || c.Cache.TTLHours > maxCacheTTLHours {
		return fmt.Errorf("cache.ttl_hours must be between %d and %d", minCacheTTLHours, maxCacheTTLHours)
	}
	return nil
}

func (c *Config) validateCatalog() error {
	parsed, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("catalog.base_url %q is not an absolute URL", c.Catalog.BaseURL)
	}
	for _, format := range c.Catalog.PreferredFormats {
		if _, ok := knownFormats[format]; !ok {
			return fmt.Errorf("catalog.preferred_formats: unsupported format %q", format)
		}
	}
	if c.Catalog.MinSimilarity < 0 || c.Catalog.MinSimilarity > 1 {
		return errors.New("catalog.min_similarity must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	if c.Delivery.Destination != "" {
		if _, err := mail.ParseAddress(c.Delivery.Destination); err != nil {
			return fmt.Errorf("delivery.destination %q: %w", c.Delivery.Destination, err)
		}
	}
	if c.Delivery.FromAddress != "" {
		if _, err := mail.ParseAddress(c.Delivery.FromAddress); err != nil {
			return fmt.Errorf("delivery.from_address %q: %w", c.Delivery.FromAddress, err)
		}
	}
	if c.Delivery.SMTPPort < 1 || c.Delivery.SMTPPort > 65535 {
		return errors.New("delivery.smtp_port must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.FailureThreshold < 0 {
		return errors.New("notifications.failure_threshold must be zero or positive")
	}
	if c.Notifications.NtfyTopic != "" {
		parsed, err := url.Parse(c.Notifications.NtfyTopic)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("notifications.ntfy_topic %q must be a full topic URL", c.Notifications.NtfyTopic)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
