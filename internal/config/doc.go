// Package config loads, normalizes, and validates bookdrop configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BOOKDROP_SMTP_PASSWORD. The Config type centralizes every knob the batch
// pipeline and CLI need, so the wishlist source, catalog endpoints, delivery
// credentials, and cache TTL are discovered in one pass.
//
// Settings are read once per run; edits take effect on the next run. Always
// obtain settings through this package so downstream code receives sanitized
// paths, canonical format lists, and clear validation errors.
package config
