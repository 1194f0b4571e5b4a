// Package cache persists per-book pipeline progress, delivery facts, and
// client signatures in a SQLite database.
//
// Three namespaces share one file: entries hold the metadata for the most
// recent stage a fingerprint reached and expire after a TTL; deliveries hold
// the non-expiring "this book was sent" fact used for deduplication; signatures
// hold small named values such as the wishlist client user agent. The store is
// the only shared mutable state in a run and every write touches exactly the
// rows it names in a single statement or transaction.
//
// A database that cannot be opened, fails its integrity check, or carries an
// unexpected schema version is quarantined next to the original path and
// replaced with an empty store. Callers learn about the reset through
// Store.Recovered. When the schema changes, update schema.sql and bump
// schemaVersion.
package cache
