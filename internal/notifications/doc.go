// Package notifications pushes short run alerts to an ntfy topic.
//
// The ntfy implementation is used when config.toml names a topic URL;
// otherwise NewService returns a no-op so the workflow can call the Service
// unconditionally. Alerts are auxiliary: a failed push is logged by the caller
// and never changes a run's outcome.
package notifications
