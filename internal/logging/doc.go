// Package logging assembles structured slog loggers and formatting helpers used
// across the bookdrop pipeline.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code automatically tags
// log lines with the run ID, stage, and item fingerprint. A bounded StreamHub
// keeps the most recent events in memory for any presentation layer that
// wants to show a running log. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing guarantees as the rest of the system.
package logging
