// Package services defines shared utilities consumed by the pipeline stages
// and their upstream integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, item fingerprints, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so the batch orchestrator
//     can classify failures (transient, unauthorized, incomplete) without
//     knowing each stage's concrete error types.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
