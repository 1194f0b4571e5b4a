// Package stage runs a single pipeline step for one wishlist item.
//
// Run attaches the stage name to the context, bounds the step with a
// deadline, and converts panics and deadline expiry into classified errors so
// the orchestrator can record them as item failures and move on.
package stage
