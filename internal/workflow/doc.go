// Package workflow drives one batch run over the wishlist.
//
// The Manager takes the run lock, crawls the list, and advances each item
// through resolve, fetch, and deliver in sequence. Progress is written to the
// cache after every stage so an interrupted run resumes where it stopped, and
// a fingerprint with a recorded delivery is never sent again.
//
// Stage failures are isolated per item and collected into a RunSummary; only
// the run lock and the crawl can fail a run as a whole. Cancellation is
// honoured between items.
package workflow
