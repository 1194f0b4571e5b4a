// Package catalog searches the book catalog, ranks candidate files, and
// resolves a candidate's mirror page into a direct download link.
//
// Resolver.Resolve walks a fixed chain of search queries for a wishlist item
// and stops at the first query that yields a candidate above the similarity
// threshold. Finding nothing is a value (Resolution.Found == false), not an
// error; only transport and parse failures produce a ResolveError. Requests
// are paced, retried with backoff when retriable, and guarded by a circuit
// breaker so an unreachable catalog fails fast for the rest of a run.
package catalog
