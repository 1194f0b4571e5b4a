// Package main hosts the bookdrop CLI entrypoint and command graph.
//
// The Cobra command tree runs a single batch over the wishlist or one manual
// search, previews a wishlist crawl, inspects and clears the content cache,
// manages the stored client signature, scaffolds and validates configuration,
// runs preflight checks, and shows the delivery history. Configuration is resolved
// once per invocation; commands that only scaffold files skip loading it.
//
// Keep this package thin: behavior lives in internal packages and is only
// surfaced here as commands and flags.
package main
