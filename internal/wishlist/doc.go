// Package wishlist crawls a public wishlist and turns its pages into Items.
//
// Pages are fetched lazily through Crawler.Pages, which stops when a page has
// no next-page affordance, when the page ceiling is reached, or when a next URL
// repeats. Each extracted row is either a ParsedItem or a ParseFailure, so a
// malformed entry never aborts the crawl. Private lists and HTTP 401/403
// surface as an unauthorized CrawlError rather than an empty result.
package wishlist
