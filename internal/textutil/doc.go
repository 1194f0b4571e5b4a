// Package textutil provides text processing utilities for title matching,
// item keys, and filename sanitization.
//
// The primary use cases are:
//   - Folding titles and author names to a canonical lowercase ASCII form so
//     near-duplicate wishlist entries collapse to one key
//   - Scoring how closely a catalog listing matches a query
//   - Sanitizing upstream-supplied names for safe filesystem use
//
// Folding decomposes text (NFKD), drops combining marks, lowercases, and
// replaces every run of non-alphanumeric characters with a single space.
package textutil
