package wishlist

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"bookdrop/internal/textutil"
)

// Item is one wishlist entry.
type Item struct {
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// Fingerprint returns a stable content key. Case, accents, punctuation, and
// spacing in title and author do not change it; a different SourceID does.
func (i Item) Fingerprint() string {
	key := strings.Join([]string{
		textutil.CompactKey(i.Title),
		textutil.CompactKey(i.Author),
		strings.TrimSpace(i.SourceID),
	}, "\x1f")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// Row is a single extracted wishlist row: either ParsedItem or ParseFailure.
type Row interface {
	isRow()
}

// ParsedItem is a row that yielded a usable Item.
type ParsedItem struct {
	Item Item
}

// ParseFailure is a row that could not be turned into an Item.
type ParseFailure struct {
	Index  int
	Reason string
}

func (ParsedItem) isRow()   {}
func (ParseFailure) isRow() {}

// Page is one fetched wishlist page.
type Page struct {
	Number int
	URL    string
	Rows   []Row
	Next   string
	// Degraded is set when the request used the built-in user agent because
	// no cached signature was available.
	Degraded bool
}

// Result aggregates a full crawl.
type Result struct {
	Items    []Item
	Skipped  int
	Pages    int
	Degraded bool
}
