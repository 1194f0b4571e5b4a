package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// transformString strips combining marks. Chained transformers carry state,
// so a fresh chain is built per call.
func transformString(s string) (string, int, error) {
	stripper := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	return transform.String(stripper, s)
}

// Fold lowercases text and strips diacritics ("Émile" becomes "emile").
func Fold(s string) string {
	if s == "" {
		return ""
	}
	out, _, err := transformString(s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Normalize folds text and collapses punctuation and whitespace runs into
// single spaces. The result contains only lowercase letters, digits and spaces.
func Normalize(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// CompactKey returns Normalize(s) with all spaces removed. Two strings that
// differ only in case, accents, punctuation or spacing share a key.
func CompactKey(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}
