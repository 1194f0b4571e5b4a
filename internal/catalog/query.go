package catalog

import (
	"regexp"
	"strings"
)

var (
	editionPattern   = regexp.MustCompile(`(?i)\b\d+(st|nd|rd|th)\s+edition\b`)
	bracketedPattern = regexp.MustCompile(`\s*[\(\[].*?[\)\]]`)
)

// CleanTitle drops the subtitle after ':', ordinal edition markers, and
// bracketed text from title.
func CleanTitle(title string) string {
	cleaned, _, _ := strings.Cut(title, ":")
	cleaned = editionPattern.ReplaceAllString(cleaned, "")
	cleaned = bracketedPattern.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Queries returns the search fallback chain for a title and author, most
// specific first. Empty and repeated queries are omitted.
func Queries(title, author string) []string {
	title = strings.Join(strings.Fields(title), " ")
	author = strings.Join(strings.Fields(author), " ")
	cleaned := CleanTitle(title)

	candidates := []string{
		join(title, author),
		title,
		join(cleaned, author),
		cleaned,
	}
	seen := make(map[string]struct{}, len(candidates))
	queries := make([]string, 0, len(candidates))
	for _, q := range candidates {
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, q)
	}
	return queries
}

func join(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
