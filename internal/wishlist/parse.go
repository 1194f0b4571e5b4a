package wishlist

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	sourceIDExpr = regexp.MustCompile(`/dp/([A-Za-z0-9]+)`)
	bylineExpr   = regexp.MustCompile(`(?i)\bby\s+([^(]+)`)
	spaceExpr    = regexp.MustCompile(`\s+`)
)

const (
	itemLinkSelector = `a[href*="/dp/"]`
	titleSelector    = `h3[class*="item-title"], h2[class*="item-title"]`
	itemNameSelector = `[id*="itemName"]`
	bylineSelector   = `span[id*="item-byline"]`
)

// privateMarkers appear on lists the owner has not published.
var privateMarkers = []string{
	"This list is private",
	"This list is not public",
}

// IsPrivate reports whether doc is a private or unpublished list page.
func IsPrivate(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	text := doc.Text()
	for _, marker := range privateMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ParsePage extracts one row per distinct item link and the absolute URL of
// the next page, if any. Relative links resolve against base.
func ParsePage(doc *goquery.Document, base *url.URL) ([]Row, string) {
	if doc == nil {
		return nil, ""
	}
	var (
		rows []Row
		seen = map[string]struct{}{}
	)
	doc.Find(itemLinkSelector).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		id := sourceID(href)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		index := len(rows)

		container := itemContainer(link, id)
		if container == nil {
			rows = append(rows, ParseFailure{Index: index, Reason: "no item container for " + id})
			return
		}
		title := extractTitle(container, id)
		if title == "" {
			rows = append(rows, ParseFailure{Index: index, Reason: "missing title for " + id})
			return
		}
		rows = append(rows, ParsedItem{Item: Item{
			Title:    title,
			Author:   extractAuthor(container),
			SourceID: id,
		}})
	})
	return rows, nextPage(doc, base)
}

func sourceID(href string) string {
	match := sourceIDExpr.FindStringSubmatch(href)
	if len(match) < 2 {
		return ""
	}
	return strings.ToUpper(match[1])
}

// itemContainer walks up from link to the nearest li/div that carries title
// or byline markup and links to no other item.
func itemContainer(link *goquery.Selection, id string) *goquery.Selection {
	var found *goquery.Selection
	link.ParentsFiltered("li, div").EachWithBreak(func(_ int, candidate *goquery.Selection) bool {
		if !onlyLinksTo(candidate, id) {
			return false
		}
		hasTitle := candidate.Find(titleSelector+", "+itemNameSelector).Length() > 0
		hasByline := candidate.Find(bylineSelector).Length() > 0
		if hasTitle || hasByline {
			found = candidate
			return false
		}
		return true
	})
	return found
}

func onlyLinksTo(sel *goquery.Selection, id string) bool {
	ok := true
	sel.Find(itemLinkSelector).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if other := sourceID(href); other != "" && other != id {
			ok = false
		}
		return ok
	})
	return ok
}

func extractTitle(container *goquery.Selection, id string) string {
	if title := cleanText(container.Find(titleSelector).First().Text()); title != "" {
		return title
	}
	if title := cleanText(container.Find(itemNameSelector).First().Text()); title != "" {
		return title
	}
	var title string
	container.Find(itemLinkSelector + "[title]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if sourceID(href) != id {
			return true
		}
		value, _ := link.Attr("title")
		title = cleanText(value)
		return title == ""
	})
	return title
}

func extractAuthor(container *goquery.Selection) string {
	byline := cleanText(container.Find(bylineSelector).First().Text())
	if byline == "" {
		return ""
	}
	match := bylineExpr.FindStringSubmatch(byline)
	if len(match) < 2 {
		return ""
	}
	return strings.TrimRight(cleanText(match[1]), " ,")
}

func nextPage(doc *goquery.Document, base *url.URL) string {
	candidates := []struct {
		selector string
		attr     string
	}{
		{"a.wl-see-more", "href"},
		{`a[rel="next"]`, "href"},
		{`input[name="showMoreUrl"]`, "value"},
	}
	for _, c := range candidates {
		value, ok := doc.Find(c.selector).First().Attr(c.attr)
		if !ok {
			continue
		}
		if resolved := resolveURL(base, value); resolved != "" {
			return resolved
		}
	}
	return ""
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if !parsed.IsAbs() {
		return ""
	}
	return parsed.String()
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}
