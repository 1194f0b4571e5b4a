package catalog

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const minResultCells = 9

var spaceExpr = regexp.MustCompile(`\s+`)

// ParseSearchResults extracts candidates from a search results page. Rows
// need the full cell layout (title, author, publisher, year, language, pages,
// size, extension, mirrors); anything shorter is ignored. Mirror links resolve
// against base.
func ParseSearchResults(doc *goquery.Document, base *url.URL) []Candidate {
	if doc == nil {
		return nil
	}
	var out []Candidate
	doc.Find("#tablelibgen tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < minResultCells {
			return
		}
		title := cleanText(cells.Eq(0).Find("b").First().Text())
		if title == "" {
			title = cleanText(cells.Eq(0).Find("a").First().Text())
		}
		if title == "" {
			return
		}
		mirrors := mirrorLinks(cells.Eq(8), base)
		if len(mirrors) == 0 {
			return
		}
		ext := strings.ToLower(cleanText(cells.Eq(7).Text()))
		out = append(out, Candidate{
			DisplayName: title,
			Author:      cleanText(cells.Eq(1).Text()),
			Publisher:   cleanText(cells.Eq(2).Text()),
			Year:        cleanText(cells.Eq(3).Text()),
			Language:    cleanText(cells.Eq(4).Text()),
			SizeBytes:   ParseSize(cleanText(cells.Eq(6).Text())),
			Format:      ParseFormat(ext),
			Extension:   ext,
			Locator:     mirrors[0],
			Mirrors:     mirrors,
			Position:    len(out),
		})
	})
	return out
}

func mirrorLinks(cell *goquery.Selection, base *url.URL) []string {
	var links []string
	seen := map[string]struct{}{}
	cell.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		resolved := resolveURL(base, href)
		if resolved == "" {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}

// ParseDownloadLink finds the GET anchor on a mirror page.
func ParseDownloadLink(doc *goquery.Document, base *url.URL) string {
	if doc == nil {
		return ""
	}
	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !strings.EqualFold(cleanText(a.Text()), "GET") {
			return true
		}
		href, _ := a.Attr("href")
		link = resolveURL(base, href)
		return link == ""
	})
	return link
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
