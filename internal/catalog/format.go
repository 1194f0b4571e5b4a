package catalog

import "strings"

// Format is a catalog file format.
type Format string

const (
	FormatEPUB  Format = "epub"
	FormatPDF   Format = "pdf"
	FormatMOBI  Format = "mobi"
	FormatAZW3  Format = "azw3"
	FormatOther Format = "other"
)

// ParseFormat maps a file extension ("EPUB", ".pdf") to a Format. Unknown
// extensions map to FormatOther.
func ParseFormat(ext string) Format {
	switch Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))) {
	case FormatEPUB:
		return FormatEPUB
	case FormatPDF:
		return FormatPDF
	case FormatMOBI:
		return FormatMOBI
	case FormatAZW3:
		return FormatAZW3
	default:
		return FormatOther
	}
}

// ParseFormats converts configured extension names in order, dropping
// duplicates.
func ParseFormats(values []string) []Format {
	out := make([]Format, 0, len(values))
	seen := map[Format]struct{}{}
	for _, value := range values {
		f := ParseFormat(value)
		if f == FormatOther {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Candidate is one downloadable file listed by the catalog.
type Candidate struct {
	DisplayName string   `json:"display_name"`
	Author      string   `json:"author,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Year        string   `json:"year,omitempty"`
	Language    string   `json:"language,omitempty"`
	Format      Format   `json:"format"`
	Extension   string   `json:"extension,omitempty"`
	SizeBytes   int64    `json:"size_bytes,omitempty"`
	Locator     string   `json:"locator"`
	Mirrors     []string `json:"mirrors,omitempty"`
	RankScore   float64  `json:"rank_score"`
	Position    int      `json:"position"`
}

// FileExtension returns the extension used when saving the candidate.
func (c Candidate) FileExtension() string {
	if c.Format != FormatOther && c.Format != "" {
		return string(c.Format)
	}
	if ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Extension), ".")); ext != "" {
		return ext
	}
	return "bin"
}

// Resolution is the outcome of resolving one item.
type Resolution struct {
	Found      bool
	Candidate  Candidate
	Query      string
	Considered int
}
