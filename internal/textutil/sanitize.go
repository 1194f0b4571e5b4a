package textutil

import (
	"regexp"
	"strings"
)

const maxFileNameLength = 150

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_ ]+`)

var repeatedSeparators = regexp.MustCompile(`[ _]{2,}`)

// SanitizeFileName converts an upstream-supplied name into a single safe path
// segment. Accents are folded to ASCII, anything outside letters, digits, dot,
// dash, underscore and space becomes an underscore, and leading dots are
// removed so the result can never be "." or "..". Returns "" when nothing
// usable remains.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	folded, _, err := transformString(name)
	if err != nil {
		folded = name
	}
	cleaned := unsafeFileChars.ReplaceAllString(folded, "_")
	cleaned = repeatedSeparators.ReplaceAllStringFunc(cleaned, func(run string) string {
		if strings.Contains(run, "_") {
			return "_"
		}
		return " "
	})
	cleaned = strings.Trim(cleaned, " ._-")
	if len(cleaned) > maxFileNameLength {
		cleaned = strings.TrimRight(cleaned[:maxFileNameLength], " ._-")
	}
	return cleaned
}
