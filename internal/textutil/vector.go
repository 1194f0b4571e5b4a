package textutil

import (
	"math"
	"strings"
)

// TermVector represents a term-frequency vector for text similarity comparison.
type TermVector struct {
	tokens map[string]float64
	norm   float64
}

// NewTermVector creates a vector from the provided text.
// Returns nil if the text produces no valid tokens.
func NewTermVector(text string) *TermVector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &TermVector{
		tokens: counts,
		norm:   math.Sqrt(norm),
	}
}

// Tokenize normalizes text and splits it into tokens, dropping single
// characters.
func Tokenize(text string) []string {
	raw := strings.Fields(Normalize(text))
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if len([]rune(token)) < 2 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// TokenCount returns the number of unique tokens in the vector.
func (v *TermVector) TokenCount() int {
	if v == nil {
		return 0
	}
	return len(v.tokens)
}

// Has reports whether token occurs in the vector.
func (v *TermVector) Has(token string) bool {
	if v == nil {
		return false
	}
	_, ok := v.tokens[token]
	return ok
}
