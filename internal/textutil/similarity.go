package textutil

// coverageWeight discounts containment matches so an exact title still wins
// over a listing that merely contains every query word.
const coverageWeight = 0.9

// CosineSimilarity computes the cosine similarity between two term vectors.
// Returns 0 if either vector is nil or has zero norm.
func CosineSimilarity(a, b *TermVector) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, count := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += count * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}

// Coverage returns the share of query's unique tokens present in candidate.
func Coverage(query, candidate *TermVector) float64 {
	if query == nil || candidate == nil || len(query.tokens) == 0 {
		return 0
	}
	var hits int
	for token := range query.tokens {
		if candidate.Has(token) {
			hits++
		}
	}
	return float64(hits) / float64(len(query.tokens))
}

// Ratio returns 1 - (edit distance / longer length) over the normalized forms
// of a and b. Identical normalized strings score 1.
func Ratio(a, b string) float64 {
	ra := []rune(Normalize(a))
	rb := []rune(Normalize(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	longest := max(len(ra), len(rb))
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// Similarity scores how well candidate matches query in [0, 1]. It takes the
// best of the character ratio, token cosine, and discounted query coverage, so
// "The Hobbit" still matches "The Hobbit, or There and Back Again". It is not
// symmetric.
func Similarity(query, candidate string) float64 {
	if Normalize(query) == "" || Normalize(candidate) == "" {
		return 0
	}
	qv := NewTermVector(query)
	cv := NewTermVector(candidate)
	best := Ratio(query, candidate)
	if cos := CosineSimilarity(qv, cv); cos > best {
		best = cos
	}
	if cov := coverageWeight * Coverage(qv, cv); cov > best {
		best = cov
	}
	return best
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
