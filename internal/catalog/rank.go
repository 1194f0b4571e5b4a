package catalog

import (
	"sort"
	"strings"

	"bookdrop/internal/textutil"
)

// DefaultMinSimilarity is the similarity floor below which candidates are
// discarded.
const DefaultMinSimilarity = 0.55

// Score returns how closely candidate matches query, considering the title
// alone and the title followed by the author.
func Score(query string, candidate Candidate) float64 {
	best := textutil.Similarity(query, candidate.DisplayName)
	if author := strings.TrimSpace(candidate.Author); author != "" {
		if withAuthor := textutil.Similarity(query, candidate.DisplayName+" "+author); withAuthor > best {
			best = withAuthor
		}
	}
	return best
}

// Rank scores candidates against query, drops those below threshold, and
// orders the rest by preferred format position (unlisted formats last), then
// higher similarity, then smaller size, then upstream position. The input
// slice is not modified.
func Rank(candidates []Candidate, query string, prefs []Format, threshold float64) []Candidate {
	formatIndex := make(map[Format]int, len(prefs))
	for i, f := range prefs {
		if _, ok := formatIndex[f]; !ok {
			formatIndex[f] = i
		}
	}
	indexOf := func(f Format) int {
		if idx, ok := formatIndex[f]; ok {
			return idx
		}
		return len(prefs)
	}

	ranked := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		candidate.RankScore = Score(query, candidate)
		if candidate.RankScore < threshold {
			continue
		}
		ranked = append(ranked, candidate)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ai, bi := indexOf(a.Format), indexOf(b.Format); ai != bi {
			return ai < bi
		}
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		if a.SizeBytes != b.SizeBytes {
			return sizeKey(a.SizeBytes) < sizeKey(b.SizeBytes)
		}
		return a.Position < b.Position
	})
	return ranked
}

// sizeKey sorts unknown sizes after every known size.
func sizeKey(size int64) int64 {
	if size <= 0 {
		return 1<<63 - 1
	}
	return size
}
