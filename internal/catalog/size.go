package catalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var sizeExpr = regexp.MustCompile(`(?i)^\s*([0-9]+(?:[.,][0-9]+)?)\s*([kmgt]?i?b|bytes?)?\s*$`)

// ParseSize converts catalog size labels such as "2 MB", "512 kB", or
// "1,5 Mb" to bytes using binary multiples. It returns 0 when the label is
// not understood or the size does not fit in an int64.
func ParseSize(label string) int64 {
	match := sizeExpr.FindStringSubmatch(label)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil || value < 0 {
		return 0
	}
	unit := strings.ToLower(match[2])
	var multiplier float64 = 1
	switch {
	case strings.HasPrefix(unit, "k"):
		multiplier = 1 << 10
	case strings.HasPrefix(unit, "m"):
		multiplier = 1 << 20
	case strings.HasPrefix(unit, "g"):
		multiplier = 1 << 30
	case strings.HasPrefix(unit, "t"):
		multiplier = 1 << 40
	}
	size := value * multiplier
	if size >= math.MaxInt64 {
		return 0
	}
	return int64(size)
}
