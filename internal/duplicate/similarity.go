package duplicate

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// Similarity returns a normalized edit-distance similarity in [0,1] between
// two merchant names. Both inputs are trimmed and case-folded first. Lengths
// and distance are counted in runes with unit insert, delete and substitute
// costs.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	distance := levenshtein.Distance(a, b, nil)
	return float64(maxLen-distance) / float64(maxLen)
}
