package evaluator

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldCase case-folds s. A Caser carries state, so each call gets its own.
func foldCase(s string) string { return cases.Fold().String(s) }

// Normalize folds case, strips diacritics and punctuation, and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = foldCase(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			space = true
		}
	}
	return b.String()
}

// Similarity returns the Ratcliff/Obershelp ratio 2*M/T of the normalized strings,
// where M is the number of matched runes and T the total rune count.
func Similarity(a, b string) float64 {
	if a != "" && foldCase(a) == foldCase(b) {
		return 1
	}
	na, nb := normalizeOrFold(a), normalizeOrFold(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ra, rb := []rune(na), []rune(nb)
	m := matchingRunes(ra, rb)
	return 2 * float64(m) / float64(len(ra)+len(rb))
}

// normalizeOrFold keeps punctuation-only answers comparable.
func normalizeOrFold(s string) string {
	if n := Normalize(s); n != "" {
		return n
	}
	return strings.TrimSpace(foldCase(s))
}

// matchingRunes sums the lengths of the matching blocks found by recursively
// taking the longest common substring and recursing on both sides.
func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, k := longestMatch(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestMatch returns the earliest longest common substring as a[i:i+k] == b[j:j+k].
func longestMatch(a, b []rune) (int, int, int) {
	bestI, bestJ, bestK := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestK {
					bestK = cur[j]
					bestI, bestJ = i-bestK, j-bestK
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, bestK
}
