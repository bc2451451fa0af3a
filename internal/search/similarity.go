package search

import (
	"strings"
	"unicode"
)

// Similarity scores how alike two titles are on a 0..100 scale. It takes the
// larger of the word-level Jaccard score and the character-bigram Dice score,
// so both reordered words ("Dune Part Two" / "Part Two Dune") and spacing or
// punctuation variants ("듄 파트2" / "듄: 파트 2") score high.
func Similarity(a, b string) float64 {
	na, nb := compact(a), compact(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}

	var jac float64
	ta, tb := tokenize(a, nil), tokenize(b, nil)
	if over := overlap(ta, tb); over > 0 {
		jac = float64(over) / float64(len(ta)+len(tb)-over)
	}
	return 100 * maxf(jac, dice(na, nb))
}

// compact lowercases s and keeps letters and digits only.
func compact(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dice(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	inter := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			inter += minInt(n, m)
		}
	}
	total := 0
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	return 2 * float64(inter) / float64(total)
}

func bigrams(s string) map[string]int {
	r := []rune(s)
	if len(r) == 1 {
		return map[string]int{s: 1}
	}
	out := make(map[string]int, len(r))
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
