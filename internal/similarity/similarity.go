// Package similarity provides the lexical similarity measures used for
// citation scoring and near-duplicate detection. All functions are pure
// and operate on lowercased, whitespace-split tokens.
package similarity

import "strings"

// Ratio returns a 0..1 similarity between two strings, computed as
// 2*LCS/(len(a)+len(b)) over word tokens. Identical strings score 1.0,
// disjoint strings 0.0.
func Ratio(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	lcs := lcsLength(ta, tb)
	return 2.0 * float64(lcs) / float64(len(ta)+len(tb))
}

// TokenOverlap returns |claim ∩ source| / |claim| over word tokens. It
// is asymmetric on purpose: a short claim fully contained in a long
// source scores 1.0.
func TokenOverlap(claim, source string) float64 {
	ca := tokenSet(claim)
	if len(ca) == 0 {
		return 0.0
	}
	sb := tokenSet(source)
	matched := 0
	for t := range ca {
		if _, ok := sb[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(ca))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over word token sets, used for
// near-duplicate detection between context chunks.
func Jaccard(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokens(s) {
		set[strings.Trim(t, ".,;:!?\"'()[]")] = struct{}{}
	}
	delete(set, "")
	return set
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
