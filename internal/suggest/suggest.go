// Package suggest offers "did you mean" candidates for mistyped plant ids
// and flags.
package suggest

import (
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"
)

const limit = 3

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

type scored struct {
	value string
	dist  int
}

// closest returns up to limit candidates within a few edits of s, nearest
// first.
func closest(s string, candidates []string, norm func(string) string) []string {
	var hits []scored
	maxDist := max(2, len(s)/2)
	for _, c := range candidates {
		if d := levenshtein(s, norm(c)); d <= maxDist {
			hits = append(hits, scored{c, d})
		}
	}
	slices.SortStableFunc(hits, func(x, y scored) int { return x.dist - y.dist })

	var out []string
	for i := 0; i < len(hits) && i < limit; i++ {
		out = append(out, hits[i].value)
	}
	return out
}

// IDs returns ids resembling unknown, best first. Subsequence matches
// ("tom" for "tomato-3") rank ahead of near misses by edit distance.
func IDs(unknown string, ids []string) []string {
	unknown = strings.TrimSpace(unknown)
	if unknown == "" || len(ids) == 0 {
		return nil
	}

	matches := fuzzy.Find(unknown, ids)
	var out []string
	for _, m := range matches {
		if len(out) == limit {
			return out
		}
		out = append(out, m.Str)
	}
	for _, id := range closest(unknown, ids, func(s string) string { return s }) {
		if len(out) == limit {
			break
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Flag finds similar flags from a list of valid flags, best first.
func Flag(unknown string, validFlags []string) []string {
	unknown = strings.TrimLeft(unknown, "-")
	return closest(unknown, validFlags, func(s string) string { return strings.TrimLeft(s, "-") })
}

// commonFlagAliases maps commonly attempted flags to their correct names
var commonFlagAliases = map[string]string{
	"notes":   "--note",
	"desc":    "--note",
	"message": "--note",
	"bed":     "--plot",
	"kind":    "--species",
	"type":    "--species",
	"price":   "--cost",
	"amount":  "(pass the amount as an argument)",
	"yes":     "(not needed - commands never prompt)",
	"force":   "(not needed - commands never prompt)",
}

// Hint returns a hint for a commonly misused flag
func Hint(flag string) string {
	flag = strings.ToLower(strings.TrimLeft(flag, "-"))
	return commonFlagAliases[flag]
}
