package dedup

import "strings"

const (
	// FuzzyThreshold is the minimum domain similarity surfaced as a suggestion.
	FuzzyThreshold = 0.8

	wwwOnlySimilarity = 0.95
)

// DomainSimilarity compares two lower-cased hostnames. Identical hosts score
// 1.0, hosts that differ only by a leading "www." score 0.95, everything else
// scores 1 - distance/maxLen over the hosts with "www." removed.
func DomainSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	sa := strings.TrimPrefix(a, "www.")
	sb := strings.TrimPrefix(b, "www.")
	if sa == sb {
		return wwwOnlySimilarity
	}
	ra, rb := []rune(sa), []rune(sb)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein uses the two-row formulation; hostnames are short.
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
