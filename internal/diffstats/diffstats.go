// Package diffstats computes line-level add/remove counts between two text
// snapshots, used for the modified-file indicator in the editor gutter.
package diffstats

import "strings"

// maxLines bounds the O(n*m) LCS table. Inputs beyond the guard yield zero
// stats rather than a multi-hundred-megabyte allocation.
const maxLines = 5000

// Stats is the number of lines added and removed relative to the original
// snapshot.
type Stats struct {
	Added   uint `json:"added"`
	Removed uint `json:"removed"`
}

// Compute splits both snapshots on line boundaries and derives add/remove
// counts from the longest common subsequence of lines. Deterministic and pure.
// Either side exceeding the size guard short-circuits to zero stats.
func Compute(original, modified string) Stats {
	if original == modified {
		return Stats{}
	}

	a := strings.Split(original, "\n")
	b := strings.Split(modified, "\n")
	if len(a) > maxLines || len(b) > maxLines {
		return Stats{}
	}

	lcs := lcsLength(a, b)
	return Stats{
		Added:   uint(len(b) - lcs),
		Removed: uint(len(a) - lcs),
	}
}

// lcsLength computes the LCS length over lines with a two-row rolling table.
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
