// Package validate implements cross-document validation: extracted fields
// from one document are compared against the same fields on the sibling
// documents of an enrollment, and the aggregate match rate decides whether
// the document is accepted, rejected, or routed to a human.
package validate

import "github.com/agnivade/levenshtein"

// Similarity scores two normalized strings in [0..1] using edit distance
// over the longer length. Identical strings score 1, disjoint strings
// approach 0. The function is symmetric.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= max {
		return 0
	}
	return 1 - float64(dist)/float64(max)
}
