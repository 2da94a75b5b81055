// Package dedup collapses a whole accumulated corpus into clusters of
// records that describe the same work. Matching is conservative: any doubt
// resolves to "no match".
package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NormalizeTitle normalizes a title for fuzzy comparison:
//   - Converts to lowercase
//   - Removes all non-letter, non-digit, non-space characters
//   - Collapses runs of whitespace to a single space
//   - Trims leading and trailing whitespace
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(title))
	prevSpace := false

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}

	return strings.TrimRight(sb.String(), " ")
}

// TitleSimilarity returns 1 - distance/maxLen over the runes of two
// normalized titles. Empty titles never match and score 0.
func TitleSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// yearsCompatible reports whether two publication years are within
// tolerance. An unknown (zero) year is compatible with anything.
func yearsCompatible(a, b, tolerance int) bool {
	if a == 0 || b == 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
