// Package similarity normalizes headlines and scores their token overlap.
package similarity

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// DuplicateThreshold is the score a pair must exceed to count as the same headline.
	DuplicateThreshold = 0.85
	// MinCandidateTokens is the shortest normalized headline that may be linked as a duplicate.
	MinCandidateTokens = 3
)

var editorialPrefix = regexp.MustCompile(`^(?:breaking|exclusive|opinion|analysis|report|updated|watch|listen|video|photos?)\s*:\s*`)

// Normalize lower-cases a headline, drops one leading editorial label such as "Breaking:",
// removes punctuation and collapses whitespace.
func Normalize(title string) string {
	lowered := strings.TrimSpace(strings.ToLower(title))
	if lowered == "" {
		return ""
	}
	lowered = editorialPrefix.ReplaceAllString(lowered, "")

	var b strings.Builder
	b.Grow(len(lowered))
	pendingSpace := false
	for _, r := range lowered {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokens returns the whitespace tokens of the normalized headline.
func Tokens(title string) []string {
	return strings.Fields(Normalize(title))
}

// IsCandidate reports whether a headline is long enough for overlap scores to be meaningful.
func IsCandidate(title string) bool {
	return len(Tokens(title)) >= MinCandidateTokens
}

// Similarity is the Jaccard index of the two headlines' token sets. Two empty sets score 0.
func Similarity(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// TokenSet returns the distinct tokens of the normalized headline.
func TokenSet(title string) map[string]struct{} {
	tokens := Tokens(title)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func Jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 && len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	union := len(left) + len(right) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether candidate is long enough and overlaps original above the threshold.
func IsDuplicate(candidate, original string) bool {
	if !IsCandidate(candidate) {
		return false
	}
	return Similarity(candidate, original) > DuplicateThreshold
}
