// Package keywords implements the tiered keyword pre-filter that decides which
// articles are worth sending to the relevance classifier.
package keywords

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"horse.fit/newswatch/internal/db"
)

//go:embed fallback.yaml
var fallbackYAML []byte

// Tiers lists keywords by sensitivity level.
type Tiers struct {
	Primary   []string `yaml:"primary" json:"primary"`
	Secondary []string `yaml:"secondary" json:"secondary"`
	Context   []string `yaml:"context" json:"context"`
}

func (t Tiers) Len() int {
	return len(t.Primary) + len(t.Secondary) + len(t.Context)
}

// TiersFromRules groups stored rules by tier. Rules with an unknown tier are ignored.
func TiersFromRules(rules []db.KeywordRule) Tiers {
	var tiers Tiers
	for _, rule := range rules {
		keyword := normalizeKeyword(rule.Keyword)
		if keyword == "" || !rule.Active {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(rule.Tier)) {
		case db.TierPrimary:
			tiers.Primary = append(tiers.Primary, keyword)
		case db.TierSecondary:
			tiers.Secondary = append(tiers.Secondary, keyword)
		case db.TierContext:
			tiers.Context = append(tiers.Context, keyword)
		}
	}
	return tiers
}

var (
	fallbackOnce  sync.Once
	fallbackTiers Tiers
	fallbackErr   error
)

// FallbackTiers returns the built-in tiers used when the rule store cannot serve any.
func FallbackTiers() (Tiers, error) {
	fallbackOnce.Do(func() {
		var parsed Tiers
		if err := yaml.Unmarshal(fallbackYAML, &parsed); err != nil {
			fallbackErr = fmt.Errorf("parse fallback keywords: %w", err)
			return
		}
		parsed.Primary = normalizeKeywords(parsed.Primary)
		parsed.Secondary = normalizeKeywords(parsed.Secondary)
		parsed.Context = normalizeKeywords(parsed.Context)
		if parsed.Len() == 0 {
			fallbackErr = fmt.Errorf("fallback keywords are empty")
			return
		}
		fallbackTiers = parsed
	})
	return fallbackTiers, fallbackErr
}

type compiledKeyword struct {
	keyword string
	pattern *regexp.Regexp
}

// RuleSet is a compiled set of tiers ready for matching.
type RuleSet struct {
	Tiers    Tiers
	Fallback bool

	primary   []compiledKeyword
	secondary []compiledKeyword
	context   []compiledKeyword
}

// Compile builds word-boundary, case-insensitive matchers for every keyword.
func Compile(tiers Tiers, fallback bool) *RuleSet {
	return &RuleSet{
		Tiers:     tiers,
		Fallback:  fallback,
		primary:   compileKeywords(tiers.Primary),
		secondary: compileKeywords(tiers.Secondary),
		context:   compileKeywords(tiers.Context),
	}
}

func compileKeywords(keywords []string) []compiledKeyword {
	out := make([]compiledKeyword, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		out = append(out, compiledKeyword{
			keyword: keyword,
			pattern: regexp.MustCompile(keywordPattern(keyword)),
		})
	}
	return out
}

// keywordPattern anchors a keyword on word boundaries. \b cannot sit next to a non-word rune such
// as the # of a hashtag, so those edges require the start or end of text or a non-word rune instead.
func keywordPattern(keyword string) string {
	left, right := `\b`, `\b`
	if !isWordByte(keyword[0]) {
		left = `(?:^|\W)`
	}
	if !isWordByte(keyword[len(keyword)-1]) {
		right = `(?:\W|$)`
	}
	return `(?i)` + left + regexp.QuoteMeta(keyword) + right
}

// isWordByte mirrors the ASCII \w class RE2 uses for \b.
func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func matchAll(text string, keywords []compiledKeyword) []string {
	var matches []string
	for _, k := range keywords {
		if k.pattern.MatchString(text) {
			matches = append(matches, k.keyword)
		}
	}
	return matches
}

func normalizeKeyword(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

func normalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		if n := normalizeKeyword(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}
