package keywords

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/newswatch/internal/db"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceSkip   Confidence = "skip"
)

// Result is the admission decision for one article.
type Result struct {
	Pass       bool       `json:"pass"`
	Keywords   []string   `json:"keywords"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}

// Match converts the decision into the audit record stored on the article.
func (r Result) Match() db.KeywordMatch {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return db.KeywordMatch{
		Keywords:   keywords,
		Confidence: string(r.Confidence),
		Reason:     r.Reason,
	}
}

// Evaluate applies the tier policy to the article text. A primary hit passes outright; otherwise
// one secondary hit is enough, with context hits recorded alongside.
func Evaluate(rules *RuleSet, title, body string) Result {
	if rules == nil {
		return Result{Confidence: ConfidenceSkip, Keywords: []string{}, Reason: "No keyword matches found"}
	}

	text := title + " " + body

	if primary := matchAll(text, rules.primary); len(primary) > 0 {
		return Result{
			Pass:       true,
			Keywords:   primary,
			Confidence: ConfidenceHigh,
			Reason:     "Primary keyword match: " + strings.Join(primary, ", "),
		}
	}

	secondary := matchAll(text, rules.secondary)
	contextHits := matchAll(text, rules.context)
	matched := make([]string, 0, len(secondary)+len(contextHits))
	matched = append(matched, secondary...)
	matched = append(matched, contextHits...)

	if len(secondary) > 0 {
		reason := "Secondary keyword match: " + strings.Join(secondary, ", ")
		if len(contextHits) > 0 {
			reason += " + context: " + strings.Join(contextHits, ", ")
		}
		return Result{Pass: true, Keywords: matched, Confidence: ConfidenceMedium, Reason: reason}
	}

	reason := "No keyword matches found"
	if len(matched) > 0 {
		reason = fmt.Sprintf("Insufficient matches (%d secondary, %d context)", len(secondary), len(contextHits))
	}
	return Result{Pass: false, Keywords: matched, Confidence: ConfidenceSkip, Reason: reason}
}

// Filter evaluates articles against the currently cached rule set.
type Filter struct {
	cache *Cache
}

func NewFilter(cache *Cache) *Filter {
	return &Filter{cache: cache}
}

func (f *Filter) Evaluate(ctx context.Context, title, body string) Result {
	return Evaluate(f.cache.RuleSet(ctx), title, body)
}

// RuleSet exposes the rule set the filter is using right now.
func (f *Filter) RuleSet(ctx context.Context) *RuleSet {
	return f.cache.RuleSet(ctx)
}
