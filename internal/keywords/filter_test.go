package keywords

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
)

func testRuleSet() *RuleSet {
	return Compile(Tiers{
		Primary:   []string{"antisemitism", "anti-semitic", "white supremacist"},
		Secondary: []string{"synagogue", "rabbi", "adl"},
		Context:   []string{"vandalism", "rally"},
	}, false)
}

func TestEvaluate_PrimaryMatchIsHigh(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "Report on antisemitism", "Nothing else here about the rabbi")
	if !got.Pass || got.Confidence != ConfidenceHigh {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !reflect.DeepEqual(got.Keywords, []string{"antisemitism"}) {
		t.Fatalf("unexpected keywords: %v", got.Keywords)
	}
	if got.Reason != "Primary keyword match: antisemitism" {
		t.Fatalf("unexpected reason: %q", got.Reason)
	}
}

func TestEvaluate_PrimaryAlwaysWinsWithFallbackTiers(t *testing.T) {
	t.Parallel()

	tiers, err := FallbackTiers()
	if err != nil {
		t.Fatalf("unexpected fallback error: %v", err)
	}
	rules := Compile(tiers, true)
	for _, body := range []string{"", "weather sports finance", "synagogue rally vandalism"} {
		got := Evaluate(rules, "Op-ed", "They discussed antisemitism. "+body)
		if !got.Pass || got.Confidence != ConfidenceHigh {
			t.Fatalf("expected high pass for body %q, got %+v", body, got)
		}
	}
}

func TestEvaluate_SecondaryWithContext(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "Synagogue hit by vandalism", "Police responded.")
	if !got.Pass || got.Confidence != ConfidenceMedium {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !reflect.DeepEqual(got.Keywords, []string{"synagogue", "vandalism"}) {
		t.Fatalf("unexpected keywords: %v", got.Keywords)
	}
	if got.Reason != "Secondary keyword match: synagogue + context: vandalism" {
		t.Fatalf("unexpected reason: %q", got.Reason)
	}
}

func TestEvaluate_SecondaryAloneIsEnough(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "Rabbi speaks", "")
	if !got.Pass || got.Confidence != ConfidenceMedium || got.Reason != "Secondary keyword match: rabbi" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestEvaluate_ContextOnlyIsSkipped(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "City rally draws crowd", "Vandalism reported nearby")
	if got.Pass || got.Confidence != ConfidenceSkip {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Reason != "Insufficient matches (0 secondary, 2 context)" {
		t.Fatalf("unexpected reason: %q", got.Reason)
	}
	if len(got.Keywords) != 2 {
		t.Fatalf("expected context matches recorded, got %v", got.Keywords)
	}
}

func TestEvaluate_NoMatchesNeverPass(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "Local bakery wins award", "Bread and pastries.")
	if got.Pass || got.Confidence != ConfidenceSkip || got.Reason != "No keyword matches found" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Match().Keywords == nil {
		t.Fatalf("audit record should carry an empty keyword list, not nil")
	}
}

func TestEvaluate_WholeWordOnly(t *testing.T) {
	t.Parallel()

	got := Evaluate(testRuleSet(), "Badly handled rabbinical dispute", "The paddle broke.")
	if got.Pass || len(got.Keywords) != 0 {
		t.Fatalf("substrings must not match: %+v", got)
	}

	got = Evaluate(testRuleSet(), "ANTI-SEMITIC flyers found", "")
	if !got.Pass || got.Confidence != ConfidenceHigh {
		t.Fatalf("expected case-insensitive hyphenated match: %+v", got)
	}
}

func TestEvaluate_KeywordsEdgedWithPunctuation(t *testing.T) {
	t.Parallel()

	rules := Compile(Tiers{Primary: []string{"#stopantisemitism", "k.k.k."}}, false)

	cases := []struct {
		text string
		want bool
	}{
		{text: "#StopAntisemitism trends after attack", want: true},
		{text: "Marchers chanted #stopantisemitism", want: true},
		{text: "Flyers signed K.K.K. found in park", want: true},
		{text: "Flyers signed k.k.k.", want: true},
		{text: "Tag #stopantisemitismnow spreads", want: false},
		{text: "Ticker kk.k.k. listed", want: false},
	}
	for _, tc := range cases {
		got := Evaluate(rules, tc.text, "")
		if got.Pass != tc.want {
			t.Fatalf("%q: got pass=%v want %v (%+v)", tc.text, got.Pass, tc.want, got)
		}
	}
}

type stubRuleSource struct {
	mu    sync.Mutex
	calls int
	rules []db.KeywordRule
	err   error
}

func (s *stubRuleSource) ActiveKeywordRules(context.Context) ([]db.KeywordRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rules, s.err
}

func (s *stubRuleSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_RefreshesAfterTTL(t *testing.T) {
	t.Parallel()

	source := &stubRuleSource{rules: []db.KeywordRule{
		{Keyword: "Swastika", Tier: "primary", Active: true},
		{Keyword: "rabbi", Tier: "secondary", Active: true},
		{Keyword: "ignored", Tier: "context", Active: false},
	}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(source, 5*time.Minute, clock.Now, zerolog.Nop())

	first := cache.RuleSet(context.Background())
	if first.Fallback {
		t.Fatalf("expected stored rules, got fallback")
	}
	if !reflect.DeepEqual(first.Tiers.Primary, []string{"swastika"}) || len(first.Tiers.Context) != 0 {
		t.Fatalf("unexpected tiers: %+v", first.Tiers)
	}

	clock.Advance(4 * time.Minute)
	cache.RuleSet(context.Background())
	if got := source.callCount(); got != 1 {
		t.Fatalf("unexpected source calls within ttl: got %d want 1", got)
	}

	clock.Advance(2 * time.Minute)
	cache.RuleSet(context.Background())
	if got := source.callCount(); got != 2 {
		t.Fatalf("unexpected source calls after ttl: got %d want 2", got)
	}

	cache.Invalidate()
	cache.RuleSet(context.Background())
	if got := source.callCount(); got != 3 {
		t.Fatalf("unexpected source calls after invalidate: got %d want 3", got)
	}
}

func TestCache_RecoversAfterFallback(t *testing.T) {
	t.Parallel()

	source := &stubRuleSource{err: errors.New("connection refused")}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(source, 10*time.Second, clock.Now, zerolog.Nop())

	if !cache.RuleSet(context.Background()).Fallback {
		t.Fatalf("expected fallback while the source fails")
	}

	source.mu.Lock()
	source.err = nil
	source.rules = []db.KeywordRule{{Keyword: "swastika", Tier: "primary", Active: true}}
	source.mu.Unlock()

	// A TTL shorter than the retry interval wins.
	clock.Advance(10 * time.Second)
	if cache.RuleSet(context.Background()).Fallback {
		t.Fatalf("expected stored rules once the source recovers")
	}
	if got := source.callCount(); got != 2 {
		t.Fatalf("unexpected source calls: got %d want 2", got)
	}
}

func TestCache_FailsOpenToFallback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		source *stubRuleSource
	}{
		{name: "source error", source: &stubRuleSource{err: errors.New("connection refused")}},
		{name: "empty rules", source: &stubRuleSource{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			filter := NewFilter(NewCache(tc.source, time.Minute, clock.Now, zerolog.Nop()))

			got := filter.Evaluate(context.Background(), "Neo-Nazi flyers in town", "")
			if !got.Pass || got.Confidence != ConfidenceHigh {
				t.Fatalf("expected fallback primary match, got %+v", got)
			}
			for range 100 {
				filter.Evaluate(context.Background(), "Weather turns cold", "")
			}
			if !filter.RuleSet(context.Background()).Fallback {
				t.Fatalf("expected fallback rule set")
			}
			if calls := tc.source.callCount(); calls != 1 {
				t.Fatalf("fallback must be held between retries: got %d source calls want 1", calls)
			}

			clock.Advance(FallbackRetryInterval)
			filter.RuleSet(context.Background())
			if calls := tc.source.callCount(); calls != 2 {
				t.Fatalf("source must be retried after the retry interval: got %d source calls want 2", calls)
			}
		})
	}
}
