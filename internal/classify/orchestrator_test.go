package classify

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/keywords"
	"horse.fit/newswatch/internal/llm"
)

type memoryStore struct {
	mu              sync.Mutex
	articles        map[int64]*db.Article
	classifications []db.Classification
	writes          int
	findErr         error
}

func newMemoryStore(titles ...string) *memoryStore {
	store := &memoryStore{articles: make(map[int64]*db.Article, len(titles))}
	for i, title := range titles {
		id := int64(i + 1)
		store.articles[id] = &db.Article{ArticleID: id, Title: title, SourceName: "Wire"}
	}
	return store
}

func (s *memoryStore) FindRecentUnanalyzed(_ context.Context, _ time.Time, limit int) ([]db.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		err := s.findErr
		s.findErr = nil
		return nil, err
	}

	out := make([]db.Article, 0)
	for _, id := range s.sortedIDs() {
		article := s.articles[id]
		if article.Analyzed || article.DuplicateOf != nil {
			continue
		}
		out = append(out, *article)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) CountRecentUnanalyzed(_ context.Context, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, article := range s.articles {
		if !article.Analyzed && article.DuplicateOf == nil {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) SaveKeywordMatches(_ context.Context, matches map[int64]db.KeywordMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(matches) > 0 {
		s.writes++
	}
	for id := range matches {
		s.articles[id].KeywordMatch = []byte(`{}`)
	}
	return nil
}

func (s *memoryStore) InsertClassifications(_ context.Context, rows []db.Classification) ([]db.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 {
		return nil, nil
	}
	s.writes++
	var stored []db.Classification
	for _, row := range rows {
		if s.articles[row.ArticleID].Analyzed {
			continue
		}
		s.classifications = append(s.classifications, row)
		s.articles[row.ArticleID].Analyzed = true
		stored = append(stored, row)
	}
	return stored, nil
}

func (s *memoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.articles))
	for id := range s.articles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memoryStore) rowsByArticle() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int64]int)
	for _, row := range s.classifications {
		counts[row.ArticleID]++
	}
	return counts
}

type ruleAdmitter struct {
	rules *keywords.RuleSet
}

func (a ruleAdmitter) Evaluate(_ context.Context, title, body string) keywords.Result {
	return keywords.Evaluate(a.rules, title, body)
}

func testAdmitter() ruleAdmitter {
	return ruleAdmitter{rules: keywords.Compile(keywords.Tiers{
		Primary:   []string{"antisemitism", "antisemitic"},
		Secondary: []string{"synagogue"},
	}, false)}
}

// scriptedClassifier answers each call with the next response, or judges every article relevant
// once the script is exhausted.
type scriptedClassifier struct {
	mu        sync.Mutex
	responses []func([]llm.ArticleInput) ([]llm.Judgment, error)
	calls     int
	onCall    func()
}

func (c *scriptedClassifier) ClassifyBatch(_ context.Context, articles []llm.ArticleInput) ([]llm.Judgment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.onCall != nil {
		c.onCall()
	}
	if len(c.responses) > 0 {
		next := c.responses[0]
		c.responses = c.responses[1:]
		return next(articles)
	}
	return judgeAll(articles), nil
}

func (c *scriptedClassifier) ModelName() string { return "test-model" }

func judgeAll(articles []llm.ArticleInput) []llm.Judgment {
	out := make([]llm.Judgment, len(articles))
	for i, article := range articles {
		out[i] = llm.Judgment{Index: article.Index, IsRelevant: true, Category: strPtr(category.Campus), Summary: strPtr("summary")}
	}
	return out
}

func strPtr(v string) *string { return &v }

func fixedClock() func() time.Time {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestOrchestrator(store Store, classifier Classifier, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = fixedClock()
	}
	return NewOrchestrator(store, testAdmitter(), classifier, zerolog.Nop(), opts)
}

func TestRun_EveryArticleGetsExactlyOneClassification(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Local bakery wins award",
		"Synagogue hosts community dinner",
		"Weather turns cold",
		"Report on antisemitism in schools",
	)
	orchestrator := newTestOrchestrator(store, &scriptedClassifier{}, Options{BatchSize: 2})

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Considered != 5 || result.KeywordPassed != 3 || result.KeywordSkipped != 2 {
		t.Fatalf("unexpected admission counts: %+v", result)
	}
	if result.Analyzed != 5 || result.Relevant != 3 || result.RemainingUnanalyzed != 0 {
		t.Fatalf("unexpected classification counts: %+v", result)
	}
	if result.Batches != 2 {
		t.Fatalf("unexpected batches: got %d want 2", result.Batches)
	}

	counts := store.rowsByArticle()
	for id := int64(1); id <= 5; id++ {
		if counts[id] != 1 {
			t.Fatalf("unexpected classification count for article %d: got %d want 1", id, counts[id])
		}
	}
	for _, row := range store.classifications {
		switch row.ArticleID {
		case 2, 4:
			if row.ModelUsed != FilterModel || row.IsRelevant {
				t.Fatalf("unexpected filter row: %+v", row)
			}
		default:
			if row.ModelUsed != "test-model" || !row.IsRelevant {
				t.Fatalf("unexpected classifier row: %+v", row)
			}
		}
	}
}

func TestRun_SecondPassOverProcessedWindowWritesNothing(t *testing.T) {
	t.Parallel()

	store := newMemoryStore("Antisemitic graffiti found downtown", "Local bakery wins award")
	classifier := &scriptedClassifier{}
	orchestrator := newTestOrchestrator(store, classifier, Options{})

	if _, err := orchestrator.Run(context.Background()); err != nil {
		t.Fatalf("unexpected first run error: %v", err)
	}
	writes, calls := store.writes, classifier.calls

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected second run error: %v", err)
	}
	if result.Considered != 0 || result.Analyzed != 0 {
		t.Fatalf("unexpected second run result: %+v", result)
	}
	if store.writes != writes || classifier.calls != calls {
		t.Fatalf("second run touched state: writes %d->%d calls %d->%d", writes, store.writes, calls, classifier.calls)
	}
}

func TestRun_RejectsBadIndicesAndLeavesUnjudgedArticles(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Antisemitic flyers at station",
		"Antisemitism report released",
	)
	classifier := &scriptedClassifier{responses: []func([]llm.ArticleInput) ([]llm.Judgment, error){
		func([]llm.ArticleInput) ([]llm.Judgment, error) {
			return []llm.Judgment{
				{Index: 0, IsRelevant: true, Category: strPtr("campus & academia")},
				{Index: 0, IsRelevant: false},
				{Index: 7, IsRelevant: true},
				{Index: 2, IsRelevant: false, Summary: strPtr("ignored"), Category: strPtr(category.Legal)},
			}, nil
		},
	}}
	orchestrator := newTestOrchestrator(store, classifier, Options{})

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.DataErrors) != 3 {
		t.Fatalf("unexpected data errors: %v", result.DataErrors)
	}
	if result.Analyzed != 2 || result.RemainingUnanalyzed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if store.articles[2].Analyzed {
		t.Fatalf("article without a judgment must stay unanalyzed")
	}

	for _, row := range store.classifications {
		switch row.ArticleID {
		case 1:
			if row.Category == nil || *row.Category != category.Campus || !row.IsRelevant {
				t.Fatalf("unexpected first judgment row: %+v", row)
			}
		case 3:
			if row.Summary != nil || row.Category != nil {
				t.Fatalf("non-relevant row must not carry summary or category: %+v", row)
			}
		}
	}
}

func TestRun_FailedBatchDoesNotStopLaterBatches(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Antisemitic flyers at station",
		"Antisemitism report released",
		"Synagogue security grant",
	)
	classifier := &scriptedClassifier{responses: []func([]llm.ArticleInput) ([]llm.Judgment, error){
		func([]llm.ArticleInput) ([]llm.Judgment, error) {
			return nil, &llm.ParseError{Schema: "judgments", Raw: "not json", Err: errors.New("invalid character")}
		},
	}}
	orchestrator := newTestOrchestrator(store, classifier, Options{BatchSize: 2})

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Batches != 2 || len(result.BatchErrors) != 1 {
		t.Fatalf("unexpected batch accounting: %+v", result)
	}
	if result.Analyzed != 2 || result.RemainingUnanalyzed != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.BatchErrors[0], "batch 1") {
		t.Fatalf("unexpected batch error text: %q", result.BatchErrors[0])
	}
}

func TestRun_StopsStartingBatchesOnceBudgetIsSpent(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Antisemitic flyers at station",
		"Antisemitism report released",
	)
	classifier := &scriptedClassifier{onCall: func() {
		mu.Lock()
		now = now.Add(30 * time.Second)
		mu.Unlock()
	}}
	orchestrator := newTestOrchestrator(store, classifier, Options{BatchSize: 1, Budget: 50 * time.Second, Clock: clock})

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.BudgetExhausted {
		t.Fatalf("expected budget exhaustion: %+v", result)
	}
	if result.Batches != 2 || classifier.calls != 2 {
		t.Fatalf("unexpected batches: got %d calls %d want 2", result.Batches, classifier.calls)
	}
	if result.RemainingUnanalyzed != 1 {
		t.Fatalf("unexpected remaining: got %d want 1", result.RemainingUnanalyzed)
	}
}

func TestRunUntilDrained_RetriesUntilNothingRemains(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Antisemitic flyers at station",
	)
	classifier := &scriptedClassifier{responses: []func([]llm.ArticleInput) ([]llm.Judgment, error){
		func(articles []llm.ArticleInput) ([]llm.Judgment, error) {
			return judgeAll(articles[:1]), nil
		},
	}}
	orchestrator := newTestOrchestrator(store, classifier, Options{})

	result, err := orchestrator.RunUntilDrained(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("unexpected attempts: got %d want 2", result.Attempts)
	}
	if result.Analyzed != 2 || result.RemainingUnanalyzed != 0 || len(result.DataErrors) != 1 {
		t.Fatalf("unexpected drained result: %+v", result)
	}
}

func TestRunUntilDrained_RetriesStoreErrors(t *testing.T) {
	t.Parallel()

	store := newMemoryStore("Antisemitic graffiti found downtown")
	store.findErr = errors.New("connection reset")
	orchestrator := newTestOrchestrator(store, &scriptedClassifier{}, Options{})

	result, err := orchestrator.RunUntilDrained(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 || result.Analyzed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunUntilDrained_ReturnsLastErrorWhenAttemptsRunOut(t *testing.T) {
	t.Parallel()

	store := &failingStore{err: errors.New("database unavailable")}
	orchestrator := newTestOrchestrator(store, &scriptedClassifier{}, Options{})

	result, err := orchestrator.RunUntilDrained(context.Background(), 2)
	if err == nil || !errors.Is(err, store.err) {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("unexpected attempts: got %d want 2", result.Attempts)
	}
}

type failingStore struct {
	err error
}

func (s *failingStore) FindRecentUnanalyzed(context.Context, time.Time, int) ([]db.Article, error) {
	return nil, s.err
}

func (s *failingStore) CountRecentUnanalyzed(context.Context, time.Time) (int, error) {
	return 0, s.err
}

func (s *failingStore) SaveKeywordMatches(context.Context, map[int64]db.KeywordMatch) error {
	return s.err
}

func (s *failingStore) InsertClassifications(context.Context, []db.Classification) ([]db.Classification, error) {
	return nil, s.err
}

func TestRun_ArticleClaimedByConcurrentPassIsNotClassifiedTwice(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(
		"Antisemitic graffiti found downtown",
		"Synagogue hosts community dinner",
	)
	classifier := &scriptedClassifier{onCall: func() {
		// Another process finishes article 1 while this batch is with the model.
		store.mu.Lock()
		defer store.mu.Unlock()
		store.articles[1].Analyzed = true
		store.classifications = append(store.classifications, db.Classification{ArticleID: 1, ModelUsed: "other-pass"})
	}}
	orchestrator := newTestOrchestrator(store, classifier, Options{BatchSize: 10})

	result, err := orchestrator.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Analyzed != 1 || result.Relevant != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	counts := store.rowsByArticle()
	if counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("unexpected classification counts: %v", counts)
	}
	for _, row := range store.classifications {
		if row.ArticleID == 1 && row.ModelUsed != "other-pass" {
			t.Fatalf("article 1 was classified again: %+v", row)
		}
	}
}
