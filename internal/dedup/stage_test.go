package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
)

type stubStore struct {
	window []db.Article
	marks  map[int64]int64
}

func (s *stubStore) ListWindowForDedup(context.Context, time.Time) ([]db.Article, error) {
	return s.window, nil
}

func (s *stubStore) MarkDuplicate(_ context.Context, articleID, originalID int64) (bool, error) {
	if s.marks == nil {
		s.marks = make(map[int64]int64)
	}
	if _, exists := s.marks[articleID]; exists {
		return false, nil
	}
	s.marks[articleID] = originalID
	return true, nil
}

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func article(id int64, minute int, title string) db.Article {
	return db.Article{ArticleID: id, Title: title, FetchedAt: baseTime.Add(time.Duration(minute) * time.Minute)}
}

func TestMarkDuplicates_LinksLaterToEarlier(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	stage := NewStage(store, zerolog.Nop())

	result, err := stage.MarkDuplicates(context.Background(), []db.Article{
		article(1, 0, "Breaking: City Council Votes on Budget"),
		article(2, 5, "City Council Votes on Budget"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Links) != 1 {
		t.Fatalf("unexpected link count: got %d want 1", len(result.Links))
	}
	if got := store.marks[2]; got != 1 {
		t.Fatalf("unexpected original for article 2: got %d want 1", got)
	}
	if _, linked := store.marks[1]; linked {
		t.Fatalf("earlier article must never point at a later one")
	}
}

func TestMarkDuplicates_ShortTitlesNeverLink(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	stage := NewStage(store, zerolog.Nop())

	result, err := stage.MarkDuplicates(context.Background(), []db.Article{
		article(1, 0, "Breaking: Budget vote"),
		article(2, 1, "Budget vote"),
		article(3, 2, "Video: Budget vote!"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Links) != 0 || len(store.marks) != 0 {
		t.Fatalf("expected no links for two-token titles, got %+v", result.Links)
	}
}

func TestMarkDuplicates_FirstMatchWinsAndSkipsDuplicates(t *testing.T) {
	t.Parallel()

	dupOf := int64(99)
	already := article(1, 0, "rabbi speaks at downtown interfaith rally")
	already.DuplicateOf = &dupOf

	store := &stubStore{}
	stage := NewStage(store, zerolog.Nop())

	_, err := stage.MarkDuplicates(context.Background(), []db.Article{
		already,
		article(2, 1, "Rabbi speaks at downtown interfaith rally"),
		article(3, 2, "Opinion: Rabbi speaks at downtown interfaith rally"),
		article(4, 3, "rabbi speaks at downtown interfaith rally on sunday"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, linked := store.marks[2]; linked {
		t.Fatalf("article 2 must not link to an article that is itself a duplicate")
	}
	if got := store.marks[3]; got != 2 {
		t.Fatalf("unexpected original for article 3: got %d want 2", got)
	}
	if _, linked := store.marks[4]; linked {
		t.Fatalf("article 4 scores below the threshold and should stay unlinked")
	}
}

func TestMarkDuplicates_NoChainsWithinPass(t *testing.T) {
	t.Parallel()

	links := Plan([]db.Article{
		article(1, 0, "school board bans hate symbols"),
		article(2, 1, "School board bans hate symbols"),
		article(3, 2, "Updated: school board bans hate symbols"),
	})
	for _, link := range links {
		if link.Original != 1 {
			t.Fatalf("expected every duplicate to point at the first article, got %+v", link)
		}
		if link.Original >= link.Duplicate {
			t.Fatalf("links must point at earlier articles: %+v", link)
		}
	}
	if len(links) != 2 {
		t.Fatalf("unexpected link count: got %d want 2", len(links))
	}
}

func TestMarkDuplicates_RejectsUnsortedInput(t *testing.T) {
	t.Parallel()

	stage := NewStage(&stubStore{}, zerolog.Nop())
	_, err := stage.MarkDuplicates(context.Background(), []db.Article{
		article(1, 10, "later headline with words"),
		article(2, 0, "earlier headline with words"),
	})
	if !errors.Is(err, ErrUnsorted) {
		t.Fatalf("expected ErrUnsorted, got %v", err)
	}
}

func TestBackfill_UsesStoreWindow(t *testing.T) {
	t.Parallel()

	store := &stubStore{window: []db.Article{
		article(10, 0, "Synagogue vandalized overnight in suburb"),
		article(11, 3, "Synagogue Vandalized Overnight In Suburb"),
	}}
	result, err := NewStage(store, zerolog.Nop()).Backfill(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Scanned != 2 || len(result.Links) != 1 || store.marks[11] != 10 {
		t.Fatalf("unexpected backfill result: %+v marks=%v", result, store.marks)
	}
}

func TestFindOriginal(t *testing.T) {
	t.Parallel()

	dupOf := int64(1)
	window := []db.Article{
		{ArticleID: 1, Title: "Campus protest draws hundreds of students"},
		{ArticleID: 2, Title: "Campus protest draws hundreds of students", DuplicateOf: &dupOf},
	}

	id, ok := FindOriginal("Breaking: Campus protest draws hundreds of students", window)
	if !ok || id != 1 {
		t.Fatalf("unexpected match: id=%d ok=%v", id, ok)
	}
	if _, ok := FindOriginal("Campus protest", window); ok {
		t.Fatalf("short titles must not match")
	}
}
