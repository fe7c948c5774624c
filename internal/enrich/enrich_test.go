package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
)

type stubStore struct {
	mu         sync.Mutex
	candidates []db.Article
	updated    map[int64]string
	since      time.Time
	minChars   int
	limit      int
}

func (s *stubStore) ListEnrichmentCandidates(_ context.Context, since time.Time, minChars, limit int) ([]db.Article, error) {
	s.since, s.minChars, s.limit = since, minChars, limit
	return s.candidates, nil
}

func (s *stubStore) UpdateRawContent(_ context.Context, articleID int64, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updated == nil {
		s.updated = make(map[int64]string)
	}
	s.updated[articleID] = text
	return true, nil
}

func TestRunUpdatesOnlyLongerText(t *testing.T) {
	t.Parallel()

	short := "brief"
	long := strings.Repeat("x", 250)
	store := &stubStore{candidates: []db.Article{
		{ArticleID: 1, URL: "https://a.example/1", RawContent: &short},
		{ArticleID: 2, URL: "https://a.example/2"},
		{ArticleID: 3, URL: "https://a.example/3", RawContent: &long},
		{ArticleID: 4, URL: "https://a.example/4"},
	}}

	full := strings.Repeat("z", 8000)
	pages := map[string]string{
		"https://a.example/1": full,
		"https://a.example/2": "too short to keep",
		"https://a.example/3": strings.Repeat("y", 200),
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	enricher := NewEnricher(store, zerolog.Nop(), Options{
		Clock: func() time.Time { return now },
		Fetch: func(_ context.Context, pageURL string) (string, error) {
			page, ok := pages[pageURL]
			if !ok {
				return "", errors.New("connection refused")
			}
			return page, nil
		},
	})

	result, err := enricher.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempted != 4 || result.Enriched != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !store.since.Equal(now.Add(-2*time.Hour)) || store.minChars != 300 || store.limit != 20 {
		t.Fatalf("unexpected candidate query: since=%s min=%d limit=%d", store.since, store.minChars, store.limit)
	}
	text, ok := store.updated[1]
	if !ok || len([]rune(text)) != DefaultMaxChars {
		t.Fatalf("unexpected stored text length: %d", len([]rune(text)))
	}
}

func TestFetchTextExtractsArticleBody(t *testing.T) {
	t.Parallel()

	paragraph := "Community leaders gathered downtown on Sunday evening to condemn the vandalism of the synagogue."
	page := `<!doctype html><html><head><title>Story</title></head><body>
<nav><a href="/">Home</a></nav>
<article><h1>Story</h1>
<p>` + paragraph + `</p>
<p>` + paragraph + ` Police said the investigation is continuing and asked witnesses to come forward.</p>
<p>` + paragraph + ` The mayor is expected to address the city council on Monday about security funding.</p>
</article>
<footer>Copyright</footer>
</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	text, err := FetchText(context.Background(), server.URL+"/story", FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Community leaders gathered downtown") {
		t.Fatalf("unexpected text: %q", text)
	}
	if strings.Contains(text, "Copyright") {
		t.Fatalf("boilerplate leaked into text: %q", text)
	}

	if _, err := FetchText(context.Background(), server.URL+"/missing", FetchOptions{}); err == nil {
		t.Fatalf("expected error for missing page")
	}
}

func TestCleanTextAndClip(t *testing.T) {
	t.Parallel()

	input := "Share\r\n\r\n  This   paragraph is long enough to survive the fragment filter  \n\nMenu"
	if got, want := CleanText(input), "This paragraph is long enough to survive the fragment filter"; got != want {
		t.Fatalf("unexpected clean text: got %q want %q", got, want)
	}
	if got := Clip("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected clip: %q", got)
	}
	if got := Clip("abc", 0); got != "abc" {
		t.Fatalf("unexpected unbounded clip: %q", got)
	}
}
