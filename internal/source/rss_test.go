package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Sample</title>
  <item>
    <title>  Synagogue hosts   interfaith dinner </title>
    <link>https://example.com/a</link>
    <dc:creator>Dana Levi</dc:creator>
    <pubDate>Sun, 01 Mar 2026 08:00:00 GMT</pubDate>
    <description><![CDATA[<p>Community leaders <b>gathered</b> downtown.</p><img src="x.gif"/>]]></description>
  </item>
  <item>
    <title></title>
    <link>https://example.com/b</link>
    <pubDate>Sun, 01 Mar 2026 07:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Old story</title>
    <link>https://example.com/old</link>
    <pubDate>Fri, 27 Feb 2026 08:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Undated story</title>
    <link>https://example.com/undated</link>
  </item>
</channel>
</rss>`

func TestRSSFetchKeepsRecentItems(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(sampleFeed))
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	defer server.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rss := NewRSS(RSSOptions{
		Feeds: []Feed{
			{Name: "Sample", URL: server.URL + "/feed"},
			{Name: "Broken", URL: server.URL + "/missing"},
		},
		MaxAge: 24 * time.Hour,
		Clock:  func() time.Time { return now },
	}, zerolog.Nop())

	batch, err := rss.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Feeds) != 2 {
		t.Fatalf("unexpected feed results: %d", len(batch.Feeds))
	}
	if batch.Failed() {
		t.Fatalf("batch must not be failed when one feed succeeds")
	}

	sample, broken := batch.Feeds[0], batch.Feeds[1]
	if broken.Err == nil || len(broken.Items) != 0 {
		t.Fatalf("expected broken feed error: %+v", broken)
	}
	if sample.Err != nil {
		t.Fatalf("unexpected sample error: %v", sample.Err)
	}
	if len(sample.Items) != 2 {
		t.Fatalf("unexpected item count: got %d want 2", len(sample.Items))
	}

	first := sample.Items[0]
	if first.Title != "Synagogue hosts interfaith dinner" || first.URL != "https://example.com/a" {
		t.Fatalf("unexpected first item: %+v", first)
	}
	if first.Author == nil || *first.Author != "Dana Levi" {
		t.Fatalf("unexpected author: %v", first.Author)
	}
	if first.BodyExcerpt == nil || *first.BodyExcerpt != "Community leaders gathered downtown." {
		t.Fatalf("unexpected excerpt: %v", first.BodyExcerpt)
	}
	if first.SourceName != "Sample" || first.Kind != "rss" {
		t.Fatalf("unexpected source fields: %+v", first)
	}
	if sample.Items[1].Title != untitled || sample.Items[1].BodyExcerpt != nil {
		t.Fatalf("unexpected second item: %+v", sample.Items[1])
	}

	log := sample.IngestLog(1)
	if log.ArticlesFound != 2 || log.ArticlesNew != 1 || log.ErrorMessage != nil {
		t.Fatalf("unexpected ingest log: %+v", log)
	}
	if broken.IngestLog(0).ErrorMessage == nil {
		t.Fatalf("expected error message on failed feed log")
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "  plain   text  ", want: "plain text"},
		{in: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{in: "<p>One</p><script>alert(1)</script><p>Two <a href='#'>more</a></p>", want: "One\n\nTwo more"},
		{in: "<div>Loose <em>markup</em></div>", want: "Loose markup"},
	}
	for _, tc := range cases {
		if got := PlainText(tc.in); got != tc.want {
			t.Fatalf("unexpected plain text for %q: got %q want %q", tc.in, got, tc.want)
		}
	}
}
