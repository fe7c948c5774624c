package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
	"horse.fit/newswatch/internal/langdetect"
)

const (
	DefaultGNewsEndpoint = "https://gnews.io/api/v4"
	defaultGNewsInterval = 200 * time.Millisecond
	defaultGNewsMax      = 25
	maxGNewsBody         = 4 << 20
)

type GNewsOptions struct {
	APIKey     string
	Endpoint   string
	Language   string
	MaxResults int
	Queries    []Query
	MaxAge     time.Duration
	// Interval is the minimum spacing between search requests.
	Interval   time.Duration
	HTTPClient *http.Client
	Clock      globaltime.Clock
}

// GNews runs configured searches against the GNews v4 API.
type GNews struct {
	opts    GNewsOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

type gnewsResponse struct {
	TotalArticles int            `json:"totalArticles"`
	Articles      []gnewsArticle `json:"articles"`
}

type gnewsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}

func NewGNews(opts GNewsOptions, logger zerolog.Logger) *GNews {
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	opts.Endpoint = strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultGNewsEndpoint
	}
	opts.Language = langdetect.NormalizeCode(opts.Language)
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultGNewsMax
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultGNewsInterval
	}
	opts.Clock = globaltime.OrDefault(opts.Clock)

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GNews{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		logger:  logger,
	}
}

func (g *GNews) Name() string { return db.SourceKindGNews }

// Enabled reports whether an API key is configured.
func (g *GNews) Enabled() bool {
	return g.opts.APIKey != ""
}

// Fetch runs queries in priority order, one at a time. A failed query is reported and the rest
// still run.
func (g *GNews) Fetch(ctx context.Context) (Batch, error) {
	if !g.Enabled() {
		return Batch{Skipped: "GNEWS_API_KEY not configured"}, nil
	}
	if len(g.opts.Queries) == 0 {
		return Batch{Skipped: "no active GNews queries"}, nil
	}

	from := g.opts.Clock().Add(-g.opts.MaxAge).UTC()
	batch := Batch{Feeds: make([]FeedResult, 0, len(g.opts.Queries))}
	for _, query := range g.opts.Queries {
		if err := g.limiter.Wait(ctx); err != nil {
			return batch, err
		}

		result := FeedResult{
			Kind:       db.SourceKindGNews,
			SourceName: "GNews: " + query.Query,
			FeedURL:    "gnews:search?q=" + url.QueryEscape(query.Query),
		}
		items, err := g.search(ctx, query.Query, from)
		if err != nil {
			result.Err = fmt.Errorf("query %q: %w", query.Query, err)
			g.logger.Warn().Err(err).Str("query", query.Query).Msg("gnews query failed")
		}
		result.Items = items
		batch.Feeds = append(batch.Feeds, result)
	}
	return batch, nil
}

func (g *GNews) search(ctx context.Context, query string, from time.Time) ([]Item, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("lang", g.opts.Language)
	params.Set("max", strconv.Itoa(g.opts.MaxResults))
	params.Set("sortby", "publishedAt")
	params.Set("from", from.Format(time.RFC3339))
	params.Set("apikey", g.opts.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.Endpoint+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", redactKey(err, g.opts.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGNewsBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("gnews", resp.StatusCode, body)
	}

	var decoded gnewsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]Item, 0, len(decoded.Articles))
	for _, article := range decoded.Articles {
		link := strings.TrimSpace(article.URL)
		if link == "" {
			continue
		}
		title := collapseSpace(article.Title)
		if title == "" {
			title = untitled
		}
		body := PlainText(article.Content)
		if body == "" {
			body = PlainText(article.Description)
		}
		sourceName := collapseSpace(article.Source.Name)
		if sourceName == "" {
			sourceName = "GNews"
		}

		items = append(items, Item{
			URL:         link,
			Title:       title,
			PublishedAt: parseTimestamp(article.PublishedAt),
			BodyExcerpt: optional(body),
			SourceName:  sourceName,
			Kind:        db.SourceKindGNews,
		})
	}
	return items, nil
}

func parseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

// redactKey keeps the API key out of logged transport errors, which embed the request URL.
func redactKey(err error, key string) error {
	if err == nil || key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), key, "REDACTED"))
}
