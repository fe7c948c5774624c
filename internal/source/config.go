package source

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"horse.fit/newswatch/internal/db"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Feed is one RSS or Atom feed.
type Feed struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	Disabled bool   `yaml:"disabled"`
}

// Query is one GNews search. Higher priority runs first.
type Query struct {
	Query    string `yaml:"query"`
	Category string `yaml:"category"`
	Priority int    `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`
}

type GNewsSettings struct {
	Language   string  `yaml:"language"`
	MaxResults int     `yaml:"max_results"`
	Queries    []Query `yaml:"queries"`
}

// File is the sources file layout.
type File struct {
	RSS   []Feed        `yaml:"rss"`
	GNews GNewsSettings `yaml:"gnews"`
}

// LoadFile reads the sources file at path. A blank path or a missing file yields the built-in
// source list; a file that exists but does not parse is an error.
func LoadFile(path string) (File, bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		file, err := parseFile(defaultsYAML)
		return file, true, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		file, err := parseFile(defaultsYAML)
		return file, true, err
	}
	if err != nil {
		return File{}, false, fmt.Errorf("read sources file %s: %w", path, err)
	}

	file, err := parseFile(raw)
	if err != nil {
		return File{}, false, fmt.Errorf("sources file %s: %w", path, err)
	}
	return file, false, nil
}

func parseFile(raw []byte) (File, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return File{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f File) Validate() error {
	seen := make(map[string]struct{}, len(f.RSS))
	for i, feed := range f.RSS {
		if strings.TrimSpace(feed.Name) == "" {
			return fmt.Errorf("rss[%d]: name is required", i)
		}
		if !strings.HasPrefix(feed.URL, "http://") && !strings.HasPrefix(feed.URL, "https://") {
			return fmt.Errorf("rss[%d] %q: url must be http or https", i, feed.Name)
		}
		if _, dup := seen[feed.URL]; dup {
			return fmt.Errorf("rss[%d] %q: duplicate url %s", i, feed.Name, feed.URL)
		}
		seen[feed.URL] = struct{}{}
	}
	for i, query := range f.GNews.Queries {
		if strings.TrimSpace(query.Query) == "" {
			return fmt.Errorf("gnews.queries[%d]: query is required", i)
		}
	}
	if f.GNews.MaxResults < 0 || f.GNews.MaxResults > 100 {
		return fmt.Errorf("gnews.max_results must be between 0 and 100")
	}
	return nil
}

// ActiveFeeds returns the enabled feeds in file order.
func (f File) ActiveFeeds() []Feed {
	out := make([]Feed, 0, len(f.RSS))
	for _, feed := range f.RSS {
		if !feed.Disabled {
			out = append(out, feed)
		}
	}
	return out
}

// ActiveQueries returns the enabled queries, highest priority first.
func (f File) ActiveQueries() []Query {
	out := make([]Query, 0, len(f.GNews.Queries))
	for _, query := range f.GNews.Queries {
		if !query.Disabled {
			out = append(out, query)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Build turns the sources file into fetchers. GNews is always included and reports itself
// skipped when apiKey is blank.
func (f File) Build(apiKey string, maxAge time.Duration, logger zerolog.Logger) []Source {
	return []Source{
		NewRSS(RSSOptions{Feeds: f.ActiveFeeds(), MaxAge: maxAge}, logger.With().Str("source", db.SourceKindRSS).Logger()),
		NewGNews(GNewsOptions{
			APIKey:     apiKey,
			Language:   f.GNews.Language,
			MaxResults: f.GNews.MaxResults,
			Queries:    f.ActiveQueries(),
			MaxAge:     maxAge,
		}, logger.With().Str("source", db.SourceKindGNews).Logger()),
	}
}
