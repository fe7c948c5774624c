package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const insertArticleSQL = `
INSERT INTO watch.articles (
	url,
	title,
	source_name,
	source_kind,
	author,
	published_at,
	fetched_at,
	raw_content,
	language,
	duplicate_of,
	analyzed
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (url) DO NOTHING
RETURNING article_id
`

const findArticleByURLSQL = `
SELECT article_id
FROM watch.articles
WHERE url = $1
`

const markDuplicateSQL = `
UPDATE watch.articles
SET duplicate_of = $2,
	analyzed = true
WHERE article_id = $1
  AND duplicate_of IS NULL
  AND article_id <> $2
`

const countRecentUnanalyzedSQL = `
SELECT COUNT(*)
FROM watch.articles
WHERE analyzed = false
  AND duplicate_of IS NULL
  AND fetched_at >= $1
`

const saveKeywordMatchSQL = `
UPDATE watch.articles
SET keyword_match = CAST($2 AS jsonb)
WHERE article_id = $1
  AND keyword_match IS NULL
`

const updateRawContentSQL = `
UPDATE watch.articles
SET raw_content = $2
WHERE article_id = $1
  AND COALESCE(length(raw_content), 0) < length($2)
`

// InsertArticle stores a newly ingested article. It reports false when the URL already exists.
func (p *Pool) InsertArticle(ctx context.Context, article *Article) (bool, error) {
	if article == nil {
		return false, fmt.Errorf("article is nil")
	}
	if strings.TrimSpace(article.URL) == "" {
		return false, fmt.Errorf("article url is required")
	}

	var id int64
	err := p.QueryRow(ctx, insertArticleSQL,
		article.URL,
		article.Title,
		article.SourceName,
		article.SourceKind,
		article.Author,
		article.PublishedAt,
		article.FetchedAt,
		article.RawContent,
		article.Language,
		article.DuplicateOf,
		article.Analyzed,
	).Scan(&id)
	if IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert article url=%s: %w", article.URL, err)
	}
	article.ArticleID = id
	return true, nil
}

// FindByURL returns the id of the article stored under url.
func (p *Pool) FindByURL(ctx context.Context, url string) (int64, bool, error) {
	var id int64
	err := p.QueryRow(ctx, findArticleByURLSQL, url).Scan(&id)
	if IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find article by url: %w", err)
	}
	return id, true, nil
}

// ListWindowForDedup returns every article fetched since the cutoff in ascending fetch order,
// duplicates included so callers can tell which ones are no longer eligible as originals.
func (p *Pool) ListWindowForDedup(ctx context.Context, since time.Time) ([]Article, error) {
	var rows []Article
	err := p.gdb.WithContext(ctx).
		Select("article_id", "title", "fetched_at", "duplicate_of").
		Where("fetched_at >= ?", since).
		Order("fetched_at ASC, article_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list dedup window: %w", err)
	}
	return rows, nil
}

// MarkDuplicate links articleID to originalID and takes it out of the classification queue.
// It reports false when the article was already linked.
func (p *Pool) MarkDuplicate(ctx context.Context, articleID, originalID int64) (bool, error) {
	tag, err := p.Exec(ctx, markDuplicateSQL, articleID, originalID)
	if err != nil {
		return false, fmt.Errorf("mark article %d duplicate of %d: %w", articleID, originalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindRecentUnanalyzed returns non-duplicate articles awaiting classification, oldest first.
func (p *Pool) FindRecentUnanalyzed(ctx context.Context, since time.Time, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Article
	err := p.gdb.WithContext(ctx).
		Where("analyzed = ? AND duplicate_of IS NULL AND fetched_at >= ?", false, since).
		Order("fetched_at ASC, article_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find recent unanalyzed articles: %w", err)
	}
	return rows, nil
}

func (p *Pool) CountRecentUnanalyzed(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := p.QueryRow(ctx, countRecentUnanalyzedSQL, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recent unanalyzed articles: %w", err)
	}
	return count, nil
}

// SaveKeywordMatches records filter decisions on articles that do not carry one yet.
func (p *Pool) SaveKeywordMatches(ctx context.Context, matches map[int64]KeywordMatch) error {
	if len(matches) == 0 {
		return nil
	}
	return p.WithTx(ctx, func(tx Tx) error {
		for articleID, match := range matches {
			payload, err := json.Marshal(match)
			if err != nil {
				return fmt.Errorf("encode keyword match article_id=%d: %w", articleID, err)
			}
			if _, err := tx.Exec(ctx, saveKeywordMatchSQL, articleID, string(payload)); err != nil {
				return fmt.Errorf("save keyword match article_id=%d: %w", articleID, err)
			}
		}
		return nil
	})
}

// ListEnrichmentCandidates returns recent unanalyzed articles whose excerpt is shorter than minChars.
func (p *Pool) ListEnrichmentCandidates(ctx context.Context, since time.Time, minChars, limit int) ([]Article, error) {
	var rows []Article
	err := p.gdb.WithContext(ctx).
		Select("article_id", "url", "title", "raw_content").
		Where("analyzed = ? AND duplicate_of IS NULL AND fetched_at >= ? AND COALESCE(length(raw_content), 0) < ?", false, since, minChars).
		Order("fetched_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list enrichment candidates: %w", err)
	}
	return rows, nil
}

// UpdateRawContent replaces the excerpt only when the new text is longer.
func (p *Pool) UpdateRawContent(ctx context.Context, articleID int64, text string) (bool, error) {
	tag, err := p.Exec(ctx, updateRawContentSQL, articleID, text)
	if err != nil {
		return false, fmt.Errorf("update raw content article_id=%d: %w", articleID, err)
	}
	return tag.RowsAffected() == 1, nil
}
