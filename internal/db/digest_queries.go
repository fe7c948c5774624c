package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm/clause"
)

// DigestRow is one relevant article with its classification and cluster linkage.
type DigestRow struct {
	ClassificationID   int64
	ArticleID          int64
	Title              string
	URL                string
	SourceName         string
	PublishedAt        *time.Time
	FetchedAt          time.Time
	Summary            *string
	Category           *string
	ClusterID          *int64
	IsPrimaryInCluster bool
	ClusterHeadline    *string
}

// DigestFilter narrows ListDigestRows. Zero values mean no restriction.
type DigestFilter struct {
	Since    time.Time
	Category string
	Limit    int
}

func buildDigestQuery(filter DigestFilter) sq.SelectBuilder {
	query := psql.
		Select(
			"c.classification_id",
			"a.article_id",
			"a.title",
			"a.url",
			"a.source_name",
			"a.published_at",
			"a.fetched_at",
			"c.summary",
			"c.category",
			"c.cluster_id",
			"c.is_primary_in_cluster",
			"sc.headline",
		).
		From("watch.classifications c").
		Join("watch.articles a ON a.article_id = c.article_id").
		LeftJoin("watch.story_clusters sc ON sc.cluster_id = c.cluster_id").
		Where(sq.Eq{"c.is_relevant": true}).
		OrderBy("a.published_at DESC NULLS LAST", "c.classification_id ASC")

	if !filter.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"c.analyzed_at": filter.Since})
	}
	if filter.Category != "" {
		query = query.Where(sq.Eq{"c.category": filter.Category})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	return query
}

// ListDigestRows returns relevant classifications for digest assembly, newest publication first.
func (p *Pool) ListDigestRows(ctx context.Context, filter DigestFilter) ([]DigestRow, error) {
	sqlText, args, err := buildDigestQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build digest query: %w", err)
	}

	rows, err := p.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list digest rows: %w", err)
	}
	defer rows.Close()

	out := make([]DigestRow, 0, 64)
	for rows.Next() {
		var r DigestRow
		if err := rows.Scan(
			&r.ClassificationID,
			&r.ArticleID,
			&r.Title,
			&r.URL,
			&r.SourceName,
			&r.PublishedAt,
			&r.FetchedAt,
			&r.Summary,
			&r.Category,
			&r.ClusterID,
			&r.IsPrimaryInCluster,
			&r.ClusterHeadline,
		); err != nil {
			return nil, fmt.Errorf("scan digest row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest rows: %w", err)
	}
	return out, nil
}

// UpsertCategorySummary stores the bullet summary for one category and run date.
func (p *Pool) UpsertCategorySummary(ctx context.Context, runDate, category string, bullets []string, articleCount int) error {
	payload, err := json.Marshal(bullets)
	if err != nil {
		return fmt.Errorf("encode summary bullets: %w", err)
	}

	row := CategorySummary{
		RunDate:      runDate,
		Category:     category,
		Bullets:      payload,
		ArticleCount: articleCount,
	}
	err = p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_date"}, {Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary_bullets", "article_count", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert category summary %s/%s: %w", runDate, category, err)
	}
	return nil
}

// UpsertFeedback records a reviewer rating for an article, replacing any earlier rating.
func (p *Pool) UpsertFeedback(ctx context.Context, articleID int64, rating string) error {
	switch rating {
	case FeedbackRelevant, FeedbackNotRelevant:
	default:
		return fmt.Errorf("unsupported feedback rating %q", rating)
	}

	row := Feedback{ArticleID: articleID, Rating: rating}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert feedback article_id=%d: %w", articleID, err)
	}
	return nil
}

// ArticleExists reports whether articleID is stored.
func (p *Pool) ArticleExists(ctx context.Context, articleID int64) (bool, error) {
	var count int64
	if err := p.gdb.WithContext(ctx).Model(&Article{}).Where("article_id = ?", articleID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check article %d: %w", articleID, err)
	}
	return count > 0, nil
}
