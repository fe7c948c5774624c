package db

import (
	"context"
	"fmt"
	"time"
)

const claimUnanalyzedSQL = `
UPDATE watch.articles
SET analyzed = true
WHERE article_id = ANY($1)
  AND analyzed = false
RETURNING article_id
`

const listUnclusteredRelevantSQL = `
SELECT
	c.classification_id,
	c.article_id,
	a.title,
	a.source_name,
	a.url,
	c.summary,
	c.category,
	a.published_at
FROM watch.classifications c
JOIN watch.articles a ON a.article_id = c.article_id
WHERE c.is_relevant = true
  AND c.cluster_id IS NULL
  AND c.analyzed_at >= $1
ORDER BY c.classification_id ASC
`

// ClusterCandidate is a relevant classification that has not been assigned to a story cluster.
type ClusterCandidate struct {
	ClassificationID int64
	ArticleID        int64
	Title            string
	SourceName       string
	URL              string
	Summary          *string
	Category         *string
	PublishedAt      *time.Time
}

// InsertClassifications flips the analyzed flag of the articles and stores a judgment only for
// those it flipped, in one transaction. Articles already analyzed by a concurrent pass are left
// alone. The returned rows are the ones actually stored.
func (p *Pool) InsertClassifications(ctx context.Context, rows []Classification) ([]Classification, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var stored []Classification
	err := p.WithTx(ctx, func(tx Tx) error {
		var err error
		stored, err = insertClassificationsTx(ctx, tx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func insertClassificationsTx(ctx context.Context, tx Tx, rows []Classification) ([]Classification, error) {
	articleIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		articleIDs = append(articleIDs, row.ArticleID)
	}

	claimed, err := claimUnanalyzedTx(ctx, tx, articleIDs)
	if err != nil {
		return nil, err
	}

	stored := make([]Classification, 0, len(claimed))
	for _, row := range rows {
		if _, ok := claimed[row.ArticleID]; ok {
			stored = append(stored, row)
			delete(claimed, row.ArticleID)
		}
	}
	if len(stored) == 0 {
		return nil, nil
	}
	if err := tx.Create(ctx, &stored); err != nil {
		return nil, fmt.Errorf("insert %d classifications: %w", len(stored), err)
	}
	return stored, nil
}

func claimUnanalyzedTx(ctx context.Context, tx Tx, articleIDs []int64) (map[int64]struct{}, error) {
	rows, err := tx.Query(ctx, claimUnanalyzedSQL, articleIDs)
	if err != nil {
		return nil, fmt.Errorf("mark %d articles analyzed: %w", len(articleIDs), err)
	}
	defer rows.Close()

	claimed := make(map[int64]struct{}, len(articleIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan analyzed article id: %w", err)
		}
		claimed[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyzed article ids: %w", err)
	}
	return claimed, nil
}

// ListUnclusteredRelevant returns relevant classifications without a cluster, analyzed since the cutoff.
func (p *Pool) ListUnclusteredRelevant(ctx context.Context, since time.Time) ([]ClusterCandidate, error) {
	rows, err := p.Query(ctx, listUnclusteredRelevantSQL, since)
	if err != nil {
		return nil, fmt.Errorf("list unclustered relevant classifications: %w", err)
	}
	defer rows.Close()

	out := make([]ClusterCandidate, 0, 32)
	for rows.Next() {
		var c ClusterCandidate
		if err := rows.Scan(
			&c.ClassificationID,
			&c.ArticleID,
			&c.Title,
			&c.SourceName,
			&c.URL,
			&c.Summary,
			&c.Category,
			&c.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cluster candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster candidates: %w", err)
	}
	return out, nil
}
