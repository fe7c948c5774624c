package db

import (
	"context"
	"fmt"
	"strings"
)

const updateClusterMembershipSQL = `
UPDATE watch.classifications
SET cluster_id = $1,
	is_primary_in_cluster = (classification_id = $2)
WHERE classification_id = ANY($3)
  AND cluster_id IS NULL
  AND is_relevant = true
`

// ClusterDraft is a validated story group waiting to be persisted.
type ClusterDraft struct {
	Headline                 string
	Category                 *string
	PrimaryClassificationID  int64
	RelatedClassificationIDs []int64
}

func (d ClusterDraft) memberIDs() []int64 {
	ids := make([]int64, 0, 1+len(d.RelatedClassificationIDs))
	ids = append(ids, d.PrimaryClassificationID)
	return append(ids, d.RelatedClassificationIDs...)
}

// InsertClusterBatch creates all drafts with one multi-row insert and assigns their members in
// the same transaction. Any member that is already clustered rolls back the whole batch.
func (p *Pool) InsertClusterBatch(ctx context.Context, drafts []ClusterDraft) ([]StoryCluster, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	clusters := make([]StoryCluster, 0, len(drafts))
	for _, draft := range drafts {
		if len(draft.RelatedClassificationIDs) == 0 {
			return nil, fmt.Errorf("cluster draft for primary %d has no related members", draft.PrimaryClassificationID)
		}
		clusters = append(clusters, StoryCluster{
			Headline:     strings.TrimSpace(draft.Headline),
			ArticleCount: 1 + len(draft.RelatedClassificationIDs),
			Category:     draft.Category,
		})
	}

	err := p.WithTx(ctx, func(tx Tx) error {
		if err := tx.Create(ctx, &clusters); err != nil {
			return fmt.Errorf("insert %d story clusters: %w", len(clusters), err)
		}
		for i, draft := range drafts {
			if err := UpdateClusterMembership(ctx, tx, clusters[i].ClusterID, draft); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clusters, nil
}

// UpdateClusterMembership points every member of draft at clusterID and marks the primary.
func UpdateClusterMembership(ctx context.Context, tx Tx, clusterID int64, draft ClusterDraft) error {
	members := draft.memberIDs()
	tag, err := tx.Exec(ctx, updateClusterMembershipSQL, clusterID, draft.PrimaryClassificationID, members)
	if err != nil {
		return fmt.Errorf("update membership cluster_id=%d: %w", clusterID, err)
	}
	if tag.RowsAffected() != int64(len(members)) {
		return fmt.Errorf(
			"update membership cluster_id=%d: assigned %d of %d members",
			clusterID,
			tag.RowsAffected(),
			len(members),
		)
	}
	return nil
}
