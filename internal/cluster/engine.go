// Package cluster groups relevant, not yet clustered classifications into stories, one category
// partition at a time.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newswatch/internal/category"
	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/llm"
)

const (
	DefaultMinArticles = 4
	DefaultConcurrency = 4
	minPartitionSize   = 2
)

type Store interface {
	ListUnclusteredRelevant(ctx context.Context, since time.Time) ([]db.ClusterCandidate, error)
	InsertClusterBatch(ctx context.Context, drafts []db.ClusterDraft) ([]db.StoryCluster, error)
}

// Grouper proposes story groups for the members of one category.
type Grouper interface {
	GroupStories(ctx context.Context, categoryName string, members []llm.StoryMember) ([]llm.StoryGroup, error)
}

type Options struct {
	// MinArticles skips the whole run when fewer candidates exist. Zero disables the rule.
	MinArticles int
	Concurrency int
}

type Engine struct {
	store   Store
	grouper Grouper
	logger  zerolog.Logger
	opts    Options
}

// PartitionOutcome reports one category. Err is set when the partition produced nothing because
// grouping or persistence failed; Errors lists the rejected parts of otherwise usable output.
type PartitionOutcome struct {
	Category  string
	Members   int
	Clusters  []db.StoryCluster
	Clustered int
	Errors    []string
	Err       error
}

type Result struct {
	Candidates        int
	Partitions        int
	ClustersFormed    int
	ArticlesClustered int
	SkippedReason     string
	Outcomes          []PartitionOutcome
}

// Failed lists the partitions whose grouping or persistence failed.
func (r Result) Failed() []PartitionOutcome {
	var out []PartitionOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			out = append(out, outcome)
		}
	}
	return out
}

// Err joins partition failures, or returns nil when every partition succeeded.
func (r Result) Err() error {
	var errs []error
	for _, outcome := range r.Failed() {
		errs = append(errs, fmt.Errorf("category %q: %w", outcome.Category, outcome.Err))
	}
	return errors.Join(errs...)
}

func NewEngine(store Store, grouper Grouper, logger zerolog.Logger, opts Options) *Engine {
	if opts.MinArticles < 0 {
		opts.MinArticles = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Engine{store: store, grouper: grouper, logger: logger, opts: opts}
}

// Run clusters every relevant classification since the cutoff that has no cluster yet.
// Existing clusters are never revisited.
func (e *Engine) Run(ctx context.Context, since time.Time) (Result, error) {
	candidates, err := e.store.ListUnclusteredRelevant(ctx, since)
	if err != nil {
		return Result{}, fmt.Errorf("list cluster candidates: %w", err)
	}

	result := Result{Candidates: len(candidates)}
	if e.opts.MinArticles > 0 && len(candidates) < e.opts.MinArticles {
		result.SkippedReason = fmt.Sprintf("only %d unclustered relevant articles, need %d", len(candidates), e.opts.MinArticles)
		e.logger.Info().Int("candidates", len(candidates)).Int("min_articles", e.opts.MinArticles).Msg("clustering skipped")
		return result, nil
	}

	partitions := partition(candidates)
	result.Partitions = len(partitions)
	if len(partitions) == 0 {
		result.SkippedReason = "no category has at least two unclustered articles"
		return result, nil
	}

	outcomes := make([]PartitionOutcome, len(partitions))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)
	for i, part := range partitions {
		group.Go(func() error {
			outcomes[i] = e.runPartition(groupCtx, part.category, part.members)
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.Outcomes = outcomes
	for _, outcome := range outcomes {
		result.ClustersFormed += len(outcome.Clusters)
		result.ArticlesClustered += outcome.Clustered
	}

	e.logger.Info().
		Int("candidates", result.Candidates).
		Int("partitions", result.Partitions).
		Int("clusters_formed", result.ClustersFormed).
		Int("articles_clustered", result.ArticlesClustered).
		Int("failed_partitions", len(result.Failed())).
		Msg("clustering finished")
	return result, nil
}

type categoryPartition struct {
	category string
	members  []db.ClusterCandidate
}

// partition buckets candidates by category in taxonomy order and drops buckets too small to group.
func partition(candidates []db.ClusterCandidate) []categoryPartition {
	byCategory := make(map[string][]db.ClusterCandidate)
	for _, candidate := range candidates {
		name := category.OrDefault(candidate.Category)
		byCategory[name] = append(byCategory[name], candidate)
	}

	out := make([]categoryPartition, 0, len(byCategory))
	for name, members := range byCategory {
		if len(members) < minPartitionSize {
			continue
		}
		out = append(out, categoryPartition{category: name, members: members})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := category.Rank(out[i].category), category.Rank(out[j].category)
		if ri != rj {
			return ri < rj
		}
		return out[i].category < out[j].category
	})
	return out
}

func (e *Engine) runPartition(ctx context.Context, categoryName string, members []db.ClusterCandidate) PartitionOutcome {
	outcome := PartitionOutcome{Category: categoryName, Members: len(members)}
	log := e.logger.With().Str("category", categoryName).Int("members", len(members)).Logger()

	input := make([]llm.StoryMember, len(members))
	for i, member := range members {
		summary := ""
		if member.Summary != nil {
			summary = *member.Summary
		}
		input[i] = llm.StoryMember{
			ID:      memberID(member.ClassificationID),
			Title:   member.Title,
			Source:  member.SourceName,
			Summary: summary,
		}
	}

	groups, err := e.grouper.GroupStories(ctx, categoryName, input)
	if err != nil {
		outcome.Err = fmt.Errorf("group stories: %w", err)
		log.Error().Err(err).Bool("malformed", llm.IsParseError(err)).Msg("story grouping failed")
		return outcome
	}

	drafts, dataErrors := buildDrafts(categoryName, members, groups)
	outcome.Errors = dataErrors
	for _, msg := range dataErrors {
		log.Warn().Str("detail", msg).Msg("story group rejected")
	}
	if len(drafts) == 0 {
		return outcome
	}

	clusters, err := e.store.InsertClusterBatch(ctx, drafts)
	if err != nil {
		outcome.Err = fmt.Errorf("persist %d clusters: %w", len(drafts), err)
		log.Error().Err(err).Msg("cluster persistence failed")
		return outcome
	}

	outcome.Clusters = clusters
	for _, draft := range drafts {
		outcome.Clustered += 1 + len(draft.RelatedClassificationIDs)
	}
	return outcome
}

// buildDrafts validates proposed groups against the partition. Unknown primaries skip the group;
// unknown, self-referencing or already assigned related ids are dropped. A group left with no
// related ids is a single-article story and is not persisted.
func buildDrafts(categoryName string, members []db.ClusterCandidate, groups []llm.StoryGroup) ([]db.ClusterDraft, []string) {
	known := make(map[string]db.ClusterCandidate, len(members))
	for _, member := range members {
		known[memberID(member.ClassificationID)] = member
	}

	used := make(map[int64]struct{}, len(members))
	drafts := make([]db.ClusterDraft, 0, len(groups))
	var dataErrors []string

	for i, group := range groups {
		primaryKey := strings.TrimSpace(group.PrimaryID)
		primary, ok := known[primaryKey]
		if !ok {
			dataErrors = append(dataErrors, fmt.Sprintf("group %d: primary %q is not in the partition", i, primaryKey))
			continue
		}
		if _, taken := used[primary.ClassificationID]; taken {
			dataErrors = append(dataErrors, fmt.Sprintf("group %d: primary %q already belongs to another group", i, primaryKey))
			continue
		}

		related := make([]int64, 0, len(group.RelatedIDs))
		seen := map[int64]struct{}{primary.ClassificationID: {}}
		for _, raw := range group.RelatedIDs {
			key := strings.TrimSpace(raw)
			member, ok := known[key]
			switch {
			case !ok:
				dataErrors = append(dataErrors, fmt.Sprintf("group %d: related %q is not in the partition", i, key))
				continue
			case member.ClassificationID == primary.ClassificationID:
				dataErrors = append(dataErrors, fmt.Sprintf("group %d: related %q repeats the primary", i, key))
				continue
			}
			if _, dup := seen[member.ClassificationID]; dup {
				dataErrors = append(dataErrors, fmt.Sprintf("group %d: related %q listed twice", i, key))
				continue
			}
			if _, taken := used[member.ClassificationID]; taken {
				dataErrors = append(dataErrors, fmt.Sprintf("group %d: related %q already belongs to another group", i, key))
				continue
			}
			seen[member.ClassificationID] = struct{}{}
			related = append(related, member.ClassificationID)
		}

		if len(related) == 0 {
			continue
		}

		used[primary.ClassificationID] = struct{}{}
		for _, id := range related {
			used[id] = struct{}{}
		}

		headline := strings.TrimSpace(group.Headline)
		if headline == "" {
			headline = primary.Title
		}
		name := categoryName
		drafts = append(drafts, db.ClusterDraft{
			Headline:                 headline,
			Category:                 &name,
			PrimaryClassificationID:  primary.ClassificationID,
			RelatedClassificationIDs: related,
		})
	}
	return drafts, dataErrors
}

func memberID(classificationID int64) string {
	return strconv.FormatInt(classificationID, 10)
}
