package db

import (
	"encoding/json"
	"time"
)

const (
	SourceKindRSS   = "rss"
	SourceKindGNews = "gnews"

	TierPrimary   = "primary"
	TierSecondary = "secondary"
	TierContext   = "context"

	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"

	FeedbackRelevant    = "relevant"
	FeedbackNotRelevant = "not_relevant"
)

// KeywordMatch is the filter audit record stored on an article.
type KeywordMatch struct {
	Keywords   []string `json:"keywords"`
	Confidence string   `json:"confidence"`
	Reason     string   `json:"reason"`
}

// Article maps watch.articles.
type Article struct {
	ArticleID    int64           `gorm:"column:article_id;primaryKey;autoIncrement"`
	URL          string          `gorm:"column:url;type:text;not null;uniqueIndex"`
	Title        string          `gorm:"column:title;type:text;not null"`
	SourceName   string          `gorm:"column:source_name;type:text;not null"`
	SourceKind   string          `gorm:"column:source_kind;type:text;not null"`
	Author       *string         `gorm:"column:author;type:text"`
	PublishedAt  *time.Time      `gorm:"column:published_at;type:timestamptz"`
	FetchedAt    time.Time       `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	RawContent   *string         `gorm:"column:raw_content;type:text"`
	Language     *string         `gorm:"column:language;type:text"`
	DuplicateOf  *int64          `gorm:"column:duplicate_of;type:bigint"`
	KeywordMatch json.RawMessage `gorm:"column:keyword_match;type:jsonb"`
	Analyzed     bool            `gorm:"column:analyzed;not null;default:false"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "watch.articles" }

// Content returns the raw excerpt or an empty string.
func (a Article) Content() string {
	if a.RawContent == nil {
		return ""
	}
	return *a.RawContent
}

// KeywordRule maps watch.keyword_rules.
type KeywordRule struct {
	RuleID    int64     `gorm:"column:rule_id;primaryKey;autoIncrement"`
	Keyword   string    `gorm:"column:keyword;type:text;not null;uniqueIndex"`
	Tier      string    `gorm:"column:tier;type:text;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (KeywordRule) TableName() string { return "watch.keyword_rules" }

// Classification maps watch.classifications.
type Classification struct {
	ClassificationID   int64     `gorm:"column:classification_id;primaryKey;autoIncrement"`
	ArticleID          int64     `gorm:"column:article_id;type:bigint;not null;uniqueIndex"`
	IsRelevant         bool      `gorm:"column:is_relevant;not null"`
	Summary            *string   `gorm:"column:summary;type:text"`
	Category           *string   `gorm:"column:category;type:text"`
	ModelUsed          string    `gorm:"column:model_used;type:text;not null"`
	ClusterID          *int64    `gorm:"column:cluster_id;type:bigint;index"`
	IsPrimaryInCluster bool      `gorm:"column:is_primary_in_cluster;not null;default:false"`
	AnalyzedAt         time.Time `gorm:"column:analyzed_at;type:timestamptz;not null;default:now()"`
}

func (Classification) TableName() string { return "watch.classifications" }

// StoryCluster maps watch.story_clusters.
type StoryCluster struct {
	ClusterID    int64     `gorm:"column:cluster_id;primaryKey;autoIncrement"`
	Headline     string    `gorm:"column:headline;type:text;not null"`
	ArticleCount int       `gorm:"column:article_count;type:integer;not null"`
	Category     *string   `gorm:"column:category;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StoryCluster) TableName() string { return "watch.story_clusters" }

// PipelineRun maps watch.pipeline_runs.
type PipelineRun struct {
	RunID                  int64      `gorm:"column:run_id;primaryKey;autoIncrement" json:"run_id"`
	RunUUID                string     `gorm:"column:run_uuid;type:uuid;not null;unique" json:"run_uuid"`
	RunDate                string     `gorm:"column:run_date;type:date;not null" json:"run_date"`
	Status                 string     `gorm:"column:status;type:text;not null" json:"status"`
	StartedAt              time.Time  `gorm:"column:started_at;type:timestamptz;not null" json:"started_at"`
	FinishedAt             *time.Time `gorm:"column:finished_at;type:timestamptz" json:"finished_at"`
	ArticlesIngested       int        `gorm:"column:articles_ingested;type:integer;not null;default:0" json:"articles_ingested"`
	ArticlesFromRSS        int        `gorm:"column:articles_from_rss;type:integer;not null;default:0" json:"articles_from_rss"`
	ArticlesFromGNews      int        `gorm:"column:articles_from_gnews;type:integer;not null;default:0" json:"articles_from_gnews"`
	DuplicatesMarked       int        `gorm:"column:duplicates_marked;type:integer;not null;default:0" json:"duplicates_marked"`
	ArticlesKeywordPassed  int        `gorm:"column:articles_keyword_passed;type:integer;not null;default:0" json:"articles_keyword_passed"`
	ArticlesKeywordSkipped int        `gorm:"column:articles_keyword_skipped;type:integer;not null;default:0" json:"articles_keyword_skipped"`
	ArticlesAnalyzed       int        `gorm:"column:articles_analyzed;type:integer;not null;default:0" json:"articles_analyzed"`
	ArticlesRelevant       int        `gorm:"column:articles_relevant;type:integer;not null;default:0" json:"articles_relevant"`
	RemainingUnanalyzed    int        `gorm:"column:remaining_unanalyzed;type:integer;not null;default:0" json:"remaining_unanalyzed"`
	AnalysisAttempts       int        `gorm:"column:analysis_attempts;type:integer;not null;default:0" json:"analysis_attempts"`
	ClustersFormed         int        `gorm:"column:clusters_formed;type:integer;not null;default:0" json:"clusters_formed"`
	ClusteringSkipped      bool       `gorm:"column:clustering_skipped;not null;default:false" json:"clustering_skipped"`
	ClusteringError        *string    `gorm:"column:clustering_error;type:text" json:"clustering_error"`
	DigestItems            int        `gorm:"column:digest_items;type:integer;not null;default:0" json:"digest_items"`
	TotalDurationMs        int64      `gorm:"column:total_duration_ms;type:bigint;not null;default:0" json:"total_duration_ms"`
	ErrorMessage           *string    `gorm:"column:error_message;type:text" json:"error_message"`
}

func (PipelineRun) TableName() string { return "watch.pipeline_runs" }

// IngestLog maps watch.ingest_logs.
type IngestLog struct {
	IngestLogID   int64     `gorm:"column:ingest_log_id;primaryKey;autoIncrement"`
	SourceKind    string    `gorm:"column:source_kind;type:text;not null"`
	SourceName    string    `gorm:"column:source_name;type:text;not null"`
	FeedURL       string    `gorm:"column:feed_url;type:text;not null"`
	ArticlesFound int       `gorm:"column:articles_found;type:integer;not null;default:0"`
	ArticlesNew   int       `gorm:"column:articles_new;type:integer;not null;default:0"`
	ErrorMessage  *string   `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (IngestLog) TableName() string { return "watch.ingest_logs" }

// Feedback maps watch.feedback.
type Feedback struct {
	FeedbackID int64     `gorm:"column:feedback_id;primaryKey;autoIncrement"`
	ArticleID  int64     `gorm:"column:article_id;type:bigint;not null;uniqueIndex"`
	Rating     string    `gorm:"column:rating;type:text;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Feedback) TableName() string { return "watch.feedback" }

// CategorySummary maps watch.category_summaries.
type CategorySummary struct {
	SummaryID    int64           `gorm:"column:summary_id;primaryKey;autoIncrement"`
	RunDate      string          `gorm:"column:run_date;type:date;not null;uniqueIndex:category_summaries_run_date_category_key"`
	Category     string          `gorm:"column:category;type:text;not null;uniqueIndex:category_summaries_run_date_category_key"`
	Bullets      json.RawMessage `gorm:"column:summary_bullets;type:jsonb;not null"`
	ArticleCount int             `gorm:"column:article_count;type:integer;not null"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CategorySummary) TableName() string { return "watch.category_summaries" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&KeywordRule{},
		&StoryCluster{},
		&Classification{},
		&PipelineRun{},
		&IngestLog{},
		&Feedback{},
		&CategorySummary{},
	}
}
