package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// AppendRunStats writes one pipeline run row. Rows are never updated afterwards.
func (p *Pool) AppendRunStats(ctx context.Context, run *PipelineRun) error {
	if run == nil {
		return fmt.Errorf("pipeline run is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("append pipeline run %s: %w", run.RunUUID, err)
	}
	return nil
}

// ListRecentRuns returns runs that started after since, newest first. A zero limit returns all.
func (p *Pool) ListRecentRuns(ctx context.Context, since time.Time, limit int) ([]PipelineRun, error) {
	query := p.gdb.WithContext(ctx).
		Where("started_at >= ?", since).
		Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list recent pipeline runs: %w", err)
	}
	return runs, nil
}

// InsertIngestLogs records per-feed fetch outcomes.
func (p *Pool) InsertIngestLogs(ctx context.Context, logs []IngestLog) error {
	if len(logs) == 0 {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Create(&logs).Error; err != nil {
		return fmt.Errorf("insert %d ingest logs: %w", len(logs), err)
	}
	return nil
}
