package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(ctx context.Context, p *Pool) error
}

// autoMigrate creates the watch schema, lets gorm converge the tables and then
// applies the partial indexes and constraints gorm cannot express.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	steps := []migrationStep{
		{name: "pre-auto-migrate", run: sqlStep(preAutoMigrateSQL)},
		{name: "gorm auto-migrate models", run: func(ctx context.Context, p *Pool) error {
			return p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{name: "post-auto-migrate", run: sqlStep(postAutoMigrateSQL)},
	}

	for _, step := range steps {
		if err := step.run(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func sqlStep(sqlText string) func(ctx context.Context, p *Pool) error {
	return func(ctx context.Context, p *Pool) error {
		trimmed := strings.TrimSpace(sqlText)
		if trimmed == "" {
			return nil
		}
		return p.gdb.WithContext(ctx).Exec(trimmed).Error
	}
}
