package db

import (
	"context"
	"fmt"
	"strings"
)

// ActiveKeywordRules returns every active rule. Keywords are lower-cased and trimmed.
func (p *Pool) ActiveKeywordRules(ctx context.Context) ([]KeywordRule, error) {
	var rows []KeywordRule
	err := p.gdb.WithContext(ctx).
		Where("active = ?", true).
		Order("tier ASC, keyword ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load active keyword rules: %w", err)
	}
	for i := range rows {
		rows[i].Keyword = strings.ToLower(strings.TrimSpace(rows[i].Keyword))
		rows[i].Tier = strings.ToLower(strings.TrimSpace(rows[i].Tier))
	}
	return rows, nil
}
