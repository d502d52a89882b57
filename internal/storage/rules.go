package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/spice-suggest/internal/model"
)

// GetActiveRules returns active rules in evaluation order: priority descending,
// then insertion order.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, category, priority, is_active, created_at
		FROM rules
		WHERE is_active = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, unavailable("query rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var rule model.Rule
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.Category, &rule.Priority, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, unavailable("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate rules", err)
	}
	return rules, nil
}

// CreateRule inserts a rule and sets its ID.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (pattern, category, priority, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rule.Pattern, rule.Category, rule.Priority, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return unavailable("create rule", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule id: %w", err)
	}
	rule.ID = int(id)
	return nil
}
