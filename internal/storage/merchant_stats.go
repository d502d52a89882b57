package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// GetMerchantStats returns the stats of one merchant in first-observed order.
func (s *SQLiteStorage) GetMerchantStats(ctx context.Context, merchant string) ([]model.MerchantCategoryStat, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}

	return queryStats(ctx, s.db, `
		SELECT merchant, category, accept_count, reject_count, last_updated
		FROM merchant_category_stats
		WHERE merchant = ?
		ORDER BY rowid ASC
	`, merchant)
}

// GetAllMerchantStats returns every stat grouped by merchant.
func (s *SQLiteStorage) GetAllMerchantStats(ctx context.Context) ([]model.MerchantCategoryStat, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return queryStats(ctx, s.db, `
		SELECT merchant, category, accept_count, reject_count, last_updated
		FROM merchant_category_stats
		ORDER BY merchant ASC, rowid ASC
	`)
}

func queryStats(ctx context.Context, q queryable, query string, args ...any) ([]model.MerchantCategoryStat, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query merchant stats", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []model.MerchantCategoryStat
	for rows.Next() {
		var stat model.MerchantCategoryStat
		if err := rows.Scan(&stat.Merchant, &stat.Category, &stat.AcceptCount, &stat.RejectCount, &stat.LastUpdated); err != nil {
			return nil, unavailable("scan merchant stat", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate merchant stats", err)
	}
	return stats, nil
}

// GetMerchantHint returns the promoted hint for a merchant, or common.ErrNotFound.
func (s *SQLiteStorage) GetMerchantHint(ctx context.Context, merchant string) (*model.MerchantCategoryHint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}

	if hint := s.getCachedHint(merchant); hint != nil {
		return hint, nil
	}

	var hint model.MerchantCategoryHint
	err := s.db.QueryRowContext(ctx, `
		SELECT merchant, category, confidence, support, promoted_at
		FROM merchant_category_hints
		WHERE merchant = ?
	`, merchant).Scan(&hint.Merchant, &hint.Category, &hint.Confidence, &hint.Support, &hint.PromotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("hint for merchant %q", merchant)
	}
	if err != nil {
		return nil, unavailable("get merchant hint", err)
	}

	s.cacheHint(&hint)
	result := hint
	return &result, nil
}

// UpsertMerchantHint creates or replaces the hint for a merchant.
func (s *SQLiteStorage) UpsertMerchantHint(ctx context.Context, hint *model.MerchantCategoryHint) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateHint(hint); err != nil {
		return err
	}

	if hint.PromotedAt.IsZero() {
		hint.PromotedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_category_hints (merchant, category, confidence, support, promoted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			support = excluded.support,
			promoted_at = excluded.promoted_at
	`, hint.Merchant, hint.Category, hint.Confidence, hint.Support, hint.PromotedAt.UTC())
	if err != nil {
		return unavailable("upsert merchant hint", err)
	}

	s.cacheMutex.Lock()
	delete(s.hintCache, hint.Merchant)
	s.cacheMutex.Unlock()

	return nil
}

// getCachedHint returns a copy of a cached hint, clearing the cache once it expires.
func (s *SQLiteStorage) getCachedHint(merchant string) *model.MerchantCategoryHint {
	s.cacheMutex.RLock()

	if time.Now().After(s.hintCacheExpiry) {
		s.cacheMutex.RUnlock()
		s.cacheMutex.Lock()
		defer s.cacheMutex.Unlock()

		if time.Now().After(s.hintCacheExpiry) {
			s.hintCache = make(map[string]*model.MerchantCategoryHint)
		}
		return nil
	}

	hint, ok := s.hintCache[merchant]
	s.cacheMutex.RUnlock()
	if !ok {
		return nil
	}
	result := *hint
	return &result
}

func (s *SQLiteStorage) cacheHint(hint *model.MerchantCategoryHint) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if len(s.hintCache) == 0 {
		s.hintCacheExpiry = time.Now().Add(s.hintCacheTTL)
	}
	cached := *hint
	s.hintCache[hint.Merchant] = &cached
}
