// Package testutil provides database fixtures shared by the engine's tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/storage"
)

// TestDB is a migrated in-memory database with seeding helpers.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database that is closed when the
// test ends.
func SetupTestDB(t *testing.T, opts ...storage.Option) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Transaction returns a valid transaction fixture.
func Transaction(id, description string, amount float64) model.Transaction {
	return model.Transaction{
		ID:           id,
		TenantID:     "tenant-a",
		Date:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Name:         description,
		MerchantName: model.NormalizeMerchant(description),
		Amount:       amount,
		AccountID:    "acc-1",
	}
}

// SeedTransactions stores transactions or fails the test.
func (db *TestDB) SeedTransactions(txns ...model.Transaction) *TestDB {
	db.t.Helper()
	if err := db.Storage.SaveTransactions(context.Background(), txns); err != nil {
		db.t.Fatalf("failed to seed transactions: %v", err)
	}
	return db
}

// SeedRule stores an active rule or fails the test.
func (db *TestDB) SeedRule(pattern, category string, priority int) *TestDB {
	db.t.Helper()
	rule := &model.Rule{Pattern: pattern, Category: category, Priority: priority, IsActive: true}
	if err := db.Storage.CreateRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", pattern, err)
	}
	return db
}

// SeedStat writes a merchant category stat directly, bypassing the ledger.
func (db *TestDB) SeedStat(merchant, category string, accepts, rejects int) *TestDB {
	db.t.Helper()
	_, err := db.Storage.DB().ExecContext(context.Background(), `
		INSERT INTO merchant_category_stats (merchant, category, accept_count, reject_count, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant, category) DO UPDATE SET
			accept_count = excluded.accept_count,
			reject_count = excluded.reject_count
	`, merchant, category, accepts, rejects, time.Now().UTC())
	if err != nil {
		db.t.Fatalf("failed to seed stat (%s, %s): %v", merchant, category, err)
	}
	return db
}

// SeedHint stores a merchant hint or fails the test.
func (db *TestDB) SeedHint(merchant, category string, confidence float64) *TestDB {
	db.t.Helper()
	hint := &model.MerchantCategoryHint{Merchant: merchant, Category: category, Confidence: confidence, Support: 3}
	if err := db.Storage.UpsertMerchantHint(context.Background(), hint); err != nil {
		db.t.Fatalf("failed to seed hint for %s: %v", merchant, err)
	}
	return db
}

// MustStat returns the stat for (merchant, category), or a zero stat when none exists.
func (db *TestDB) MustStat(merchant, category string) model.MerchantCategoryStat {
	db.t.Helper()
	stats, err := db.Storage.GetMerchantStats(context.Background(), merchant)
	if err != nil {
		db.t.Fatalf("failed to read stats for %s: %v", merchant, err)
	}
	for _, s := range stats {
		if s.Category == category {
			return s
		}
	}
	return model.MerchantCategoryStat{Merchant: merchant, Category: category}
}
