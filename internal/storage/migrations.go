package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the user_version a fully migrated database reports.
const ExpectedSchemaVersion = 6

// Migration is one schema step, applied in its own transaction.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions and rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL DEFAULT '',
					hash TEXT UNIQUE NOT NULL,
					date DATETIME NOT NULL,
					name TEXT NOT NULL,
					merchant_name TEXT,
					amount REAL NOT NULL,
					account_id TEXT,
					category TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_merchant ON transactions(merchant_name)`,

				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern TEXT NOT NULL,
					category TEXT NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rules_priority ON rules(is_active, priority DESC, id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Suggestion events and feedback ledger",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS suggestion_events (
					id TEXT PRIMARY KEY,
					txn_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT '',
					mode TEXT NOT NULL,
					requested_mode TEXT NOT NULL,
					model_id TEXT,
					features_hash TEXT,
					candidates TEXT NOT NULL,
					source TEXT NOT NULL,
					reason TEXT,
					accepted BOOLEAN,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_suggestion_events_txn ON suggestion_events(txn_id)`,
				`CREATE INDEX idx_suggestion_events_created ON suggestion_events(created_at)`,

				`CREATE TABLE IF NOT EXISTS feedback (
					id TEXT PRIMARY KEY,
					event_id TEXT NOT NULL,
					action TEXT NOT NULL CHECK (action IN ('accept', 'reject', 'undo')),
					label TEXT NOT NULL,
					user_confidence REAL,
					reason TEXT,
					created_at DATETIME NOT NULL,
					seq INTEGER NOT NULL,
					FOREIGN KEY (event_id) REFERENCES suggestion_events(id)
				)`,
				`CREATE INDEX idx_feedback_event ON feedback(event_id, seq)`,

				// Ledger rows are append-only.
				`CREATE TRIGGER feedback_no_update BEFORE UPDATE ON feedback
				BEGIN
					SELECT RAISE(ABORT, 'feedback ledger is append-only');
				END`,
				`CREATE TRIGGER feedback_no_delete BEFORE DELETE ON feedback
				BEGIN
					SELECT RAISE(ABORT, 'feedback ledger is append-only');
				END`,
			})
		},
	},
	{
		Version:     3,
		Description: "Merchant statistics and promoted hints",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS merchant_category_stats (
					merchant TEXT NOT NULL,
					category TEXT NOT NULL,
					accept_count INTEGER NOT NULL DEFAULT 0 CHECK (accept_count >= 0),
					reject_count INTEGER NOT NULL DEFAULT 0 CHECK (reject_count >= 0),
					last_updated DATETIME NOT NULL,
					PRIMARY KEY (merchant, category)
				)`,
				`CREATE TABLE IF NOT EXISTS merchant_category_hints (
					merchant TEXT PRIMARY KEY,
					category TEXT NOT NULL,
					confidence REAL NOT NULL,
					support INTEGER NOT NULL DEFAULT 0,
					promoted_at DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Model registry and tenant canary overrides",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS model_registry (
					model_id TEXT PRIMARY KEY,
					phase TEXT NOT NULL CHECK (phase IN ('shadow', 'canary', 'live')),
					commit_sha TEXT,
					artifact_uri TEXT NOT NULL,
					notes TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				// At most one live model, enforced for every writer.
				`CREATE UNIQUE INDEX idx_model_registry_single_live ON model_registry(phase) WHERE phase = 'live'`,

				`CREATE TABLE IF NOT EXISTS tenant_canary_overrides (
					tenant_id TEXT PRIMARY KEY,
					suggest_canary_pct INTEGER CHECK (suggest_canary_pct IS NULL OR (suggest_canary_pct BETWEEN 0 AND 100)),
					updated_at DATETIME NOT NULL
				)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Outbox and shadow predictions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS outbox_messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					topic TEXT NOT NULL,
					message_key TEXT NOT NULL,
					payload TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING',
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_outbox_status ON outbox_messages(status, created_at)`,

				`CREATE TABLE IF NOT EXISTS shadow_predictions (
					event_id TEXT NOT NULL,
					model_id TEXT NOT NULL,
					category TEXT NOT NULL,
					confidence REAL NOT NULL,
					created_at DATETIME NOT NULL,
					PRIMARY KEY (event_id, model_id),
					FOREIGN KEY (event_id) REFERENCES suggestion_events(id)
				)`,
			})
		},
	},
	{
		Version:     6,
		Description: "Degraded cause on suggestion events",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE suggestion_events ADD COLUMN degraded_cause TEXT`,
				`CREATE INDEX idx_suggestion_events_degraded ON suggestion_events(degraded_cause) WHERE degraded_cause IS NOT NULL`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
