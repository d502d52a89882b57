package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
)

var _ service.Storage = (*SQLiteStorage)(nil)

// OutboxTopics names the topics facts are written to. Empty topics disable the
// outbox for that fact type.
type OutboxTopics struct {
	Events   string
	Feedback string
}

// Option customizes a SQLiteStorage.
type Option func(*SQLiteStorage)

// WithOutbox enables the transactional outbox for suggestion events and feedback.
func WithOutbox(topics OutboxTopics) Option {
	return func(s *SQLiteStorage) {
		s.outbox = topics
	}
}

// WithHintCacheTTL sets how long merchant hints stay cached.
func WithHintCacheTTL(ttl time.Duration) Option {
	return func(s *SQLiteStorage) {
		s.hintCacheTTL = ttl
	}
}

// SQLiteStorage implements service.Storage using SQLite.
type SQLiteStorage struct {
	hintCacheExpiry time.Time
	db              *sql.DB
	hintCache       map[string]*model.MerchantCategoryHint
	outbox          OutboxTopics
	dbPath          string
	hintCacheTTL    time.Duration
	cacheMutex      sync.RWMutex
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections, and :memory: needs exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{
		db:           db,
		dbPath:       dbPath,
		hintCache:    make(map[string]*model.MerchantCategoryHint),
		hintCacheTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tooling such as the migrate command.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// enqueueOutbox writes a fact to the outbox inside tx. A blank topic is a no-op.
func enqueueOutbox(ctx context.Context, tx *sql.Tx, topic, key string, payload any) error {
	if topic == "" {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (topic, message_key, payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, topic, key, string(data), model.OutboxStatusPending, now, now)
	if err != nil {
		return unavailable("enqueue outbox message", err)
	}
	return nil
}

// unavailable wraps a driver failure so callers can tell it apart from validation errors.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", common.ErrStorageUnavailable, op, err)
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
