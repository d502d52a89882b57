package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

const transactionColumns = `id, tenant_id, hash, date, name, merchant_name, amount, account_id, category`

// SaveTransactions stores transactions, skipping any whose hash already exists.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveTransactionsTx(ctx, tx, transactions)
	})
}

func (s *SQLiteStorage) saveTransactionsTx(ctx context.Context, tx *sql.Tx, transactions []model.Transaction) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return unavailable("prepare transaction insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		if txn.Hash == "" {
			txn.Hash = txn.GenerateHash()
		}

		_, err = stmt.ExecContext(ctx,
			txn.ID,
			txn.TenantID,
			txn.Hash,
			txn.Date.UTC(),
			txn.Name,
			nullString(txn.MerchantName),
			txn.Amount,
			nullString(txn.AccountID),
			nullString(txn.Category),
		)
		if err != nil {
			return unavailable(fmt.Sprintf("insert transaction %s", txn.ID), err)
		}
	}

	return nil
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTransactionByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionByIDTx(ctx context.Context, q queryable, id string) (*model.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("transaction %s", id)
	}
	if err != nil {
		return nil, unavailable("get transaction", err)
	}
	return txn, nil
}

// GetUncategorizedTransactions returns transactions with no category, oldest first.
// A non-positive limit returns all of them.
func (s *SQLiteStorage) GetUncategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE category IS NULL OR category = ''
		ORDER BY date ASC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, unavailable("scan transaction", scanErr)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate transactions", err)
	}

	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var merchantName, accountID, category sql.NullString

	err := row.Scan(
		&txn.ID,
		&txn.TenantID,
		&txn.Hash,
		&txn.Date,
		&txn.Name,
		&merchantName,
		&txn.Amount,
		&accountID,
		&category,
	)
	if err != nil {
		return nil, err
	}

	txn.MerchantName = merchantName.String
	txn.AccountID = accountID.String
	txn.Category = category.String
	return &txn, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
