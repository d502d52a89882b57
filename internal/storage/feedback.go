package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/service"
)

// feedbackFact is the payload relayed for every ledger append.
type feedbackFact struct {
	model.Feedback
	Merchant string `json:"merchant_canonical"`
	Reverted int    `json:"reverted"`
}

// ApplyFeedback appends to the ledger and applies the stat delta atomically.
// Negative deltas never drive a counter below zero; the number of counters that
// were actually decremented is returned.
func (s *SQLiteStorage) ApplyFeedback(ctx context.Context, write service.FeedbackWrite) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateFeedback(&write.Feedback); err != nil {
		return 0, err
	}
	if err := validateString(write.Delta.Merchant, "merchant"); err != nil {
		return 0, err
	}
	if err := validateString(write.Delta.Category, "category"); err != nil {
		return 0, err
	}

	fb := write.Feedback
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	var reverted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getSuggestionEventTx(ctx, tx, fb.EventID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO feedback (id, event_id, action, label, user_confidence, reason, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM feedback))
		`,
			fb.ID,
			fb.EventID,
			string(fb.Action),
			fb.Label,
			nullFloat(fb.UserConfidence),
			nullString(fb.Reason),
			fb.CreatedAt.UTC(),
		)
		if err != nil {
			return unavailable("append feedback", err)
		}

		if write.SetAccepted != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE suggestion_events SET accepted = ? WHERE id = ?`,
				*write.SetAccepted, fb.EventID,
			); err != nil {
				return unavailable("update event accepted flag", err)
			}
		}

		n, err := applyStatDeltaTx(ctx, tx, write.Delta, fb.CreatedAt.UTC())
		if err != nil {
			return err
		}
		reverted = n

		return enqueueOutbox(ctx, tx, s.outbox.Feedback, write.Delta.Merchant, feedbackFact{
			Feedback: fb,
			Merchant: write.Delta.Merchant,
			Reverted: reverted,
		})
	})
	if err != nil {
		return 0, err
	}

	return reverted, nil
}

// applyStatDeltaTx adjusts one merchant category stat, flooring counters at zero.
func applyStatDeltaTx(ctx context.Context, tx *sql.Tx, delta service.StatDelta, now time.Time) (int, error) {
	if delta.AcceptDelta == 0 && delta.RejectDelta == 0 {
		return 0, nil
	}

	var accept, reject int
	err := tx.QueryRowContext(ctx, `
		SELECT accept_count, reject_count FROM merchant_category_stats
		WHERE merchant = ? AND category = ?
	`, delta.Merchant, delta.Category).Scan(&accept, &reject)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, unavailable("read merchant stat", err)
	}

	newAccept, acceptReverted := floorAdd(accept, delta.AcceptDelta)
	newReject, rejectReverted := floorAdd(reject, delta.RejectDelta)
	reverted := acceptReverted + rejectReverted

	if !exists {
		if newAccept == 0 && newReject == 0 {
			return 0, nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO merchant_category_stats (merchant, category, accept_count, reject_count, last_updated)
			VALUES (?, ?, ?, ?, ?)
		`, delta.Merchant, delta.Category, newAccept, newReject, now)
		if err != nil {
			return 0, unavailable("insert merchant stat", err)
		}
		return reverted, nil
	}

	if newAccept == accept && newReject == reject {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE merchant_category_stats
		SET accept_count = ?, reject_count = ?, last_updated = ?
		WHERE merchant = ? AND category = ?
	`, newAccept, newReject, now, delta.Merchant, delta.Category)
	if err != nil {
		return 0, unavailable("update merchant stat", err)
	}
	return reverted, nil
}

// floorAdd adds delta to current without going below zero. It returns the new
// value and how much was actually subtracted.
func floorAdd(current, delta int) (int, int) {
	if delta >= 0 {
		return current + delta, 0
	}
	dec := -delta
	if dec > current {
		dec = current
	}
	return current - dec, dec
}

// GetFeedbackForEvent returns the ledger rows of an event in append order.
func (s *SQLiteStorage) GetFeedbackForEvent(ctx context.Context, eventID string) ([]model.Feedback, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, action, label, user_confidence, reason, created_at
		FROM feedback
		WHERE event_id = ?
		ORDER BY seq ASC
	`, eventID)
	if err != nil {
		return nil, unavailable("query feedback", err)
	}
	defer func() { _ = rows.Close() }()

	var ledger []model.Feedback
	for rows.Next() {
		var (
			fb         model.Feedback
			action     string
			confidence sql.NullFloat64
			reason     sql.NullString
		)
		if err := rows.Scan(&fb.ID, &fb.EventID, &action, &fb.Label, &confidence, &reason, &fb.CreatedAt); err != nil {
			return nil, unavailable("scan feedback", err)
		}
		fb.Action = model.FeedbackAction(action)
		fb.Reason = reason.String
		if confidence.Valid {
			v := confidence.Float64
			fb.UserConfidence = &v
		}
		ledger = append(ledger, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate feedback", err)
	}
	return ledger, nil
}

// GetAcceptedExamples returns accepted labels joined with their transactions, in
// ledger order. Accepts followed by an undo on the same event are excluded. A
// non-positive limit returns all examples.
func (s *SQLiteStorage) GetAcceptedExamples(ctx context.Context, limit int) ([]service.LabeledExample, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.tenant_id, t.hash, t.date, t.name, t.merchant_name, t.amount,
		       t.account_id, t.category, f.label
		FROM feedback f
		JOIN suggestion_events e ON e.id = f.event_id
		JOIN transactions t ON t.id = e.txn_id
		WHERE f.action = 'accept'
		  AND NOT EXISTS (
			SELECT 1 FROM feedback u
			WHERE u.event_id = f.event_id AND u.action = 'undo' AND u.seq > f.seq
		  )
		ORDER BY f.seq ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query accepted examples", err)
	}
	defer func() { _ = rows.Close() }()

	var examples []service.LabeledExample
	for rows.Next() {
		var (
			ex                                service.LabeledExample
			merchantName, accountID, category sql.NullString
		)
		txn := &ex.Transaction
		if err := rows.Scan(&txn.ID, &txn.TenantID, &txn.Hash, &txn.Date, &txn.Name, &merchantName,
			&txn.Amount, &accountID, &category, &ex.Label); err != nil {
			return nil, unavailable("scan accepted example", err)
		}
		txn.MerchantName = merchantName.String
		txn.AccountID = accountID.String
		txn.Category = category.String
		examples = append(examples, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accepted examples: %w", err)
	}
	return examples, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
