package storage

import (
	"context"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// GetPendingOutbox returns pending messages in insertion order.
func (s *SQLiteStorage) GetPendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, message_key, payload, status, retry_count, created_at, updated_at
		FROM outbox_messages
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`, model.OutboxStatusPending, limit)
	if err != nil {
		return nil, unavailable("query outbox", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.OutboxMessage
	for rows.Next() {
		var msg model.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.MessageKey, &msg.Payload, &msg.Status,
			&msg.RetryCount, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, unavailable("scan outbox message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate outbox", err)
	}
	return messages, nil
}

// MarkOutboxSent marks a message as delivered.
func (s *SQLiteStorage) MarkOutboxSent(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = ?, updated_at = ? WHERE id = ?`,
		model.OutboxStatusSent, time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable("mark outbox sent", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return common.NotFoundf("outbox message %d", id)
	}
	return nil
}

// MarkOutboxRetry records a failed delivery. Once retry_count reaches maxRetries
// the message is parked as FAILED.
func (s *SQLiteStorage) MarkOutboxRetry(ctx context.Context, id int64, maxRetries int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END,
		    updated_at = ?
		WHERE id = ?
	`, maxRetries, model.OutboxStatusFailed, time.Now().UTC(), id)
	if err != nil {
		return unavailable("mark outbox retry", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return common.NotFoundf("outbox message %d", id)
	}
	return nil
}
