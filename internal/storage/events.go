package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

// SaveSuggestionEvent persists an event and, when the outbox is enabled, the fact
// announcing it. Both writes share one transaction.
func (s *SQLiteStorage) SaveSuggestionEvent(ctx context.Context, event *model.SuggestionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	candidates, err := json.Marshal(event.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO suggestion_events
				(id, txn_id, tenant_id, mode, requested_mode, model_id, features_hash,
				 candidates, source, reason, degraded_cause, accepted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID,
			event.TxnID,
			event.TenantID,
			string(event.Mode),
			string(event.RequestedMode),
			nullString(event.ModelID),
			nullString(event.FeaturesHash),
			string(candidates),
			string(event.Source),
			nullString(event.Reason),
			nullString(event.DegradedCause),
			nullBool(event.Accepted),
			event.CreatedAt.UTC(),
		)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				return fmt.Errorf("%w: suggestion event %s", common.ErrDuplicateEntry, event.ID)
			}
			return unavailable("insert suggestion event", execErr)
		}

		return enqueueOutbox(ctx, tx, s.outbox.Events, event.ID, event)
	})
}

// GetSuggestionEvent retrieves an event by ID.
func (s *SQLiteStorage) GetSuggestionEvent(ctx context.Context, id string) (*model.SuggestionEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getSuggestionEventTx(ctx, s.db, id)
}

func getSuggestionEventTx(ctx context.Context, q queryable, id string) (*model.SuggestionEvent, error) {
	var (
		event                                model.SuggestionEvent
		mode, requestedMode, source          string
		modelID, featuresHash, reason, cause sql.NullString
		candidates                           string
		accepted                             sql.NullBool
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, txn_id, tenant_id, mode, requested_mode, model_id, features_hash,
		       candidates, source, reason, degraded_cause, accepted, created_at
		FROM suggestion_events
		WHERE id = ?
	`, id).Scan(
		&event.ID,
		&event.TxnID,
		&event.TenantID,
		&mode,
		&requestedMode,
		&modelID,
		&featuresHash,
		&candidates,
		&source,
		&reason,
		&cause,
		&accepted,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("suggestion event %s", id)
	}
	if err != nil {
		return nil, unavailable("get suggestion event", err)
	}

	if err := json.Unmarshal([]byte(candidates), &event.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates of event %s: %w", id, err)
	}

	event.Mode = model.SuggestionMode(mode)
	event.RequestedMode = model.SuggestionMode(requestedMode)
	event.Source = model.CandidateSource(source)
	event.ModelID = modelID.String
	event.FeaturesHash = featuresHash.String
	event.Reason = reason.String
	event.DegradedCause = cause.String
	if accepted.Valid {
		v := accepted.Bool
		event.Accepted = &v
	}

	return &event, nil
}

// SaveShadowPrediction records what a shadow model answered for an event. Saving
// the same event and model twice keeps the first prediction.
func (s *SQLiteStorage) SaveShadowPrediction(ctx context.Context, prediction *model.ShadowPrediction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if prediction == nil {
		return fmt.Errorf("%w: prediction", ErrNilParameter)
	}
	if err := validateString(prediction.EventID, "event_id"); err != nil {
		return err
	}
	if err := validateString(prediction.ModelID, "model_id"); err != nil {
		return err
	}

	if prediction.CreatedAt.IsZero() {
		prediction.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO shadow_predictions (event_id, model_id, category, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, prediction.EventID, prediction.ModelID, prediction.Category, prediction.Confidence, prediction.CreatedAt.UTC())
	if err != nil {
		return unavailable("save shadow prediction", err)
	}
	return nil
}

// GetShadowPredictions lists shadow predictions for an event.
func (s *SQLiteStorage) GetShadowPredictions(ctx context.Context, eventID string) ([]model.ShadowPrediction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, model_id, category, confidence, created_at
		FROM shadow_predictions
		WHERE event_id = ?
		ORDER BY model_id
	`, eventID)
	if err != nil {
		return nil, unavailable("query shadow predictions", err)
	}
	defer func() { _ = rows.Close() }()

	var predictions []model.ShadowPrediction
	for rows.Next() {
		var p model.ShadowPrediction
		if err := rows.Scan(&p.EventID, &p.ModelID, &p.Category, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, unavailable("scan shadow prediction", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate shadow predictions", err)
	}
	return predictions, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
