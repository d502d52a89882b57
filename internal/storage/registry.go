package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
)

const registryColumns = `model_id, phase, commit_sha, artifact_uri, notes, created_at, updated_at`

// UpsertRegistryEntry registers a model. New entries default to shadow phase. A
// new entry may be created live only while no other model is live, otherwise it
// fails with common.ErrRegistryConflict. Re-registering an existing model only
// refreshes its artifact uri, commit and notes.
func (s *SQLiteStorage) UpsertRegistryEntry(ctx context.Context, entry *model.RegistryEntry) (*model.RegistryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRegistryEntry(entry); err != nil {
		return nil, err
	}

	var saved *model.RegistryEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		existing, err := getRegistryEntryTx(ctx, tx, entry.ModelID)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE model_registry
				SET artifact_uri = ?, commit_sha = ?, notes = ?, updated_at = ?
				WHERE model_id = ?
			`, entry.ArtifactURI, nullString(entry.CommitSHA), nullString(entry.Notes), now, entry.ModelID)
			if err != nil {
				return unavailable("update registry entry", err)
			}
			existing.ArtifactURI = entry.ArtifactURI
			existing.CommitSHA = entry.CommitSHA
			existing.Notes = entry.Notes
			existing.UpdatedAt = now
			saved = existing
			return nil
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		phase := entry.Phase
		if phase == "" {
			phase = model.PhaseShadow
		}
		if phase == model.PhaseLive {
			if err := checkNoOtherLive(ctx, tx, entry.ModelID); err != nil {
				return err
			}
		}

		created := *entry
		created.Phase = phase
		created.CreatedAt = now
		created.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO model_registry (`+registryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, created.ModelID, string(created.Phase), nullString(created.CommitSHA), created.ArtifactURI,
			nullString(created.Notes), created.CreatedAt, created.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: another model is already live", common.ErrRegistryConflict)
			}
			return unavailable("insert registry entry", err)
		}
		saved = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// GetRegistryEntry retrieves an entry by model ID.
func (s *SQLiteStorage) GetRegistryEntry(ctx context.Context, modelID string) (*model.RegistryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(modelID, "modelID"); err != nil {
		return nil, err
	}
	return getRegistryEntryTx(ctx, s.db, modelID)
}

func getRegistryEntryTx(ctx context.Context, q queryable, modelID string) (*model.RegistryEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM model_registry WHERE model_id = ?`, modelID)
	entry, err := scanRegistryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("model %s", modelID)
	}
	if err != nil {
		return nil, unavailable("get registry entry", err)
	}
	return entry, nil
}

// ListRegistryEntries returns every entry, newest first.
func (s *SQLiteStorage) ListRegistryEntries(ctx context.Context) ([]model.RegistryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registryColumns+` FROM model_registry
		ORDER BY created_at DESC, model_id ASC
	`)
	if err != nil {
		return nil, unavailable("query registry", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.RegistryEntry
	for rows.Next() {
		entry, scanErr := scanRegistryEntry(rows)
		if scanErr != nil {
			return nil, unavailable("scan registry entry", scanErr)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate registry", err)
	}
	return entries, nil
}

// SetModelPhase moves a model to a new phase. Promoting to live while a different
// model is live fails with common.ErrRegistryConflict; the live model must be
// demoted first.
func (s *SQLiteStorage) SetModelPhase(ctx context.Context, modelID string, phase model.ModelPhase) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(modelID, "modelID"); err != nil {
		return err
	}
	if !phase.Valid() {
		return common.InvalidInputf("unknown phase %q", phase)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getRegistryEntryTx(ctx, tx, modelID)
		if err != nil {
			return err
		}
		if entry.Phase == phase {
			return nil
		}

		if phase == model.PhaseLive {
			if err := checkNoOtherLive(ctx, tx, modelID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE model_registry SET phase = ?, updated_at = ? WHERE model_id = ?`,
			string(phase), time.Now().UTC(), modelID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: another model is already live", common.ErrRegistryConflict)
			}
			return unavailable("update model phase", err)
		}
		return nil
	})
}

func checkNoOtherLive(ctx context.Context, q queryable, modelID string) error {
	var liveID string
	err := q.QueryRowContext(ctx,
		`SELECT model_id FROM model_registry WHERE phase = 'live' AND model_id != ?`, modelID,
	).Scan(&liveID)
	if err == nil {
		return fmt.Errorf("%w: model %s is already live", common.ErrRegistryConflict, liveID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return unavailable("check live model", err)
	}
	return nil
}

// SetTenantCanaryPct stores a tenant override. A nil pct clears the override so
// the tenant follows the process default again.
func (s *SQLiteStorage) SetTenantCanaryPct(ctx context.Context, tenantID string, pct *int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return err
	}
	if pct != nil && (*pct < 0 || *pct > 100) {
		return common.InvalidInputf("canary pct must be within [0,100], got %d", *pct)
	}

	var value sql.NullInt64
	if pct != nil {
		value = sql.NullInt64{Int64: int64(*pct), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_canary_overrides (tenant_id, suggest_canary_pct, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			suggest_canary_pct = excluded.suggest_canary_pct,
			updated_at = excluded.updated_at
	`, tenantID, value, time.Now().UTC())
	if err != nil {
		return unavailable("set tenant canary pct", err)
	}
	return nil
}

// ListTenantOverrides returns every tenant override, including cleared ones.
func (s *SQLiteStorage) ListTenantOverrides(ctx context.Context) ([]model.TenantCanaryOverride, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, suggest_canary_pct, updated_at
		FROM tenant_canary_overrides
		ORDER BY tenant_id
	`)
	if err != nil {
		return nil, unavailable("query tenant overrides", err)
	}
	defer func() { _ = rows.Close() }()

	var overrides []model.TenantCanaryOverride
	for rows.Next() {
		var (
			override model.TenantCanaryOverride
			pct      sql.NullInt64
		)
		if err := rows.Scan(&override.TenantID, &pct, &override.UpdatedAt); err != nil {
			return nil, unavailable("scan tenant override", err)
		}
		if pct.Valid {
			v := int(pct.Int64)
			override.CanaryPct = &v
		}
		overrides = append(overrides, override)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate tenant overrides", err)
	}
	return overrides, nil
}

func scanRegistryEntry(row rowScanner) (*model.RegistryEntry, error) {
	var (
		entry            model.RegistryEntry
		phase            string
		commitSHA, notes sql.NullString
	)
	err := row.Scan(&entry.ModelID, &phase, &commitSHA, &entry.ArtifactURI, &notes, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Phase = model.ModelPhase(phase)
	entry.CommitSHA = commitSHA.String
	entry.Notes = notes.String
	return &entry, nil
}
