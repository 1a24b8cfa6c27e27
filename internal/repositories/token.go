package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/kcx/internal/models"
	"github.com/desertthunder/kcx/internal/shared"
)

// TokenRepository stores the single token record in the token_records table.
//
// Writers read the row's version, apply their change and write back only if the version
// is unchanged, retrying a bounded number of times.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Load returns the stored record, or a zero record when none exists.
func (r *TokenRepository) Load(ctx context.Context) (models.TokenRecord, error) {
	record, _, err := r.load(ctx)
	return record, err
}

// load returns the record and its version; version is -1 when the row does not exist.
func (r *TokenRepository) load(ctx context.Context) (models.TokenRecord, int64, error) {
	query := `
		SELECT access_token, refresh_token, expires_at, subject_user_id, version
		FROM token_records
		WHERE id = 1
	`

	var (
		record  models.TokenRecord
		version int64
	)
	err := r.db.QueryRowContext(ctx, query).Scan(&record.AccessToken, &record.RefreshToken, &record.ExpiresAt, &record.SubjectUserID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TokenRecord{}, -1, nil
	}
	if err != nil {
		return models.TokenRecord{}, 0, fmt.Errorf("failed to query token record: %w", err)
	}
	return record, version, nil
}

// Update applies fn to the current record and writes it back under optimistic locking.
func (r *TokenRepository) Update(ctx context.Context, fn func(*models.TokenRecord) error) (models.TokenRecord, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, version, err := r.load(ctx)
		if err != nil {
			return models.TokenRecord{}, err
		}

		next := current
		if err := fn(&next); err != nil {
			return current, err
		}

		ok, err := r.write(ctx, next, version)
		if err != nil {
			return current, err
		}
		if ok {
			return next, nil
		}
	}
	return models.TokenRecord{}, fmt.Errorf("%w after %d attempts", shared.ErrStoreConflict, maxUpdateAttempts)
}

func (r *TokenRepository) write(ctx context.Context, record models.TokenRecord, version int64) (bool, error) {
	var (
		result sql.Result
		err    error
	)

	if version < 0 {
		query := `
			INSERT OR IGNORE INTO token_records (id, access_token, refresh_token, expires_at, subject_user_id, version, updated_at)
			VALUES (1, ?, ?, ?, ?, 1, ?)
		`
		result, err = r.db.ExecContext(ctx, query, record.AccessToken, record.RefreshToken, record.ExpiresAt, record.SubjectUserID, time.Now())
	} else {
		query := `
			UPDATE token_records
			SET access_token = ?, refresh_token = ?, expires_at = ?, subject_user_id = ?, version = version + 1, updated_at = ?
			WHERE id = 1 AND version = ?
		`
		result, err = r.db.ExecContext(ctx, query, record.AccessToken, record.RefreshToken, record.ExpiresAt, record.SubjectUserID, time.Now(), version)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write token record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// Version returns the row's current version, 0 when no row exists.
func (r *TokenRepository) Version(ctx context.Context) (int64, error) {
	_, version, err := r.load(ctx)
	if version < 0 {
		return 0, err
	}
	return version, err
}
