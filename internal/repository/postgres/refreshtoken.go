package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coachdeck/coachdeck/internal/apperrors"
	"github.com/coachdeck/coachdeck/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, device_info, ip_address, created_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, user_id, token_hash, device_info, ip_address, created_at, expires_at, revoked_at
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.TokenHash, token.DeviceInfo, token.IPAddress,
		token.CreatedAt, token.ExpiresAt, token.RevokedAt,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getTokenByHash = `-- name: GetRefreshTokenByHash
SELECT id, user_id, token_hash, device_info, ip_address, created_at, expires_at, revoked_at
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token record by hash
// It should return a result even if the token is revoked or expired
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByHash, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash = $1
RETURNING id, user_id, token_hash, device_info, ip_address, created_at, expires_at, revoked_at
`

// Revoke the token record
// Must not rewrite revoked_at of an already revoked token: the single UPDATE
// with COALESCE makes exactly one caller the winner under concurrency
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	// Truncate to the timestamptz precision so the round-tripped value
	// still compares equal to the one we sent
	now := time.Now().Truncate(time.Microsecond)
	rows, _ := r.DB.Query(ctx, revokeToken, tokenHash, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil && token.RevokedAt != nil && token.RevokedAt.Equal(now):
		return token, nil
	case err == nil: // revoked_at kept an earlier value, someone revoked it before us
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAllForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.DeviceInfo, &t.IPAddress, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	return t, err
}
