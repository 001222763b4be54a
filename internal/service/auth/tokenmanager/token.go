package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coachdeck/coachdeck/internal/apperrors"
	"github.com/coachdeck/coachdeck/internal/models"
	"github.com/coachdeck/coachdeck/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set then default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	// Refresh token repo
	refreshRepo repository.RefreshTokenRepo
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:         cfg.SecretKey,
		alg:         jwt.GetSigningMethod(cfg.Alg),
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		refreshRepo: refreshRepo,
	}, nil
}

// HashToken returns the hex encoded SHA-256 digest of the raw refresh token
// Only digests are persisted, the raw value never reaches the database
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IssuePair mints a signed access token with the user's identity and role
// claims plus a new opaque refresh token, and persists the refresh token hash
// The raw refresh value is returned once and is unrecoverable afterwards
func (m *TokenManager) IssuePair(ctx context.Context, user models.User, meta models.LoginMeta) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	// Generate JWT access token encoded as string
	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			UserID: user.ID,
			Email:  user.Email,
			Roles:  user.Roles,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	// Opaque refresh token: random id plus 32 random bytes hex encoded
	b := make([]byte, 32)
	_, err = rand.Read(b)
	if err != nil {
		return pair, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	refresh := uuid.NewString() + "-" + hex.EncodeToString(b)

	_, err = m.refreshRepo.Save(ctx, models.RefreshToken{
		ID:         uuid.New(),
		UserID:     user.ID,
		TokenHash:  HashToken(refresh),
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
		CreatedAt:  now,
		ExpiresAt:  refreshExpiresAt,
		RevokedAt:  nil,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:    models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh:   models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
		AccessTTL: m.accessTTL,
	}, nil
}

// UseRefresh consumes the raw refresh token: the backing record is revoked so
// every token is usable exactly once, rotation is revoke then reissue
// Replaying an already revoked token is reported as an ordinary failed
// refresh, lineage wide escalation is a deliberate non feature
func (m *TokenManager) UseRefresh(ctx context.Context, raw string) (models.RefreshToken, error) {
	token, err := m.refreshRepo.Revoke(ctx, HashToken(raw))
	if err != nil {
		return token, fmt.Errorf("error while consuming refresh token. Err: %w", err)
	}

	if token.ExpiresAt.Before(time.Now()) {
		return token, fmt.Errorf("error while consuming refresh token. Err: %w", apperrors.ErrRefreshTokenExpired)
	}

	return token, nil
}

// RevokeRefresh marks the token record revoked
// Revoking an already revoked token is a no-op, logout must stay idempotent
func (m *TokenManager) RevokeRefresh(ctx context.Context, raw string) error {
	_, err := m.refreshRepo.Revoke(ctx, HashToken(raw))
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenRevoked) {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}

	return nil
}

// RevokeAllForUser revokes every active refresh token of the user
func (m *TokenManager) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := m.refreshRepo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("error while revoking user refresh tokens. Err: %w", err)
	}

	return nil
}

// ParseAccess verifies signature and expiry of the access token string and
// extracts claims. Every failure mode (malformed, expired, bad signature)
// collapses to apperrors.ErrAccessTokenInvalid with the reason wrapped in,
// so callers get a binary accept or reject but may still log the cause
func (m *TokenManager) ParseAccess(access string) (models.AccessClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(m.key), nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)

	if err != nil || !token.Valid {
		return models.AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	return models.AccessClaims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
