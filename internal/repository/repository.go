package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/coachdeck/coachdeck/internal/models"
)

type CreateUserParams struct {
	Email          string
	FirstName      string
	LastName       string
	Roles          []string
	HashedPassword *string
	IsActive       bool
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with the same email exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Replace the stored password hash
	SetPassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error
}

// RefreshToken repository interface
// Records are never deleted by this interface, only marked revoked
type RefreshTokenRepo interface {
	// Persist a new token record
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the record by token hash even if it is revoked or expired
	// If no record exists must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Mark the record revoked and return it
	// Must not overwrite an existing revoked_at: if the record was revoked
	// before this call it returns the record with apperrors.ErrRefreshTokenRevoked,
	// so the caller can tell a first revocation from a replay
	Revoke(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Mark every active record of the user revoked, return how many were touched
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Storage aggregates every repository backed by the same connection
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
}
