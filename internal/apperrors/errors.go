package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Deliberately shared by "unknown email" and "wrong password" so the
	// login handler cannot leak which one happened
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserDisabled = errors.New("user account is disabled")

	// Account has no password hash (created via external identity provider)
	ErrPasswordAuthNotSet = errors.New("password auth is not set for user")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenRevoked  = errors.New("refresh token is revoked")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrAccessTokenInvalid = errors.New("access token is invalid")

	ErrIdentityNotVerified = errors.New("external identity could not be verified")
)
