package models

import (
	"time"

	"github.com/google/uuid"
)

// Refresh token record as persisted
// Only the SHA-256 hash of the raw token is stored, the raw value is handed
// to the client exactly once and is unrecoverable afterwards
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	DeviceInfo *string
	IPAddress  *string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil if token not revoked
}

// Optional client metadata captured with a refresh token for audit
type LoginMeta struct {
	DeviceInfo *string
	IPAddress  *string
}
