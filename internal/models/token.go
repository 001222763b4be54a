package models

import (
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken

	// Access token lifetime fixed at issue time, so response bodies report
	// the same expiresIn regardless of how late they are rendered
	AccessTTL time.Duration
}

// Seconds until the access token expires, as returned in response bodies
func (p TokenPair) ExpiresIn() int64 {
	return int64(p.AccessTTL.Seconds())
}

// Claims carried inside the signed access token
// Never persisted: validity is a function of signature and ExpiresAt only
type AccessClaims struct {
	UserID    uuid.UUID
	Email     string
	Roles     []string
	ExpiresAt time.Time
}
