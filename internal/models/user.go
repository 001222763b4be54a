package models

import (
	"time"

	"github.com/google/uuid"
)

// Known role names carried in access token claims
const (
	RoleClient = "client"
	RoleCoach  = "coach"
	RoleAdmin  = "admin"
)

type User struct {
	ID        uuid.UUID
	CreatedAt time.Time

	// Email is stored lowercased and unique
	Email     string
	FirstName string
	LastName  string
	Roles     []string

	// Nil for accounts created via an external identity provider:
	// such accounts can't login with a password at all
	HashedPassword *string

	IsActive bool
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
