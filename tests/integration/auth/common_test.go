package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/internal/models"
	"github.com/coachdeck/coachdeck/internal/repository"
	"github.com/coachdeck/coachdeck/internal/service/auth"
)

// Provision an active user with a real bcrypt hash
func createUser(t *testing.T, users repository.UserRepo, email string, password string) models.User {
	t.Helper()

	hash, err := auth.BcryptHasher{}.Hash(password)
	require.NoError(t, err)

	user, err := users.CreateUser(t.Context(), repository.CreateUserParams{
		Email:          email,
		FirstName:      "Kim",
		LastName:       "Fields",
		Roles:          []string{models.RoleCoach},
		HashedPassword: &hash,
		IsActive:       true,
	})
	require.NoError(t, err, "user should be created without errors")
	return user
}
