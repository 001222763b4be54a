package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/internal/apperrors"
	"github.com/coachdeck/coachdeck/internal/models"
	"github.com/coachdeck/coachdeck/internal/repository"
	"github.com/coachdeck/coachdeck/internal/repository/postgres"
	"github.com/coachdeck/coachdeck/internal/testutil"
)

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	hashed := "hashed-password"

	withTx := func(dbpool *pgxpool.Pool, t *testing.T, accessTTL time.Duration, refreshTTL time.Duration, fn func(m *TokenManager, user models.User)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			cfg := Config{
				SecretKey:  "test-secret-key",
				AccessTTL:  accessTTL,
				RefreshTTL: refreshTTL,
			}
			storage := postgres.NewStorage(tx)

			user, err := storage.User().CreateUser(t.Context(), repository.CreateUserParams{
				Email:          "coach@example.com",
				FirstName:      "Kim",
				LastName:       "Fields",
				Roles:          []string{models.RoleCoach},
				HashedPassword: &hashed,
				IsActive:       true,
			})
			require.NoError(t, err, "user should be created without errors")

			tokenManager, err := New(cfg, storage.Refresh())
			require.NoError(t, err, "token manager should be created without errors")

			fn(tokenManager, user)
		})
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"}, nil)
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, "secret", m.key, "secret key should be set")
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new requires secret", func(t *testing.T) {
		_, err := New(Config{}, nil)
		require.Error(t, err, "empty secret key must be rejected")
	})

	t.Run("IssuePair", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})

					require.NoError(t, err)

					assert.NotEmpty(t, pair.Access.Value, "access token should not be empty")
					assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
					assert.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
					assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
					assert.Equal(t, int64(900), pair.ExpiresIn(), "expires in is the configured access TTL in seconds")
				},
			)
		})

		t.Run("access claims", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					// Parse and verify the access token
					token, err := jwt.ParseWithClaims(pair.Access.Value, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
						return []byte("test-secret-key"), nil
					})
					require.NoError(t, err)
					require.True(t, token.Valid, "access token should be valid")

					claims, ok := token.Claims.(*AccessTokenClaims)
					require.True(t, ok, "claims should be of type AccessTokenClaims")
					assert.Equal(t, user.ID, claims.UserID, "user ID in token should match")
					assert.Equal(t, user.Email, claims.Email, "email in token should match")
					assert.Equal(t, user.Roles, claims.Roles, "roles in token should match")
					assert.NotEmpty(t, claims.ID, "token has to has jti")
					assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second, "issued at should be close to now")
					assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Second, "expires at should be 15 minutes from now")

					assert.WithinDuration(t, pair.Access.ExpiresAt, claims.ExpiresAt.Time, 0, "access expires at should match token pair")
				},
			)
		})

		t.Run("generate different tokens", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair1, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					pair2, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value, "refresh tokens should be different")
					assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "access tokens should be different")
				},
			)
		})

		t.Run("persists login metadata", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					device := "Mozilla/5.0"
					ip := "203.0.113.7"
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{DeviceInfo: &device, IPAddress: &ip})
					require.NoError(t, err)

					token, err := tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.NoError(t, err)

					require.NotNil(t, token.DeviceInfo)
					require.NotNil(t, token.IPAddress)
					assert.Equal(t, device, *token.DeviceInfo)
					assert.Equal(t, ip, *token.IPAddress)
				},
			)
		})
	})

	t.Run("UseRefresh", func(t *testing.T) {
		t.Run("use token once", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					token, err := tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.NoError(t, err, "using refresh token should not return an error")

					require.Equal(t, user.ID, token.UserID)
					require.WithinDuration(t, pair.Refresh.ExpiresAt, token.ExpiresAt, time.Second, "refresh token expiration should match expected value")
				},
			)
		})

		t.Run("use token twice", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					// Use the token once
					_, err = tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.NoError(t, err, "using refresh token should not return an error")

					// Try to use the same token again
					_, err = tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.Error(t, err, "using the same refresh token again should return an error")
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
				},
			)
		})

		t.Run("use unknown token", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					_, err := tokenManager.UseRefresh(t.Context(), "never-issued-token")
					require.Error(t, err)
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
				},
			)
		})

		t.Run("use expired token", func(t *testing.T) {
			withTx(pg.Pool, t, 1*time.Second, 1*time.Second,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					// Wait for the token to expire
					time.Sleep(time.Second)

					_, err = tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.Error(t, err, "using expired refresh token should return an error")
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
				},
			)
		})
	})

	t.Run("RevokeRefresh", func(t *testing.T) {
		t.Run("revoked token can not be used", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					err = tokenManager.RevokeRefresh(t.Context(), pair.Refresh.Value)
					require.NoError(t, err)

					_, err = tokenManager.UseRefresh(t.Context(), pair.Refresh.Value)
					require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
				},
			)
		})

		t.Run("revoke is idempotent", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					require.NoError(t, tokenManager.RevokeRefresh(t.Context(), pair.Refresh.Value))
					require.NoError(t, tokenManager.RevokeRefresh(t.Context(), pair.Refresh.Value), "second revoke should not fail")
				},
			)
		})
	})

	t.Run("RevokeAllForUser", func(t *testing.T) {
		withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
			func(tokenManager *TokenManager, user models.User) {
				pair1, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
				require.NoError(t, err)
				pair2, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
				require.NoError(t, err)

				err = tokenManager.RevokeAllForUser(t.Context(), user.ID)
				require.NoError(t, err)

				_, err = tokenManager.UseRefresh(t.Context(), pair1.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
				_, err = tokenManager.UseRefresh(t.Context(), pair2.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
			},
		)
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err, "token pair should be generated without errors")

					claims, err := tokenManager.ParseAccess(pair.Access.Value)
					require.NoError(t, err, "valid token should be parsed without errors")
					require.Equal(t, user.ID, claims.UserID)
					require.Equal(t, user.Email, claims.Email)
					require.Equal(t, user.Roles, claims.Roles)
				},
			)
		})

		t.Run("not a token", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					_, err := tokenManager.ParseAccess("invalid token")
					require.Error(t, err, "parsing even not a token should return an error")
					require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid)
				},
			)
		})

		t.Run("expired token", func(t *testing.T) {
			withTx(pg.Pool, t, 1*time.Second, 1*time.Second,
				func(tokenManager *TokenManager, user models.User) {
					pair, err := tokenManager.IssuePair(t.Context(), user, models.LoginMeta{})
					require.NoError(t, err)

					// Wait for the token to expire
					time.Sleep(time.Second)

					_, err = tokenManager.ParseAccess(pair.Access.Value)
					require.Error(t, err, "token has to become expired")
					require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid)
				},
			)
		})

		t.Run("not signed token", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					// Create valid but unsigned token
					token := jwt.NewWithClaims(
						jwt.SigningMethodNone,
						AccessTokenClaims{
							RegisteredClaims: jwt.RegisteredClaims{
								ID:        uuid.NewString(),
								IssuedAt:  jwt.NewNumericDate(time.Now()),
								ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
							},
							UserID: user.ID,
						},
					)
					access, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
					require.NoError(t, err)

					_, err = tokenManager.ParseAccess(access)
					require.Error(t, err, "Valid token with empty alg must fail")
					require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid)
				},
			)
		})

		t.Run("token signed with other key", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, user models.User) {
					forged := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
						RegisteredClaims: jwt.RegisteredClaims{
							ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
						},
						UserID: user.ID,
					})
					access, err := forged.SignedString([]byte("other-secret-key"))
					require.NoError(t, err)

					_, err = tokenManager.ParseAccess(access)
					require.ErrorIs(t, err, apperrors.ErrAccessTokenInvalid)
				},
			)
		})
	})
}

func Test_HashToken(t *testing.T) {
	t.Parallel()

	h1 := HashToken("raw-token")
	h2 := HashToken("raw-token")
	h3 := HashToken("other-token")

	require.Equal(t, h1, h2, "same input should hash the same")
	require.NotEqual(t, h1, h3, "different inputs should hash differently")
	require.Len(t, h1, 64, "sha256 hex digest is 64 chars")
	require.NotContains(t, h1, "raw-token", "digest must not leak the raw value")
}
