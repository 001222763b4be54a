package integration

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/internal/handlers"
	"github.com/coachdeck/coachdeck/internal/repository"
	"github.com/coachdeck/coachdeck/internal/repository/postgres"
	"github.com/coachdeck/coachdeck/internal/service/auth"
	"github.com/coachdeck/coachdeck/internal/service/auth/tokenmanager"
	"github.com/coachdeck/coachdeck/internal/testutil"
)

type Services struct {
	AuthService *auth.AuthService
	Users       repository.UserRepo
}

// Run http server with the full router in a db transaction (one connection
// cause one transaction) and roll everything back at test end
func RunTx(dbpool *pgxpool.Pool, t *testing.T, fn func(srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories
		userRepo := &postgres.UserRepo{DB: tx}
		refreshRepo := &postgres.RefreshTokenRepo{DB: tx}

		// Initialize services
		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, refreshRepo)
		require.NoError(t, err, "token manager should be created without errors")

		as, err := auth.NewService(auth.Config{}, tokenManager, userRepo)
		require.NoError(t, err, "auth service starting error", err)

		// Complete all together as router
		authHandler := handlers.NewAuth(as, nil)
		router := handlers.NewRouter(authHandler, nil)

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(srv.URL, Services{
			AuthService: as,
			Users:       userRepo,
		})
	})
}
