package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachdeck/coachdeck/internal/models"
	"github.com/coachdeck/coachdeck/internal/testutil"
	"github.com/coachdeck/coachdeck/tests/integration"
)

const (
	RefreshURL = "/auth/refresh"
	LogoutURL  = "/auth/logout"
)

func Test_AuthRefresh(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	refresh := func(t *testing.T, srvURL string, refreshToken string) (*http.Response, string) {
		t.Helper()

		data := `{"refreshToken": "` + refreshToken + `"}`
		resp, err := http.Post(srvURL+RefreshURL, "application/json", strings.NewReader(data))
		require.NoError(t, err, "refresh request should always complete")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp, string(body)
	}

	t.Run("refresh token ok", func(t *testing.T) {
		integration.RunTx(pg.Pool, t, func(srvURL string, s integration.Services) {
			user := createUser(t, s.Users, "coach@example.com", "StrongEnoughPassword")
			_, pair, err := s.AuthService.Login(t.Context(), "coach@example.com", "StrongEnoughPassword", models.LoginMeta{})
			require.NoError(t, err)
			_ = user

			resp, body := refresh(t, srvURL, pair.Refresh.Value)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", body)

			var got struct {
				AccessToken  string `json:"accessToken"`
				RefreshToken string `json:"refreshToken"`
				ExpiresIn    int64  `json:"expiresIn"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &got))
			require.NotEmpty(t, got.AccessToken, "access token should not be empty")
			require.NotEmpty(t, got.RefreshToken, "refresh token should not be empty")
			require.NotEqual(t, pair.Refresh.Value, got.RefreshToken, "refresh token should be changed after refresh")
			require.NotEqual(t, pair.Access.Value, got.AccessToken, "access token should be changed after refresh")
		})
	})

	t.Run("refresh twice fail", func(t *testing.T) {
		integration.RunTx(pg.Pool, t, func(srvURL string, s integration.Services) {
			createUser(t, s.Users, "coach@example.com", "StrongEnoughPassword")
			_, pair, err := s.AuthService.Login(t.Context(), "coach@example.com", "StrongEnoughPassword", models.LoginMeta{})
			require.NoError(t, err)

			resp1, body1 := refresh(t, srvURL, pair.Refresh.Value)
			require.Equalf(t, http.StatusOK, resp1.StatusCode, "not expected code. Body: %s", body1)

			resp2, body2 := refresh(t, srvURL, pair.Refresh.Value)
			require.Equalf(t, http.StatusUnauthorized, resp2.StatusCode, "not expected code. Body: %s", body2)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid refresh token"
				}`, body2)
		})
	})

	t.Run("refresh after logout fail", func(t *testing.T) {
		integration.RunTx(pg.Pool, t, func(srvURL string, s integration.Services) {
			createUser(t, s.Users, "coach@example.com", "StrongEnoughPassword")
			_, pair, err := s.AuthService.Login(t.Context(), "coach@example.com", "StrongEnoughPassword", models.LoginMeta{})
			require.NoError(t, err)

			data := `{"refreshToken": "` + pair.Refresh.Value + `"}`
			resp, err := http.Post(srvURL+LogoutURL, "application/json", strings.NewReader(data))
			require.NoError(t, err)
			_ = resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			resp2, body2 := refresh(t, srvURL, pair.Refresh.Value)
			require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
			require.JSONEq(t, `
				{
					"error": "service_error",
					"message": "Invalid refresh token"
				}`, body2)
		})
	})
}
