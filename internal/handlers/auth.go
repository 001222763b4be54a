package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/coachdeck/coachdeck/internal/apperrors"
	"github.com/coachdeck/coachdeck/internal/handlers/render"
	"github.com/coachdeck/coachdeck/internal/handlers/userctx"
	"github.com/coachdeck/coachdeck/internal/logger"
	"github.com/coachdeck/coachdeck/internal/models"
)

// Auth service as handlers need it
type AuthService interface {
	// Login with email and password
	// Unknown email and wrong password must both return apperrors.ErrInvalidCredentials
	Login(ctx context.Context, email string, password string, meta models.LoginMeta) (models.User, models.TokenPair, error)

	// Login via an external identity provider assertion
	LoginExternal(ctx context.Context, provider string, assertion string, meta models.LoginMeta) (models.User, models.TokenPair, error)

	// Rotate the refresh token, it works exactly once
	RefreshPair(ctx context.Context, refresh string, meta models.LoginMeta) (models.TokenPair, error)

	// Revoke one refresh token / every token of the user
	Logout(ctx context.Context, refresh string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error

	// Verify current password and set a new one, revoking every session
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error

	// Authenticate request and return the user it carries
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Roles     []string  `json:"roles"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Roles:     u.Roles,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func toTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		ExpiresIn:    pair.ExpiresIn(),
	}
}

type AuthHandler struct {
	authService AuthService
	logger      logger.Logger
}

func NewAuth(auth AuthService, l logger.Logger) *AuthHandler {
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	return &AuthHandler{authService: auth, logger: l}
}

// Handler with the public auth routes
// Routes that need a bearer are mounted by the router under the auth middleware
func (h *AuthHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /oauth", h.loginExternal)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /logout", h.logout)

	return mux
}

// Capture client metadata for the refresh token audit trail
func loginMeta(r *http.Request) models.LoginMeta {
	meta := models.LoginMeta{}

	if ua := r.Header.Get("User-Agent"); ua != "" {
		meta.DeviceInfo = &ua
	}
	if host := r.RemoteAddr; host != "" {
		meta.IPAddress = &host
	}

	return meta
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}
	type LoginSuccessResponse struct {
		User userResponse `json:"user"`
		tokenResponse
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	user, pair, err := h.authService.Login(r.Context(), data.Email, data.Password, loginMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrUserDisabled):
			render.ServiceError(w, "Account is disabled", http.StatusForbidden)
		case errors.Is(err, apperrors.ErrPasswordAuthNotSet):
			render.ServiceError(w, "Password login is not available for this account", http.StatusForbidden)
		default:
			h.logger.Error("login failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, LoginSuccessResponse{User: toUserResponse(user), tokenResponse: toTokenResponse(pair)})
}

func (h *AuthHandler) loginExternal(w http.ResponseWriter, r *http.Request) {
	type OAuthRequest struct {
		Provider  string `json:"provider" validate:"required"`
		Assertion string `json:"assertion" validate:"required"`
	}
	type OAuthSuccessResponse struct {
		User userResponse `json:"user"`
		tokenResponse
	}

	data, err := render.BindAndValidate[OAuthRequest](w, r)
	if err != nil {
		return
	}

	user, pair, err := h.authService.LoginExternal(r.Context(), data.Provider, data.Assertion, loginMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrIdentityNotVerified):
			render.ServiceError(w, "Identity could not be verified", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrUserDisabled):
			render.ServiceError(w, "Account is disabled", http.StatusForbidden)
		default:
			h.logger.Error("external login failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, OAuthSuccessResponse{User: toUserResponse(user), tokenResponse: toTokenResponse(pair)})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.authService.RefreshPair(r.Context(), data.RefreshToken, loginMeta(r))
	if err != nil {
		// Revoked, expired and unknown tokens all read the same from outside
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
			errors.Is(err, apperrors.ErrRefreshTokenRevoked),
			errors.Is(err, apperrors.ErrRefreshTokenExpired),
			errors.Is(err, apperrors.ErrUserNotFound),
			errors.Is(err, apperrors.ErrUserDisabled):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			h.logger.Error("token refresh failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, toTokenResponse(pair))
}

// Logout is fail-soft: the client throws its tokens away no matter what we
// answer, so revocation problems must not leave it believing it is signed in
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutRequest struct {
		RefreshToken string `json:"refreshToken"`
		AllDevices   bool   `json:"allDevices"`
	}
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[LogoutRequest](w, r)
	if err != nil {
		return
	}

	if data.AllDevices {
		// Revoking everything needs to know who, so the bearer is required here
		user, err := h.authService.Auth(r.Context(), r)
		if err != nil {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := h.authService.LogoutAll(r.Context(), user.ID); err != nil {
			h.logger.Warn("logout all devices failed", "user_id", user.ID, "error", err)
		}
	} else if data.RefreshToken != "" {
		if err := h.authService.Logout(r.Context(), data.RefreshToken); err != nil {
			h.logger.Warn("logout failed", "error", err)
		}
	}

	render.JSON(w, LogoutSuccessResponse{Message: "Logged out"})
}

// Profile of the authenticated user, requires auth middleware
func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	render.JSON(w, toUserResponse(user))
}

// Change own password, requires auth middleware
func (h *AuthHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	type PasswordRequest struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword" validate:"required,min=8"`
	}
	type PasswordSuccessResponse struct {
		Message string `json:"message"`
	}

	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[PasswordRequest](w, r)
	if err != nil {
		return
	}

	err = h.authService.ChangePassword(r.Context(), user.ID, data.CurrentPassword, data.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Current password is wrong", http.StatusUnauthorized)
		default:
			h.logger.Error("password change failed", "user_id", user.ID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, PasswordSuccessResponse{Message: "Password changed"})
}
