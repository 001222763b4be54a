package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coachdeck/coachdeck/internal/apperrors"
	"github.com/coachdeck/coachdeck/internal/logger"
	"github.com/coachdeck/coachdeck/internal/models"
	"github.com/coachdeck/coachdeck/internal/repository"
	"github.com/coachdeck/coachdeck/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Verified identity yielded by an external provider exchange
// How the assertion is verified is the provider's business, not ours
type ExternalIdentity struct {
	Provider  string
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

type IdentityVerifier interface {
	// Verify the provider assertion and return the identity it proves
	// Must return apperrors.ErrIdentityNotVerified if the assertion is bad
	Verify(ctx context.Context, provider string, assertion string) (ExternalIdentity, error)
}

// Outbound email delivery, specified at the interface level only
type Notifier interface {
	PasswordChanged(ctx context.Context, user models.User) error
}

type Config struct {
	// Hasher to use during login or password change
	// BcryptHasher is used if not set
	Hasher PasswordHasher

	// External identity provider exchange
	// LoginExternal fails if not set
	Verifier IdentityVerifier

	// Email delivery, best effort
	Notifier Notifier

	Logger logger.Logger
}

// Auth service: owns credential issuance, rotation, revocation and validation
type AuthService struct {
	token    *tokenmanager.TokenManager
	hasher   PasswordHasher
	verifier IdentityVerifier
	notifier Notifier
	userRepo repository.UserRepo
	logger   logger.Logger

	// Hash compared against when the email is unknown, so failed logins
	// take about the same time whether the account exists or not
	dummyHash string
}

func NewService(cfg Config, token *tokenmanager.TokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	if token == nil || userRepo == nil {
		return nil, errors.New("token manager and user repo must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: log}
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("error while preparing hasher. Err: %w", err)
	}

	return &AuthService{
		token:     token,
		hasher:    hasher,
		verifier:  cfg.Verifier,
		notifier:  notifier,
		userRepo:  userRepo,
		logger:    log,
		dummyHash: dummyHash,
	}, nil
}

// NormalizeEmail the way emails are stored: trimmed and lowercased
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login with email and password
// Unknown email and wrong password both return apperrors.ErrInvalidCredentials:
// the two must stay indistinguishable to prevent account enumeration
func (s *AuthService) Login(ctx context.Context, email string, password string, meta models.LoginMeta) (models.User, models.TokenPair, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		// Burn a compare anyway to keep timing close to the found case
		_ = s.hasher.Compare(s.dummyHash, password)
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return models.User{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
		}
		return models.User{}, models.TokenPair{}, err
	}

	// Existence is no longer a secret past this point, the specific
	// reason may be surfaced with a 403
	if user.HashedPassword == nil {
		return models.User{}, models.TokenPair{}, apperrors.ErrPasswordAuthNotSet
	}
	if !user.IsActive {
		return models.User{}, models.TokenPair{}, apperrors.ErrUserDisabled
	}

	if err := s.hasher.Compare(*user.HashedPassword, password); err != nil {
		return models.User{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.token.IssuePair(ctx, user, meta)
	if err != nil {
		return models.User{}, models.TokenPair{}, fmt.Errorf("error while issuing tokens. Err: %w", err)
	}

	return user, pair, nil
}

// LoginExternal exchanges a provider assertion for a token pair
// The account is created on first login and carries no password hash
func (s *AuthService) LoginExternal(ctx context.Context, provider string, assertion string, meta models.LoginMeta) (models.User, models.TokenPair, error) {
	if s.verifier == nil {
		return models.User{}, models.TokenPair{}, errors.New("identity verifier is not configured")
	}

	identity, err := s.verifier.Verify(ctx, provider, assertion)
	if err != nil {
		return models.User{}, models.TokenPair{}, fmt.Errorf("error while verifying identity. Err: %w", err)
	}

	user, err := s.userRepo.GetUserByEmail(ctx, NormalizeEmail(identity.Email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		user, err = s.userRepo.CreateUser(ctx, repository.CreateUserParams{
			Email:     NormalizeEmail(identity.Email),
			FirstName: identity.FirstName,
			LastName:  identity.LastName,
			Roles:     []string{models.RoleClient},
			IsActive:  true,
		})
		if err != nil {
			return models.User{}, models.TokenPair{}, fmt.Errorf("error while creating user. Err: %w", err)
		}
	case err != nil:
		return models.User{}, models.TokenPair{}, err
	}

	if !user.IsActive {
		return models.User{}, models.TokenPair{}, apperrors.ErrUserDisabled
	}

	pair, err := s.token.IssuePair(ctx, user, meta)
	if err != nil {
		return models.User{}, models.TokenPair{}, fmt.Errorf("error while issuing tokens. Err: %w", err)
	}

	return user, pair, nil
}

// RefreshPair rotates the refresh token: the consumed record is revoked and a
// brand new pair is issued, so every refresh token works exactly once
func (s *AuthService) RefreshPair(ctx context.Context, refresh string, meta models.LoginMeta) (models.TokenPair, error) {
	record, err := s.token.UseRefresh(ctx, refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.userRepo.GetUserByID(ctx, record.UserID)
	if err != nil {
		return models.TokenPair{}, err
	}
	if !user.IsActive {
		return models.TokenPair{}, apperrors.ErrUserDisabled
	}

	pair, err := s.token.IssuePair(ctx, user, meta)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while issuing tokens. Err: %w", err)
	}

	return pair, nil
}

// Logout revokes the single refresh token if one is known
// Revoking twice is a no-op, unknown tokens are reported as errors and the
// handler decides how soft to fail
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.token.RevokeRefresh(ctx, refresh)
}

// LogoutAll revokes every active refresh token of the user
// Every previously issued refresh token stops working immediately
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.token.RevokeAllForUser(ctx, userID)
}

// ChangePassword stores a new hash and revokes every active session of the
// user, so a stolen refresh token dies with the old password
// The email notification is best effort and never fails the operation
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword string, newPassword string) error {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	// Accounts created via an external provider have no password to check
	if user.HashedPassword != nil {
		if err := s.hasher.Compare(*user.HashedPassword, currentPassword); err != nil {
			return apperrors.ErrInvalidCredentials
		}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	if err := s.userRepo.SetPassword(ctx, userID, hash); err != nil {
		return err
	}

	if err := s.token.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	if err := s.notifier.PasswordChanged(ctx, user); err != nil {
		s.logger.Warn("password change notification failed", "user_id", userID, "error", err)
	}

	return nil
}

// ValidateAccess checks signature and expiry of a bare access token string
func (s *AuthService) ValidateAccess(access string) (models.AccessClaims, error) {
	return s.token.ParseAccess(access)
}

// AuthenticateHeader validates the Authorization header value and returns the
// claims. Any failure (bad shape, bad signature, expired) is a single
// apperrors.ErrAccessTokenInvalid outcome, the precise reason is only wrapped
// in for logging
func (s *AuthService) AuthenticateHeader(headerValue string) (models.AccessClaims, error) {
	access, ok := BearerToken(headerValue)
	if !ok {
		return models.AccessClaims{}, fmt.Errorf("%w: no bearer token", apperrors.ErrAccessTokenInvalid)
	}

	return s.token.ParseAccess(access)
}

// Auth authenticates the request and loads the user the claims point at
// The single entry point request handlers should use
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (models.User, error) {
	claims, err := s.AuthenticateHeader(r.Header.Get("Authorization"))
	if err != nil {
		return models.User{}, err
	}

	user, err := s.userRepo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.User{}, err
	}
	if !user.IsActive {
		return models.User{}, apperrors.ErrUserDisabled
	}

	return user, nil
}
