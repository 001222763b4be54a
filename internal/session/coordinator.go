package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coachdeck/coachdeck/internal/logger"
)

const defaultRefreshTimeout = 10 * time.Second

// ErrSessionExpired is returned when the refresh path failed and the session
// can't be recovered: the caller has to send the user through login again
var ErrSessionExpired = errors.New("session expired, login required")

// Tokens held by the coordinator, nothing here is persisted server-side
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type Config struct {
	// Base URL of the API, e.g. https://api.example.com
	BaseURL string

	// HTTP client to use, http.DefaultClient-alike is created if not set
	HTTPClient *http.Client

	// Upper bound on a refresh round trip
	// A hung refresh would otherwise stall every queued caller forever
	RefreshTimeout time.Duration

	Logger logger.Logger
}

// Coordinator attaches the access token to outbound calls and transparently
// refreshes the pair when the server rejects it
// However many concurrent calls hit an expired token, at most one refresh
// request is in flight per coordinator: the rest wait for its outcome
// Coordinators are independent instances, several sessions may coexist in
// one process
type Coordinator struct {
	baseURL        string
	client         *http.Client
	refreshTimeout time.Duration
	logger         logger.Logger

	mu     sync.Mutex
	tokens Tokens

	// Collapses concurrent refresh attempts into one network call
	group singleflight.Group
}

func NewCoordinator(cfg Config) *Coordinator {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	timeout := cfg.RefreshTimeout
	if timeout == 0 {
		timeout = defaultRefreshTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Coordinator{
		baseURL:        cfg.BaseURL,
		client:         client,
		refreshTimeout: timeout,
		logger:         log,
	}
}

// Tokens returns a copy of the currently held pair
func (c *Coordinator) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// SetTokens installs a pair obtained out of band (e.g. after login)
func (c *Coordinator) SetTokens(t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
}

// Login exchanges credentials for a token pair and installs it
func (c *Coordinator) Login(ctx context.Context, email string, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("error while encoding login request. Err: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error while creating login request. Err: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error while sending login request. Err: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var t Tokens
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return fmt.Errorf("error while decoding login response. Err: %w", err)
	}

	c.SetTokens(t)
	return nil
}

// Logout tells the server to revoke the refresh token and drops the pair
// The local pair is dropped no matter what the server answered
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.tokens.RefreshToken
	c.tokens = Tokens{}
	c.mu.Unlock()

	if refresh == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return fmt.Errorf("error while encoding logout request. Err: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error while creating logout request. Err: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error while sending logout request. Err: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	return nil
}

// Do sends the request with the access token attached and retries exactly
// once after a successful refresh if the server answered 401
// The caller owns the response body
func (c *Coordinator) Do(ctx context.Context, method string, path string, body []byte) (*http.Response, error) {
	access := c.Tokens().AccessToken

	resp, err := c.send(ctx, method, path, body, access)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Authorization failure without a token held: nothing to refresh,
	// the rejection is the answer
	if access == "" {
		return resp, nil
	}

	// The response won't be handed to the caller, release the connection
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	tokens, err := c.refreshAfter(access)
	if err != nil {
		return nil, err
	}

	// Exactly one replay, a second 401 is surfaced as the definitive result
	return c.send(ctx, method, path, body, tokens.AccessToken)
}

func (c *Coordinator) send(ctx context.Context, method string, path string, body []byte, access string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("error while creating request. Err: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while sending request. Err: %w", err)
	}

	return resp, nil
}

// refreshAfter obtains a fresh pair after failedAccess got rejected
// Concurrent callers share one in-flight refresh and all observe its outcome
func (c *Coordinator) refreshAfter(failedAccess string) (Tokens, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(failedAccess)
	})
	if err != nil {
		return Tokens{}, err
	}

	return v.(Tokens), nil
}

func (c *Coordinator) refresh(failedAccess string) (Tokens, error) {
	c.mu.Lock()
	current := c.tokens
	c.mu.Unlock()

	// Someone else already rotated the pair while this caller was waiting
	// to join, the stored tokens are fresh enough to replay with
	if current.AccessToken != "" && current.AccessToken != failedAccess {
		return current, nil
	}

	if current.RefreshToken == "" {
		return Tokens{}, ErrSessionExpired
	}

	// The refresh is shared by every queued waiter, so it must not die with
	// the first caller's context, only with its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"refreshToken": current.RefreshToken})
	if err != nil {
		return Tokens{}, fmt.Errorf("error while encoding refresh request. Err: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("error while creating refresh request. Err: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeout or transport failure: every waiter gets a definitive
		// error instead of hanging on a dead refresh
		c.terminate()
		return Tokens{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.terminate()
		c.logger.Info("session refresh rejected", "status", resp.StatusCode)
		return Tokens{}, fmt.Errorf("%w: refresh rejected with status %d", ErrSessionExpired, resp.StatusCode)
	}

	var fresh Tokens
	if err := json.NewDecoder(resp.Body).Decode(&fresh); err != nil {
		c.terminate()
		return Tokens{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	c.mu.Lock()
	c.tokens = fresh
	c.mu.Unlock()

	return fresh, nil
}

// terminate drops the stored pair, the session can only be restored by login
func (c *Coordinator) terminate() {
	c.mu.Lock()
	c.tokens = Tokens{}
	c.mu.Unlock()
}
