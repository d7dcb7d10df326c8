package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/meridianabroad/portal/pkg/authkit/credstore"
	"github.com/meridianabroad/portal/pkg/slogx"
)

// Config carries the client's environment-driven settings. Load it with
// ConfigFromEnv or populate it directly in tests.
type Config struct {
	// BaseURL is the portal API root.
	BaseURL string `env:"BASE_URL" envDefault:"https://portal.meridianabroad.edu/api"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`

	// CachePath is where the file credential cache lives. Empty selects the
	// in-memory store, so sessions do not survive a restart.
	CachePath string `env:"CREDENTIAL_CACHE"`

	// CacheSecret, when set, seals the file cache at rest.
	CacheSecret string `env:"CACHE_SECRET,unset"`

	// LogLevel and LogFormat configure the client logger.
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// ConfigFromEnv loads Config from PORTAL_-prefixed environment variables.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "PORTAL_"})
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// OpenCache builds the credential store the config describes: in-memory when
// CachePath is empty, a file store otherwise, sealed when CacheSecret is set.
func (cfg Config) OpenCache() (credstore.Store, error) {
	if cfg.CachePath == "" {
		return credstore.NewMemStore(), nil
	}
	if cfg.CacheSecret != "" {
		return credstore.NewEncryptedFileStore(cfg.CachePath, []byte(cfg.CacheSecret))
	}
	return credstore.NewFileStore(cfg.CachePath), nil
}

// Client talks to the portal's auth endpoints and owns the session's trust
// state through its StateStore. All requests go through a Transport that
// attaches the bearer token and watches for server-signaled expiry.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	store    *StateStore
	cache    credstore.Store
	validate *validator.Validate
	log      *slog.Logger

	expiredMu sync.Mutex
	onExpired func(*SessionExpiredError)

	mfaMu     sync.Mutex
	mfaFlight MFAStatus // non-empty while a factor call is in flight
}

// New returns a Client backed by cache. The logger is built from the config;
// pass a preconfigured one with NewWithLogger when embedding in a larger app.
func New(cfg Config, cache credstore.Store) *Client {
	log := slogx.New(slogx.Config{
		Service: "portal-client",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	return NewWithLogger(cfg, cache, log)
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg Config, cache credstore.Store, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	store := NewStateStore(cache, log)

	c := &Client{
		BaseURL:  trimSlash(cfg.BaseURL),
		store:    store,
		cache:    cache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}

	c.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &Transport{
			Store:  store,
			Notify: c.dispatchExpiry,
			Log:    log,
		},
	}

	return c
}

// Store exposes the state store for subscriptions and guard checks.
func (c *Client) Store() *StateStore { return c.store }

// OnSessionExpired registers the handler invoked once per server-confirmed
// expiry, after the state has already been cleared. The portal wires this to
// a blocking modal that forces re-login.
func (c *Client) OnSessionExpired(fn func(*SessionExpiredError)) {
	c.expiredMu.Lock()
	c.onExpired = fn
	c.expiredMu.Unlock()
}

func (c *Client) dispatchExpiry(err *SessionExpiredError) {
	c.expiredMu.Lock()
	fn := c.onExpired
	c.expiredMu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// RefreshUser re-fetches the principal and replaces it in place. Used after
// out-of-band account changes such as linking an external identity. Unlike
// hydration, a failure here leaves the session untouched.
func (c *Client) RefreshUser(ctx context.Context) error {
	user, err := c.me(ctx, "")
	if err != nil {
		return fmt.Errorf("refresh user: %w", err)
	}

	c.store.SetUser(user)
	return nil
}

// ============================================================================
// Endpoint calls
// ============================================================================

func (c *Client) login(ctx context.Context, req LoginRequest) (*SessionResponse, error) {
	var session SessionResponse
	if err := c.postJSON(ctx, "/v1/auth/login", req, &session, http.StatusOK, ""); err != nil {
		return nil, err
	}

	if err := c.validate.Struct(&session); err != nil {
		return nil, fmt.Errorf("malformed login response: %w", err)
	}

	return &session, nil
}

func (c *Client) signup(ctx context.Context, req SignupRequest) (*SessionResponse, error) {
	var session SessionResponse
	if err := c.postJSON(ctx, "/v1/auth/signup", req, &session, http.StatusCreated, ""); err != nil {
		return nil, err
	}

	if err := c.validate.Struct(&session); err != nil {
		return nil, fmt.Errorf("malformed signup response: %w", err)
	}

	return &session, nil
}

// me fetches the current principal. tokenOverride, when non-empty, is used
// instead of the store's token; hydration and SSO discovery need this before
// the store holds the session.
func (c *Client) me(ctx context.Context, tokenOverride string) (*Principal, error) {
	var user Principal
	if err := c.getJSON(ctx, "/v1/auth/me", &user, http.StatusOK, tokenOverride); err != nil {
		return nil, err
	}

	if err := c.validate.Struct(&user); err != nil {
		return nil, fmt.Errorf("malformed principal: %w", err)
	}

	return &user, nil
}

// ssoSession asks the server to exchange an established external
// identity-provider session for a portal bearer token.
func (c *Client) ssoSession(ctx context.Context) (string, error) {
	var resp SSOSessionResponse
	if err := c.getJSON(ctx, "/v1/auth/sso/session", &resp, http.StatusOK, ""); err != nil {
		return "", err
	}

	if err := c.validate.Struct(&resp); err != nil {
		return "", fmt.Errorf("malformed sso response: %w", err)
	}

	return resp.Token, nil
}

func (c *Client) mfaVerify(ctx context.Context, token, code string) (*MFAVerifyResponse, error) {
	var resp MFAVerifyResponse
	if err := c.postJSON(ctx, "/v1/auth/mfa/verify", MFAVerifyRequest{Code: code}, &resp, http.StatusOK, token); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) mfaActivate(ctx context.Context, code string) error {
	var resp MFAVerifyResponse
	if err := c.postJSON(ctx, "/v1/auth/mfa/activate", MFAActivateRequest{Code: code}, &resp, http.StatusOK, ""); err != nil {
		return err
	}
	if !resp.Success {
		return ErrMFARejected
	}
	return nil
}

func (c *Client) mfaDeactivate(ctx context.Context) error {
	return c.postJSON(ctx, "/v1/auth/mfa/deactivate", struct{}{}, nil, http.StatusOK, "")
}

// ============================================================================
// HTTP helpers
// ============================================================================

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// url builds a complete URL by appending the path to the base URL.
func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any, expected int, authOverride string) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authOverride != "" {
		req.Header.Set("Authorization", "Bearer "+authOverride)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	return decodeJSON(resp, out, expected)
}

func (c *Client) getJSON(ctx context.Context, path string, out any, expected int, authOverride string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if authOverride != "" {
		req.Header.Set("Authorization", "Bearer "+authOverride)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	return decodeJSON(resp, out, expected)
}

// decodeJSON decodes a JSON response into target. Non-expected statuses are
// parsed into typed errors via parseErrorResponse. A nil target discards the
// body.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if target == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
