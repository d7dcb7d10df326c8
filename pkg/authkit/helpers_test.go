package authkit_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/meridianabroad/portal/pkg/authkit"
	"github.com/meridianabroad/portal/pkg/authkit/credstore"
)

var signingKey = []byte("test-portal-signing-key")

// fakeUser is an account registered with the fake portal backend.
type fakeUser struct {
	Password   string
	TOTPSecret string // empty when MFA is disabled
	Principal  authkit.Principal
}

// fakePortal is an in-process stand-in for the portal API. Tokens are real
// JWTs so they look like production traffic, but the client under test
// treats them as opaque.
type fakePortal struct {
	t *testing.T

	mu       sync.Mutex
	users    map[string]*fakeUser // by username
	tokens   map[string]string    // token -> username
	ssoUser  string               // username returned by SSO exchange, "" for none
	srv      *httptest.Server
	loginHit int
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	p := &fakePortal{
		t:      t,
		users:  make(map[string]*fakeUser),
		tokens: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", p.handleLogin)
	mux.HandleFunc("POST /v1/auth/signup", p.handleSignup)
	mux.HandleFunc("GET /v1/auth/me", p.handleMe)
	mux.HandleFunc("GET /v1/auth/sso/session", p.handleSSO)
	mux.HandleFunc("POST /v1/auth/mfa/verify", p.handleMFAVerify)
	mux.HandleFunc("POST /v1/auth/mfa/activate", p.handleMFAActivate)
	mux.HandleFunc("POST /v1/auth/mfa/deactivate", p.handleMFADeactivate)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

// addUser registers an account. withMFA provisions a TOTP secret and marks
// the principal accordingly.
func (p *fakePortal) addUser(username, password string, withMFA bool) *fakeUser {
	p.t.Helper()

	u := &fakeUser{
		Password: password,
		Principal: authkit.Principal{
			ID:          "u-" + username,
			Username:    username,
			DisplayName: "Student " + username,
			Email:       username + "@example.edu",
			MFAEnabled:  withMFA,
		},
	}

	if withMFA {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "meridian-portal",
			AccountName: username,
		})
		require.NoError(p.t, err)
		u.TOTPSecret = key.Secret()
	}

	p.mu.Lock()
	p.users[username] = u
	p.mu.Unlock()
	return u
}

// provisionSecret attaches a TOTP secret to an existing account without
// flipping its MFA flag, as the server-side enrollment step would.
func (p *fakePortal) provisionSecret(username string) *fakeUser {
	p.t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "meridian-portal",
		AccountName: username,
	})
	require.NoError(p.t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[username]
	u.TOTPSecret = key.Secret()
	return u
}

// setSSOUser makes the SSO exchange endpoint succeed for username.
func (p *fakePortal) setSSOUser(username string) {
	p.mu.Lock()
	p.ssoUser = username
	p.mu.Unlock()
}

// mintToken issues a signed bearer token bound to username.
func (p *fakePortal) mintToken(username string) string {
	p.t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-" + username,
		"iat": time.Now().Unix(),
	}).SignedString(signingKey)
	require.NoError(p.t, err)

	p.mu.Lock()
	p.tokens[tok] = username
	p.mu.Unlock()
	return tok
}

func (p *fakePortal) loginAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginHit
}

// bearerUser resolves the Authorization header to a registered user.
func (p *fakePortal) bearerUser(r *http.Request) *fakeUser {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	username, ok := p.tokens[token]
	if !ok {
		return nil
	}
	return p.users[username]
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.loginHit++
	p.mu.Unlock()

	var req authkit.LoginRequest
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))

	p.mu.Lock()
	u, ok := p.users[req.Username]
	p.mu.Unlock()
	if !ok || u.Password != req.Password {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":             "invalid_credentials",
			"error_description": "invalid username or password",
		})
		return
	}

	writeJSON(w, http.StatusOK, authkit.SessionResponse{
		Token: p.mintToken(req.Username),
		User:  u.Principal,
	})
}

func (p *fakePortal) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req authkit.SignupRequest
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))

	u := &fakeUser{
		Password: req.Password,
		Principal: authkit.Principal{
			ID:          "u-" + req.Username,
			Username:    req.Username,
			DisplayName: req.DisplayName,
			Email:       req.Email,
		},
	}

	p.mu.Lock()
	p.users[req.Username] = u
	p.mu.Unlock()

	writeJSON(w, http.StatusCreated, authkit.SessionResponse{
		Token: p.mintToken(req.Username),
		User:  u.Principal,
	})
}

func (p *fakePortal) handleMe(w http.ResponseWriter, r *http.Request) {
	u := p.bearerUser(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, u.Principal)
}

func (p *fakePortal) handleSSO(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	ssoUser := p.ssoUser
	p.mu.Unlock()

	if ssoUser == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no_external_session"})
		return
	}

	writeJSON(w, http.StatusOK, authkit.SSOSessionResponse{Token: p.mintToken(ssoUser)})
}

func (p *fakePortal) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	u := p.bearerUser(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	var req authkit.MFAVerifyRequest
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))

	ok := u.TOTPSecret != "" && totp.Validate(req.Code, u.TOTPSecret)
	writeJSON(w, http.StatusOK, authkit.MFAVerifyResponse{Success: ok})
}

func (p *fakePortal) handleMFAActivate(w http.ResponseWriter, r *http.Request) {
	u := p.bearerUser(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	var req authkit.MFAActivateRequest
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))

	ok := u.TOTPSecret != "" && totp.Validate(req.Code, u.TOTPSecret)
	if ok {
		p.mu.Lock()
		u.Principal.MFAEnabled = true
		p.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, authkit.MFAVerifyResponse{Success: ok})
}

func (p *fakePortal) handleMFADeactivate(w http.ResponseWriter, r *http.Request) {
	u := p.bearerUser(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	p.mu.Lock()
	u.Principal.MFAEnabled = false
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// totpCode produces a currently valid code for the user's secret.
func totpCode(t *testing.T, u *fakeUser) string {
	t.Helper()

	code, err := totp.GenerateCode(u.TOTPSecret, time.Now())
	require.NoError(t, err)
	return code
}

// newTestClient wires a client against the fake portal with an in-memory
// credential cache and a silent logger.
func newTestClient(t *testing.T, p *fakePortal) (*authkit.Client, *credstore.MemStore) {
	t.Helper()

	cache := credstore.NewMemStore()
	return newClientOverCache(t, p, cache), cache
}

// newClientOverCache builds a fresh client over an existing cache, as after
// a process restart.
func newClientOverCache(t *testing.T, p *fakePortal, cache credstore.Store) *authkit.Client {
	t.Helper()

	return authkit.NewWithLogger(authkit.Config{
		BaseURL: p.srv.URL,
		Timeout: 5 * time.Second,
	}, cache, slog.New(slog.DiscardHandler))
}
