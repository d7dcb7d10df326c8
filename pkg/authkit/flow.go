package authkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridianabroad/portal/pkg/authkit/credstore"
)

// Login throttle: a short burst for fat-fingered retries, then one attempt
// every couple of seconds. The server enforces its own limits; this only
// stops the client hammering the credential endpoint.
const (
	loginBurst    = 5
	loginInterval = 2 * time.Second
)

// Flow orchestrates the three entry paths into an authenticated session:
// credential login, sign-up, and silent SSO discovery. It also handles
// startup hydration from the credential cache. Each path ends in either a fully
// verified session or, for credential login against an MFA-enabled account,
// a pending *MFAChallenge.
type Flow struct {
	client  *Client
	store   *StateStore
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewFlow returns a Flow bound to the client's state store.
func NewFlow(c *Client) *Flow {
	return &Flow{
		client:  c,
		store:   c.store,
		limiter: rate.NewLimiter(rate.Every(loginInterval), loginBurst),
		log:     c.log,
	}
}

// Login submits credentials. On success the session is stored; when the
// account has MFA enabled the returned challenge must be verified (or
// cancelled) before the guard admits the user. A nil challenge means the
// session is already complete.
//
// Credential rejection surfaces as ErrInvalidCredentials without touching
// the current state, and without revealing which of username/password was
// wrong.
func (f *Flow) Login(ctx context.Context, username, password string) (*MFAChallenge, error) {
	if !f.limiter.Allow() {
		return nil, ErrTooManyAttempts
	}

	session, err := f.client.login(ctx, LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	user := session.User
	if !user.MFAEnabled {
		f.store.Login(&user, session.Token, true)
		f.log.Info("login complete", "user", user.Username)
		return nil, nil
	}

	// Pending step-up: the session is stored unverified so the guard denies
	// until the challenge succeeds.
	f.store.Login(&user, session.Token, false)
	f.log.Info("login pending mfa", "user", user.Username)

	return newMFAChallenge(f.client, &user, session.Token), nil
}

// SignUp validates the request client-side, creates the account, and logs
// the new user in. The server revalidates everything server-side. New
// accounts cannot have MFA enabled yet, so the session is complete.
func (f *Flow) SignUp(ctx context.Context, req SignupRequest) error {
	if err := f.client.validate.Struct(&req); err != nil {
		return fmt.Errorf("invalid signup request: %w", err)
	}

	session, err := f.client.signup(ctx, req)
	if err != nil {
		return err
	}

	user := session.User
	f.store.Login(&user, session.Token, true)
	f.log.Info("signup complete", "user", user.Username)
	return nil
}

// DiscoverSSO silently tries to exchange an existing external
// identity-provider session for a portal token. It runs only when no
// principal is present. SSO sessions count as fully authenticated. Absence
// of an external session is the common case, not an error: every failure is
// logged at debug and swallowed. Returns whether a session was established.
func (f *Flow) DiscoverSSO(ctx context.Context) bool {
	if f.store.Snapshot().User != nil {
		return false
	}

	token, err := f.client.ssoSession(ctx)
	if err != nil {
		f.log.Debug("no sso session", "error", err)
		return false
	}

	user, err := f.client.me(ctx, token)
	if err != nil {
		f.log.Debug("sso token rejected by principal endpoint", "error", err)
		return false
	}

	f.store.Login(user, token, true)
	f.log.Info("sso session established", "user", user.Username)
	return true
}

// Hydrate restores the session from the credential cache at startup. The
// stored token is trusted optimistically, then confirmed against the
// current-principal endpoint; any failure, auth or network, clears both
// memory and storage, leaving the anonymous experience. A stale token is the
// expected outcome of revocation, so nothing is surfaced. Returns whether a
// session was restored.
func (f *Flow) Hydrate(ctx context.Context) bool {
	if f.store.Snapshot().User != nil {
		return true
	}

	creds, err := f.client.cache.Load()
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			f.log.Warn("credential cache unreadable", "error", err)
			f.store.Logout()
		}
		return false
	}

	var cached Principal
	if err := json.Unmarshal(creds.User, &cached); err != nil {
		f.log.Warn("cached principal corrupt", "error", err)
		f.store.Logout()
		return false
	}

	// Optimistic: present the cached session immediately. Only complete
	// sessions are ever persisted, so the restored state counts as verified.
	f.store.Login(&cached, creds.Token, true)

	// The token is passed explicitly so a server-side expiry verdict on the
	// cached session resets silently instead of raising the re-login modal.
	user, err := f.client.me(ctx, creds.Token)
	if err != nil {
		f.log.Info("cached session rejected", "error", err)
		f.store.Logout()
		return false
	}

	f.store.SetUser(user)
	f.log.Info("session restored", "user", user.Username)
	return true
}
